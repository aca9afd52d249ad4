package rocketmq

import (
	"context"
	"errors"
	"strings"
	"time"

	rmq "github.com/apache/rocketmq-clients/golang/v5"
	"github.com/apache/rocketmq-clients/golang/v5/credentials"

	"color-server/common/logger"

	"go.uber.org/zap"
)

// Options 生产者配置
type Options struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	TopicPrefix string   // 例如 "color_"，拼接到事件主题前
	Topics      []string // 预热的事件主题（不含前缀）
}

// Producer 基于 RocketMQ v5 客户端的事件发布者
type Producer struct {
	p      rmq.Producer
	prefix string
}

// sanitizeEndpoint 去掉 scheme，多个地址只取第一个
func sanitizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")
	if idx := strings.IndexAny(endpoint, ",;"); idx > 0 {
		endpoint = strings.TrimSpace(endpoint[:idx])
	}
	return endpoint
}

// TopicName 事件主题映射为 MQ 主题（"." 与 "-" 替换为 "_"）
func TopicName(prefix, topic string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return r.Replace(prefix + topic)
}

// NewProducer endpoint 为空返回 (nil, nil) 表示未启用
// 缺少凭证时同样禁用，避免 SDK 在签名阶段空指针
func NewProducer(opts Options) (*Producer, error) {
	endpoint := sanitizeEndpoint(opts.Endpoint)
	if endpoint == "" {
		return nil, nil
	}
	if strings.TrimSpace(opts.AccessKey) == "" || strings.TrimSpace(opts.SecretKey) == "" {
		logger.Warn("rocketmq disabled: missing access/secret key while endpoint present")
		return nil, nil
	}

	// 避免 SDK 默认写 /logs 目录
	rmq.ResetLogger()

	cfg := &rmq.Config{
		Endpoint:    endpoint,
		Credentials: &credentials.SessionCredentials{AccessKey: opts.AccessKey, AccessSecret: opts.SecretKey},
	}
	var popts []rmq.ProducerOption
	if len(opts.Topics) > 0 {
		topics := make([]string, 0, len(opts.Topics))
		for _, t := range opts.Topics {
			topics = append(topics, TopicName(opts.TopicPrefix, t))
		}
		popts = append(popts, rmq.WithTopics(topics...))
		logger.Info("rocketmq: topics configured", zap.Strings("topics", topics))
	}

	p, err := rmq.NewProducer(cfg, popts...)
	if err != nil {
		return nil, err
	}

	// 异步启动，最多等 2 秒
	startDone := make(chan error, 1)
	go func() { startDone <- p.Start() }()
	select {
	case err := <-startDone:
		if err != nil {
			return nil, err
		}
	case <-time.After(2 * time.Second):
		return nil, errors.New("rocketmq: producer start timeout")
	}

	logger.Info("rocketmq enabled", zap.String("endpoint", endpoint))
	return &Producer{p: p, prefix: opts.TopicPrefix}, nil
}

func (r *Producer) Name() string { return "rocketmq" }

// Publish 同步发送，bizKey 作为消息 key 便于消费端去重
func (r *Producer) Publish(ctx context.Context, topic, bizKey string, body []byte) error {
	msg := &rmq.Message{Topic: TopicName(r.prefix, topic), Body: body}
	if bizKey != "" {
		msg.SetKeys(bizKey)
	}
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.p.Send(c, msg)
	return err
}

func (r *Producer) Close() error {
	if r == nil || r.p == nil {
		return nil
	}
	return r.p.GracefulStop()
}
