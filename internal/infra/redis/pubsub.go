package redis

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"
)

// PubSub 把 outbox 事件发布到 color:events:{topic}，供网关/WS 层订阅转发
type PubSub struct {
	c *goredis.Client
}

func NewPubSub(c *goredis.Client) *PubSub { return &PubSub{c: c} }

func (p *PubSub) Name() string { return "redis" }

func (p *PubSub) Publish(ctx context.Context, topic, _ string, body []byte) error {
	if p.c == nil {
		return errors.New("redis pubsub: nil client")
	}
	return p.c.Publish(ctx, EventChannel(topic), body).Err()
}

// Subscribe 订阅若干主题，调用方负责 Close
func (p *PubSub) Subscribe(ctx context.Context, topics ...string) *goredis.PubSub {
	chans := make([]string, 0, len(topics))
	for _, t := range topics {
		chans = append(chans, EventChannel(t))
	}
	return p.c.Subscribe(ctx, chans...)
}
