package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

// nacosParams 从环境变量读取的 Nacos 连接参数
//   - NACOS_SERVER_ADDR: 服务器地址，逗号分隔多个（必填，如 "127.0.0.1:8848"）
//   - NACOS_DATA_ID: 配置 Data ID（必填，如 "color-server.yaml"）
//   - NACOS_NAMESPACE: 命名空间 ID（默认 public）
//   - NACOS_GROUP: 配置分组（默认 DEFAULT_GROUP）
//   - NACOS_USERNAME / NACOS_PASSWORD: 认证（可选）
//   - NACOS_TIMEOUT_MS: 超时时间（默认 5000）
type nacosParams struct {
	servers   []constant.ServerConfig
	dataID    string
	namespace string
	group     string
	username  string
	password  string
	timeoutMS uint64
}

func nacosParamsFromEnv() (*nacosParams, error) {
	serverAddr := strings.TrimSpace(os.Getenv("NACOS_SERVER_ADDR"))
	if serverAddr == "" {
		return nil, errors.New("NACOS_SERVER_ADDR not set")
	}
	p := &nacosParams{
		dataID:    strings.TrimSpace(os.Getenv("NACOS_DATA_ID")),
		namespace: getEnvOrDefault("NACOS_NAMESPACE", "public"),
		group:     getEnvOrDefault("NACOS_GROUP", "DEFAULT_GROUP"),
		username:  strings.TrimSpace(os.Getenv("NACOS_USERNAME")),
		password:  strings.TrimSpace(os.Getenv("NACOS_PASSWORD")),
		timeoutMS: 5000,
	}
	if p.dataID == "" {
		return nil, errors.New("NACOS_DATA_ID not set")
	}
	if t, err := strconv.Atoi(strings.TrimSpace(os.Getenv("NACOS_TIMEOUT_MS"))); err == nil && t > 0 {
		p.timeoutMS = uint64(t)
	}

	for _, addr := range strings.Split(serverAddr, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		host, portStr, ok := strings.Cut(addr, ":")
		if !ok {
			return nil, fmt.Errorf("invalid NACOS_SERVER_ADDR format: %s (expected host:port)", addr)
		}
		port, err := strconv.ParseUint(portStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid port in NACOS_SERVER_ADDR: %s", portStr)
		}
		p.servers = append(p.servers, constant.ServerConfig{IpAddr: host, Port: port})
	}
	if len(p.servers) == 0 {
		return nil, errors.New("no valid server address in NACOS_SERVER_ADDR")
	}
	return p, nil
}

func (p *nacosParams) client() (config_client.IConfigClient, error) {
	cc := constant.ClientConfig{
		NamespaceId:         p.namespace,
		TimeoutMs:           p.timeoutMS,
		NotLoadCacheAtStart: true,
		LogDir:              "/tmp/nacos/log",
		CacheDir:            "/tmp/nacos/cache",
		LogLevel:            "warn",
	}
	if p.username != "" && p.password != "" {
		cc.Username = p.username
		cc.Password = p.password
	}
	cli, err := clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  &cc,
		ServerConfigs: p.servers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos config client: %w", err)
	}
	return cli, nil
}

// loadFromNacos 从 Nacos 配置中心加载配置
func loadFromNacos(_ context.Context) (*Config, error) {
	p, err := nacosParamsFromEnv()
	if err != nil {
		return nil, err
	}
	cli, err := p.client()
	if err != nil {
		return nil, err
	}
	content, err := cli.GetConfig(vo.ConfigParam{DataId: p.dataID, Group: p.group})
	if err != nil {
		return nil, fmt.Errorf("failed to get config from nacos: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("nacos config is empty: dataId=%s, group=%s", p.dataID, p.group)
	}
	return parse(filepath.Ext(p.dataID), []byte(content))
}
