package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	clientv3 "go.etcd.io/etcd/client/v3"
	"gopkg.in/yaml.v3"
)

// Config 服务配置，时间字段统一使用毫秒
type Config struct {
	Server struct {
		Port     int    `yaml:"port" json:"port"`
		LogLevel string `yaml:"log_level" json:"log_level"`
	} `yaml:"server" json:"server"`

	// DSN 为空时使用内存存储（单进程演示模式）
	Database struct {
		DSN                string `yaml:"dsn" json:"dsn"`
		MaxOpenConns       int    `yaml:"max_open_conns" json:"max_open_conns"`
		MaxIdleConns       int    `yaml:"max_idle_conns" json:"max_idle_conns"`
		ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_sec" json:"conn_max_lifetime_sec"`
	} `yaml:"database" json:"database"`

	Redis struct {
		Addr     string `yaml:"addr" json:"addr"`
		Password string `yaml:"password" json:"password"`
		DB       int    `yaml:"db" json:"db"`
	} `yaml:"redis" json:"redis"`

	RocketMQ struct {
		Endpoint      string `yaml:"endpoint" json:"endpoint"`
		ProducerGroup string `yaml:"producer_group" json:"producer_group"`
		TopicPrefix   string `yaml:"topic_prefix" json:"topic_prefix"`
		AccessKey     string `yaml:"access_key" json:"access_key"`
		SecretKey     string `yaml:"secret_key" json:"secret_key"`
	} `yaml:"rocketmq" json:"rocketmq"`

	Observability struct {
		EnableProm bool   `yaml:"enable_prom" json:"enable_prom"`
		PromAddr   string `yaml:"prom_addr" json:"prom_addr"`
	} `yaml:"observability" json:"observability"`

	Auth struct {
		DemoMode bool `yaml:"demo_mode" json:"demo_mode"` // 演示模式：允许 X-User-Id 直接传用户
		JWT      struct {
			Secret string `yaml:"secret" json:"secret"`
			Issuer string `yaml:"issuer" json:"issuer"`
		} `yaml:"jwt" json:"jwt"`
		Admin struct {
			Enabled bool   `yaml:"enabled" json:"enabled"`
			Token   string `yaml:"token" json:"token"`
		} `yaml:"admin" json:"admin"`
	} `yaml:"auth" json:"auth"`

	RateLimit struct {
		Enabled bool `yaml:"enabled" json:"enabled"`
		ByUser  struct {
			RequestsPerSecond int `yaml:"requests_per_second" json:"requests_per_second"`
			WindowSeconds     int `yaml:"window_seconds" json:"window_seconds"`
		} `yaml:"by_user" json:"by_user"`
	} `yaml:"rate_limit" json:"rate_limit"`

	Game GameConfig `yaml:"game" json:"game"`

	// 动态配置：功能开关与业务阈值
	FeatureFlags map[string]bool  `yaml:"feature_flags" json:"feature_flags"`
	Thresholds   map[string]int64 `yaml:"thresholds" json:"thresholds"`
}

// TrackConfig 一条时长赛道
type TrackConfig struct {
	Name       string `yaml:"name" json:"name"`
	DurationMs int64  `yaml:"duration_ms" json:"duration_ms"`
}

type SettleRetryConfig struct {
	MaxAttempts   int   `yaml:"max_attempts" json:"max_attempts"`
	BaseBackoffMs int64 `yaml:"base_backoff_ms" json:"base_backoff_ms"`
	MaxBackoffMs  int64 `yaml:"max_backoff_ms" json:"max_backoff_ms"`
}

// GameConfig 对局参数
type GameConfig struct {
	Tracks            []TrackConfig     `yaml:"tracks" json:"tracks"`
	MinStake          int64             `yaml:"min_stake" json:"min_stake"`
	MaxStake          int64             `yaml:"max_stake" json:"max_stake"`
	StakePolicy       string            `yaml:"stake_policy" json:"stake_policy"` // stack | reject
	PlacementBudgetMs int64             `yaml:"placement_budget_ms" json:"placement_budget_ms"`
	PollIntervalMs    int64             `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	LeaderLeaseSec    int               `yaml:"leader_lease_sec" json:"leader_lease_sec"`
	SettleRetry       SettleRetryConfig `yaml:"settle_retry" json:"settle_retry"`
}

const (
	StakePolicyStack  = "stack"
	StakePolicyReject = "reject"
)

// DefaultGame 默认四条赛道：30s / 1m / 3m / 5m
func DefaultGame() GameConfig {
	return GameConfig{
		Tracks: []TrackConfig{
			{Name: "30s", DurationMs: 30_000},
			{Name: "1m", DurationMs: 60_000},
			{Name: "3m", DurationMs: 180_000},
			{Name: "5m", DurationMs: 300_000},
		},
		MinStake:          1,
		MaxStake:          1_000_000,
		StakePolicy:       StakePolicyStack,
		PlacementBudgetMs: 200,
		PollIntervalMs:    500,
		LeaderLeaseSec:    10,
		SettleRetry: SettleRetryConfig{
			MaxAttempts:   5,
			BaseBackoffMs: 200,
			MaxBackoffMs:  5_000,
		},
	}
}

// ApplyDefaults 对未填写的字段补默认值
func (c *Config) ApplyDefaults() {
	def := DefaultGame()
	g := &c.Game
	if len(g.Tracks) == 0 {
		g.Tracks = def.Tracks
	}
	if g.MinStake <= 0 {
		g.MinStake = def.MinStake
	}
	if g.MaxStake <= 0 {
		g.MaxStake = def.MaxStake
	}
	if g.StakePolicy == "" {
		g.StakePolicy = def.StakePolicy
	}
	if g.PlacementBudgetMs <= 0 {
		g.PlacementBudgetMs = def.PlacementBudgetMs
	}
	if g.PollIntervalMs <= 0 {
		g.PollIntervalMs = def.PollIntervalMs
	}
	if g.LeaderLeaseSec <= 0 {
		g.LeaderLeaseSec = def.LeaderLeaseSec
	}
	if g.SettleRetry.MaxAttempts <= 0 {
		g.SettleRetry.MaxAttempts = def.SettleRetry.MaxAttempts
	}
	if g.SettleRetry.BaseBackoffMs <= 0 {
		g.SettleRetry.BaseBackoffMs = def.SettleRetry.BaseBackoffMs
	}
	if g.SettleRetry.MaxBackoffMs <= 0 {
		g.SettleRetry.MaxBackoffMs = def.SettleRetry.MaxBackoffMs
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
}

// Validate 启动前校验，任一失败拒绝启动
func (c *Config) Validate() error {
	g := c.Game
	seen := make(map[string]struct{}, len(g.Tracks))
	for _, t := range g.Tracks {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return errors.New("game.tracks: empty track name")
		}
		if strings.ContainsAny(name, ":/ ") {
			return fmt.Errorf("game.tracks: invalid track name %q", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("game.tracks: duplicate track %q", name)
		}
		seen[name] = struct{}{}
		if t.DurationMs < 1_000 {
			return fmt.Errorf("game.tracks[%s]: duration_ms must be >= 1000", name)
		}
		if g.PlacementBudgetMs >= t.DurationMs {
			return fmt.Errorf("game.tracks[%s]: placement_budget_ms must be below duration", name)
		}
	}
	if g.MinStake > g.MaxStake {
		return fmt.Errorf("game: min_stake %d > max_stake %d", g.MinStake, g.MaxStake)
	}
	if g.StakePolicy != StakePolicyStack && g.StakePolicy != StakePolicyReject {
		return fmt.Errorf("game.stake_policy: unsupported %q (stack|reject)", g.StakePolicy)
	}
	if g.SettleRetry.BaseBackoffMs > g.SettleRetry.MaxBackoffMs {
		return errors.New("game.settle_retry: base_backoff_ms > max_backoff_ms")
	}
	return nil
}

// Track 按名称查找赛道
func (g GameConfig) Track(name string) (TrackConfig, bool) {
	for _, t := range g.Tracks {
		if t.Name == name {
			return t, true
		}
	}
	return TrackConfig{}, false
}

// Load 按优先级加载配置：.env → Nacos → Etcd → 本地文件（兜底）
// 支持以下环境变量：
//   - ENV_FILE: .env 路径（可选，默认 .env，不存在时忽略）
//   - NACOS_SERVER_ADDR / NACOS_DATA_ID / NACOS_NAMESPACE / NACOS_GROUP: 见 nacos.go
//   - ETCD_ENDPOINTS / ETCD_CONFIG_KEY: 设置后从 Etcd 读取
//   - CONFIG_FILE: 配置文件路径（默认：config/dev.yaml）
//
// 所有来源都失败时返回内置默认配置（内存存储），便于本地直接启动
func Load(ctx context.Context) (*Config, error) {
	envFile := getEnvOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err == nil {
		fmt.Printf("[Config] 已加载环境变量文件: %s\n", envFile)
	}

	cfg, source, err := loadChain(ctx)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config (%s): %w", source, err)
	}
	fmt.Printf("[Config] 配置已加载: source=%s\n", source)
	return cfg, nil
}

func loadChain(ctx context.Context) (*Config, string, error) {
	if strings.TrimSpace(os.Getenv("NACOS_SERVER_ADDR")) != "" {
		cfg, err := loadFromNacos(ctx)
		if err == nil {
			return cfg, "nacos", nil
		}
		fmt.Printf("[Config] 从 Nacos 加载配置失败，降级: error=%v\n", err)
	}

	if strings.TrimSpace(os.Getenv("ETCD_ENDPOINTS")) != "" {
		cfg, err := loadFromEtcd(ctx)
		if err == nil {
			return cfg, "etcd", nil
		}
		fmt.Printf("[Config] 从 Etcd 加载配置失败，降级: error=%v\n", err)
	}

	configFile := getEnvOrDefault("CONFIG_FILE", "config/dev.yaml")
	cfg, err := loadFromFile(configFile)
	if err == nil {
		return cfg, "file:" + configFile, nil
	}
	if errors.Is(err, errConfigNotFound) {
		fmt.Printf("[Config] 未找到配置文件 %s，使用内置默认配置\n", configFile)
		return &Config{}, "defaults", nil
	}
	return nil, "", fmt.Errorf("failed to load config from local file (%s): %w", configFile, err)
}

var errConfigNotFound = errors.New("config file not found")

// getEnvOrDefault 获取环境变量，如果不存在则返回默认值
func getEnvOrDefault(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// loadFromFile 从本地 JSON 或 YAML 文件加载配置
func loadFromFile(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", errConfigNotFound, filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parse(filepath.Ext(filePath), data)
}

// parse 根据扩展名解析，未知扩展名先 YAML 后 JSON
func parse(ext string, data []byte) (*Config, error) {
	var cfg Config
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			if err2 := json.Unmarshal(data, &cfg); err2 != nil {
				return nil, fmt.Errorf("failed to parse config (tried YAML and JSON): yaml_err=%v, json_err=%v", err, err2)
			}
		}
	}
	return &cfg, nil
}

func loadFromEtcd(ctx context.Context) (*Config, error) {
	endpoints := strings.Split(os.Getenv("ETCD_ENDPOINTS"), ",")
	for i := range endpoints {
		endpoints[i] = strings.TrimSpace(endpoints[i])
	}
	if len(endpoints) == 0 || endpoints[0] == "" {
		return nil, errors.New("empty ETCD_ENDPOINTS")
	}
	key := strings.TrimSpace(os.Getenv("ETCD_CONFIG_KEY"))
	if key == "" {
		return nil, errors.New("ETCD_CONFIG_KEY not set")
	}
	dialTimeout := 5 * time.Second
	if v := os.Getenv("ETCD_DIAL_TIMEOUT_SEC"); strings.TrimSpace(v) != "" {
		if sec, err := time.ParseDuration(v + "s"); err == nil {
			dialTimeout = sec
		}
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Username:    os.Getenv("ETCD_USERNAME"),
		Password:    os.Getenv("ETCD_PASSWORD"),
	})
	if err != nil {
		return nil, fmt.Errorf("etcd connect failed: %w", err)
	}
	defer cli.Close()

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := cli.Get(ctx2, key)
	if err != nil {
		return nil, fmt.Errorf("etcd get failed: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key not found: %s", key)
	}
	return parse(filepath.Ext(key), resp.Kvs[0].Value)
}
