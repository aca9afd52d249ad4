package config

import (
	"sync/atomic"
)

// 原子存储当前生效的配置
var current atomic.Pointer[Config]

func SetCurrent(c *Config) {
	current.Store(c)
}

// GetCurrent 可能返回 nil（测试或未加载时）
func GetCurrent() *Config {
	return current.Load()
}

// CurrentGame 当前对局参数，未加载配置时返回默认值
func CurrentGame() GameConfig {
	if cfg := GetCurrent(); cfg != nil {
		return cfg.Game
	}
	return DefaultGame()
}

// GetFeatureFlag 返回功能开关（默认 false）
func GetFeatureFlag(name string) bool {
	cfg := GetCurrent()
	if cfg == nil || cfg.FeatureFlags == nil {
		return false
	}
	return cfg.FeatureFlags[name]
}

// GetThreshold 返回业务阈值（支持默认值）
func GetThreshold(name string, def int64) int64 {
	cfg := GetCurrent()
	if cfg == nil || cfg.Thresholds == nil {
		return def
	}
	if v, ok := cfg.Thresholds[name]; ok {
		return v
	}
	return def
}
