package service

import (
	"time"

	"color-server/internal/config"
	"color-server/internal/game"
)

// Clock 返回当前时间；测试注入固定时钟
type Clock func() time.Time

type options struct {
	now  Clock
	game func() config.GameConfig
	gen  game.Generator
}

// Option 服务构造参数
type Option func(*options)

// WithClock 替换时钟
func WithClock(c Clock) Option { return func(o *options) { o.now = c } }

// WithGameConfig 固定对局参数，默认读取热更新后的当前配置
func WithGameConfig(g config.GameConfig) Option {
	return func(o *options) { o.game = func() config.GameConfig { return g } }
}

// WithGenerator 替换开奖号码生成器
func WithGenerator(g game.Generator) Option { return func(o *options) { o.gen = g } }

func buildOptions(opts []Option) options {
	o := options{
		now:  time.Now,
		game: config.CurrentGame,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.gen == nil {
		o.gen = game.NewCryptoGenerator()
	}
	return o
}

func (o options) nowMs() int64 { return o.now().UnixMilli() }
