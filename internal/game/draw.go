package game

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
)

// ErrDraw 随机源不可用
var ErrDraw = errors.New("draw failure")

// Generator 开奖器
type Generator interface {
	Draw(ctx context.Context) (Result, error)
}

// CryptoGenerator 基于 crypto/rand 的均匀开奖
type CryptoGenerator struct {
	src io.Reader
}

func NewCryptoGenerator() *CryptoGenerator {
	return &CryptoGenerator{src: rand.Reader}
}

// NewGeneratorFrom 指定随机源，测试使用
func NewGeneratorFrom(src io.Reader) *CryptoGenerator {
	return &CryptoGenerator{src: src}
}

var ten = big.NewInt(10)

func (g *CryptoGenerator) Draw(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDraw, err)
	}
	n, err := rand.Int(g.src, ten)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDraw, err)
	}
	return ResultOf(int(n.Int64()))
}

// FixedGenerator 按顺序返回预设号码，用完后重复最后一个
type FixedGenerator struct {
	Numbers []int

	mu    sync.Mutex
	i     int
	calls int
}

func (g *FixedGenerator) Draw(_ context.Context) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.Numbers) == 0 {
		return Result{}, fmt.Errorf("%w: no numbers scripted", ErrDraw)
	}
	n := g.Numbers[g.i]
	if g.i < len(g.Numbers)-1 {
		g.i++
	}
	return ResultOf(n)
}

// Calls 已开奖次数
func (g *FixedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
