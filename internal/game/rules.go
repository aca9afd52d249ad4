package game

import (
	"fmt"
	"math"
	"strconv"
)

// 下注类型
const (
	KindColor  = "color"
	KindNumber = "number"
	KindSize   = "size"
)

// 颜色与大小
const (
	ColorRed   = "red"
	ColorGreen = "green"
	ColorBlack = "black"

	SizeBig   = "big"
	SizeSmall = "small"
)

// Result 一局的开奖结果，Color/Size 由 Number 推导
type Result struct {
	Number int    `json:"number"`
	Color  string `json:"color"`
	Size   string `json:"size"`
}

// ColorOf 0 → 绿，奇数 → 红，偶数 → 黑
func ColorOf(n int) string {
	switch {
	case n == 0:
		return ColorGreen
	case n%2 == 1:
		return ColorRed
	default:
		return ColorBlack
	}
}

// SizeOf 5-9 大，0-4 小
func SizeOf(n int) string {
	if n >= 5 {
		return SizeBig
	}
	return SizeSmall
}

// ResultOf 由号码推导完整结果，号码越界返回错误
func ResultOf(n int) (Result, error) {
	if n < 0 || n > 9 {
		return Result{}, fmt.Errorf("number out of range: %d", n)
	}
	return Result{Number: n, Color: ColorOf(n), Size: SizeOf(n)}, nil
}

// Dimension 返回结果在指定下注类型上的取值
func (r Result) Dimension(kind string) string {
	switch kind {
	case KindColor:
		return r.Color
	case KindNumber:
		return strconv.Itoa(r.Number)
	case KindSize:
		return r.Size
	}
	return ""
}

// Wins 下注值是否命中
func (r Result) Wins(kind, value string) bool {
	return r.Dimension(kind) == value
}

type betKey struct{ kind, value string }

// 赔率表（含本金倍数），绿色只对应 0，赔率高于红黑
var payoutTable = map[betKey]int64{
	{KindColor, ColorRed}:   2,
	{KindColor, ColorBlack}: 2,
	{KindColor, ColorGreen}: 14,
	{KindSize, SizeBig}:     2,
	{KindSize, SizeSmall}:   2,
	{KindNumber, "0"}:       9,
	{KindNumber, "1"}:       9,
	{KindNumber, "2"}:       9,
	{KindNumber, "3"}:       9,
	{KindNumber, "4"}:       9,
	{KindNumber, "5"}:       9,
	{KindNumber, "6"}:       9,
	{KindNumber, "7"}:       9,
	{KindNumber, "8"}:       9,
	{KindNumber, "9"}:       9,
}

// LegalValues 每种下注类型的合法取值
func LegalValues(kind string) []string {
	switch kind {
	case KindColor:
		return []string{ColorRed, ColorGreen, ColorBlack}
	case KindNumber:
		return []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	case KindSize:
		return []string{SizeBig, SizeSmall}
	}
	return nil
}

// Kinds 全部下注类型
func Kinds() []string { return []string{KindColor, KindNumber, KindSize} }

// IsLegal 校验 (kind, value)
func IsLegal(kind, value string) bool {
	for _, v := range LegalValues(kind) {
		if v == value {
			return true
		}
	}
	return false
}

// Multiplier 查询赔率；非法组合返回 false
func Multiplier(kind, value string) (int64, bool) {
	if !IsLegal(kind, value) {
		return 0, false
	}
	m, ok := payoutTable[betKey{kind, value}]
	return m, ok
}

// MaxSafeStake 按最高赔率派彩不溢出 int64 的单注上限
func MaxSafeStake() int64 {
	var top int64 = 1
	for _, m := range payoutTable {
		top = max(top, m)
	}
	return math.MaxInt64 / top
}

// ValidatePayoutTable 启动时校验赔率表覆盖所有合法组合，且没有多余项
func ValidatePayoutTable() error {
	n := 0
	for _, kind := range Kinds() {
		for _, v := range LegalValues(kind) {
			m, ok := payoutTable[betKey{kind, v}]
			if !ok {
				return fmt.Errorf("payout table missing %s=%s", kind, v)
			}
			if m < 1 {
				return fmt.Errorf("payout table %s=%s has invalid multiplier %d", kind, v, m)
			}
			n++
		}
	}
	if n != len(payoutTable) {
		return fmt.Errorf("payout table has %d entries, expected %d", len(payoutTable), n)
	}
	return nil
}
