package helper

import (
	"github.com/shopspring/decimal"
)

// MinorUnitExp 金额以分为最小单位入库
const MinorUnitExp = 2

// TrimDecimal decimal 四舍五入到 2 位小数
func TrimDecimal(val decimal.Decimal) string {
	return val.StringFixed(2)
}

// FormatMinor 最小单位金额转展示字符串，如 12050 → "120.50"
func FormatMinor(amount int64) string {
	return TrimDecimal(decimal.New(amount, -MinorUnitExp))
}
