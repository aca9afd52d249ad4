package helper

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// RandHex 返回 n 位大写十六进制随机串
func RandHex(n int) string {
	b := make([]byte, (n+1)/2)
	_, _ = rand.Read(b)
	return strings.ToUpper(hex.EncodeToString(b)[:n])
}
