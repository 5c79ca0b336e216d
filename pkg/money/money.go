package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// 金额在接口上以十进制字符串传输（"12.50"），内部以分为单位的 int64 存储

var ErrInvalidAmount = errors.New("金额格式不合法")

var maxCents = decimal.NewFromInt(1<<62 - 1)

// ParseCents 解析十进制金额为分
//
// 只接受正数，小数位最多两位（不做舍入，多余精度直接拒绝）；
// 兼容小数逗号 "12,50"。
func ParseCents(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return 0, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}

	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, ErrInvalidAmount
	}
	if cents.GreaterThan(maxCents) {
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

// FormatCents 分转为两位小数的字符串，可以为负数
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
