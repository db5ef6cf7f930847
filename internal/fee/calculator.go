// Package fee 平台费、处理方手续费预估与净额计算
//
// 所有金额均为最小货币单位（如美分）的整数，百分比使用 decimal 定点运算，
// 取整规则统一为四舍五入（half-up），不经过 float64
package fee

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("金额必须大于 0")

var hundred = decimal.NewFromInt(100)

// Rates 费率配置
type Rates struct {
	PlatformFeePercent  decimal.Decimal // 平台费百分比，如 10 表示 10%
	ProcessorPercent    decimal.Decimal // 处理方按比例收费部分，如 2.9
	ProcessorFixedMinor int64           // 处理方固定收费部分，如 30 美分
}

// Breakdown 一次扣款的金额拆分
//
// 恒等式：TotalAmountMinor = PlatformFeeMinor + EstimatedProcessorFeeMinor + EstimatedNetAmountMinor
// 净额由减法得出，因此三项之和与总额严格相等，取整误差全部落在净额上（至多 1 个最小单位）
type Breakdown struct {
	TotalAmountMinor           int64
	PlatformFeePercent         decimal.Decimal
	PlatformFeeMinor           int64
	EstimatedProcessorFeeMinor int64
	EstimatedNetAmountMinor    int64
}

// Calculate 计算扣款拆分，预估手续费仅用于结算前展示，最终以处理方回调为准
func Calculate(totalMinor int64, rates Rates) (Breakdown, error) {
	if totalMinor < 1 {
		return Breakdown{}, ErrInvalidAmount
	}

	platformFee := PlatformFee(totalMinor, rates.PlatformFeePercent)
	processorFee := EstimateProcessorFee(totalMinor, rates.ProcessorPercent, rates.ProcessorFixedMinor)

	return Breakdown{
		TotalAmountMinor:           totalMinor,
		PlatformFeePercent:         rates.PlatformFeePercent,
		PlatformFeeMinor:           platformFee,
		EstimatedProcessorFeeMinor: processorFee,
		EstimatedNetAmountMinor:    NetAmount(totalMinor, platformFee, processorFee),
	}, nil
}

// PlatformFee round(total * percent / 100)
func PlatformFee(totalMinor int64, percent decimal.Decimal) int64 {
	return roundHalfUp(decimal.NewFromInt(totalMinor).Mul(percent).Div(hundred))
}

// EstimateProcessorFee round(total * percent / 100 + fixed)
func EstimateProcessorFee(totalMinor int64, percent decimal.Decimal, fixedMinor int64) int64 {
	return roundHalfUp(decimal.NewFromInt(totalMinor).Mul(percent).Div(hundred).Add(decimal.NewFromInt(fixedMinor)))
}

func NetAmount(totalMinor, platformFeeMinor, processorFeeMinor int64) int64 {
	return totalMinor - platformFeeMinor - processorFeeMinor
}

// FeeRatio 实际手续费占总额的比例，保留 4 位小数
func FeeRatio(feeMinor, totalMinor int64) decimal.NullDecimal {
	if totalMinor <= 0 {
		return decimal.NullDecimal{}
	}
	ratio := decimal.NewFromInt(feeMinor).DivRound(decimal.NewFromInt(totalMinor), 4)
	return decimal.NullDecimal{Decimal: ratio, Valid: true}
}

// decimal.Round 对正数即为 half-up
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// 零小数位货币
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// MinorExponent 货币的小数位数
func MinorExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// ToMinor 将十进制金额（如任务标价 25.00）换算成最小货币单位
func ToMinor(amount decimal.Decimal, currency string) int64 {
	return roundHalfUp(amount.Shift(MinorExponent(currency)))
}

var currencySymbols = map[string]string{
	"USD": "$",
	"CAD": "CA$",
	"AUD": "A$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
}

// FormatMinor 最小单位金额格式化为展示文本，如 2147 USD -> $21.47
func FormatMinor(amountMinor int64, currency string) string {
	currency = strings.ToUpper(currency)
	exp := MinorExponent(currency)

	sign := ""
	if amountMinor < 0 {
		sign = "-"
		amountMinor = -amountMinor
	}
	value := decimal.New(amountMinor, -exp).StringFixed(exp)

	if symbol, ok := currencySymbols[currency]; ok {
		return sign + symbol + value
	}
	return sign + value + " " + currency
}
