package promptpay

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// EMVCo / PromptPay 固定取值。
const (
	PayloadFormatIndicator = "01"
	PointOfInitiationDyn   = "12" // 动态码：金额写入 payload
	PromptPayGUID          = "A000000677010111"
	CurrencyTHB            = "764"
	CountryTH              = "TH"

	DefaultMerchantName = "KU SHEET"
	DefaultCity         = "BANGKOK"

	maxMerchantName = 25
	maxCity         = 15

	// crcPlaceholder 是 tag 63 + 长度 04，CRC 计算覆盖这 4 个字符。
	crcPlaceholder = "6304"
	payloadPrefix  = "000201"
	minPayloadLen  = 50
)

// EMVCo tag 编号。
const (
	TagFormatIndicator   = "00"
	TagPointOfInitiation = "01"
	TagMerchantAccount   = "29"
	TagCurrency          = "53"
	TagAmount            = "54"
	TagCountry           = "58"
	TagMerchantName      = "59"
	TagCity              = "60"
	TagCRC               = "63"

	subTagGUID   = "00"
	subTagMobile = "01"
)

var (
	// ErrInvalidInput 手机号或金额缺失。
	ErrInvalidInput = errors.New("promptpay: mobile number and amount are required")
	// ErrInvalidFormat 手机号格式不合法。
	ErrInvalidFormat = errors.New("promptpay: invalid mobile number format")
)

// PayloadInput 描述生成一个动态 PromptPay 码所需的数据。
type PayloadInput struct {
	MobileNumber string
	Amount       decimal.Decimal
	MerchantName string // 为空时使用 DefaultMerchantName
	City         string // 为空时使用 DefaultCity
}

// BuildPayload 按 EMVCo Merchant Presented QR 的固定字段顺序生成 payload，末尾附 CRC16。
func BuildPayload(in PayloadInput) (string, error) {
	if in.MobileNumber == "" || in.Amount.IsZero() {
		return "", ErrInvalidInput
	}
	if in.Amount.IsNegative() {
		return "", ErrInvalidInput
	}
	if !ValidMobile(in.MobileNumber) {
		return "", ErrInvalidFormat
	}

	merchant := in.MerchantName
	if merchant == "" {
		merchant = DefaultMerchantName
	}
	city := in.City
	if city == "" {
		city = DefaultCity
	}

	account := TLV(subTagGUID, PromptPayGUID) + TLV(subTagMobile, ToPromptPayMobile(in.MobileNumber))

	var b strings.Builder
	b.WriteString(TLV(TagFormatIndicator, PayloadFormatIndicator))
	b.WriteString(TLV(TagPointOfInitiation, PointOfInitiationDyn))
	b.WriteString(TLV(TagMerchantAccount, account))
	b.WriteString(TLV(TagCurrency, CurrencyTHB))
	b.WriteString(TLV(TagAmount, FormatAmount(in.Amount)))
	b.WriteString(TLV(TagCountry, CountryTH))
	b.WriteString(TLV(TagMerchantName, clip(merchant, maxMerchantName)))
	b.WriteString(TLV(TagCity, clip(city, maxCity)))
	b.WriteString(crcPlaceholder)

	body := b.String()
	return body + CRC16(body), nil
}

// FormatAmount 保留两位小数（四舍五入，远离零）。
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// ValidatePayload 检查前缀、最小长度以及末尾 CRC。
func ValidatePayload(payload string) bool {
	if len(payload) < minPayloadLen || !strings.HasPrefix(payload, payloadPrefix) {
		return false
	}
	body, crc := payload[:len(payload)-4], payload[len(payload)-4:]
	return CRC16(body) == crc
}
