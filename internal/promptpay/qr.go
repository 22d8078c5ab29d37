package promptpay

import (
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	// DefaultQRServiceURL 外部二维码渲染服务。
	DefaultQRServiceURL = "https://api.qrserver.com/v1/create-qr-code/"
	DefaultQRSize       = 300
	// MaxQRSize 本地渲染的最大边长（像素）。
	MaxQRSize = 1000
	qrMargin            = "10"
	qrECC               = "M"
)

// QRImageURL 使用默认渲染服务生成二维码图片地址。
func QRImageURL(payload string, size int) string {
	return QRImageURLFrom(DefaultQRServiceURL, payload, size)
}

// QRImageURLFrom 生成指向 base 渲染服务的 GET 地址：payload 百分号编码，PNG，固定边距，M 级纠错。
// size <= 0 时使用 DefaultQRSize。
func QRImageURLFrom(base, payload string, size int) string {
	if size <= 0 {
		size = DefaultQRSize
	}
	q := url.Values{}
	q.Set("size", fmt.Sprintf("%dx%d", size, size))
	q.Set("data", payload)
	q.Set("format", "png")
	q.Set("margin", qrMargin)
	q.Set("ecc", qrECC)
	return base + "?" + q.Encode()
}

// PromptPayQR 先生成 payload 再拼出图片地址；生成失败时原样返回错误，调用方不应渲染图片。
func PromptPayQR(mobileNumber string, amount decimal.Decimal, size int) (string, error) {
	payload, err := BuildPayload(PayloadInput{MobileNumber: mobileNumber, Amount: amount})
	if err != nil {
		return "", err
	}
	return QRImageURL(payload, size), nil
}

// RenderPNG 在本地把 payload 渲染为 PNG，纠错级别与外部服务一致（M）。
// size 超过 MaxQRSize 返回 ErrInvalidInput。
func RenderPNG(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	if size > MaxQRSize {
		return nil, fmt.Errorf("%w: size %d exceeds %d", ErrInvalidInput, size, MaxQRSize)
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}
