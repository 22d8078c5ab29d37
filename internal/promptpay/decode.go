package promptpay

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Field 是解析出的一个 TLV 字段。
type Field struct {
	Tag    string `json:"tag"`
	Length int    `json:"length"`
	Value  string `json:"value"`
}

// DebugReport 仅用于诊断展示，不要依赖它做控制流。
type DebugReport struct {
	Fields   []Field `json:"fields"`
	CRC      string  `json:"crc"`
	CRCCheck bool    `json:"crcCheck"`
	// Problem 记录遍历中遇到的第一个异常（长度越界、长度非数字等），为空表示完整遍历。
	Problem string `json:"problem,omitempty"`
}

// DebugPayload 从偏移 0 开始逐个读取 tag/len/value，在末尾 4 个字符（CRC 值）之前停止。
// 输入畸形时不会 panic，问题写入 Problem 后返回已解析的部分。
func DebugPayload(payload string) DebugReport {
	report := DebugReport{}
	if len(payload) < 4 {
		report.Problem = "payload too short"
		return report
	}
	report.CRC = payload[len(payload)-4:]
	report.CRCCheck = CRC16(payload[:len(payload)-4]) == report.CRC

	fields, problem := walk(payload[:len(payload)-4])
	report.Fields = fields
	report.Problem = problem
	return report
}

// walk 遍历 TLV 流，返回字段和第一个问题描述。长度按字符计，因此按 rune 切分。
// CRC 字段（6304）的值位于被截掉的尾部，因此最后一个字段读到长度 04 但没有值时视为正常结束。
func walk(s string) ([]Field, string) {
	var fields []Field
	rs := []rune(s)
	pos := 0
	for pos < len(rs) {
		if pos+4 > len(rs) {
			return fields, fmt.Sprintf("truncated header at offset %d", pos)
		}
		tag := string(rs[pos : pos+2])
		rawLen := string(rs[pos+2 : pos+4])
		length, err := strconv.Atoi(rawLen)
		if err != nil || length < 0 {
			return fields, fmt.Sprintf("bad length %q at offset %d", rawLen, pos)
		}
		if tag == TagCRC && pos+4 == len(rs) {
			fields = append(fields, Field{Tag: tag, Length: length})
			return fields, ""
		}
		end := pos + 4 + length
		if end > len(rs) {
			return fields, fmt.Sprintf("length %d of tag %s overruns payload at offset %d", length, tag, pos)
		}
		fields = append(fields, Field{Tag: tag, Length: length, Value: string(rs[pos+4 : end])})
		pos = end
	}
	return fields, ""
}

// Payload 是解码后的 PromptPay 动态码内容。
type Payload struct {
	PromptPayID  string
	Amount       decimal.Decimal
	Currency     string
	Country      string
	MerchantName string
	City         string
	CRC          string
}

// ErrMalformedPayload 表示 payload 无法通过校验或缺少必需字段。
var ErrMalformedPayload = errors.New("promptpay: malformed payload")

// Decode 在 CRC 校验通过后解析出业务字段，用于往返校验。
func Decode(payload string) (*Payload, error) {
	if !ValidatePayload(payload) {
		return nil, ErrMalformedPayload
	}
	fields, problem := walk(payload[:len(payload)-4])
	if problem != "" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, problem)
	}

	out := &Payload{CRC: payload[len(payload)-4:]}
	for _, f := range fields {
		switch f.Tag {
		case TagMerchantAccount:
			sub, subProblem := walk(f.Value)
			if subProblem != "" {
				return nil, fmt.Errorf("%w: tag 29: %s", ErrMalformedPayload, subProblem)
			}
			for _, sf := range sub {
				if sf.Tag == subTagMobile {
					out.PromptPayID = sf.Value
				}
			}
		case TagAmount:
			amount, err := decimal.NewFromString(f.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: amount %q", ErrMalformedPayload, f.Value)
			}
			out.Amount = amount
		case TagCurrency:
			out.Currency = f.Value
		case TagCountry:
			out.Country = f.Value
		case TagMerchantName:
			out.MerchantName = f.Value
		case TagCity:
			out.City = f.Value
		}
	}
	if out.PromptPayID == "" {
		return nil, fmt.Errorf("%w: missing promptpay id", ErrMalformedPayload)
	}
	return out, nil
}
