package promptpay

import (
	"fmt"
	"unicode/utf8"
)

// TLV 按 EMVCo 规则拼接一个字段：tag + 两位长度 + value。
// value 为空时整个字段省略，返回空串。
func TLV(tag, value string) string {
	if value == "" {
		return ""
	}
	return fmt.Sprintf("%s%02d%s", tag, utf8.RuneCountInString(value), value)
}

// CRC16 计算 CRC-16/CCITT-FALSE（init=0xFFFF, poly=0x1021, 不反射, 无最终异或），
// 返回 4 位大写十六进制。
func CRC16(input string) string {
	crc := uint16(0xFFFF)
	for _, r := range input {
		// 只取码元低 8 位参与运算，高位在 16 位掩码下会被丢弃
		crc ^= uint16(r) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return fmt.Sprintf("%04X", crc)
}

// clip 按字符截断，EMVCo 字段长度以截断后的字符数计算。
func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
