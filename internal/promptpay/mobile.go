package promptpay

import (
	"regexp"
	"strings"
)

// 泰国手机号/座机号格式：0 开头，第二位 2-9，共 9-10 位。
var mobilePattern = regexp.MustCompile(`^0[2-9]\d{7,8}$`)

var nonDigit = regexp.MustCompile(`\D`)

// ValidMobile 校验原始输入（未归一化）是否为可接受的号码。
func ValidMobile(mobile string) bool {
	return mobilePattern.MatchString(mobile)
}

// ToPromptPayMobile 将手机号归一化为 13 位 PromptPay 标识 0066XXXXXXXXX。
// 本函数不做校验，校验由调用方在归一化之前完成。
func ToPromptPayMobile(mobile string) string {
	digits := nonDigit.ReplaceAllString(mobile, "")
	switch {
	case strings.HasPrefix(digits, "0066"):
		return digits
	case strings.HasPrefix(digits, "0"):
		return "0066" + digits[1:]
	case strings.HasPrefix(digits, "66"):
		return "00" + digits
	default:
		return "0066" + digits
	}
}
