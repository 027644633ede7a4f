package session

import (
	"encoding/json"
	"errors"
	"strings"
)

func unmarshalLenient(body string, out any) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return errors.New("empty response body")
	}
	return json.Unmarshal([]byte(body), out)
}

// encodePaymentPassword 把支付密码编码成提交接口要求的形式：
// 每个字符前加 "u3" 前缀。
func encodePaymentPassword(pwd string) string {
	var b strings.Builder
	for _, c := range pwd {
		b.WriteString("u3")
		b.WriteRune(c)
	}
	return b.String()
}
