package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"regexp"
	"strings"
)

// codeAlphabet 去掉易混淆的 0/O/1/I，长度 32 使取模无偏
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var couponFormat = regexp.MustCompile(`^[A-Z0-9]{2,6}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// NormalizeCode 去空白并转大写
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsCouponFormat 校验 PREFIX-XXXX-XXXX 格式（大小写不敏感），不访问存储
func IsCouponFormat(code string) bool {
	return couponFormat.MatchString(NormalizeCode(code))
}

func encode(prefix string, b []byte) string {
	var sb strings.Builder
	sb.Grow(len(prefix) + 10)
	sb.WriteString(prefix)
	for i := 0; i < 8; i++ {
		if i%4 == 0 {
			sb.WriteByte('-')
		}
		sb.WriteByte(codeAlphabet[int(b[i])%len(codeAlphabet)])
	}
	return sb.String()
}

// RandomCode 生成随机券码
func RandomCode(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return encode(prefix, b), nil
}

// DeriveCode 由种子确定性派生券码，同一种子总是得到同一券码
func DeriveCode(prefix, secret, seed string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(seed))
	return encode(prefix, mac.Sum(nil))
}
