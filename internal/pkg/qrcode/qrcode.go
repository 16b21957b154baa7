package qrcode

import (
	"encoding/base64"
	"errors"
	"strings"

	skipqrcode "github.com/skip2/go-qrcode"
)

var ErrEmptyContent = errors.New("qrcode: content cannot be empty")

// defaultSize 默认边长（像素）
const defaultSize = 256

// PNG 生成二维码图片
func PNG(content string, size int) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if size <= 0 {
		size = defaultSize
	}
	return skipqrcode.Encode(content, skipqrcode.Medium, size)
}

// DataURI 生成可直接放进 <img src> 的 PNG data URI
func DataURI(content string, size int) (string, error) {
	png, err := PNG(content, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
