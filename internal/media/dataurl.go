// internal/media/dataurl.go
package media

import (
	"encoding/base64"
	"regexp"
	"strings"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

var base64Payload = regexp.MustCompile(`base64,([A-Za-z0-9+/=]+)`)

// MimeFromBase64 通过 base64 前缀判断图片类型，未知时视为 png
func MimeFromBase64(b64 string) string {
	switch {
	case strings.HasPrefix(b64, "/9j/"):
		return "image/jpeg"
	case strings.HasPrefix(b64, "iVBORw"):
		return "image/png"
	case strings.HasPrefix(b64, "R0lGOD"):
		return "image/gif"
	case strings.HasPrefix(b64, "UklGR"):
		return "image/webp"
	default:
		return "image/png"
	}
}

// ToDataURL 补全 data:image/...;base64, 前缀；已有前缀原样返回
func ToDataURL(b64 string) string {
	if strings.HasPrefix(b64, "data:") {
		return b64
	}
	return "data:" + MimeFromBase64(b64) + ";base64," + b64
}

// EncodeDataURL 二进制转 data URL
func EncodeDataURL(buf []byte) string {
	return ToDataURL(base64.StdEncoding.EncodeToString(buf))
}

// DecodeBase64Image 接受 data URL 或纯 base64 字符串
func DecodeBase64Image(s string) ([]byte, error) {
	payload := strings.TrimSpace(s)
	if m := base64Payload.FindStringSubmatch(payload); m != nil {
		payload = m[1]
	}
	if payload == "" {
		return nil, apperrors.NewUpstreamError("image response is empty", nil)
	}
	buf, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, apperrors.NewUpstreamError("image response is not valid base64", err)
	}
	return buf, nil
}
