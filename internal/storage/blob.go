// internal/storage/blob.go
package storage

import (
	"context"
	"path"
	"strings"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

// BlobStore 二进制文件存储（本地目录或 S3 兼容对象存储）
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// PublicURL 前端可访问的地址
	PublicURL(key string) string
}

// cleanKey 规范化对象键，拒绝越出根目录的路径
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	cleaned := strings.TrimPrefix(path.Clean("/"+key), "/")
	if cleaned == "" || cleaned == "." {
		return "", apperrors.NewValidationError("对象键不能为空", nil)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", apperrors.NewValidationError("非法对象键: "+key, nil)
		}
	}
	return cleaned, nil
}

func joinURL(base, key string) string {
	if base == "" {
		return "/" + key
	}
	return strings.TrimRight(base, "/") + "/" + key
}
