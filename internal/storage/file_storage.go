// internal/storage/file_storage.go
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/utils"
)

// FileStorage 本地目录实现的 BlobStore
type FileStorage struct {
	BaseDir       string
	PublicBaseURL string

	// 并发控制
	fileLocks sync.Map // 文件级别锁 path -> *sync.RWMutex
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir, publicBaseURL string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &FileStorage{BaseDir: baseDir, PublicBaseURL: publicBaseURL}, nil
}

// 获取文件锁
func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (fs *FileStorage) fullPath(key string) (string, string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(fs.BaseDir, filepath.FromSlash(cleaned)), nil
}

// Write 原子写入：先写临时文件再 rename
func (fs *FileStorage) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, fullPath, err := fs.fullPath(key)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			utils.GetLogger().Warn("清理临时文件失败", map[string]interface{}{
				"path":  tempPath,
				"error": removeErr.Error(),
			})
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}
	return nil
}

// Read 读取文件，不存在返回 NotFound
func (fs *FileStorage) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned, fullPath, err := fs.fullPath(key)
	if err != nil {
		return nil, err
	}

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if os.IsNotExist(err) {
		return nil, apperrors.NewNotFoundError("文件不存在: "+cleaned, err)
	}
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return content, nil
}

// Exists 检查文件是否存在
func (fs *FileStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, fullPath, err := fs.fullPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// Delete 删除文件
func (fs *FileStorage) Delete(ctx context.Context, key string) error {
	cleaned, fullPath, err := fs.fullPath(key)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return apperrors.NewNotFoundError("文件不存在: "+cleaned, err)
		}
		return fmt.Errorf("删除文件失败: %w", err)
	}
	return nil
}

// PublicURL 由静态文件路由提供访问
func (fs *FileStorage) PublicURL(key string) string {
	cleaned, err := cleanKey(key)
	if err != nil {
		return ""
	}
	return joinURL(fs.PublicBaseURL, cleaned)
}
