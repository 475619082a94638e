// internal/di/container.go
package di

import (
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

// 服务名称
const (
	ServiceDB        = "db"
	ServiceProjects  = "projects"
	ServiceOutlines  = "outlines"
	ServiceAssets    = "assets"
	ServicePrompts   = "prompts"
	ServiceBlobs     = "blobs"
	ServiceLLM       = "llm"
	ServiceImage     = "image"
	ServiceConfig    = "config"
	ServiceAsset     = "asset"
	ServiceLocks     = "locks"
	ServiceGenerator = "generator"
	ServiceAPI       = "api"
)

// Container 按名称保存服务实例，并记住注册顺序用于关闭
type Container struct {
	mu       sync.RWMutex
	services map[string]interface{}
	order    []string
}

var (
	globalContainer *Container
	once            sync.Once
)

// NewContainer 创建空容器
func NewContainer() *Container {
	return &Container{services: make(map[string]interface{})}
}

// GetContainer 进程级容器
func GetContainer() *Container {
	once.Do(func() {
		globalContainer = NewContainer()
	})
	return globalContainer
}

// Register 注册或替换服务；替换时保留原来的顺序
func (c *Container) Register(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[name]; !exists {
		c.order = append(c.order, name)
	}
	c.services[name] = service
}

// Get 未注册时返回 nil
func (c *Container) Get(name string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.services[name]
}

// Resolve 获取并断言为 T；未注册或类型不符时返回配置错误
func Resolve[T any](c *Container, name string) (T, error) {
	var zero T
	service := c.Get(name)
	if service == nil {
		return zero, apperrors.NewConfigurationError(fmt.Sprintf("service %q is not registered", name), nil)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, apperrors.NewConfigurationError(
			fmt.Sprintf("service %q has type %T, want %T", name, service, zero), nil)
	}
	return typed, nil
}

func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.services[name]
	return exists
}

func (c *Container) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[name]; !exists {
		return
	}
	delete(c.services, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Clear 丢弃全部服务，不会关闭它们
func (c *Container) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = make(map[string]interface{})
	c.order = nil
}

// GetNames 按注册顺序返回服务名
func (c *Container) GetNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Shutdown 按注册的逆序关闭服务并清空容器。
// 支持 Close() error、Close() 和 Stop() 三种形式，其余服务忽略。
func (c *Container) Shutdown() error {
	c.mu.Lock()
	order := c.order
	services := c.services
	c.services = make(map[string]interface{})
	c.order = nil
	c.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		switch s := services[name].(type) {
		case interface{ Close() error }:
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		case interface{ Close() }:
			s.Close()
		case interface{ Stop() }:
			s.Stop()
		}
	}
	return errors.Join(errs...)
}
