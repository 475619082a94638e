// internal/imagegen/imagegen.go
package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

// Request 一次图像生成请求
type Request struct {
	// 参考图说明，如 "Reference mapping for characters, scenes, props: A=image 1"
	SystemPrompt string
	Prompt       string
	// 参考图，data URL 格式
	Images []string
	// 1K / 2K / 4K
	Size        string
	AspectRatio string
}

// Result 厂商返回 URL 或 base64 之一
type Result struct {
	URL    string
	Base64 string
}

// Generator 图像厂商接口
type Generator interface {
	Initialize(config map[string]string) error
	GetName() string
	Generate(ctx context.Context, req Request) (*Result, error)
}

// GeneratorFactory 厂商工厂
type GeneratorFactory func() Generator

var (
	generators   = make(map[string]GeneratorFactory)
	generatorsMu sync.RWMutex
)

// Register 注册图像厂商
func Register(name string, factory GeneratorFactory) {
	generatorsMu.Lock()
	defer generatorsMu.Unlock()
	generators[name] = factory
}

// GetGenerator 创建并初始化图像厂商；未注册时返回 unsupported vendor
func GetGenerator(name string, config map[string]string) (Generator, error) {
	generatorsMu.RLock()
	factory, ok := generators[name]
	generatorsMu.RUnlock()
	if !ok {
		return nil, apperrors.NewConfigurationError("unsupported vendor: "+name, nil)
	}

	g := factory()
	if err := g.Initialize(config); err != nil {
		return nil, apperrors.NewConfigurationError("image vendor initialization failed: "+name, err)
	}
	return g, nil
}

// ListGenerators 已注册的图像厂商
func ListGenerators() []string {
	generatorsMu.RLock()
	defer generatorsMu.RUnlock()
	names := make([]string, 0, len(generators))
	for name := range generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// requireKey 公共的 api_key/model 校验
func requireKey(vendor string, config map[string]string) (apiKey, model string, err error) {
	apiKey = config["api_key"]
	model = config["default_model"]
	if apiKey == "" {
		return "", "", fmt.Errorf("%s 缺少 API Key", vendor)
	}
	if model == "" {
		return "", "", fmt.Errorf("%s 缺少 Model 名称", vendor)
	}
	return apiKey, model, nil
}

// upstreamStatusError 非 2xx 响应
func upstreamStatusError(vendor string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return apperrors.NewUpstreamError(fmt.Sprintf("%s 图片生成失败(%d): %s", vendor, resp.StatusCode, string(raw)), nil)
}
