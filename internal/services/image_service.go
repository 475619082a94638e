// internal/services/image_service.go
package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Corphon/DramaForge/internal/config"
	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/imagegen"
	"github.com/Corphon/DramaForge/internal/media"
	"github.com/Corphon/DramaForge/internal/utils"
)

// 下载厂商返回图片的上限
const maxFetchedImageBytes = 64 << 20

// ImageService 统一的图像生成入口：限流、参考图格式化、结果下载
type ImageService struct {
	mu         sync.RWMutex
	generator  imagegen.Generator
	vendor     string
	readyState string

	limiter    *rate.Limiter
	httpClient *http.Client
	metrics    *utils.PipelineMetrics
}

// NewImageService 按当前配置初始化；ratePerMinute<=0 时不限流
func NewImageService(ratePerMinute int) *ImageService {
	s := &ImageService{
		readyState: "Uninitialized",
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		metrics:    utils.NewPipelineMetrics(),
	}
	s.SetRate(ratePerMinute)

	cfg := config.GetCurrentConfig()
	if cfg.Image.Manufacturer == "" || cfg.Image.APIKey == "" {
		s.readyState = "API key not configured"
		return s
	}
	if err := s.UpdateVendor(cfg.Image.Manufacturer, cfg.Image.Params()); err != nil {
		utils.GetLogger().Warn("image vendor initialization failed", map[string]interface{}{
			"vendor": cfg.Image.Manufacturer,
			"error":  err.Error(),
		})
	}
	return s
}

// NewImageServiceWithGenerator 直接注入厂商实现
func NewImageServiceWithGenerator(g imagegen.Generator, httpClient *http.Client) *ImageService {
	s := &ImageService{
		generator:  g,
		vendor:     g.GetName(),
		readyState: "Ready",
		httpClient: httpClient,
		metrics:    utils.NewPipelineMetrics(),
	}
	if s.httpClient == nil {
		s.httpClient = http.DefaultClient
	}
	s.SetRate(0)
	return s
}

// SetRate 每分钟请求数，突发 1 次
func (s *ImageService) SetRate(perMinute int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perMinute <= 0 {
		s.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// UpdateVendor 切换图像厂商
func (s *ImageService) UpdateVendor(vendor string, cfg map[string]string) error {
	g, err := imagegen.GetGenerator(vendor, cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.generator = nil
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		return err
	}
	s.generator = g
	s.vendor = vendor
	s.readyState = "Ready"
	return nil
}

// IsReady 是否已配置可用的厂商
func (s *ImageService) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generator != nil
}

// GetReadyState 状态描述
func (s *ImageService) GetReadyState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readyState
}

// Generate 生成一张图片并返回二进制。
// 参考图可以是纯 base64 或 data URL；厂商返回 URL 时下载，返回 base64 时解码。
func (s *ImageService) Generate(ctx context.Context, req imagegen.Request) ([]byte, error) {
	s.mu.RLock()
	g, vendor, limiter := s.generator, s.vendor, s.limiter
	s.mu.RUnlock()
	if g == nil {
		return nil, apperrors.NewConfigurationError("image service not ready: "+s.GetReadyState(), nil)
	}

	if err := limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewTimeoutError("image request throttled", err)
	}

	images := make([]string, len(req.Images))
	for i, img := range req.Images {
		images[i] = media.ToDataURL(img)
	}
	req.Images = images

	start := time.Now()
	res, err := g.Generate(ctx, req)
	s.metrics.RecordImageRequest(vendor, err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	utils.GetLogger().Info("image generated", map[string]interface{}{
		"vendor":     vendor,
		"references": len(images),
		"duration":   time.Since(start).String(),
	})

	if res.Base64 != "" {
		return media.DecodeBase64Image(res.Base64)
	}
	if res.URL != "" {
		return s.fetch(ctx, res.URL)
	}
	return nil, apperrors.NewUpstreamError(vendor+" returned no image", nil)
}

// fetch 下载厂商返回的图片 URL
func (s *ImageService) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewUpstreamError("invalid image url", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewUpstreamError("download image failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewUpstreamError(fmt.Sprintf("download image failed: HTTP %d", resp.StatusCode), nil)
	}
	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchedImageBytes))
	if err != nil {
		return nil, apperrors.NewUpstreamError("download image failed", err)
	}
	return buf, nil
}
