// internal/services/config_service.go
package services

import (
	"strings"
	"sync"
	"time"

	"github.com/Corphon/DramaForge/internal/config"
	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/utils"
)

// ConfigService 管理模型配置：校验、持久化并热切换到运行中的服务
type ConfigService struct {
	llm   *LLMService
	image *ImageService

	mu            sync.RWMutex
	changeHistory []ConfigChangeRecord
}

// ConfigChangeRecord 配置变更记录，不含密钥
type ConfigChangeRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Section      string    `json:"section"` // llm | image
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
}

// ModelSettings 对外展示的模型配置，密钥已脱敏
type ModelSettings struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	APIKey       string `json:"apiKey"`
	BaseURL      string `json:"baseUrl,omitempty"`
	Ready        bool   `json:"ready"`
	State        string `json:"state"`
}

// NewConfigService 创建配置服务实例
func NewConfigService(llm *LLMService, image *ImageService) *ConfigService {
	return &ConfigService{
		llm:           llm,
		image:         image,
		changeHistory: make([]ConfigChangeRecord, 0, 16),
	}
}

func normalize(mc config.ModelConfig) (config.ModelConfig, error) {
	mc.Manufacturer = strings.TrimSpace(mc.Manufacturer)
	mc.Model = strings.TrimSpace(mc.Model)
	mc.BaseURL = strings.TrimSpace(mc.BaseURL)
	if mc.Manufacturer == "" {
		return mc, apperrors.NewValidationError("manufacturer cannot be empty", nil)
	}
	if mc.APIKey == "" {
		return mc, apperrors.NewValidationError("API key cannot be empty", nil)
	}
	return mc, nil
}

// keepKey 前端回传脱敏后的密钥时沿用旧值
func keepKey(incoming, current string) string {
	if incoming != "" && incoming == utils.MaskSecret(current) {
		return current
	}
	return incoming
}

// GetLLMSettings 文本模型配置
func (s *ConfigService) GetLLMSettings() ModelSettings {
	mc := config.GetCurrentConfig().LLM
	ready, state := s.llm.GetProviderStatus()
	return ModelSettings{
		Manufacturer: mc.Manufacturer,
		Model:        mc.Model,
		APIKey:       utils.MaskSecret(mc.APIKey),
		BaseURL:      mc.BaseURL,
		Ready:        ready,
		State:        state,
	}
}

// GetImageSettings 图像模型配置
func (s *ConfigService) GetImageSettings() ModelSettings {
	mc := config.GetCurrentConfig().Image
	return ModelSettings{
		Manufacturer: mc.Manufacturer,
		Model:        mc.Model,
		APIKey:       utils.MaskSecret(mc.APIKey),
		BaseURL:      mc.BaseURL,
		Ready:        s.image.IsReady(),
		State:        s.image.GetReadyState(),
	}
}

// UpdateLLMConfig 先切换运行中的 provider，成功后再持久化
func (s *ConfigService) UpdateLLMConfig(mc config.ModelConfig) error {
	mc.APIKey = keepKey(mc.APIKey, config.GetCurrentConfig().LLM.APIKey)
	mc, err := normalize(mc)
	if err != nil {
		return err
	}
	if err := s.llm.UpdateProvider(mc.Manufacturer, mc.Params()); err != nil {
		return err
	}
	if err := config.UpdateLLMConfig(mc); err != nil {
		return apperrors.NewConfigurationError("save LLM config failed", err)
	}
	s.recordChange("llm", mc)
	return nil
}

// UpdateImageConfig 图像厂商同理
func (s *ConfigService) UpdateImageConfig(mc config.ModelConfig) error {
	mc.APIKey = keepKey(mc.APIKey, config.GetCurrentConfig().Image.APIKey)
	mc, err := normalize(mc)
	if err != nil {
		return err
	}
	if err := s.image.UpdateVendor(mc.Manufacturer, mc.Params()); err != nil {
		return err
	}
	if err := config.UpdateImageConfig(mc); err != nil {
		return apperrors.NewConfigurationError("save image config failed", err)
	}
	s.recordChange("image", mc)
	return nil
}

// GetChangeHistory 获取最近的配置变更
func (s *ConfigService) GetChangeHistory(limit int) []ConfigChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}
	history := make([]ConfigChangeRecord, limit)
	copy(history, s.changeHistory[len(s.changeHistory)-limit:])
	return history
}

func (s *ConfigService) recordChange(section string, mc config.ModelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 限制历史记录数量
	if len(s.changeHistory) >= 100 {
		s.changeHistory = s.changeHistory[1:]
	}
	s.changeHistory = append(s.changeHistory, ConfigChangeRecord{
		Timestamp:    time.Now(),
		Section:      section,
		Manufacturer: mc.Manufacturer,
		Model:        mc.Model,
	})

	utils.GetLogger().Info("model config updated", map[string]interface{}{
		"section":      section,
		"manufacturer": mc.Manufacturer,
		"model":        mc.Model,
	})
}
