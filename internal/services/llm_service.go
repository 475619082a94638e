// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/Corphon/DramaForge/internal/config"
	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/llm"
	"github.com/Corphon/DramaForge/internal/utils"
)

var providerDefaultModels = map[string]string{
	"openai":     "gpt-4.1",
	"anthropic":  "claude-sonnet-4-5",
	"deepseek":   "deepseek-chat",
	"doubao":     "doubao-seed-1-6-250615",
	"glm":        "glm-4.5-air",
	"qwen":       "qwen3-max",
	"grok":       "grok-4-fast",
	"openrouter": "openai/gpt-4.1",
}

// LLMService 提供统一的文本模型调用接口
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	cache              *cache.Cache
	isReady            bool
	readyState         string
	activeDefaultModel string
	metrics            *utils.PipelineMetrics
}

// NewLLMService 按当前配置初始化；配置缺失时返回未就绪的服务而不是错误
func NewLLMService() *LLMService {
	service := createBaseLLMService()

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		service.readyState = "Failed to retrieve configuration"
		return service
	}
	if cfg.LLM.Manufacturer == "" || cfg.LLM.APIKey == "" {
		service.readyState = "API key not configured"
		return service
	}

	if err := service.UpdateProvider(cfg.LLM.Manufacturer, cfg.LLM.Params()); err != nil {
		utils.GetLogger().Warn("LLM provider initialization failed", map[string]interface{}{
			"provider": cfg.LLM.Manufacturer,
			"error":    err.Error(),
		})
	}
	return service
}

// NewLLMServiceWithProvider 直接注入 Provider
func NewLLMServiceWithProvider(name string, provider llm.Provider, defaultModel string) *LLMService {
	service := createBaseLLMService()
	service.provider = provider
	service.providerName = name
	service.activeDefaultModel = defaultModel
	service.isReady = provider != nil
	service.readyState = "Ready"
	return service
}

func createBaseLLMService() *LLMService {
	return &LLMService{
		readyState: "Uninitialized",
		cache:      cache.New(30*time.Minute, 10*time.Minute),
		metrics:    utils.NewPipelineMetrics(),
	}
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState 返回服务就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderStatus 返回服务是否就绪以及可读描述
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM服务实例未初始化"
	}
	if s.IsReady() {
		return true, "Ready"
	}
	return false, s.GetReadyState()
}

// UpdateProvider 切换厂商；失败时服务进入未就绪状态
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	provider, err := llm.GetProvider(providerName, cfg)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.activeDefaultModel = strings.TrimSpace(cfg["default_model"])
	s.isReady = true
	s.readyState = "Ready"
	s.cache.Flush()
	return nil
}

// GetProviderName 当前厂商
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// GetDefaultModel 获取当前配置的默认模型
func (s *LLMService) GetDefaultModel() string {
	return s.resolveModel("")
}

// resolveModel 请求指定 > 配置默认 > 厂商推荐
func (s *LLMService) resolveModel(requestedModel string) string {
	if trimmed := strings.TrimSpace(requestedModel); trimmed != "" {
		return trimmed
	}

	s.providerMutex.RLock()
	provider := s.provider
	providerName := s.providerName
	activeDefault := s.activeDefaultModel
	s.providerMutex.RUnlock()

	if activeDefault != "" {
		return activeDefault
	}
	if provider != nil {
		if models := provider.GetSupportedModels(); len(models) > 0 && strings.TrimSpace(models[0]) != "" {
			return strings.TrimSpace(models[0])
		}
	}
	if model, exists := providerDefaultModels[providerName]; exists {
		return model
	}
	return "gpt-4.1"
}

func (s *LLMService) readyProvider() (llm.Provider, string, error) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	if !s.isReady || s.provider == nil {
		return nil, "", apperrors.NewConfigurationError("LLM service not ready: "+s.readyState, nil)
	}
	return s.provider, s.providerName, nil
}

// generateCacheKey 生成缓存键
func (s *LLMService) generateCacheKey(parts ...string) string {
	h := md5.New()
	h.Write([]byte(s.GetProviderName()))
	for _, p := range parts {
		h.Write([]byte(":::"))
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Complete 单轮文本生成，相同输入命中缓存
func (s *LLMService) Complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	provider, name, err := s.readyProvider()
	if err != nil {
		return "", err
	}
	model := s.resolveModel("")

	cacheKey := s.generateCacheKey("text", systemPrompt, prompt, model)
	if cached, ok := s.cache.Get(cacheKey); ok {
		utils.GetLogger().Debug("LLM cache hit", map[string]interface{}{"cache_key_prefix": cacheKey[:8]})
		return cached.(string), nil
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Model:        model,
	})
	if err != nil {
		s.metrics.RecordError("llm", "complete")
		return "", err
	}
	s.metrics.RecordLLMRequest(name, model, resp.TokensUsed, time.Since(start))

	s.cache.SetDefault(cacheKey, resp.Text)
	return resp.Text, nil
}

// CreateStructuredCompletion 请求 JSON 输出并解析到 outputSchema。
// 支持 JSON 模式的厂商直接约束输出，其余情况从文本中抽取第一个可解析的对象。
func (s *LLMService) CreateStructuredCompletion(ctx context.Context, prompt string, systemPrompt string, outputSchema interface{}) error {
	provider, name, err := s.readyProvider()
	if err != nil {
		return err
	}
	model := s.resolveModel("")

	cacheKey := s.generateCacheKey("json", systemPrompt, prompt, model)
	if cached, ok := s.cache.Get(cacheKey); ok {
		if err := json.Unmarshal(cached.([]byte), outputSchema); err == nil {
			return nil
		}
	}

	structuredSystemPrompt := systemPrompt
	if systemPrompt != "" {
		structuredSystemPrompt += "\n\n"
	}
	structuredSystemPrompt += "Return your response in valid JSON format, following the provided output schema, without adding explanations or preambles."

	start := time.Now()
	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: structuredSystemPrompt,
		Temperature:  0.3,
		Model:        model,
		JSONMode:     true,
	})
	if err != nil {
		s.metrics.RecordError("llm", "structured")
		return err
	}
	s.metrics.RecordLLMRequest(name, model, resp.TokensUsed, time.Since(start))

	if err := llm.ExtractJSONObject(resp.Text, outputSchema); err != nil {
		return apperrors.NewProcessingError("failed to parse AI response into structured data", err)
	}

	if raw, err := json.Marshal(outputSchema); err == nil {
		s.cache.SetDefault(cacheKey, raw)
	}
	return nil
}

// StreamChat 带工具的流式对话，未指定模型时使用默认模型
func (s *LLMService) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.ChatEvent, error) {
	provider, name, err := s.readyProvider()
	if err != nil {
		return nil, err
	}
	req.Model = s.resolveModel(req.Model)
	s.metrics.RecordLLMRequest(name, req.Model, 0, 0)
	return provider.StreamChat(ctx, req)
}

// Chat 非流式对话
func (s *LLMService) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	provider, name, err := s.readyProvider()
	if err != nil {
		return nil, err
	}
	req.Model = s.resolveModel(req.Model)
	start := time.Now()
	resp, err := provider.Chat(ctx, req)
	if err != nil {
		s.metrics.RecordError("llm", "chat")
		return nil, err
	}
	s.metrics.RecordLLMRequest(name, req.Model, resp.PromptTokens+resp.OutputTokens, time.Since(start))
	return resp, nil
}
