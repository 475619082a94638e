// internal/llm/interface.go
package llm

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// 请求参数标准化
type CompletionRequest struct {
	Prompt       string                 `json:"prompt"`
	SystemPrompt string                 `json:"system_prompt,omitempty"`
	MaxTokens    int                    `json:"max_tokens,omitempty"`
	Temperature  float32                `json:"temperature,omitempty"`
	Model        string                 `json:"model,omitempty"`
	JSONMode     bool                   `json:"json_mode,omitempty"`
	ExtraParams  map[string]interface{} `json:"extra_params,omitempty"`
}

// 响应结构标准化
type CompletionResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// 流式响应
type StreamResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	Done         bool   `json:"done"`
}

// ToolCall 模型发起的一次工具调用，Arguments 为 JSON 文本
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message 多轮对话中的一条消息
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolSpec 暴露给模型的工具定义，Parameters 是 JSON Schema
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ChatRequest 带工具的对话请求
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// ChatResponse 非流式对话结果
type ChatResponse struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	PromptTokens int
	OutputTokens int
	ModelName    string
}

// ChatEventType 流式事件类型
type ChatEventType string

const (
	EventTextDelta ChatEventType = "text-delta"
	EventToolCall  ChatEventType = "tool-call"
	EventFinish    ChatEventType = "finish"
	EventError     ChatEventType = "error"
)

// ChatEvent 流式对话事件
type ChatEvent struct {
	Type         ChatEventType
	Text         string
	ToolCall     *ToolCall
	FinishReason string
	Err          error
}

// Provider 定义所有文本模型厂商必须实现的接口
type Provider interface {
	// 初始化，config 包含 api_key / default_model / base_url
	Initialize(config map[string]string) error

	GetName() string

	GetSupportedModels() []string

	// 单轮文本生成
	CompleteText(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// 单轮流式生成
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamResponse, error)

	// 多轮对话，可带工具
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// 多轮流式对话，工具调用以完整的 EventToolCall 事件给出
	StreamChat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)
}

// ProviderFactory 厂商工厂
type ProviderFactory func() Provider

var (
	providers   = make(map[string]ProviderFactory)
	providersMu sync.RWMutex
)

// Register 注册厂商工厂，重复注册覆盖
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// GetProvider 创建并初始化指定厂商
func GetProvider(name string, config map[string]string) (Provider, error) {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return nil, apperrors.NewConfigurationError("unsupported vendor: "+name, nil)
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, apperrors.NewConfigurationError("vendor initialization failed: "+name, err)
	}
	return provider, nil
}

// ListProviders 返回已注册厂商名，按字母序
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSupportedModelsForProvider 获取指定厂商推荐的模型列表
func GetSupportedModelsForProvider(name string) []string {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return []string{}
	}
	return factory().GetSupportedModels()
}

// ChatFromCompletion 单轮请求转为对话请求
func ChatFromCompletion(req CompletionRequest) ChatRequest {
	return ChatRequest{
		Model:       req.Model,
		System:      req.SystemPrompt,
		Messages:    []Message{{Role: RoleUser, Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		JSONMode:    req.JSONMode,
	}
}

// TextStream 把对话事件流转换为纯文本流
func TextStream(ctx context.Context, events <-chan ChatEvent, model string) <-chan StreamResponse {
	out := make(chan StreamResponse)
	go func() {
		defer close(out)
		for ev := range events {
			var resp StreamResponse
			switch ev.Type {
			case EventTextDelta:
				resp = StreamResponse{Text: ev.Text, ModelName: model}
			case EventFinish:
				resp = StreamResponse{FinishReason: ev.FinishReason, ModelName: model, Done: true}
			case EventError:
				resp = StreamResponse{FinishReason: "error", ModelName: model, Done: true}
			default:
				continue
			}
			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
