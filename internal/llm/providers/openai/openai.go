// internal/llm/providers/openai/openai.go
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/llm"
)

// 兼容 OpenAI chat/completions 协议的厂商
type vendorDefaults struct {
	baseURL string
	model   string
	models  []string
}

var vendors = map[string]vendorDefaults{
	"openai":     {"https://api.openai.com/v1", "gpt-4o", []string{"gpt-4o", "gpt-4.1", "gpt-4.1-mini"}},
	"deepseek":   {"https://api.deepseek.com/v1", "deepseek-chat", []string{"deepseek-chat", "deepseek-reasoner"}},
	"doubao":     {"https://ark.cn-beijing.volces.com/api/v3", "doubao-seed-1-6-250615", []string{"doubao-seed-1-6-250615"}},
	"openrouter": {"https://openrouter.ai/api/v1", "x-ai/grok-4.1-fast:free", []string{"x-ai/grok-4.1-fast:free", "qwen/qwen3-235b-a22b:free"}},
	"qwen":       {"https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen-plus", []string{"qwen-plus", "qwen3-max"}},
	"glm":        {"https://open.bigmodel.cn/api/paas/v4", "glm-4.5-air", []string{"glm-4.5-air", "glm-4.6"}},
	"grok":       {"https://api.x.ai/v1", "grok-4", []string{"grok-4", "grok-4.1-fast"}},
	"other":      {"", "", nil},
}

func init() {
	for name, d := range vendors {
		name, d := name, d
		llm.Register(name, func() llm.Provider {
			return &Provider{
				vendor:            name,
				baseURL:           d.baseURL,
				defaultModel:      d.model,
				recommendedModels: d.models,
			}
		})
	}
}

type Provider struct {
	vendor            string
	apiKey            string
	baseURL           string
	client            *http.Client
	defaultModel      string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return fmt.Errorf("%s API密钥未提供", p.vendor)
	}
	p.apiKey = apiKey
	p.client = &http.Client{Timeout: 5 * time.Minute}

	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}
	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	if p.baseURL == "" {
		return fmt.Errorf("%s 需要配置 base_url", p.vendor)
	}
	if p.defaultModel == "" {
		return fmt.Errorf("%s 需要配置 default_model", p.vendor)
	}
	return nil
}

func (p *Provider) GetName() string {
	return p.vendor
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// buildBody 构建 chat/completions 请求体
func (p *Provider) buildBody(req llm.ChatRequest, stream bool) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]wireMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, wireMessage{Role: llm.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		messages = append(messages, wm)
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if stream {
		body["stream"] = true
	}
	if req.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		body["tools"] = tools
	}
	return body
}

func (p *Provider) post(ctx context.Context, body map[string]interface{}, stream bool) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewUpstreamError(p.vendor+" request failed", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, apperrors.NewUpstreamError(fmt.Sprintf("%s API错误(%d): %s", p.vendor, httpResp.StatusCode, string(raw)), nil)
	}
	return httpResp, nil
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	httpResp, err := p.post(ctx, p.buildBody(req, false), false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var response struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content   string         `json:"content"`
				ToolCalls []wireToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, apperrors.NewUpstreamError(p.vendor+" response decode failed", err)
	}
	if len(response.Choices) == 0 {
		return nil, apperrors.NewUpstreamError(p.vendor+" 未返回任何结果", nil)
	}

	choice := response.Choices[0]
	result := &llm.ChatResponse{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		ModelName:    response.Model,
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.Chat(ctx, llm.ChatFromCompletion(req))
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{
		Text:         resp.Text,
		FinishReason: resp.FinishReason,
		TokensUsed:   resp.PromptTokens + resp.OutputTokens,
		PromptTokens: resp.PromptTokens,
		OutputTokens: resp.OutputTokens,
		ModelName:    resp.ModelName,
		ProviderName: p.vendor,
	}, nil
}

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	events, err := p.StreamChat(ctx, llm.ChatFromCompletion(req))
	if err != nil {
		return nil, err
	}
	return llm.TextStream(ctx, events, req.Model), nil
}

// StreamChat 解析 SSE；tool_calls 按 index 累积参数片段，结束时一次性发出
func (p *Provider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.ChatEvent, error) {
	httpResp, err := p.post(ctx, p.buildBody(req, true), true)
	if err != nil {
		return nil, err
	}

	respChan := make(chan llm.ChatEvent)

	go func() {
		defer httpResp.Body.Close()
		defer close(respChan)

		send := func(ev llm.ChatEvent) bool {
			select {
			case respChan <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		pending := map[int]*llm.ToolCall{}
		flushed := false
		flush := func(reason string) {
			if flushed {
				return
			}
			flushed = true
			indexes := make([]int, 0, len(pending))
			for i := range pending {
				indexes = append(indexes, i)
			}
			sort.Ints(indexes)
			for _, i := range indexes {
				if !send(llm.ChatEvent{Type: llm.EventToolCall, ToolCall: pending[i]}) {
					return
				}
			}
			if reason == "" {
				reason = "stop"
			}
			send(llm.ChatEvent{Type: llm.EventFinish, FinishReason: reason})
		}

		reader := bufio.NewReader(httpResp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					flush("")
				} else if ctx.Err() == nil {
					send(llm.ChatEvent{Type: llm.EventError, Err: apperrors.NewUpstreamError(p.vendor+" stream interrupted", err)})
				}
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			line = strings.TrimPrefix(line, "data:")
			line = strings.TrimSpace(line)

			if line == "[DONE]" {
				flush("")
				return
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content   string `json:"content"`
						ToolCalls []struct {
							Index    int          `json:"index"`
							ID       string       `json:"id"`
							Function wireFunction `json:"function"`
						} `json:"tool_calls"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				if !send(llm.ChatEvent{Type: llm.EventTextDelta, Text: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				call, ok := pending[tc.Index]
				if !ok {
					call = &llm.ToolCall{}
					pending[tc.Index] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.Arguments += tc.Function.Arguments
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				flush(*choice.FinishReason)
			}
		}
	}()

	return respChan, nil
}
