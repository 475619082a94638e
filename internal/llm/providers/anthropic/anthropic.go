// internal/llm/providers/anthropic/anthropic.go
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/llm"
)

func init() {
	llm.Register("anthropic", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"claude-sonnet-4-5",
				"claude-haiku-4-5",
			},
			baseURL:    "https://api.anthropic.com",
			apiVersion: "2023-06-01",
		}
	})
}

const defaultMaxTokens = 8192

type Provider struct {
	apiKey            string
	baseURL           string
	apiVersion        string
	client            *http.Client
	defaultModel      string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return errors.New("anthropic api密钥未提供")
	}

	p.apiKey = apiKey
	p.client = &http.Client{Timeout: 5 * time.Minute}

	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "claude-sonnet-4-5"
	}
	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	if apiVersion := config["api_version"]; apiVersion != "" {
		p.apiVersion = apiVersion
	}
	return nil
}

func (p *Provider) GetName() string {
	return "anthropic"
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type wireMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// convertMessages 工具结果放在 user 消息里，连续的工具结果合并为一条
func convertMessages(msgs []llm.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	appendBlock := func(role string, block contentBlock) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, block)
			return
		}
		out = append(out, wireMessage{Role: role, Content: []contentBlock{block}})
	}

	for _, m := range msgs {
		switch m.Role {
		case llm.RoleTool:
			appendBlock(llm.RoleUser, contentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content})
		case llm.RoleAssistant:
			if m.Content != "" {
				appendBlock(llm.RoleAssistant, contentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				appendBlock(llm.RoleAssistant, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
		case llm.RoleSystem:
			continue
		default:
			appendBlock(llm.RoleUser, contentBlock{Type: "text", Text: m.Content})
		}
	}
	return out
}

func (p *Provider) buildBody(req llm.ChatRequest, stream bool) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	system := req.System
	if req.JSONMode {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object only.")
	}

	body := map[string]interface{}{
		"model":      model,
		"messages":   convertMessages(req.Messages),
		"max_tokens": maxTokens,
	}
	if system != "" {
		body["system"] = system
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if stream {
		body["stream"] = true
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.apiKey)
	httpReq.Header.Set("Anthropic-Version", p.apiVersion)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewUpstreamError("anthropic request failed", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, apperrors.NewUpstreamError(fmt.Sprintf("anthropic api错误(%d): %s", httpResp.StatusCode, string(raw)), nil)
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
		Model      string         `json:"model"`
		StopReason string         `json:"stop_reason"`
		Content    []contentBlock `json:"content"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, apperrors.NewUpstreamError("anthropic response decode failed", err)
	}

	result := &llm.ChatResponse{
		FinishReason: response.StopReason,
		PromptTokens: response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		ModelName:    response.Model,
	}
	var text strings.Builder
	for _, block := range response.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: string(block.Input)})
		}
	}
	result.Text = text.String()
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
		ProviderName: p.GetName(),
	}, nil
}

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	events, err := p.StreamChat(ctx, llm.ChatFromCompletion(req))
	if err != nil {
		return nil, err
	}
	return llm.TextStream(ctx, events, req.Model), nil
}

// StreamChat 解析 messages 流：tool_use 的 input 以 input_json_delta 分片到达
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

		var current *llm.ToolCall
		stopReason := ""
		reader := bufio.NewReader(httpResp.Body)

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					send(llm.ChatEvent{Type: llm.EventFinish, FinishReason: stopReason})
				} else if ctx.Err() == nil {
					send(llm.ChatEvent{Type: llm.EventError, Err: apperrors.NewUpstreamError("anthropic stream interrupted", err)})
				}
				return
			}

			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var ev struct {
				Type         string `json:"type"`
				ContentBlock struct {
					Type string `json:"type"`
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"content_block"`
				Delta struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					PartialJSON string `json:"partial_json"`
					StopReason  string `json:"stop_reason"`
				} `json:"delta"`
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				continue
			}

			switch ev.Type {
			case "content_block_start":
				if ev.ContentBlock.Type == "tool_use" {
					current = &llm.ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
				}
			case "content_block_delta":
				switch ev.Delta.Type {
				case "text_delta":
					if ev.Delta.Text != "" && !send(llm.ChatEvent{Type: llm.EventTextDelta, Text: ev.Delta.Text}) {
						return
					}
				case "input_json_delta":
					if current != nil {
						current.Arguments += ev.Delta.PartialJSON
					}
				}
			case "content_block_stop":
				if current != nil {
					if current.Arguments == "" {
						current.Arguments = "{}"
					}
					if !send(llm.ChatEvent{Type: llm.EventToolCall, ToolCall: current}) {
						return
					}
					current = nil
				}
			case "message_delta":
				if ev.Delta.StopReason != "" {
					stopReason = ev.Delta.StopReason
				}
			case "message_stop":
				send(llm.ChatEvent{Type: llm.EventFinish, FinishReason: stopReason})
				return
			case "error":
				send(llm.ChatEvent{Type: llm.EventError, Err: apperrors.NewUpstreamError("anthropic: "+ev.Error.Message, nil)})
				return
			}
		}
	}()

	return respChan, nil
}
