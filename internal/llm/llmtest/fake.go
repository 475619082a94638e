// internal/llm/llmtest/fake.go
// Package llmtest 提供测试用的脚本化 Provider
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/Corphon/DramaForge/internal/llm"
)

// Turn 模型的一轮输出
type Turn struct {
	Text      string
	ToolCalls []llm.ToolCall
	Err       error
}

// Provider 按顺序回放 Turns；CompleteText 使用 Complete 回调
type Provider struct {
	Complete func(req llm.CompletionRequest) (string, error)

	mu        sync.Mutex
	turns     []Turn
	requests  []llm.ChatRequest
	completes []llm.CompletionRequest
}

// New 创建脚本化 Provider
func New(turns ...Turn) *Provider {
	return &Provider{turns: turns}
}

// Push 追加脚本
func (p *Provider) Push(turns ...Turn) {
	p.mu.Lock()
	p.turns = append(p.turns, turns...)
	p.mu.Unlock()
}

// Requests 收到的对话请求
func (p *Provider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.requests...)
}

// Completions 收到的单轮请求
func (p *Provider) Completions() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.completes...)
}

func (p *Provider) Initialize(map[string]string) error { return nil }
func (p *Provider) GetName() string                    { return "fake" }
func (p *Provider) GetSupportedModels() []string       { return []string{"fake-model"} }

func (p *Provider) CompleteText(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.completes = append(p.completes, req)
	fn := p.Complete
	p.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no completion scripted")
	}
	text, err := fn(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Text: text, ModelName: req.Model}, nil
}

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	events, err := p.StreamChat(ctx, llm.ChatFromCompletion(req))
	if err != nil {
		return nil, err
	}
	return llm.TextStream(ctx, events, req.Model), nil
}

func (p *Provider) next(req llm.ChatRequest) Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.turns) == 0 {
		return Turn{}
	}
	t := p.turns[0]
	p.turns = p.turns[1:]
	return t
}

func (p *Provider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	t := p.next(req)
	if t.Err != nil {
		return nil, t.Err
	}
	reason := "stop"
	if len(t.ToolCalls) > 0 {
		reason = "tool_calls"
	}
	return &llm.ChatResponse{Text: t.Text, ToolCalls: t.ToolCalls, FinishReason: reason}, nil
}

// StreamChat 文本按两段切分发送，以覆盖增量拼接
func (p *Provider) StreamChat(_ context.Context, req llm.ChatRequest) (<-chan llm.ChatEvent, error) {
	t := p.next(req)
	if t.Err != nil {
		return nil, t.Err
	}

	ch := make(chan llm.ChatEvent, len(t.ToolCalls)+4)
	if t.Text != "" {
		half := len(t.Text) / 2
		if half > 0 {
			ch <- llm.ChatEvent{Type: llm.EventTextDelta, Text: t.Text[:half]}
		}
		ch <- llm.ChatEvent{Type: llm.EventTextDelta, Text: t.Text[half:]}
	}
	for i := range t.ToolCalls {
		call := t.ToolCalls[i]
		ch <- llm.ChatEvent{Type: llm.EventToolCall, ToolCall: &call}
	}
	reason := "stop"
	if len(t.ToolCalls) > 0 {
		reason = "tool_calls"
	}
	ch <- llm.ChatEvent{Type: llm.EventFinish, FinishReason: reason}
	close(ch)
	return ch, nil
}
