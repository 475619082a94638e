// internal/agent/runner.go
package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/Corphon/DramaForge/internal/llm"
	"github.com/Corphon/DramaForge/internal/utils"
)

// StepsPerTool 未指定 MaxSteps 时每个工具允许的轮数
const StepsPerTool = 5

// ChatStreamer 带工具的流式对话能力
type ChatStreamer interface {
	StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.ChatEvent, error)
}

// Hooks 流式回调，均可为空
type Hooks struct {
	OnText     func(text string)
	OnToolCall func(call llm.ToolCall)
}

// RunInput 一次工具循环的输入
type RunInput struct {
	System   string
	Messages []llm.Message
	Tools    Toolset
	MaxSteps int
}

// RunResult 所有轮次的文本拼接以及完整消息序列
type RunResult struct {
	Text     string
	Messages []llm.Message
	Steps    int
}

// Runner 驱动"模型输出 → 执行工具 → 回填结果"的循环
type Runner struct {
	llm ChatStreamer
}

func NewRunner(llm ChatStreamer) *Runner {
	return &Runner{llm: llm}
}

// Run 直到模型不再调用工具或达到 MaxSteps
func (r *Runner) Run(ctx context.Context, in RunInput, hooks Hooks) (*RunResult, error) {
	maxSteps := in.MaxSteps
	if maxSteps <= 0 {
		maxSteps = max(len(in.Tools)*StepsPerTool, 1)
	}

	messages := append([]llm.Message(nil), in.Messages...)
	specs := in.Tools.Specs()
	var full strings.Builder

	steps := 0
	for steps < maxSteps {
		steps++
		events, err := r.llm.StreamChat(ctx, llm.ChatRequest{
			System:   in.System,
			Messages: messages,
			Tools:    specs,
		})
		if err != nil {
			return nil, err
		}

		var text strings.Builder
		var calls []llm.ToolCall
		for ev := range events {
			switch ev.Type {
			case llm.EventTextDelta:
				text.WriteString(ev.Text)
				full.WriteString(ev.Text)
				if hooks.OnText != nil {
					hooks.OnText(ev.Text)
				}
			case llm.EventToolCall:
				if ev.ToolCall == nil {
					continue
				}
				calls = append(calls, *ev.ToolCall)
				if hooks.OnToolCall != nil {
					hooks.OnToolCall(*ev.ToolCall)
				}
			case llm.EventError:
				for range events {
				}
				return nil, ev.Err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: text.String(), ToolCalls: calls})
		if len(calls) == 0 {
			return &RunResult{Text: full.String(), Messages: messages, Steps: steps}, nil
		}

		// 顺序执行，后一个工具能看到前一个的副作用
		for _, call := range calls {
			result := r.execute(ctx, in.Tools, call)
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: result, ToolCallID: call.ID})
		}
	}

	utils.GetLogger().Warn("agent loop stopped at step limit", map[string]interface{}{
		"max_steps": maxSteps,
	})
	return &RunResult{Text: full.String(), Messages: messages, Steps: steps}, nil
}

// execute 工具错误与 panic 都转成文本结果交还给模型
func (r *Runner) execute(ctx context.Context, tools Toolset, call llm.ToolCall) (result string) {
	tool, ok := tools.Find(call.Name)
	if !ok {
		return fmt.Sprintf("tool %s does not exist", call.Name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			utils.GetLogger().Error("tool panicked", map[string]interface{}{
				"tool":  call.Name,
				"panic": fmt.Sprint(rec),
				"stack": string(debug.Stack()),
			})
			result = fmt.Sprintf("tool %s failed: %v", call.Name, rec)
		}
	}()

	out, err := tool.Handler(ctx, []byte(call.Arguments))
	if err != nil {
		utils.GetLogger().Warn("tool failed", map[string]interface{}{
			"tool":  call.Name,
			"error": err.Error(),
		})
		return fmt.Sprintf("tool %s failed: %s", call.Name, err.Error())
	}
	return out
}
