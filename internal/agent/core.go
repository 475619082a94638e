// internal/agent/core.go
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/DramaForge/internal/llm"
	"github.com/Corphon/DramaForge/internal/utils"
)

// ConfigErrorPrompt 提示词缺失时的系统提示
const ConfigErrorPrompt = "Whatever the user says, reply only with: Agent configuration error"

// PromptResolver 按 code 取提示词
type PromptResolver interface {
	Resolve(ctx context.Context, code string) (string, error)
}

// core 两个编排器共用的部分：历史、事件、子代理和主循环
type core struct {
	kind      string // outlineAgent | storyboardAgent
	projectID int64
	runner    *Runner
	prompts   PromptResolver
	events    *Emitter

	histMu  sync.Mutex
	history []llm.Message

	// env 生成环境信息
	env func(ctx context.Context) (string, error)
}

func newCore(kind string, projectID int64, chat ChatStreamer, prompts PromptResolver) *core {
	return &core{
		kind:      kind,
		projectID: projectID,
		runner:    NewRunner(chat),
		prompts:   prompts,
		events:    NewEmitter(),
	}
}

// Events 事件源
func (c *core) Events() *Emitter {
	return c.events
}

// History 历史副本
func (c *core) History() []llm.Message {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	return append([]llm.Message(nil), c.history...)
}

// SetHistory 恢复历史
func (c *core) SetHistory(history []llm.Message) {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	c.history = append([]llm.Message(nil), history...)
}

// ClearHistory 清空历史
func (c *core) ClearHistory() {
	c.SetHistory(nil)
}

func (c *core) appendHistory(role, content string) {
	c.histMu.Lock()
	c.history = append(c.history, llm.Message{Role: role, Content: content})
	c.histMu.Unlock()
}

// MarshalHistory 序列化历史用于持久化
func (c *core) MarshalHistory() (string, error) {
	data, err := json.Marshal(c.History())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalHistory 从持久化数据恢复，空字符串视为无历史
func (c *core) UnmarshalHistory(data string) error {
	if strings.TrimSpace(data) == "" {
		c.ClearHistory()
		return nil
	}
	var history []llm.Message
	if err := json.Unmarshal([]byte(data), &history); err != nil {
		return err
	}
	c.SetHistory(history)
	return nil
}

func (c *core) historyText() string {
	history := c.History()
	if len(history) == 0 {
		return "no conversation history"
	}
	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = m.Role + ": " + m.Content
	}
	return strings.Join(lines, "\n\n")
}

func (c *core) fullContext(ctx context.Context, task string) (string, error) {
	env, err := c.env(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\n\n<conversation history>\n%s\n</conversation history>\n\n<current task>\n%s\n</current task>",
		env, c.historyText(), task), nil
}

// systemPrompt 自定义值优先；缺失时让模型输出配置错误
func (c *core) systemPrompt(ctx context.Context, code string) string {
	value, err := c.prompts.Resolve(ctx, code)
	if err != nil || strings.TrimSpace(value) == "" {
		utils.GetLogger().Warn("agent prompt missing", map[string]interface{}{
			"agent": c.kind,
			"code":  code,
		})
		return ConfigErrorPrompt
	}
	return value
}

func systemTime() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

// subAgent 子代理工具：以完整上下文运行独立的工具循环
func (c *core) subAgent(name, description, promptCode string, tools func() Toolset) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters: object(map[string]interface{}{
			"taskDescription": str("Concrete task description including scope and requirements"),
		}, "taskDescription"),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				TaskDescription string `json:"taskDescription"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}
			return c.invokeSubAgent(ctx, name, promptCode, tools(), in.TaskDescription)
		},
	}
}

func (c *core) invokeSubAgent(ctx context.Context, name, promptCode string, tools Toolset, task string) (string, error) {
	c.events.Emit(EventTransfer, TransferPayload{To: name})
	utils.GetLogger().Info("sub-agent invoked", map[string]interface{}{
		"agent":      name,
		"project_id": c.projectID,
	})

	fullCtx, err := c.fullContext(ctx, task)
	if err != nil {
		c.events.Emit(EventSubAgentEnd, SubAgentEndPayload{Agent: name, Error: err.Error()})
		return "", err
	}

	res, err := c.runner.Run(ctx, RunInput{
		System:   c.systemPrompt(ctx, promptCode),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: fullCtx}},
		Tools:    tools,
	}, Hooks{
		OnText: func(text string) {
			c.events.Emit(EventSubAgentStream, SubAgentStreamPayload{Agent: name, Text: text})
		},
		OnToolCall: func(call llm.ToolCall) {
			c.events.Emit(EventToolCall, ToolCallPayload{Agent: name, Name: call.Name, Args: argsValue(call.Arguments)})
		},
	})
	if err != nil {
		c.events.Emit(EventSubAgentEnd, SubAgentEndPayload{Agent: name, Error: err.Error()})
		return "", err
	}

	c.events.Emit(EventSubAgentEnd, SubAgentEndPayload{Agent: name})
	c.appendHistory(llm.RoleAssistant, res.Text)

	if res.Text == "" {
		return name + " finished the task", nil
	}
	return res.Text, nil
}

// call 主入口：追加用户消息，流式输出并记录回复
func (c *core) call(ctx context.Context, msg, promptCode string, tools Toolset) (string, error) {
	c.appendHistory(llm.RoleUser, msg)

	reply, err := c.runMain(ctx, promptCode, tools)
	if err != nil {
		utils.GetLogger().Error("agent call failed", map[string]interface{}{
			"agent":      c.kind,
			"project_id": c.projectID,
			"error":      err.Error(),
		})
		c.events.Emit(EventError, err.Error())
		return "", err
	}

	c.appendHistory(llm.RoleAssistant, reply)
	c.events.Emit(EventResponse, reply)
	return reply, nil
}

func (c *core) runMain(ctx context.Context, promptCode string, tools Toolset) (string, error) {
	env, err := c.env(ctx)
	if err != nil {
		return "", err
	}

	res, err := c.runner.Run(ctx, RunInput{
		System:   env + "\n" + c.systemPrompt(ctx, promptCode),
		Messages: c.History(),
		Tools:    tools,
	}, Hooks{
		OnText: func(text string) {
			c.events.Emit(EventData, text)
		},
		OnToolCall: func(call llm.ToolCall) {
			c.events.Emit(EventToolCall, ToolCallPayload{Agent: "main", Name: call.Name, Args: argsValue(call.Arguments)})
		},
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
