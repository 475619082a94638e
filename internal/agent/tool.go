// internal/agent/tool.go
package agent

import (
	"context"
	"encoding/json"
	"strings"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/llm"
)

// Handler 执行一次工具调用，args 为模型给出的 JSON 参数
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool 暴露给模型的工具
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON Schema
	Handler     Handler
}

// Toolset 有序工具集
type Toolset []Tool

// Specs 转换为请求里的工具定义
func (ts Toolset) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(ts))
	for _, t := range ts {
		params := t.Parameters
		if params == nil {
			params = object(nil)
		}
		specs = append(specs, llm.ToolSpec{Name: t.Name, Description: t.Description, Parameters: params})
	}
	return specs
}

// Find 按名称查找
func (ts Toolset) Find(name string) (Tool, bool) {
	for _, t := range ts {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Names 工具名列表
func (ts Toolset) Names() []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name
	}
	return names
}

// Merge 合并多个工具集，同名工具保留第一次出现的
func Merge(sets ...Toolset) Toolset {
	seen := make(map[string]bool)
	var out Toolset
	for _, set := range sets {
		for _, t := range set {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			out = append(out, t)
		}
	}
	return out
}

// decodeArgs 空参数视为 {}
func decodeArgs(args json.RawMessage, v interface{}) error {
	raw := strings.TrimSpace(string(args))
	if raw == "" || raw == "null" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return apperrors.NewValidationError("invalid tool arguments: "+err.Error(), err)
	}
	return nil
}

// argsValue 用于事件展示，解析失败时返回原始文本
func argsValue(args string) interface{} {
	if strings.TrimSpace(args) == "" {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return args
	}
	return v
}

// ---- JSON Schema 片段 ----

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	if props == nil {
		props = map[string]interface{}{}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func arrayOf(items map[string]interface{}, description string) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": items, "description": description}
}

func str(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func integer(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

func boolean(description string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": description}
}

func enum(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "enum": values, "description": description}
}
