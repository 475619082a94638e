// internal/llm/providers/providers.go

// Package providers 汇总注册所有文本模型厂商
package providers

import (
	_ "github.com/Corphon/DramaForge/internal/llm/providers/anthropic"
	_ "github.com/Corphon/DramaForge/internal/llm/providers/openai"
)
