// internal/llm/jsonparse.go
package llm

import (
	"encoding/json"
	"strings"
	"unicode"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

// 模型输出中常见的噪声
var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```", "",
	"\ufeff", "",
	"\u00a0", " ",
	"\u2028", "\n",
	"\u2029", "\n",
)

// 字符串外的全角标点
var structuralPunctuationMap = map[rune]rune{
	'：': ':',
	'，': ',',
	'【': '[',
	'】': ']',
	'［': '[',
	'］': ']',
	'｛': '{',
	'｝': '}',
}

// 中文引号对
var quotePairs = map[rune]rune{
	'“': '”',
	'「': '」',
	'『': '』',
}

// normalizeJSONStructure 把字符串外的全角标点与中文引号替换为 JSON 符号
func normalizeJSONStructure(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))
	inString := false
	escaped := false
	closing := '"'

	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == closing || r == '"':
				inString = false
				closing = '"'
				builder.WriteRune('"')
				continue
			}
			builder.WriteRune(r)
			continue
		}

		if replacement, ok := structuralPunctuationMap[r]; ok {
			r = replacement
		} else if c, ok := quotePairs[r]; ok {
			inString = true
			closing = c
			builder.WriteRune('"')
			continue
		} else if r == '"' {
			inString = true
			closing = '"'
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

// CleanJSONString 去掉 markdown 代码块、零宽字符与控制字符
func CleanJSONString(s string) string {
	s = jsonNoiseReplacer.Replace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// balancedObjects 依次返回文本中所有括号平衡的 {...} 片段
func balancedObjects(s string) []string {
	var out []string
	for start := strings.IndexByte(s, '{'); start >= 0; {
		depth := 0
		inString := false
		escaped := false
		end := -1
		for i := start; i < len(s) && end < 0; i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					end = i
				}
			}
		}
		if end < 0 {
			break
		}
		out = append(out, s[start:end+1])
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start = start + 1 + next
	}
	return out
}

// ExtractJSONObject 从模型输出中提取第一个可以解析为 v 的 JSON 对象
func ExtractJSONObject(text string, v interface{}) error {
	cleaned := CleanJSONString(text)
	if cleaned == "" {
		return apperrors.NewUpstreamError("empty structured response", nil)
	}
	if json.Unmarshal([]byte(cleaned), v) == nil {
		return nil
	}

	normalized := normalizeJSONStructure(cleaned)
	for _, candidate := range balancedObjects(normalized) {
		if json.Unmarshal([]byte(candidate), v) == nil {
			return nil
		}
	}
	return apperrors.NewUpstreamError("no JSON object found in model output", nil)
}
