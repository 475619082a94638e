// internal/imagegen/gemini.go
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

func init() {
	Register("gemini", func() Generator {
		return &Gemini{baseURL: "https://generativelanguage.googleapis.com"}
	})
}

// Gemini generateContent 接口，图片以 inlineData 返回
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func (g *Gemini) Initialize(config map[string]string) error {
	apiKey, model, err := requireKey("gemini", config)
	if err != nil {
		return err
	}
	g.apiKey, g.model = apiKey, model
	if base := config["base_url"]; base != "" {
		g.baseURL = strings.TrimRight(base, "/")
	}
	g.client = &http.Client{Timeout: 10 * time.Minute}
	return nil
}

func (g *Gemini) GetName() string { return "gemini" }

type geminiInline struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inlineData,omitempty"`
}

// splitDataURL "data:image/png;base64,xxx" → (image/png, xxx)
func splitDataURL(s string) (string, string) {
	if !strings.HasPrefix(s, "data:") {
		return "image/png", s
	}
	head, payload, ok := strings.Cut(s, ",")
	if !ok {
		return "image/png", s
	}
	mime := strings.TrimSuffix(strings.TrimPrefix(head, "data:"), ";base64")
	return mime, payload
}

func (g *Gemini) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Prompt == "" {
		return nil, apperrors.NewValidationError("缺少提示词", nil)
	}

	prompt := req.Prompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + req.Prompt
	}

	parts := []geminiPart{{Text: prompt}}
	for _, img := range req.Images {
		mime, data := splitDataURL(img)
		parts = append(parts, geminiPart{InlineData: &geminiInline{MimeType: mime, Data: data}})
	}

	imageConfig := map[string]string{}
	if req.AspectRatio != "" {
		imageConfig["aspectRatio"] = req.AspectRatio
	}
	// flash-image 不接受 imageSize
	if req.Size != "" && g.model != "gemini-2.5-flash-image" {
		imageConfig["imageSize"] = req.Size
	}

	body := map[string]interface{}{
		"contents": []map[string]interface{}{{"role": "user", "parts": parts}},
		"generationConfig": map[string]interface{}{
			"responseModalities": []string{"TEXT", "IMAGE"},
			"imageConfig":        imageConfig,
		},
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewUpstreamError("gemini request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, upstreamStatusError("gemini", resp)
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []geminiPart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.NewUpstreamError("gemini response decode failed", err)
	}

	// 多张图时取最后一张
	var result *Result
	for _, c := range out.Candidates {
		for _, p := range c.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				result = &Result{Base64: "data:" + p.InlineData.MimeType + ";base64," + p.InlineData.Data}
			}
		}
	}
	if result == nil {
		return nil, apperrors.NewUpstreamError("图片生成失败: gemini 未返回图片", nil)
	}
	return result, nil
}
