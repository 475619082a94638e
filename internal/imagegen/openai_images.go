// internal/imagegen/openai_images.go
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

func init() {
	for _, name := range []string{"openai", "other"} {
		name := name
		Register(name, func() Generator {
			return &OpenAIImages{vendor: name, baseURL: "https://api.openai.com/v1"}
		})
	}
}

// OpenAIImages 兼容 OpenAI images/generations 的网关
type OpenAIImages struct {
	vendor  string
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func (o *OpenAIImages) Initialize(config map[string]string) error {
	apiKey, model, err := requireKey(o.vendor, config)
	if err != nil {
		return err
	}
	o.apiKey, o.model = apiKey, model
	if base := config["base_url"]; base != "" {
		o.baseURL = strings.TrimRight(base, "/")
	}
	o.client = &http.Client{Timeout: 10 * time.Minute}
	return nil
}

func (o *OpenAIImages) GetName() string { return o.vendor }

func (o *OpenAIImages) Generate(ctx context.Context, req Request) (*Result, error) {
	prompt := req.Prompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + req.Prompt
	}

	body := map[string]interface{}{
		"model":           o.model,
		"prompt":          prompt,
		"n":               1,
		"response_format": "b64_json",
	}
	if req.AspectRatio != "" {
		body["aspect_ratio"] = req.AspectRatio
	}
	if req.Size != "" {
		body["resolution"] = req.Size
	}
	if len(req.Images) > 0 {
		body["image"] = req.Images
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/images/generations", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewUpstreamError(o.vendor+" request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, upstreamStatusError(o.vendor, resp)
	}

	var out struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
			URL     string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.NewUpstreamError(o.vendor+" response decode failed", err)
	}
	if len(out.Data) == 0 {
		return nil, apperrors.NewUpstreamError(o.vendor+" 未返回图片", nil)
	}
	if out.Data[0].B64JSON != "" {
		return &Result{Base64: out.Data[0].B64JSON}, nil
	}
	if out.Data[0].URL != "" {
		return &Result{URL: out.Data[0].URL}, nil
	}
	return nil, apperrors.NewUpstreamError(o.vendor+" 未返回图片", nil)
}
