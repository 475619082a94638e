// internal/imagegen/volcengine.go
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

const volcengineDefaultURL = "https://ark.cn-beijing.volces.com/api/v3/images/generations"

var bearerPrefix = regexp.MustCompile(`Bearer\s+`)

func init() {
	Register("volcengine", func() Generator {
		return &Volcengine{url: volcengineDefaultURL}
	})
}

// Volcengine 火山方舟 images/generations，返回图片 URL
type Volcengine struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

func (v *Volcengine) Initialize(config map[string]string) error {
	apiKey, model, err := requireKey("volcengine", config)
	if err != nil {
		return err
	}
	v.apiKey = strings.TrimSpace(bearerPrefix.ReplaceAllString(apiKey, ""))
	v.model = model
	if base := config["base_url"]; base != "" {
		v.url = base
	}
	v.client = &http.Client{Timeout: 10 * time.Minute}
	return nil
}

func (v *Volcengine) GetName() string { return "volcengine" }

func (v *Volcengine) Generate(ctx context.Context, req Request) (*Result, error) {
	size := req.Size
	// 最小只支持 2K
	if size == "1K" {
		size = "2K"
	}

	body := map[string]interface{}{
		"model":                       v.model,
		"prompt":                      req.Prompt,
		"size":                        size,
		"response_format":             "url",
		"sequential_image_generation": "disabled",
		"stream":                      false,
		"watermark":                   false,
	}
	if len(req.Images) > 0 {
		body["image"] = req.Images
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewUpstreamError("volcengine request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, upstreamStatusError("volcengine", resp)
	}

	var out struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.NewUpstreamError("volcengine response decode failed", err)
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return nil, apperrors.NewUpstreamError("Volcengine 图片生成失败: 响应中没有图片", nil)
	}
	return &Result{URL: out.Data[0].URL}, nil
}
