// internal/storyboard/deps.go
// Package storyboard 宫格分镜图生成：资产筛选、宫格提示词合成、参考图整理与出图。
package storyboard

import (
	"context"

	"github.com/Corphon/DramaForge/internal/imagegen"
	"github.com/Corphon/DramaForge/internal/models"
)

// TextCompleter 单轮文本生成
type TextCompleter interface {
	Complete(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// StructuredCompleter 结构化输出
type StructuredCompleter interface {
	CreateStructuredCompletion(ctx context.Context, prompt string, systemPrompt string, outputSchema interface{}) error
}

// PromptResolver 按 code 取提示词，自定义值优先
type PromptResolver interface {
	Resolve(ctx context.Context, code string) (string, error)
}

// ImageGenerator 出图并返回图片二进制
type ImageGenerator interface {
	Generate(ctx context.Context, req imagegen.Request) ([]byte, error)
}

// ProjectReader 项目信息
type ProjectReader interface {
	GetProject(ctx context.Context, id int64) (*models.Project, error)
}

// ScriptReader 剧本与其所属大纲
type ScriptReader interface {
	GetScript(ctx context.Context, projectID, id int64) (*models.Script, error)
	GetOutline(ctx context.Context, projectID, id int64) (*models.Outline, error)
}

// AssetReader 已有参考图的资产
type AssetReader interface {
	ListWithImages(ctx context.Context, projectID int64, names []string) ([]models.Asset, error)
}

// BlobReader 读取参考图
type BlobReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// Resource 大纲中的资产条目
type Resource struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ReferenceImage 已有图片的资产
type ReferenceImage struct {
	Name     string
	Type     string
	FilePath string
}

// Catalog 大纲资产目录，顺序为角色、道具、场景
func Catalog(ep models.Episode) []Resource {
	var out []Resource
	add := func(kind string, items []models.AssetItem) {
		for _, it := range items {
			out = append(out, Resource{Type: kind, Name: it.Name, Description: it.Description})
		}
	}
	add(models.AssetRole, ep.Characters)
	add(models.AssetProps, ep.Props)
	add(models.AssetScene, ep.Scenes)
	return out
}
