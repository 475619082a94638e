// internal/storyboard/generator.go
package storyboard

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/imagegen"
	"github.com/Corphon/DramaForge/internal/media"
	"github.com/Corphon/DramaForge/internal/models"
	"github.com/Corphon/DramaForge/internal/utils"
)

// DefaultAspectRatio 项目未设置画幅时使用
const DefaultAspectRatio = "16:9"

// GenerateRequest 一个分镜的宫格图请求
type GenerateRequest struct {
	ProjectID int64
	ScriptID  int64
	Prompts   []string
}

// Generator 宫格图生成流水线
type Generator struct {
	Projects ProjectReader
	Scripts  ScriptReader
	Assets   AssetReader
	Blobs    BlobReader
	Images   ImageGenerator
	Composer *Composer
	Filter   *Filter
	Limits   media.Limits

	metrics *utils.PipelineMetrics
}

// NewGenerator 组装流水线
func NewGenerator(projects ProjectReader, scripts ScriptReader, assets AssetReader, blobs BlobReader,
	images ImageGenerator, composer *Composer, filter *Filter, limits media.Limits) *Generator {
	return &Generator{
		Projects: projects,
		Scripts:  scripts,
		Assets:   assets,
		Blobs:    blobs,
		Images:   images,
		Composer: composer,
		Filter:   filter,
		Limits:   limits,
		metrics:  utils.NewPipelineMetrics(),
	}
}

// ReferenceMap 参考图对照说明。第 10 张起为拼接图，记作 image10-k
func ReferenceMap(images []ReferenceImage) string {
	if len(images) == 0 {
		return ""
	}
	mapping := make([]string, len(images))
	for i, img := range images {
		if i < media.MaxReferenceImages-1 {
			mapping[i] = fmt.Sprintf("%s=image %d", img.Name, i+1)
		} else {
			mapping[i] = fmt.Sprintf("%s=image10-%d", img.Name, i-8)
		}
	}
	return "Reference mapping for characters, scenes, props: " + strings.Join(mapping, ", ") + "."
}

// resolve 剧本 → 大纲 → 资产目录；大纲缺失时目录为空
func (g *Generator) resolve(ctx context.Context, projectID, scriptID int64) (*models.Project, []Resource, error) {
	project, err := g.Projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	script, err := g.Scripts.GetScript(ctx, projectID, scriptID)
	if err != nil {
		return nil, nil, err
	}
	outline, err := g.Scripts.GetOutline(ctx, projectID, script.OutlineID)
	if apperrors.IsNotFoundError(err) {
		return project, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return project, Catalog(outline.Data), nil
}

func (g *Generator) loadReferences(ctx context.Context, refs []ReferenceImage) ([][]byte, error) {
	out := make([][]byte, len(refs))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(g.Limits.Concurrency, 1))
	for i := range refs {
		i := i
		eg.Go(func() error {
			data, err := g.Blobs.Read(egctx, refs[i].FilePath)
			if err != nil {
				return apperrors.WrapError(err, "read reference image "+refs[i].Name, apperrors.ErrorTypeResource)
			}
			out[i] = data
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Generate 生成一张宫格图，返回图片二进制
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) ([]byte, error) {
	start := time.Now()
	project, catalog, err := g.resolve(ctx, req.ProjectID, req.ScriptID)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(catalog))
	for i, r := range catalog {
		names[i] = r.Name
	}
	assets, err := g.Assets.ListWithImages(ctx, req.ProjectID, names)
	if err != nil {
		return nil, err
	}
	available := make([]ReferenceImage, 0, len(assets))
	for _, a := range assets {
		available = append(available, ReferenceImage{Name: a.Name, Type: a.Type, FilePath: a.FilePath})
	}
	if len(available) == 0 {
		return nil, apperrors.NewResourceError("no usable reference images", nil)
	}

	selected := g.Filter.Select(ctx, req.Prompts, catalog, available)

	aspect := project.VideoRatio
	if aspect == "" {
		aspect = DefaultAspectRatio
	}
	composed, err := g.Composer.Compose(ctx, GridPromptOptions{
		Prompts:     req.Prompts,
		Style:       fmt.Sprintf("type: %s, style: %s", project.Type, project.ArtStyle),
		AspectRatio: aspect,
		Assets:      catalog,
	})
	if err != nil {
		return nil, err
	}

	raw, err := g.loadReferences(ctx, selected)
	if err != nil {
		return nil, err
	}
	normalized, err := media.NormalizeBatch(ctx, raw, g.Limits)
	if err != nil {
		return nil, apperrors.WrapError(err, "normalize reference images", apperrors.ErrorTypeResource)
	}

	encoded := make([]string, len(normalized))
	for i, buf := range normalized {
		encoded[i] = base64.StdEncoding.EncodeToString(buf)
	}

	image, err := g.Images.Generate(ctx, imagegen.Request{
		SystemPrompt: ReferenceMap(selected),
		Prompt:       composed.Prompt,
		Images:       encoded,
		Size:         "4K",
		AspectRatio:  aspect,
	})
	if err != nil {
		g.metrics.RecordError("image", "storyboard")
		return nil, err
	}

	utils.GetLogger().Info("grid image generated", map[string]interface{}{
		"project_id": req.ProjectID,
		"script_id":  req.ScriptID,
		"cells":      composed.Layout.TotalCells,
		"references": len(selected),
		"duration":   time.Since(start).String(),
	})
	return image, nil
}
