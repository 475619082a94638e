// internal/storyboard/composer.go
package storyboard

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/grid"
	"github.com/Corphon/DramaForge/internal/storage"
	"github.com/Corphon/DramaForge/internal/utils"
)

// FillerCell 空余格子的内容
const FillerCell = "solid black frame"

var aspectRatioDescriptions = map[string]string{
	"16:9": "cinematic widescreen",
	"9:16": "vertical short drama",
	"21:9": "ultra-wide epic",
	"1:1":  "square composition",
	"4:3":  "classic screen",
	"3:4":  "vertical classic",
	"3:2":  "photography standard",
	"2:3":  "vertical photography",
}

// AspectRatioDescription 画幅描述，未知比例为 standard ratio
func AspectRatioDescription(ratio string) string {
	if d, ok := aspectRatioDescriptions[ratio]; ok {
		return d
	}
	return "standard ratio"
}

// GridPromptOptions 合成参数
type GridPromptOptions struct {
	Prompts     []string
	Style       string
	AspectRatio string
	Assets      []Resource
}

// GridPromptResult 合成结果
type GridPromptResult struct {
	Prompt string      `json:"prompt"`
	Layout grid.Layout `json:"layout"`
}

// Composer 把若干格提示词合成为一条宫格出图提示词
type Composer struct {
	text    TextCompleter
	prompts PromptResolver
}

func NewComposer(text TextCompleter, prompts PromptResolver) *Composer {
	return &Composer{text: text, prompts: prompts}
}

// CellLines 每格一行 "[row R, col C]: ..."，不足的格子用黑帧填充
func CellLines(prompts []string, layout grid.Layout) []string {
	lines := make([]string, 0, layout.TotalCells)
	for i := 0; i < layout.TotalCells; i++ {
		row, col := layout.Position(i)
		content := FillerCell
		if i < len(prompts) {
			content = prompts[i]
		}
		lines = append(lines, fmt.Sprintf("[row %d, col %d]: %s", row+1, col+1, content))
	}
	return lines
}

// FallbackPrompt 没有系统提示词或模型无输出时使用
func FallbackPrompt(prompts []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "please output %d images\nprompts:", len(prompts))
	for i, p := range prompts {
		fmt.Fprintf(&sb, "\npanel %d: %s", i+1, p)
	}
	return sb.String()
}

func assetsSection(assets []Resource) string {
	if len(assets) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n[Available assets]\n")
	for _, a := range assets {
		fmt.Fprintf(&sb, "- %s: %s\n", a.Name, a.Description)
	}
	sb.WriteString("\nAlways use the full asset name. Never abbreviate it or replace it with a pronoun.")
	return sb.String()
}

// UserMessage 交给文本模型润色的内容
func UserMessage(opts GridPromptOptions, layout grid.Layout) string {
	return fmt.Sprintf("Refine the following storyboard prompts:\n\n[Layout] %d cols x %d rows = %d cells\n[Aspect ratio] %s (%s)\n[Style] %s\n%s\n\n[Original content]\n%s",
		layout.Cols, layout.Rows, layout.TotalCells,
		opts.AspectRatio, AspectRatioDescription(opts.AspectRatio),
		opts.Style,
		assetsSection(opts.Assets),
		strings.Join(CellLines(opts.Prompts, layout), "\n"))
}

// Compose 计算布局并请求文本模型合成提示词
func (c *Composer) Compose(ctx context.Context, opts GridPromptOptions) (*GridPromptResult, error) {
	layout := grid.CalculateLayout(len(opts.Prompts))
	fallback := &GridPromptResult{Prompt: FallbackPrompt(opts.Prompts), Layout: layout}

	system, err := c.prompts.Resolve(ctx, storage.PromptGridImage)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(system) == "" {
		utils.GetLogger().Warn("grid prompt template missing, using fallback", map[string]interface{}{
			"code": storage.PromptGridImage,
		})
		return fallback, nil
	}

	text, err := c.text.Complete(ctx, system, UserMessage(opts, layout))
	if err != nil {
		return nil, apperrors.WrapError(err, "compose grid prompt", apperrors.ErrorTypeUpstream)
	}
	if strings.TrimSpace(text) == "" {
		return fallback, nil
	}
	return &GridPromptResult{Prompt: text, Layout: layout}, nil
}
