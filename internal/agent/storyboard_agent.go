// internal/agent/storyboard_agent.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/grid"
	"github.com/Corphon/DramaForge/internal/models"
	"github.com/Corphon/DramaForge/internal/services"
	"github.com/Corphon/DramaForge/internal/storage"
	"github.com/Corphon/DramaForge/internal/storyboard"
	"github.com/Corphon/DramaForge/internal/utils"
)

const (
	defaultGenerationTimeout = 10 * time.Minute
	defaultShotConcurrency   = 3
)

// GridGenerator 一个分镜的宫格图
type GridGenerator interface {
	Generate(ctx context.Context, req storyboard.GenerateRequest) ([]byte, error)
}

// BlobWriter 保存切分后的镜头图
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte) error
	PublicURL(key string) string
}

// StoryboardDeps 分镜编排器依赖
type StoryboardDeps struct {
	Projects  *storage.ProjectStore
	Outlines  *storage.OutlineStore
	Prompts   PromptResolver
	Generator GridGenerator
	Blobs     BlobWriter

	// Split 默认 grid.Split
	Split func(buf []byte, count int) ([][]byte, error)
	// GenerationTimeout 单批后台生成的超时，默认 10 分钟
	GenerationTimeout time.Duration
	// Concurrency 单批内并发生成的分镜数
	Concurrency int
}

// StoryboardAgent 剧本 → 片段 → 分镜 → 分镜图。状态只存在于实例内
type StoryboardAgent struct {
	*core
	deps     StoryboardDeps
	scriptID int64

	mu       sync.Mutex
	segments []models.Segment
	shots    []models.Shot
	nextShot int

	generating *services.ProgressService
	background sync.WaitGroup
	metrics    *utils.PipelineMetrics
}

// NewStoryboardAgent 每个连接一个实例
func NewStoryboardAgent(projectID, scriptID int64, chat ChatStreamer, deps StoryboardDeps) *StoryboardAgent {
	if deps.Split == nil {
		deps.Split = grid.Split
	}
	if deps.GenerationTimeout <= 0 {
		deps.GenerationTimeout = defaultGenerationTimeout
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = defaultShotConcurrency
	}
	a := &StoryboardAgent{
		core:       newCore(KindStoryboard, projectID, chat, deps.Prompts),
		deps:       deps,
		scriptID:   scriptID,
		generating: services.NewProgressService(),
		metrics:    utils.NewPipelineMetrics(),
	}
	a.env = a.environment
	return a
}

// ScriptID 当前剧本
func (a *StoryboardAgent) ScriptID() int64 {
	return a.scriptID
}

// Segments 片段副本
func (a *StoryboardAgent) Segments() []models.Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Segment(nil), a.segments...)
}

// Shots 分镜深拷贝
func (a *StoryboardAgent) Shots() []models.Shot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shotsLocked()
}

func (a *StoryboardAgent) shotsLocked() []models.Shot {
	out := make([]models.Shot, len(a.shots))
	for i := range a.shots {
		out[i] = a.shots[i].Clone()
	}
	return out
}

func (a *StoryboardAgent) findShotLocked(id int) int {
	for i := range a.shots {
		if a.shots[i].ID == id {
			return i
		}
	}
	return -1
}

// Generating 正在生成的分镜 ID
func (a *StoryboardAgent) Generating() []string {
	return a.generating.Running()
}

// Wait 等待后台生成结束，测试和优雅退出使用
func (a *StoryboardAgent) Wait() {
	a.background.Wait()
}

// ReplaceCell 前端替换某个镜头；cell 中非空字段覆盖原值，id 不变
func (a *StoryboardAgent) ReplaceCell(segmentID int, cellID string, cell models.Cell) error {
	a.mu.Lock()
	shotIdx := -1
	for i := range a.shots {
		if a.shots[i].SegmentID == segmentID {
			shotIdx = i
			break
		}
	}
	if shotIdx < 0 {
		a.mu.Unlock()
		return apperrors.NewNotFoundError(fmt.Sprintf("no shot for segment %d", segmentID), nil)
	}
	shot := &a.shots[shotIdx]
	cellIdx := -1
	for i := range shot.Cells {
		if shot.Cells[i].ID == cellID {
			cellIdx = i
			break
		}
	}
	if cellIdx < 0 {
		a.mu.Unlock()
		return apperrors.NewNotFoundError(fmt.Sprintf("cell %s not found", cellID), nil)
	}
	if cell.Prompt != "" {
		shot.Cells[cellIdx].Prompt = cell.Prompt
	}
	if cell.Src != "" {
		shot.Cells[cellIdx].Src = cell.Src
	}
	shots := a.shotsLocked()
	a.mu.Unlock()

	a.events.Emit(EventShotsUpdated, shots)
	return nil
}

// outlineOfScript 剧本对应的大纲；剧本或大纲缺失时返回 nil
func (a *StoryboardAgent) outlineOfScript(ctx context.Context) (*models.Script, *models.Outline, error) {
	script, err := a.deps.Outlines.GetScript(ctx, a.projectID, a.scriptID)
	if apperrors.IsNotFoundError(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	outline, err := a.deps.Outlines.GetOutline(ctx, a.projectID, script.OutlineID)
	if apperrors.IsNotFoundError(err) {
		return script, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return script, outline, nil
}

func itemNames(items []models.AssetItem) []string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}
	return names
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "unknown"
	}
	return v
}

func (a *StoryboardAgent) environment(ctx context.Context) (string, error) {
	project, err := a.deps.Projects.GetProject(ctx, a.projectID)
	if err != nil && !apperrors.IsNotFoundError(err) {
		return "", err
	}
	if project == nil {
		project = &models.Project{}
	}
	_, outline, err := a.outlineOfScript(ctx)
	if err != nil {
		return "", err
	}

	var lines []string
	if outline != nil {
		if names := itemNames(outline.Data.Characters); len(names) > 0 {
			lines = append(lines, "[characters] "+strings.Join(names, ", "))
		}
		if names := itemNames(outline.Data.Props); len(names) > 0 {
			lines = append(lines, "[props] "+strings.Join(names, ", "))
		}
		if names := itemNames(outline.Data.Scenes); len(names) > 0 {
			lines = append(lines, "[scenes] "+strings.Join(names, ", "))
		}
	}
	assetList := "none"
	if len(lines) > 0 {
		assetList = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(`<environment>
project ID: %d
system time: %s

project name: %s
project intro: %s
type: %s
style: %s
video ratio: %s

asset list:
%s
</environment>`, a.projectID, systemTime(), orUnknown(project.Name), orUnknown(project.Intro),
		orUnknown(project.Type), orUnknown(project.ArtStyle), orUnknown(project.VideoRatio), assetList), nil
}

func (a *StoryboardAgent) segmentTools() Toolset {
	return Toolset{
		a.getScriptTool(),
		a.getAssetsTool(),
		a.updateSegmentsTool(),
	}
}

func (a *StoryboardAgent) shotTools() Toolset {
	return Toolset{
		a.getScriptTool(),
		a.getAssetsTool(),
		a.getSegmentsTool(),
		a.addShotsTool(),
		a.updateShotsTool(),
		a.deleteShotsTool(),
		a.generateShotImageTool(),
	}
}

// Tools 主代理工具
func (a *StoryboardAgent) Tools() Toolset {
	return Merge(
		Toolset{
			a.subAgent("segmentAgent", "Call the segment writer. It reads the script and splits it into segments, saving them with updateSegments.",
				storage.PromptSegment, a.segmentTools),
			a.subAgent("shotAgent", "Call the shot designer. It turns segments into shots with per-cell prompts and can generate shot images.",
				storage.PromptShot, a.shotTools),
		},
		a.segmentTools(),
		a.shotTools(),
	)
}

// Call 处理一条用户消息
func (a *StoryboardAgent) Call(ctx context.Context, msg string) (string, error) {
	return a.call(ctx, msg, storage.PromptStoryboardMain, a.Tools())
}
