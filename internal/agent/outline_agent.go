// internal/agent/outline_agent.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/models"
	"github.com/Corphon/DramaForge/internal/services"
	"github.com/Corphon/DramaForge/internal/storage"
)

// 历史持久化使用的类型
const (
	KindOutline    = "outlineAgent"
	KindStoryboard = "storyboardAgent"
)

// OutlineDeps 大纲编排器依赖
type OutlineDeps struct {
	Projects *storage.ProjectStore
	Outlines *storage.OutlineStore
	Assets   *services.AssetService
	Prompts  PromptResolver
}

// OutlineAgent 小说 → 故事线 → 分集大纲 → 资产
type OutlineAgent struct {
	*core
	deps OutlineDeps

	novelMu  sync.RWMutex
	chapters []models.Chapter
}

// NewOutlineAgent 每个连接一个实例
func NewOutlineAgent(projectID int64, chat ChatStreamer, deps OutlineDeps) *OutlineAgent {
	a := &OutlineAgent{
		core: newCore(KindOutline, projectID, chat, deps.Prompts),
		deps: deps,
	}
	a.env = a.environment
	return a
}

// SetNovel 设置已加载的章节列表
func (a *OutlineAgent) SetNovel(chapters []models.Chapter) {
	a.novelMu.Lock()
	defer a.novelMu.Unlock()
	a.chapters = append([]models.Chapter(nil), chapters...)
}

func (a *OutlineAgent) refresh(kind string) {
	a.events.Emit(EventRefresh, kind)
}

func (a *OutlineAgent) novelInfo(ctx context.Context) string {
	p, err := a.deps.Projects.GetProject(ctx, a.projectID)
	if err != nil {
		return "project information not found"
	}
	return strings.Join([]string{
		"novel name: " + p.Name,
		"novel intro: " + p.Intro,
		"novel type: " + p.Type,
		"target drama style: " + p.ArtStyle,
		"video ratio: " + p.VideoRatio,
	}, "\n")
}

func (a *OutlineAgent) chapterContext() string {
	a.novelMu.RLock()
	defer a.novelMu.RUnlock()
	if len(a.chapters) == 0 {
		return "no chapter data"
	}
	lines := make([]string, len(a.chapters))
	for i, c := range a.chapters {
		lines[i] = fmt.Sprintf("chapter:%d, reel:%s, name:%s", c.ChapterIndex, c.Reel, c.Chapter)
	}
	return strings.Join(lines, "\n")
}

func (a *OutlineAgent) environment(ctx context.Context) (string, error) {
	storylineState := "generated"
	if _, err := a.deps.Projects.GetStoryline(ctx, a.projectID); err != nil {
		if !apperrors.IsNotFoundError(err) {
			return "", err
		}
		storylineState = "not generated"
	}
	count, err := a.deps.Outlines.CountOutlines(ctx, a.projectID)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`<environment>
project ID: %d
system time: %s

%s

loaded chapters:
%s

storyline status: %s
outline status: %d episodes

available tools:
- getChapter: read chapter text
- getStoryline/saveStoryline/deleteStoryline: storyline operations
- getOutline/saveOutline/updateOutline/deleteOutline: outline operations
- generateAssets: generate assets from outlines
</environment>`, a.projectID, systemTime(), a.novelInfo(ctx), a.chapterContext(), storylineState, count), nil
}

func (a *OutlineAgent) subAgentTools() Toolset {
	return Toolset{
		a.getChapterTool(),
		a.getStorylineTool(),
		a.saveStorylineTool(),
		a.getOutlineTool(),
		a.saveOutlineTool(),
		a.updateOutlineTool(),
	}
}

// Tools 主代理工具：三个子代理加全部数据工具
func (a *OutlineAgent) Tools() Toolset {
	return Toolset{
		a.subAgent("AI1", "Call the story writer. It analyzes the novel text, writes the storyline and saves it with saveStoryline.",
			storage.PromptOutlineA1, a.subAgentTools),
		a.subAgent("AI2", "Call the outline writer. It writes episode outlines from the storyline and saves them with saveOutline.",
			storage.PromptOutlineA2, a.subAgentTools),
		a.subAgent("director", "Call the director. It reviews the storyline and outlines and fixes them with updateOutline or saveStoryline.",
			storage.PromptOutlineDirector, a.subAgentTools),
		a.getChapterTool(),
		a.getStorylineTool(),
		a.saveStorylineTool(),
		a.deleteStorylineTool(),
		a.getOutlineTool(),
		a.saveOutlineTool(),
		a.updateOutlineTool(),
		a.deleteOutlineTool(),
		a.generateAssetsTool(),
	}
}

// Call 处理一条用户消息
func (a *OutlineAgent) Call(ctx context.Context, msg string) (string, error) {
	return a.call(ctx, msg, storage.PromptOutlineMain, a.Tools())
}
