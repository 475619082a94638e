// internal/agent/shot_images.go
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/models"
	"github.com/Corphon/DramaForge/internal/services"
	"github.com/Corphon/DramaForge/internal/storyboard"
	"github.com/Corphon/DramaForge/internal/utils"
)

// 进度阶段
const (
	StageGenerating = "generating"
	StageSplitting  = "splitting"
	StageSaving     = "saving"
)

type ShotImageStartPayload struct {
	ShotIDs []int `json:"shotIds"`
}

type ShotImageProgressPayload struct {
	ShotID   int    `json:"shotId"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Progress int    `json:"progress,omitempty"`
}

type ShotImageCompletePayload struct {
	ShotID     int         `json:"shotId"`
	Shot       models.Shot `json:"shot"`
	ImagePaths []string    `json:"imagePaths"`
}

type ShotImageErrorPayload struct {
	ShotID int    `json:"shotId"`
	Error  string `json:"error"`
}

func shotTaskID(id int) string {
	return strconv.Itoa(id)
}

// ShotImageKey 镜头图的存储路径
func ShotImageKey(projectID, scriptID int64, shotID, take int, ts int64) string {
	return fmt.Sprintf("%d/chat/%d/storyboard/shot_%d_take_%d_%d.png", projectID, scriptID, shotID, take, ts)
}

func (a *StoryboardAgent) generateShotImageTool() Tool {
	return Tool{
		Name: "generateShotImage",
		Description: "Generate images for whole shots. Each shot is rendered as one grid image from all its prompts " +
			"and then split into per-cell images. Runs in the background",
		Parameters: object(map[string]interface{}{
			"shotIds": arrayOf(integer("Shot id"), "Shot ids to render"),
		}, "shotIds"),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				ShotIDs []int `json:"shotIds"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}
			return a.StartShotImages(ctx, in.ShotIDs), nil
		},
	}
}

// StartShotImages 标记并在后台生成，立即返回说明文本
func (a *StoryboardAgent) StartShotImages(ctx context.Context, ids []int) string {
	var toGenerate, already, notFound []int
	trackers := make(map[int]*services.ProgressTracker)

	a.mu.Lock()
	for _, id := range ids {
		if a.findShotLocked(id) < 0 {
			notFound = append(notFound, id)
			continue
		}
		// 同一分镜同时只生成一次
		tracker, ok := a.generating.TryStart(shotTaskID(id))
		if !ok {
			already = append(already, id)
			continue
		}
		trackers[id] = tracker
		toGenerate = append(toGenerate, id)
	}
	a.mu.Unlock()

	if len(toGenerate) == 0 {
		switch {
		case len(notFound) > 0:
			return fmt.Sprintf("shots %s do not exist, check the shot ids", joinInts(notFound))
		case len(already) > 0:
			return fmt.Sprintf("shots %s are already generating, please wait", joinInts(already))
		default:
			return "no shots to generate"
		}
	}

	a.events.Emit(EventShotImageStart, ShotImageStartPayload{ShotIDs: toGenerate})
	utils.GetLogger().Info("shot image generation started", map[string]interface{}{
		"project_id": a.projectID,
		"script_id":  a.scriptID,
		"shots":      toGenerate,
	})

	// 连接关闭后后台任务继续执行
	bg := context.WithoutCancel(ctx)
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		runCtx, cancel := context.WithTimeout(bg, a.deps.GenerationTimeout)
		defer cancel()

		g := new(errgroup.Group)
		g.SetLimit(a.deps.Concurrency)
		for _, id := range toGenerate {
			tracker := trackers[id]
			g.Go(func() error {
				a.renderShot(runCtx, id, tracker)
				return nil
			})
		}
		g.Wait()
	}()

	reply := fmt.Sprintf("started generating images for shots %s in the background", joinInts(toGenerate))
	if len(already) > 0 {
		reply += fmt.Sprintf("; shots %s are already generating", joinInts(already))
	}
	if len(notFound) > 0 {
		reply += fmt.Sprintf("; shots %s do not exist", joinInts(notFound))
	}
	return reply
}

func (a *StoryboardAgent) progress(tracker *services.ProgressTracker, shotID int, stage string, pct int, msg string) {
	tracker.UpdateProgress(stage, pct, msg)
	a.events.Emit(EventShotImageProgress, ShotImageProgressPayload{ShotID: shotID, Status: stage, Message: msg, Progress: pct})
}

// renderShot 单个分镜：生成宫格图 → 切分 → 保存 → 回写 src。失败只影响本分镜
func (a *StoryboardAgent) renderShot(ctx context.Context, shotID int, tracker *services.ProgressTracker) {
	a.metrics.ShotGenerationStarted()
	// panic 只让本分镜失败，不影响同批其他分镜和进程
	defer func() {
		if r := recover(); r != nil {
			a.failShot(shotID, tracker, fmt.Errorf("shot %d generation panicked: %v", shotID, r))
		}
	}()

	paths, shot, err := a.renderShotImages(ctx, shotID, tracker)
	if err != nil {
		a.failShot(shotID, tracker, err)
		return
	}

	a.metrics.ShotGenerationFinished(true)
	tracker.Complete(fmt.Sprintf("saved %d images", len(paths)))
	utils.GetLogger().Info("shot image generation finished", map[string]interface{}{
		"project_id": a.projectID,
		"shot_id":    shotID,
		"images":     len(paths),
		"duration":   tracker.Elapsed().Milliseconds(),
	})
	a.events.Emit(EventShotImageComplete, ShotImageCompletePayload{ShotID: shotID, Shot: shot, ImagePaths: paths})
	a.events.Emit(EventShotsUpdated, a.Shots())
}

func (a *StoryboardAgent) failShot(shotID int, tracker *services.ProgressTracker, err error) {
	a.metrics.ShotGenerationFinished(false)
	tracker.Fail(err.Error())
	utils.GetLogger().Error("shot image generation failed", map[string]interface{}{
		"project_id": a.projectID,
		"shot_id":    shotID,
		"error":      err.Error(),
	})
	a.events.Emit(EventShotImageError, ShotImageErrorPayload{ShotID: shotID, Error: err.Error()})
}

func (a *StoryboardAgent) renderShotImages(ctx context.Context, shotID int, tracker *services.ProgressTracker) ([]string, models.Shot, error) {
	a.mu.Lock()
	idx := a.findShotLocked(shotID)
	if idx < 0 {
		a.mu.Unlock()
		return nil, models.Shot{}, apperrors.NewNotFoundError(fmt.Sprintf("shot %d not found", shotID), nil)
	}
	prompts := a.shots[idx].Prompts()
	a.mu.Unlock()

	if len(prompts) == 0 {
		return nil, models.Shot{}, apperrors.NewValidationError(fmt.Sprintf("shot %d has no prompts", shotID), nil)
	}

	a.progress(tracker, shotID, StageGenerating, 10, "generating the grid image")
	buf, err := a.deps.Generator.Generate(ctx, storyboard.GenerateRequest{
		ProjectID: a.projectID,
		ScriptID:  a.scriptID,
		Prompts:   prompts,
	})
	if err != nil {
		return nil, models.Shot{}, err
	}

	a.progress(tracker, shotID, StageSplitting, 40, "splitting the grid image into cells")
	cells, err := a.deps.Split(buf, len(prompts))
	if err != nil {
		return nil, models.Shot{}, err
	}

	ts := time.Now().UnixMilli()
	paths := make([]string, 0, len(cells))
	for i, cell := range cells {
		key := ShotImageKey(a.projectID, a.scriptID, shotID, i, ts)
		if err := a.deps.Blobs.Write(ctx, key, cell); err != nil {
			return nil, models.Shot{}, err
		}
		paths = append(paths, a.deps.Blobs.PublicURL(key))
		pct := 50 + 50*(i+1)/len(cells)
		a.progress(tracker, shotID, StageSaving, pct, fmt.Sprintf("saved %d/%d", i+1, len(cells)))
	}

	// 图片按有提示词的格子依次回写
	a.mu.Lock()
	defer a.mu.Unlock()
	idx = a.findShotLocked(shotID)
	if idx < 0 {
		return nil, models.Shot{}, apperrors.NewNotFoundError(fmt.Sprintf("shot %d was deleted during generation", shotID), nil)
	}
	shot := &a.shots[idx]
	k := 0
	for i := range shot.Cells {
		if shot.Cells[i].Prompt == "" {
			continue
		}
		if k >= len(paths) {
			break
		}
		shot.Cells[i].Src = paths[k]
		k++
	}
	return paths, shot.Clone(), nil
}
