// internal/agent/storyboard_tools.go
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/models"
)

const assetRules = `Rules:
1. Use the asset names above exactly as written. No synonyms, abbreviations or variants.
2. Do not add modifiers before or after an asset name.
3. Do not invent characters, scenes or props that are not in the list.`

func newCellID() string {
	return uuid.NewString()
}

func (a *StoryboardAgent) getScriptTool() Tool {
	return Tool{
		Name:        "getScript",
		Description: "Read the script content of the current episode",
		Parameters:  object(nil),
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			script, err := a.deps.Outlines.GetScript(ctx, a.projectID, a.scriptID)
			if apperrors.IsNotFoundError(err) {
				return "script not found", nil
			}
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(script.Content) == "" {
				return fmt.Sprintf("Script: %s\n\nthe script has no content yet", script.Name), nil
			}
			return fmt.Sprintf("Script: %s\n\ncontent:\n```\n%s\n```", script.Name, script.Content), nil
		},
	}
}

func assetSection(title string, items []models.AssetItem) string {
	if len(items) == 0 {
		return ""
	}
	lines := make([]string, len(items))
	for i, it := range items {
		if it.Description != "" {
			lines[i] = "- " + it.Name + ": " + it.Description
		} else {
			lines[i] = "- " + it.Name
		}
	}
	return "[" + title + "]\n" + strings.Join(lines, "\n")
}

func (a *StoryboardAgent) getAssetsTool() Tool {
	return Tool{
		Name:        "getAssets",
		Description: "Read the characters, props and scenes available to this episode",
		Parameters:  object(nil),
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			_, outline, err := a.outlineOfScript(ctx)
			if err != nil {
				return "", err
			}
			if outline == nil {
				return "no asset data", nil
			}
			var sections []string
			for _, s := range []string{
				assetSection("characters", outline.Data.Characters),
				assetSection("props", outline.Data.Props),
				assetSection("scenes", outline.Data.Scenes),
			} {
				if s != "" {
					sections = append(sections, s)
				}
			}
			if len(sections) == 0 {
				return "no asset data", nil
			}
			return "<asset list>\n" + strings.Join(sections, "\n\n") + "\n</asset list>\n\n" + assetRules, nil
		},
	}
}

func (a *StoryboardAgent) getSegmentsTool() Tool {
	return Tool{
		Name:        "getSegments",
		Description: "Read the stored segments, used to design shots",
		Parameters:  object(nil),
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			segments := a.Segments()
			if len(segments) == 0 {
				return "no segments yet, call segmentAgent first", nil
			}
			data, err := json.MarshalIndent(segments, "", "  ")
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}
}

func (a *StoryboardAgent) updateSegmentsTool() Tool {
	return Tool{
		Name:        "updateSegments",
		Description: "Store the generated segments. segmentAgent must call this after producing segments",
		Parameters: object(map[string]interface{}{
			"segments": arrayOf(object(map[string]interface{}{
				"index":       integer("Segment number, starting at 1"),
				"description": str("Segment description"),
				"emotion":     str("Mood"),
				"action":      str("Main action"),
			}, "index", "description"), "Segments"),
		}, "segments"),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Segments []models.Segment `json:"segments"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}
			a.mu.Lock()
			a.segments = append([]models.Segment(nil), in.Segments...)
			segments := append([]models.Segment(nil), a.segments...)
			a.mu.Unlock()

			a.events.Emit(EventSegmentsUpdated, segments)
			return fmt.Sprintf("stored %d segments", len(segments)), nil
		},
	}
}

type shotInput struct {
	SegmentIndex int               `json:"segmentIndex"`
	Prompts      []string          `json:"prompts"`
	AssetsTags   []models.AssetTag `json:"assetsTags"`
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}

func (a *StoryboardAgent) addShotsTool() Tool {
	return Tool{
		Name:        "addShots",
		Description: "Add shots. Each shot has its own id and one cell per prompt. Segments that already have a shot are skipped",
		Parameters: object(map[string]interface{}{
			"shots": arrayOf(object(map[string]interface{}{
				"segmentIndex": integer("Segment number"),
				"prompts":      arrayOf(str("Cell prompt"), "One prompt per cell"),
				"assetsTags": arrayOf(object(map[string]interface{}{
					"type": enum("Asset type", models.AssetRole, models.AssetProps, models.AssetScene),
					"text": str("Asset name"),
				}, "type", "text"), "Assets used by this shot"),
			}, "segmentIndex", "prompts"), "Shots to add"),
		}, "shots"),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Shots []shotInput `json:"shots"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}

			a.mu.Lock()
			var added []string
			var skippedSegments []int
			for _, item := range in.Shots {
				segmentID := item.SegmentIndex - 1
				exists := false
				for i := range a.shots {
					if a.shots[i].SegmentID == segmentID {
						exists = true
						break
					}
				}
				if exists {
					skippedSegments = append(skippedSegments, segmentID)
					continue
				}

				a.nextShot++
				cells := make([]models.Cell, len(item.Prompts))
				for i, p := range item.Prompts {
					cells[i] = models.Cell{ID: newCellID(), Prompt: p}
				}
				fragment := ""
				if segmentID >= 0 && segmentID < len(a.segments) {
					fragment = a.segments[segmentID].Description
				}
				a.shots = append(a.shots, models.Shot{
					ID:              a.nextShot,
					SegmentID:       segmentID,
					Title:           fmt.Sprintf("shot %d", a.nextShot),
					Cells:           cells,
					FragmentContent: fragment,
					AssetsTags:      append([]models.AssetTag(nil), item.AssetsTags...),
				})
				added = append(added, fmt.Sprintf("shot %d (segment %d)", a.nextShot, segmentID))
			}
			total := len(a.shots)
			shots := a.shotsLocked()
			a.mu.Unlock()

			a.events.Emit(EventShotsUpdated, shots)

			reply := "added " + strings.Join(added, ", ")
			if len(added) == 0 {
				reply = "no shots added"
			}
			if len(skippedSegments) > 0 {
				reply += fmt.Sprintf("; segments %s already have shots and were skipped", joinInts(skippedSegments))
			}
			return fmt.Sprintf("%s. current total: %d", reply, total), nil
		},
	}
}

func (a *StoryboardAgent) updateShotsTool() Tool {
	return Tool{
		Name:        "updateShots",
		Description: "Replace the cell prompts of one shot by id",
		Parameters: object(map[string]interface{}{
			"shotId":  integer("Shot id"),
			"prompts": arrayOf(str("Cell prompt"), "New prompts, one per cell"),
		}, "shotId", "prompts"),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				ShotID  int      `json:"shotId"`
				Prompts []string `json:"prompts"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}

			a.mu.Lock()
			idx := a.findShotLocked(in.ShotID)
			if idx < 0 {
				a.mu.Unlock()
				return fmt.Sprintf("shot %d does not exist, check the shot id", in.ShotID), nil
			}
			// 生成中的分镜不能改，否则图片会按位置回写到新提示词上
			if a.generating.IsRunning(shotTaskID(in.ShotID)) {
				a.mu.Unlock()
				return fmt.Sprintf("shot %d is generating, please wait", in.ShotID), nil
			}
			// 按位置对应：保留原格子的 id 和 src，多出的提示词新建格子，多余的旧格子丢弃
			old := a.shots[idx].Cells
			cells := make([]models.Cell, len(in.Prompts))
			for i, p := range in.Prompts {
				if i < len(old) {
					cells[i] = old[i]
					cells[i].Prompt = p
				} else {
					cells[i] = models.Cell{ID: newCellID(), Prompt: p}
				}
			}
			a.shots[idx].Cells = cells
			shots := a.shotsLocked()
			a.mu.Unlock()

			a.events.Emit(EventShotsUpdated, shots)
			return fmt.Sprintf("shot %d updated", in.ShotID), nil
		},
	}
}

func (a *StoryboardAgent) deleteShotsTool() Tool {
	return Tool{
		Name:        "deleteShots",
		Description: "Delete shots by id",
		Parameters: object(map[string]interface{}{
			"shotIds": arrayOf(integer("Shot id"), "Shot ids to delete"),
		}, "shotIds"),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				ShotIDs []int `json:"shotIds"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}

			a.mu.Lock()
			var deleted, notFound, busy []int
			for _, id := range in.ShotIDs {
				idx := a.findShotLocked(id)
				if idx < 0 {
					notFound = append(notFound, id)
					continue
				}
				if a.generating.IsRunning(shotTaskID(id)) {
					busy = append(busy, id)
					continue
				}
				a.shots = append(a.shots[:idx], a.shots[idx+1:]...)
				deleted = append(deleted, id)
			}
			total := len(a.shots)
			shots := a.shotsLocked()
			a.mu.Unlock()

			a.events.Emit(EventShotsUpdated, shots)

			reply := "deleted shots " + joinInts(deleted)
			if len(deleted) == 0 {
				reply = "no shots deleted"
			}
			if len(notFound) > 0 {
				reply += fmt.Sprintf("; shots %s do not exist", joinInts(notFound))
			}
			if len(busy) > 0 {
				reply += fmt.Sprintf("; shots %s are generating, please wait", joinInts(busy))
			}
			return fmt.Sprintf("%s. current total: %d", reply, total), nil
		},
	}
}
