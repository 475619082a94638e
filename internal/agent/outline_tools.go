// internal/agent/outline_tools.go
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/models"
	"github.com/Corphon/DramaForge/internal/utils"
)

// refresh 事件的数据
const (
	RefreshStoryline = "storyline"
	RefreshOutline   = "outline"
	RefreshAssets    = "assets"
)

func assetItemSchema(description string) map[string]interface{} {
	return arrayOf(object(map[string]interface{}{
		"name":        str("Name"),
		"description": str("Visual description"),
	}, "name", "description"), description)
}

func episodeSchema() map[string]interface{} {
	return object(map[string]interface{}{
		"title":            str("Episode title"),
		"chapterRange":     arrayOf(integer("Chapter number"), "Source chapter numbers"),
		"scenes":           assetItemSchema("Scenes appearing in this episode"),
		"characters":       assetItemSchema("Characters appearing in this episode"),
		"props":            assetItemSchema("Important props"),
		"coreConflict":     str("Core conflict"),
		"outline":          str("Plot outline"),
		"openingHook":      str("Opening hook"),
		"keyEvents":        arrayOf(str("Event"), "Four key events: setup, development, turn, resolution"),
		"emotionalCurve":   str("Emotional curve"),
		"visualHighlights": arrayOf(str("Highlight"), "Visual highlights"),
		"endingHook":       str("Ending hook"),
		"classicQuotes":    arrayOf(str("Quote"), "Classic quotes"),
	}, "title", "outline")
}

func (a *OutlineAgent) getChapterTool() Tool {
	return Tool{
		Name:        "getChapter",
		Description: "Read the original text of one or more novel chapters",
		Parameters: object(map[string]interface{}{
			"chapterNumbers": arrayOf(integer("Chapter number"), "Chapter numbers to read"),
		}, "chapterNumbers"),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				ChapterNumbers []int `json:"chapterNumbers"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}
			parts := make([]string, 0, len(in.ChapterNumbers))
			for _, n := range in.ChapterNumbers {
				c, err := a.deps.Projects.GetChapter(ctx, a.projectID, n)
				if apperrors.IsNotFoundError(err) {
					parts = append(parts, fmt.Sprintf("\n[Chapter %d] not found", n))
					continue
				}
				if err != nil {
					return "", err
				}
				parts = append(parts, fmt.Sprintf("\n[Chapter %d %s]\n%s", n, c.Chapter, c.ChapterData))
			}
			return strings.Join(parts, "\n\n---\n"), nil
		},
	}
}

func (a *OutlineAgent) getStorylineTool() Tool {
	return Tool{
		Name:        "getStoryline",
		Description: "Read the storyline of the current project",
		Parameters:  object(nil),
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			sl, err := a.deps.Projects.GetStoryline(ctx, a.projectID)
			if apperrors.IsNotFoundError(err) {
				return "this project has no storyline", nil
			}
			if err != nil {
				return "", err
			}
			return sl.Content, nil
		},
	}
}

func (a *OutlineAgent) saveStorylineTool() Tool {
	return Tool{
		Name:        "saveStoryline",
		Description: "Save or overwrite the storyline of the current project",
		Parameters: object(map[string]interface{}{
			"content": str("Full storyline text"),
		}, "content"),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Content string `json:"content"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}
			if strings.TrimSpace(in.Content) == "" {
				return "", apperrors.NewValidationError("storyline content is empty", nil)
			}
			if err := a.deps.Projects.SaveStoryline(ctx, a.projectID, in.Content); err != nil {
				return "", err
			}
			a.refresh(RefreshStoryline)
			return "storyline saved", nil
		},
	}
}

func (a *OutlineAgent) deleteStorylineTool() Tool {
	return Tool{
		Name:        "deleteStoryline",
		Description: "Delete the storyline of the current project",
		Parameters:  object(nil),
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			n, err := a.deps.Projects.DeleteStoryline(ctx, a.projectID)
			if err != nil {
				return "", err
			}
			if n == 0 {
				return "this project has no storyline", nil
			}
			a.refresh(RefreshStoryline)
			return "storyline deleted", nil
		},
	}
}

func (a *OutlineAgent) getOutlineTool() Tool {
	return Tool{
		Name:        "getOutline",
		Description: "Read the episode outlines. simplified=true lists only episode numbers and ids",
		Parameters: object(map[string]interface{}{
			"simplified": boolean("Only list episode numbers and ids"),
		}),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Simplified bool `json:"simplified"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}
			outlines, err := a.deps.Outlines.ListOutlines(ctx, a.projectID)
			if err != nil {
				return "", err
			}
			if len(outlines) == 0 {
				return "this project has no outline", nil
			}
			if in.Simplified {
				lines := []string{fmt.Sprintf("Project outline (%d episodes):", len(outlines))}
				for _, o := range outlines {
					lines = append(lines, fmt.Sprintf("Episode %d (id=%d)", o.Episode, o.ID))
				}
				return strings.Join(lines, "\n"), nil
			}
			parts := make([]string, len(outlines))
			for i, o := range outlines {
				parts[i] = formatOutlineDetail(o)
			}
			return strings.Join(parts, "\n\n"), nil
		},
	}
}

func joinItems(items []models.AssetItem) string {
	if len(items) == 0 {
		return "none"
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.Name + " (" + it.Description + ")"
	}
	return strings.Join(parts, "; ")
}

func orNone(items []string, sep string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, sep)
}

// formatOutlineDetail 单集完整内容，关键事件按起承转合标注
func formatOutlineDetail(o models.Outline) string {
	ep := o.Data
	var b strings.Builder
	fmt.Fprintf(&b, "Episode %d (id=%d): %s\n", o.Episode, o.ID, ep.Title)
	chapters := make([]string, len(ep.ChapterRange))
	for i, c := range ep.ChapterRange {
		chapters[i] = fmt.Sprint(c)
	}
	fmt.Fprintf(&b, "chapters: %s\n", orNone(chapters, ", "))
	fmt.Fprintf(&b, "scenes: %s\n", joinItems(ep.Scenes))
	fmt.Fprintf(&b, "characters: %s\n", joinItems(ep.Characters))
	fmt.Fprintf(&b, "props: %s\n", joinItems(ep.Props))
	fmt.Fprintf(&b, "core conflict: %s\n", ep.CoreConflict)
	fmt.Fprintf(&b, "outline: %s\n", ep.Outline)
	fmt.Fprintf(&b, "opening hook: %s\n", ep.OpeningHook)
	b.WriteString("key events:\n")
	for i, e := range ep.KeyEvents {
		label := fmt.Sprintf("event %d", i+1)
		if i < len(models.KeyEventLabels) {
			label = models.KeyEventLabels[i]
		}
		fmt.Fprintf(&b, "  - %s: %s\n", label, e)
	}
	fmt.Fprintf(&b, "emotional curve: %s\n", ep.EmotionalCurve)
	fmt.Fprintf(&b, "visual highlights: %s\n", orNone(ep.VisualHighlights, "; "))
	fmt.Fprintf(&b, "ending hook: %s\n", ep.EndingHook)
	fmt.Fprintf(&b, "classic quotes: %s", orNone(ep.ClassicQuotes, "; "))
	return b.String()
}

func (a *OutlineAgent) saveOutlineTool() Tool {
	return Tool{
		Name:        "saveOutline",
		Description: "Save episode outlines. overwrite defaults to true and replaces all existing outlines",
		Parameters: object(map[string]interface{}{
			"episodes":     arrayOf(episodeSchema(), "Episode outlines in order"),
			"overwrite":    boolean("Replace all existing outlines (default true)"),
			"startEpisode": integer("First episode number when appending"),
		}, "episodes"),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Episodes     []models.Episode `json:"episodes"`
				Overwrite    *bool            `json:"overwrite"`
				StartEpisode int              `json:"startEpisode"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}
			if len(in.Episodes) == 0 {
				return "", apperrors.NewValidationError("episodes is empty", nil)
			}
			overwrite := true
			if in.Overwrite != nil {
				overwrite = *in.Overwrite
			}
			res, err := a.deps.Outlines.SaveOutlines(ctx, a.projectID, in.Episodes, overwrite, in.StartEpisode)
			if err != nil {
				return "", err
			}
			a.refresh(RefreshOutline)
			return fmt.Sprintf("outline saved: inserted %d episodes, created %d script records", res.Inserted, res.Scripts), nil
		},
	}
}

func (a *OutlineAgent) updateOutlineTool() Tool {
	return Tool{
		Name:        "updateOutline",
		Description: "Replace the content of one episode outline by id",
		Parameters: object(map[string]interface{}{
			"id":   integer("Outline id"),
			"data": episodeSchema(),
		}, "id", "data"),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				ID   int64          `json:"id"`
				Data models.Episode `json:"data"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}
			ok, err := a.deps.Outlines.UpdateOutline(ctx, a.projectID, in.ID, in.Data)
			if err != nil {
				return "", err
			}
			if !ok {
				return fmt.Sprintf("outline ID not found: %d", in.ID), nil
			}
			a.refresh(RefreshOutline)
			return fmt.Sprintf("outline ID %d updated", in.ID), nil
		},
	}
}

func (a *OutlineAgent) deleteOutlineTool() Tool {
	return Tool{
		Name:        "deleteOutline",
		Description: "Delete episode outlines and their scripts by id",
		Parameters: object(map[string]interface{}{
			"ids": arrayOf(integer("Outline id"), "Outline ids to delete"),
		}, "ids"),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				IDs []int64 `json:"ids"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}
			results := make([]string, 0, len(in.IDs))
			deleted := 0
			for _, id := range in.IDs {
				if err := a.deps.Outlines.DeleteOutline(ctx, a.projectID, id); err != nil {
					if !apperrors.IsNotFoundError(err) {
						utils.GetLogger().Error("delete outline failed", map[string]interface{}{
							"project_id": a.projectID,
							"outline_id": id,
							"error":      err.Error(),
						})
					}
					results = append(results, fmt.Sprintf("ID %d: failure", id))
					continue
				}
				deleted++
				results = append(results, fmt.Sprintf("ID %d: success", id))
			}
			if deleted > 0 {
				a.refresh(RefreshOutline)
			}
			return "delete result: " + strings.Join(results, ", "), nil
		},
	}
}

func (a *OutlineAgent) generateAssetsTool() Tool {
	return Tool{
		Name:        "generateAssets",
		Description: "Extract characters, props and scenes from all outlines into the project asset library",
		Parameters:  object(nil),
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			count, err := a.deps.Outlines.CountOutlines(ctx, a.projectID)
			if err != nil {
				return "", err
			}
			if count == 0 {
				return "no outline data in this project, cannot generate assets", nil
			}
			stats, err := a.deps.Assets.SyncFromOutlines(ctx, a.projectID)
			if err != nil {
				return "", err
			}
			a.refresh(RefreshAssets)
			return "assets generated: " + stats.String(), nil
		},
	}
}
