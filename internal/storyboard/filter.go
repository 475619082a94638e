// internal/storyboard/filter.go
package storyboard

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/DramaForge/internal/utils"
)

const filterSystemPrompt = "You select reference assets for storyboard image generation."

type relevantAsset struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type relevanceResult struct {
	RelevantAssets []relevantAsset `json:"relevantAssets"`
}

// Filter 让文本模型挑出分镜里实际出现的资产。任何失败都返回原列表
type Filter struct {
	llm StructuredCompleter
}

func NewFilter(llm StructuredCompleter) *Filter {
	return &Filter{llm: llm}
}

func filterPrompt(prompts []string, catalog []Resource) string {
	var sb strings.Builder
	sb.WriteString("Analyze the storyboard descriptions below and select the assets that are directly relevant to them.\n\nStoryboard descriptions:\n")
	for i, p := range prompts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, p)
	}
	sb.WriteString("\nAvailable assets:\n")
	for _, r := range catalog {
		fmt.Fprintf(&sb, "- %s: %s\n", r.Name, r.Description)
	}
	sb.WriteString("\nOnly select characters, scenes and props that explicitly appear or are mentioned in the storyboard. ")
	sb.WriteString(`Respond as {"relevantAssets":[{"name":"asset name","reason":"why it is relevant"}]}.`)
	return sb.String()
}

// Select 返回 available 的子集，顺序不变
func (f *Filter) Select(ctx context.Context, prompts []string, catalog []Resource, available []ReferenceImage) []ReferenceImage {
	if len(catalog) == 0 || len(available) == 0 {
		return available
	}

	names := make(map[string]bool, len(available))
	for _, img := range available {
		names[img.Name] = true
	}
	var candidates []Resource
	for _, r := range catalog {
		if names[r.Name] {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return available
	}

	var result relevanceResult
	if err := f.llm.CreateStructuredCompletion(ctx, filterPrompt(prompts, candidates), filterSystemPrompt, &result); err != nil {
		utils.GetLogger().Warn("asset relevance filter failed, keeping all references", map[string]interface{}{
			"error": err.Error(),
		})
		return available
	}
	if len(result.RelevantAssets) == 0 {
		return available
	}

	relevant := make(map[string]bool, len(result.RelevantAssets))
	for _, a := range result.RelevantAssets {
		relevant[strings.TrimSpace(a.Name)] = true
		utils.GetLogger().Debug("relevant asset", map[string]interface{}{
			"name":   a.Name,
			"reason": a.Reason,
		})
	}

	var filtered []ReferenceImage
	for _, img := range available {
		if relevant[img.Name] {
			filtered = append(filtered, img)
		}
	}
	if len(filtered) == 0 {
		return available
	}
	return filtered
}
