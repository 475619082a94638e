// internal/models/outline.go
package models

// AssetItem 大纲里出现的角色/道具/场景
type AssetItem struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// KeyEventLabels 关键事件依次为起承转合
var KeyEventLabels = []string{"setup", "development", "turn", "resolution"}

// Episode 单集大纲内容
type Episode struct {
	EpisodeIndex     int         `json:"episodeIndex"`
	Title            string      `json:"title"`
	ChapterRange     []int       `json:"chapterRange"`
	Scenes           []AssetItem `json:"scenes"`
	Characters       []AssetItem `json:"characters"`
	Props            []AssetItem `json:"props"`
	CoreConflict     string      `json:"coreConflict"`
	Outline          string      `json:"outline"`
	OpeningHook      string      `json:"openingHook"`
	KeyEvents        []string    `json:"keyEvents"`
	EmotionalCurve   string      `json:"emotionalCurve"`
	VisualHighlights []string    `json:"visualHighlights"`
	EndingHook       string      `json:"endingHook"`
	ClassicQuotes    []string    `json:"classicQuotes"`
}

// Outline 持久化的一集大纲
type Outline struct {
	ID        int64   `json:"id"`
	ProjectID int64   `json:"projectId"`
	Episode   int     `json:"episode"`
	Data      Episode `json:"data"`
}

// Script 单集剧本，由大纲生成时先建空壳
type Script struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"projectId"`
	OutlineID int64  `json:"outlineId"`
	Name      string `json:"name"`
	Content   string `json:"content"`
}

// 资产类型
const (
	AssetRole  = "role"
	AssetProps = "props"
	AssetScene = "scene"
)

// Asset 项目级视觉资产，FilePath 非空才有参考图
type Asset struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"projectId"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Intro     string `json:"intro"`
	Prompt    string `json:"prompt"`
	FilePath  string `json:"filePath,omitempty"`
	State     string `json:"state,omitempty"`
	Sort      int    `json:"sort"`
}
