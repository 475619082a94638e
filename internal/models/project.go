// internal/models/project.go
package models

import "time"

// Project 一部短剧项目
type Project struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Intro      string    `json:"intro"`
	Type       string    `json:"type"`       // 题材类型
	ArtStyle   string    `json:"artStyle"`   // 美术风格
	VideoRatio string    `json:"videoRatio"` // 16:9 / 9:16 ...
	CreatedAt  time.Time `json:"createdAt"`
}

// Chapter 小说原文中的一章
type Chapter struct {
	ID           int64  `json:"id"`
	ProjectID    int64  `json:"projectId"`
	ChapterIndex int    `json:"chapterIndex"`
	Reel         string `json:"reel"` // 卷
	Chapter      string `json:"chapter"`
	ChapterData  string `json:"chapterData"`
}

// Storyline 项目故事线，每个项目最多一条
type Storyline struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"projectId"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatHistory 持久化的 agent 对话历史
type ChatHistory struct {
	ProjectID int64     `json:"projectId"`
	Kind      string    `json:"type"` // outlineAgent / storyboardAgent
	Data      string    `json:"data"` // []llm.Message 的 JSON
	UpdatedAt time.Time `json:"updatedAt"`
}

// Prompt 可在后台修改的系统提示词
type Prompt struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	DefaultValue string `json:"defaultValue"`
	CustomValue  string `json:"customValue,omitempty"`
}

// Value 自定义值优先
func (p Prompt) Value() string {
	if p.CustomValue != "" {
		return p.CustomValue
	}
	return p.DefaultValue
}
