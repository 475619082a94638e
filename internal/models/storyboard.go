// internal/models/storyboard.go
package models

// Segment 剧本切分出的片段，Index 从 1 开始
type Segment struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Emotion     string `json:"emotion,omitempty"`
	Action      string `json:"action,omitempty"`
}

// Cell 分镜中的一格
type Cell struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt,omitempty"`
	Src    string `json:"src,omitempty"`
}

// AssetTag 分镜引用的资产
type AssetTag struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Shot 一个分镜，对应一个片段（SegmentID = 片段序号 - 1）
type Shot struct {
	ID              int        `json:"id"`
	SegmentID       int        `json:"segmentId"`
	Title           string     `json:"title"`
	X               int        `json:"x"`
	Y               int        `json:"y"`
	Cells           []Cell     `json:"cells"`
	FragmentContent string     `json:"fragmentContent"`
	AssetsTags      []AssetTag `json:"assetsTags"`
}

// Prompts 非空的格子提示词，按格子顺序
func (s *Shot) Prompts() []string {
	out := make([]string, 0, len(s.Cells))
	for _, c := range s.Cells {
		if c.Prompt != "" {
			out = append(out, c.Prompt)
		}
	}
	return out
}

// Clone 深拷贝，事件里带出去的分镜不能和内部状态共享切片
func (s *Shot) Clone() Shot {
	c := *s
	c.Cells = append([]Cell(nil), s.Cells...)
	c.AssetsTags = append([]AssetTag(nil), s.AssetsTags...)
	return c
}
