// internal/grid/layout.go
package grid

// Layout 宫格布局。PlaceholderCount 是需要用黑帧填充的格子数
type Layout struct {
	Cols             int `json:"cols"`
	Rows             int `json:"rows"`
	TotalCells       int `json:"totalCells"`
	PlaceholderCount int `json:"placeholderCount"`
}

// CalculateLayout 根据画面数决定行列。
// <=1 → 1×1，2 → 2×1，3 → 3×1，4 → 2×2，5..9 → 3×3，>9 → 3 列 ceil(n/3) 行。
// 宫格合成与切分必须使用同一个函数。
func CalculateLayout(count int) Layout {
	var cols, rows int
	switch {
	case count <= 1:
		cols, rows = 1, 1
	case count == 2:
		cols, rows = 2, 1
	case count == 3:
		cols, rows = 3, 1
	case count == 4:
		cols, rows = 2, 2
	case count <= 9:
		cols, rows = 3, 3
	default:
		cols, rows = 3, (count+2)/3
	}

	total := cols * rows
	placeholders := total - count
	if count < 0 {
		placeholders = total
	}
	return Layout{
		Cols:             cols,
		Rows:             rows,
		TotalCells:       total,
		PlaceholderCount: placeholders,
	}
}

// Position 第 i 个格子的行列（从 0 开始，行优先）
func (l Layout) Position(i int) (row, col int) {
	return i / l.Cols, i % l.Cols
}
