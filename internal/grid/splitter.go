// internal/grid/splitter.go
package grid

import (
	"image"

	"github.com/disintegration/imaging"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/media"
)

// Split 按 CalculateLayout(count) 把宫格图切成 count 张 PNG，行优先，多余的占位格丢弃。
// 单格尺寸向下取整，右侧和底部不足一格的像素被舍弃。
func Split(buf []byte, count int) ([][]byte, error) {
	if count <= 0 {
		return [][]byte{}, nil
	}
	if _, _, err := media.Dimensions(buf); err != nil {
		return nil, err
	}
	img, err := media.Decode(buf)
	if err != nil {
		return nil, err
	}
	return SplitImage(img, count)
}

// SplitImage 同 Split，输入为已解码图像
func SplitImage(img image.Image, count int) ([][]byte, error) {
	if count <= 0 {
		return [][]byte{}, nil
	}

	layout := CalculateLayout(count)
	bounds := img.Bounds()
	cellW := bounds.Dx() / layout.Cols
	cellH := bounds.Dy() / layout.Rows
	if cellW == 0 || cellH == 0 {
		return nil, apperrors.NewResourceError("image too small for grid layout", nil)
	}

	cells := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		row, col := layout.Position(i)
		x0 := bounds.Min.X + col*cellW
		y0 := bounds.Min.Y + row*cellH
		cell := imaging.Crop(img, image.Rect(x0, y0, x0+cellW, y0+cellH))
		out, err := media.EncodePNG(cell)
		if err != nil {
			return nil, err
		}
		cells = append(cells, out)
	}
	return cells, nil
}
