// internal/media/governor.go
package media

import (
	"image"
	"image/color"
	"sort"

	"github.com/disintegration/imaging"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

const (
	// DefaultMaxBytes 单张参考图上限
	DefaultMaxBytes = 3 * 1024 * 1024
	// DefaultTotalMaxBytes 一次请求所有参考图的总上限
	DefaultTotalMaxBytes = 10 * 1024 * 1024
	// minAggregateTarget 总量压缩时单张图的下限
	minAggregateTarget = 100 * 1024
	// mergeMaxHeight 横向拼接时的统一高度上限，避免超大画布
	mergeMaxHeight = 2048
)

// scaledJPEG 按百分比缩小后编码
func scaledJPEG(img image.Image, pct, quality int) ([]byte, error) {
	b := img.Bounds()
	w := b.Dx() * pct / 100
	h := b.Dy() * pct / 100
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return EncodeJPEG(imaging.Fit(img, w, h, imaging.Lanczos), quality)
}

// CompressToLimit 把单张图压到 maxBytes 以内。
// 先 JPEG 质量 90 起每次降 10 (最低 10)，仍超限再按 90%..10% 逐级缩小，质量不低于 30。
// 达不到上限时返回过程中最小的结果 (不大于原图)，不报错。
func CompressToLimit(buf []byte, maxBytes int) ([]byte, error) {
	if len(buf) <= maxBytes {
		return buf, nil
	}

	img, err := Decode(buf)
	if err != nil {
		return nil, err
	}

	quality := 90
	out, err := EncodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}
	for len(out) > maxBytes && quality > 10 {
		quality -= 10
		if out, err = EncodeJPEG(img, quality); err != nil {
			return nil, err
		}
	}

	best := out
	scaleQuality := max(quality, 30)
	for pct := 90; len(out) > maxBytes && pct >= 10; pct -= 10 {
		if out, err = scaledJPEG(img, pct, scaleQuality); err != nil {
			return nil, err
		}
		if len(out) < len(best) {
			best = out
		}
	}
	if len(out) <= maxBytes {
		return out, nil
	}
	if len(buf) < len(best) {
		return buf, nil
	}
	return best, nil
}

// CompressToSize 总量压缩使用：质量 80 起降到 10，再逐级缩小到 20%，质量不低于 20
func CompressToSize(buf []byte, target int) ([]byte, error) {
	img, err := Decode(buf)
	if err != nil {
		return nil, err
	}

	quality := 80
	out, err := EncodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}
	for len(out) > target && quality > 10 {
		quality -= 10
		if out, err = EncodeJPEG(img, quality); err != nil {
			return nil, err
		}
	}

	best := out
	for pct := 100; len(out) > target && pct > 20; {
		pct -= 10
		if out, err = scaledJPEG(img, pct, max(quality, 20)); err != nil {
			return nil, err
		}
		if len(out) < len(best) {
			best = out
		}
	}
	if len(out) <= target {
		return out, nil
	}
	// 不会比原图更大
	if len(buf) < len(best) {
		return buf, nil
	}
	return best, nil
}

// MergeHorizontally 统一高度后从左到右拼在白底画布上，JPEG q90，再压到 maxBytes 以内
func MergeHorizontally(bufs [][]byte, maxBytes int) ([]byte, error) {
	if len(bufs) == 0 {
		return nil, apperrors.NewValidationError("no images to merge", nil)
	}

	imgs := make([]image.Image, 0, len(bufs))
	height := 0
	for _, buf := range bufs {
		img, err := Decode(buf)
		if err != nil {
			return nil, err
		}
		imgs = append(imgs, img)
		height = max(height, img.Bounds().Dy())
	}
	height = min(height, mergeMaxHeight)

	resized := make([]image.Image, len(imgs))
	width := 0
	for i, img := range imgs {
		resized[i] = imaging.Resize(img, 0, height, imaging.Lanczos)
		width += resized[i].Bounds().Dx()
	}

	canvas := imaging.New(width, height, color.White)
	x := 0
	for _, img := range resized {
		canvas = imaging.Paste(canvas, img, image.Pt(x, 0))
		x += img.Bounds().Dx()
	}

	out, err := EncodeJPEG(canvas, 90)
	if err != nil {
		return nil, err
	}
	return CompressToLimit(out, maxBytes)
}

// TotalSize 字节总数
func TotalSize(bufs [][]byte) int {
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	return total
}

// EnforceAggregateBudget 总量超出 maxTotal 时从最大的图开始压缩。
// 每一步前重新计算总量；目标为 max(当前大小-超出量, 平均份额, 100KB)。
// 输出顺序与输入一致，相同输入得到相同输出。
func EnforceAggregateBudget(bufs [][]byte, maxTotal int) ([][]byte, error) {
	out := make([][]byte, len(bufs))
	copy(out, bufs)
	if len(out) == 0 || TotalSize(out) <= maxTotal {
		return out, nil
	}

	avg := maxTotal / len(out)
	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return len(out[order[a]]) > len(out[order[b]])
	})

	for _, i := range order {
		total := TotalSize(out)
		if total <= maxTotal {
			break
		}
		excess := total - maxTotal
		target := max(len(out[i])-excess, avg, minAggregateTarget)
		if len(out[i]) <= target {
			continue
		}
		compressed, err := CompressToSize(out[i], target)
		if err != nil {
			return nil, err
		}
		out[i] = compressed
	}
	return out, nil
}
