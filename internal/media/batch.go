// internal/media/batch.go
package media

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/DramaForge/internal/utils"
)

// MaxReferenceImages 一次图像请求最多携带的参考图数量
const MaxReferenceImages = 10

// Limits 参考图的字节预算
type Limits struct {
	PerImage    int
	Total       int
	Concurrency int
}

// DefaultLimits 3MB / 10MB
func DefaultLimits() Limits {
	return Limits{PerImage: DefaultMaxBytes, Total: DefaultTotalMaxBytes, Concurrency: 4}
}

// NormalizeBatch 把任意数量的参考图整理为最多 10 张且满足总量预算。
// 不超过 10 张时逐张压缩；超过时前 9 张逐张压缩，第 10 张起横向拼成一张。
func NormalizeBatch(ctx context.Context, refs [][]byte, limits Limits) ([][]byte, error) {
	if len(refs) == 0 {
		return [][]byte{}, nil
	}
	if limits.PerImage <= 0 {
		limits.PerImage = DefaultMaxBytes
	}
	if limits.Total <= 0 {
		limits.Total = DefaultTotalMaxBytes
	}
	if limits.Concurrency <= 0 {
		limits.Concurrency = 4
	}

	individual := refs
	var rest [][]byte
	if len(refs) > MaxReferenceImages {
		individual = refs[:MaxReferenceImages-1]
		rest = refs[MaxReferenceImages-1:]
	}

	out := make([][]byte, len(individual), len(individual)+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limits.Concurrency)
	for i := range individual {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			compressed, err := CompressToLimit(individual[i], limits.PerImage)
			if err != nil {
				return err
			}
			out[i] = compressed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(rest) > 0 {
		merged, err := MergeHorizontally(rest, limits.PerImage)
		if err != nil {
			return nil, err
		}
		out = append(out, merged)
	}

	before := TotalSize(refs)
	result, err := EnforceAggregateBudget(out, limits.Total)
	if err != nil {
		return nil, err
	}
	utils.NewPipelineMetrics().RecordCompression(before, TotalSize(result))
	return result, nil
}
