// internal/media/media_test.go
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

// noisePNG 随机噪点，压缩率很低，适合测试预算
func noisePNG(t *testing.T, w, h int, seed int64) []byte {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(r.Intn(256))
		if i%4 == 3 {
			img.Pix[i] = 255
		}
	}
	buf, err := EncodePNG(img)
	require.NoError(t, err)
	return buf
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	buf, err := EncodePNG(imaging.New(w, h, c))
	require.NoError(t, err)
	return buf
}

func TestCompressToLimitWithinBudgetUnchanged(t *testing.T) {
	src := solidPNG(t, 20, 20, color.Black)
	out, err := CompressToLimit(src, len(src))
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestCompressToLimitCapsAndIsIdempotent(t *testing.T) {
	src := noisePNG(t, 600, 600, 1)
	limit := 100 * 1024
	require.Greater(t, len(src), limit)

	out, err := CompressToLimit(src, limit)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), limit)

	again, err := CompressToLimit(out, limit)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestCompressToLimitDefaultCapAcrossSizes(t *testing.T) {
	cases := []struct {
		name string
		size int
	}{
		{"100KB", 100 * 1024},
		{"1MB", 1024 * 1024},
		{"4MB", 4 * 1024 * 1024},
		{"8MB", 8 * 1024 * 1024},
		{"20MB", 20 * 1024 * 1024},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if testing.Short() && tc.size > 4*1024*1024 {
				t.Skip("large image")
			}
			// 噪点 PNG 每像素约 4 字节
			side := int(math.Sqrt(float64(tc.size) / 4))
			src := noisePNG(t, side, side, int64(i+10))
			require.GreaterOrEqual(t, len(src), tc.size*9/10)

			out, err := CompressToLimit(src, DefaultMaxBytes)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(out), DefaultMaxBytes)
			assert.LessOrEqual(t, len(out), len(src))
			if len(src) <= DefaultMaxBytes {
				assert.Equal(t, src, out)
			}
		})
	}
}

func TestCompressToLimitNeverGrows(t *testing.T) {
	// 纯色小图的 PNG 比任何 JPEG 都小，限额达不到时原样返回
	src := solidPNG(t, 20, 20, color.White)
	out, err := CompressToLimit(src, 10)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestCompressToLimitUndecodable(t *testing.T) {
	_, err := CompressToLimit([]byte("definitely not an image, but long"), 4)
	require.Error(t, err)
	assert.True(t, apperrors.IsResourceError(err))
}

func TestMergeHorizontallyNormalizesHeight(t *testing.T) {
	a := solidPNG(t, 100, 50, color.Black)
	b := solidPNG(t, 40, 100, color.White)

	merged, err := MergeHorizontally([][]byte{a, b}, DefaultMaxBytes)
	require.NoError(t, err)

	w, h, err := Dimensions(merged)
	require.NoError(t, err)
	assert.Equal(t, 100, h)
	assert.Equal(t, 240, w)

	_, err = MergeHorizontally(nil, DefaultMaxBytes)
	assert.Error(t, err)
}

func TestEnforceAggregateBudget(t *testing.T) {
	small := solidPNG(t, 10, 10, color.White)
	within := [][]byte{small, small}
	out, err := EnforceAggregateBudget(within, 1024*1024)
	require.NoError(t, err)
	assert.Equal(t, within, out)

	bufs := [][]byte{noisePNG(t, 400, 400, 2), small, noisePNG(t, 400, 400, 3), noisePNG(t, 400, 400, 4)}
	maxTotal := 600 * 1024
	require.Greater(t, TotalSize(bufs), maxTotal)

	out, err = EnforceAggregateBudget(bufs, maxTotal)
	require.NoError(t, err)
	require.Len(t, out, len(bufs))
	assert.LessOrEqual(t, TotalSize(out), maxTotal)
	// 小图不参与压缩，位置不变
	assert.Equal(t, small, out[1])

	second, err := EnforceAggregateBudget(bufs, maxTotal)
	require.NoError(t, err)
	assert.Equal(t, out, second)
}

func TestNormalizeBatchCounts(t *testing.T) {
	ctx := context.Background()

	empty, err := NormalizeBatch(ctx, nil, DefaultLimits())
	require.NoError(t, err)
	assert.Empty(t, empty)

	refs := make([][]byte, 0, 12)
	for i := 0; i < 12; i++ {
		refs = append(refs, solidPNG(t, 30+i, 30, color.Gray{Y: uint8(i * 10)}))
	}

	five, err := NormalizeBatch(ctx, refs[:5], DefaultLimits())
	require.NoError(t, err)
	assert.Len(t, five, 5)

	ten, err := NormalizeBatch(ctx, refs, DefaultLimits())
	require.NoError(t, err)
	require.Len(t, ten, MaxReferenceImages)

	// 第 10 张是 refs[9:] 的横向拼接
	w, _, err := Dimensions(ten[9])
	require.NoError(t, err)
	assert.Equal(t, 39+40+41, w)
}

func TestDecodeWebP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, imaging.New(12, 8, color.White), &webp.Options{Lossless: true}))

	w, h, err := Dimensions(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 12, w)
	assert.Equal(t, 8, h)

	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 12, img.Bounds().Dx())
}

func TestDataURLHelpers(t *testing.T) {
	assert.Equal(t, "image/jpeg", MimeFromBase64("/9j/4AAQ"))
	assert.Equal(t, "image/png", MimeFromBase64("iVBORw0KGgo"))
	assert.Equal(t, "image/gif", MimeFromBase64("R0lGODlh"))
	assert.Equal(t, "image/webp", MimeFromBase64("UklGRiQ"))
	assert.Equal(t, "image/png", MimeFromBase64("AAAA"))
	assert.Equal(t, "data:image/jpeg;base64,/9j/abc", ToDataURL("/9j/abc"))
	assert.Equal(t, "data:image/gif;base64,xx", ToDataURL("data:image/gif;base64,xx"))

	raw := []byte{1, 2, 3, 4}
	b64 := base64.StdEncoding.EncodeToString(raw)

	out, err := DecodeBase64Image("data:image/png;base64," + b64)
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	out, err = DecodeBase64Image(b64)
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	_, err = DecodeBase64Image("%%%")
	assert.True(t, apperrors.IsUpstreamError(err))
}
