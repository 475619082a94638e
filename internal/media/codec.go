// internal/media/codec.go
package media

import (
	"bytes"
	"image"
	"image/color"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

// isWebP 判断 RIFF....WEBP 文件头
func isWebP(buf []byte) bool {
	return len(buf) >= 12 && string(buf[0:4]) == "RIFF" && string(buf[8:12]) == "WEBP"
}

// Decode 解码 jpeg/png/gif/bmp/tiff/webp
func Decode(buf []byte) (image.Image, error) {
	if len(buf) == 0 {
		return nil, apperrors.NewResourceError("empty image data", nil)
	}
	if isWebP(buf) {
		img, err := webp.Decode(bytes.NewReader(buf))
		if err != nil {
			return nil, apperrors.NewResourceError("cannot decode webp image", err)
		}
		return img, nil
	}
	img, err := imaging.Decode(bytes.NewReader(buf), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.NewResourceError("cannot decode image", err)
	}
	return img, nil
}

// Dimensions 只读取文件头获取宽高
func Dimensions(buf []byte) (int, int, error) {
	var (
		cfg image.Config
		err error
	)
	if isWebP(buf) {
		cfg, err = webp.DecodeConfig(bytes.NewReader(buf))
	} else {
		cfg, _, err = image.DecodeConfig(bytes.NewReader(buf))
	}
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, apperrors.NewResourceError("cannot read image dimensions", err)
	}
	return cfg.Width, cfg.Height, nil
}

// EncodeJPEG quality 取值 1-100
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	// JPEG 不支持透明，先铺白底
	flat := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, apperrors.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}

// EncodePNG 无损输出，用于宫格切片
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, apperrors.Wrap(err, "encode png")
	}
	return buf.Bytes(), nil
}
