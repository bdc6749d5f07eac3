package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Transcoder converts an alternate encoding into JPEG.
type Transcoder interface {
	ToJPEG(ctx context.Context, raw []byte) ([]byte, error)
}

// Normalizer produces baseline JPEGs bounded to MaxDimension on the longest
// edge. Decoding applies EXIF orientation and re-encoding drops all metadata.
type Normalizer struct {
	transcoder   Transcoder
	maxDimension int
	quality      int
}

func NewNormalizer(t Transcoder, maxDimension, quality int) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = 2048
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Normalizer{transcoder: t, maxDimension: maxDimension, quality: quality}
}

func (n *Normalizer) Normalize(ctx context.Context, raw []byte) ([]byte, error) {
	if DetectAlternateEncoding(raw) {
		if n.transcoder == nil {
			return nil, fmt.Errorf("heif input but no transcoder configured")
		}
		jpg, err := n.transcoder.ToJPEG(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("transcode heif: %w", err)
		}
		raw = jpg
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > n.maxDimension || b.Dy() > n.maxDimension {
		img = imaging.Fit(img, n.maxDimension, n.maxDimension, imaging.Lanczos)
	}

	// JPEG has no alpha; flatten onto white instead of black.
	b = img.Bounds()
	flat := imaging.New(b.Dx(), b.Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(n.quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
