// Package filter bakes the booth's vintage look (sepia, contrast,
// saturation, vignette) into image bytes.
package filter

import (
	"context"
	"math"
)

// Params mirror the display-only overlay the preview uses so a download
// matches what the user saw.
type Params struct {
	Sepia      float64
	Contrast   float64
	Saturation float64
	Vignette   float64
}

func DefaultParams() Params {
	return Params{
		Sepia:      0.6,
		Contrast:   1.1,
		Saturation: 0.85,
		Vignette:   0.35,
	}
}

// Normalize clamps every parameter into its supported range.
func (p Params) Normalize() Params {
	return Params{
		Sepia:      clampFloat(p.Sepia, 0, 1),
		Contrast:   clampFloat(p.Contrast, 0, 4),
		Saturation: clampFloat(p.Saturation, 0, 4),
		Vignette:   clampFloat(p.Vignette, 0, 1),
	}
}

type Output struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

type Transformer interface {
	Bake(ctx context.Context, input []byte, params Params, format string, quality int) (Output, error)
}

// NewTransformer returns the backend selected at build time.
func NewTransformer() (Transformer, error) {
	return newTransformer()
}

func normalizeOutputFormat(format string) string {
	switch format {
	case "jpg":
		return "jpeg"
	case "jpeg", "png":
		return format
	default:
		return "jpeg"
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
