//go:build govips && cgo

package filter

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

// govipsTransformer lets libvips decode the input so phone captures in
// formats the standard library cannot read (HEIF, TIFF) and EXIF-rotated
// JPEGs arrive upright. The pixel math is shared with the stdlib backend.
type govipsTransformer struct{}

func (t govipsTransformer) Bake(ctx context.Context, input []byte, params Params, format string, quality int) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Output{}, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return Output{}, fmt.Errorf("auto-rotate image: %w", err)
	}

	src, err := img.ToImage(nil)
	if err != nil {
		return Output{}, fmt.Errorf("convert vips image: %w", err)
	}

	return bakeImage(src, params, format, quality)
}
