package filter

import (
	"context"
	"image"
)

type stdlibTransformer struct{}

func (t stdlibTransformer) Bake(ctx context.Context, input []byte, params Params, format string, quality int) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	src, _, err := Decode(input)
	if err != nil {
		return Output{}, err
	}

	return bakeImage(src, params, format, quality)
}

func bakeImage(src image.Image, params Params, format string, quality int) (Output, error) {
	out := Vintage(src, params)
	format = normalizeOutputFormat(format)
	data, err := Encode(out, format, quality)
	if err != nil {
		return Output{}, err
	}

	bounds := out.Bounds()
	return Output{
		Data:   data,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
