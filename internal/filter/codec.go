package filter

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp"
)

// Decode reads any format the booth accepts as a capture or provider result.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

func Encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch normalizeOutputFormat(format) {
	case "jpeg":
		if quality <= 0 || quality > 100 {
			quality = 92
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case "png":
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// ContentType maps an output format to its MIME type.
func ContentType(format string) string {
	if normalizeOutputFormat(format) == "png" {
		return "image/png"
	}
	return "image/jpeg"
}
