package filter

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestVintageIsDeterministic(t *testing.T) {
	src := gradientImage(64, 48)

	first := Vintage(src, DefaultParams())
	second := Vintage(src, DefaultParams())

	if !bytes.Equal(first.Pix, second.Pix) {
		t.Fatal("expected identical pixels for identical input and params")
	}
	if first.Bounds().Dx() != 64 || first.Bounds().Dy() != 48 {
		t.Fatalf("expected 64x48 output, got %v", first.Bounds())
	}
}

func TestVintageTonesGrayTowardSepia(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 41, 41))
	fill(src, color.RGBA{R: 128, G: 128, B: 128, A: 255})

	out := Vintage(src, DefaultParams())
	center := out.NRGBAAt(20, 20)

	if !(center.R > center.G && center.G > center.B) {
		t.Fatalf("expected warm sepia tone R>G>B at center, got %+v", center)
	}
}

func TestVintageDarkensCorners(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 100))
	fill(src, color.RGBA{R: 200, G: 200, B: 200, A: 255})

	out := Vintage(src, DefaultParams())
	center := out.NRGBAAt(50, 50)
	corner := out.NRGBAAt(0, 0)

	if corner.R >= center.R {
		t.Fatalf("expected darker corner, got corner=%d center=%d", corner.R, center.R)
	}
}

func TestVintageNeutralParamsKeepPixels(t *testing.T) {
	src := gradientImage(16, 16)
	out := Vintage(src, Params{Contrast: 1, Saturation: 1})

	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			want := src.RGBAAt(x, y)
			got := out.NRGBAAt(x, y)
			if diff(want.R, got.R) > 1 || diff(want.G, got.G) > 1 || diff(want.B, got.B) > 1 {
				t.Fatalf("pixel %d,%d changed: want %+v got %+v", x, y, want, got)
			}
		}
	}
}

func TestParamsNormalizeClamps(t *testing.T) {
	p := Params{Sepia: 3, Contrast: -1, Saturation: 9, Vignette: -0.5}.Normalize()
	if p.Sepia != 1 || p.Contrast != 0 || p.Saturation != 4 || p.Vignette != 0 {
		t.Fatalf("unexpected normalized params: %+v", p)
	}
}

func TestBakeProducesJPEGAtNativeSize(t *testing.T) {
	transformer, err := NewTransformer()
	if err != nil {
		t.Fatalf("new transformer: %v", err)
	}

	input := encodePNG(t, gradientImage(120, 80))
	out, err := transformer.Bake(context.Background(), input, DefaultParams(), "jpg", 90)
	if err != nil {
		t.Fatalf("bake returned error: %v", err)
	}
	if out.Format != "jpeg" {
		t.Fatalf("expected jpeg format, got %s", out.Format)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode baked jpeg: %v", err)
	}
	if decoded.Bounds().Dx() != 120 || decoded.Bounds().Dy() != 80 {
		t.Fatalf("expected 120x80, got %v", decoded.Bounds())
	}
}

func TestBakeTwiceIsVisuallyEquivalent(t *testing.T) {
	transformer, err := NewTransformer()
	if err != nil {
		t.Fatalf("new transformer: %v", err)
	}
	input := encodePNG(t, gradientImage(96, 64))

	first, err := transformer.Bake(context.Background(), input, DefaultParams(), "jpeg", 92)
	if err != nil {
		t.Fatalf("first bake: %v", err)
	}
	second, err := transformer.Bake(context.Background(), input, DefaultParams(), "jpeg", 92)
	if err != nil {
		t.Fatalf("second bake: %v", err)
	}

	a, _, err := Decode(first.Data)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	b, _, err := Decode(second.Data)
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}

	for y := 0; y < 64; y++ {
		for x := 0; x < 96; x++ {
			ar, ag, ab, _ := a.At(x, y).RGBA()
			br, bg, bb, _ := b.At(x, y).RGBA()
			if diff16(ar, br) > 2 || diff16(ag, bg) > 2 || diff16(ab, bb) > 2 {
				t.Fatalf("pixel %d,%d differs between runs", x, y)
			}
		}
	}
}

func TestBakeRejectsNonImage(t *testing.T) {
	transformer, err := NewTransformer()
	if err != nil {
		t.Fatalf("new transformer: %v", err)
	}
	if _, err := transformer.Bake(context.Background(), []byte("not an image"), DefaultParams(), "jpeg", 90); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFitScalesLongestSide(t *testing.T) {
	out := Fit(gradientImage(400, 200), 100)
	if out.Bounds().Dx() != 100 || out.Bounds().Dy() != 50 {
		t.Fatalf("expected 100x50, got %v", out.Bounds())
	}

	src := gradientImage(40, 20)
	if Fit(src, 100) != image.Image(src) {
		t.Fatal("expected small image to be returned unchanged")
	}
}

func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

func fill(img *image.RGBA, c color.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func diff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func diff16(a, b uint32) uint32 {
	a, b = a>>8, b>>8
	if a > b {
		return a - b
	}
	return b - a
}
