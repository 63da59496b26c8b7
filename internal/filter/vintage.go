package filter

import (
	"image"
	"image/draw"
	"math"
)

type matrix3 [3][3]float64

// Vintage applies sepia, contrast and saturation in that order, clamping
// between stages, then darkens the edges. The output has the source's
// dimensions and is a pure function of its inputs.
func Vintage(src image.Image, params Params) *image.NRGBA {
	p := params.Normalize()

	srcBounds := src.Bounds()
	w, h := srcBounds.Dx(), srcBounds.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, srcBounds.Min, draw.Src)
	if w == 0 || h == 0 {
		return dst
	}

	sepia := sepiaMatrix(p.Sepia)
	saturate := saturateMatrix(p.Saturation)

	cx := float64(w-1) / 2
	cy := float64(h-1) / 2
	maxDist := math.Hypot(cx, cy)
	if maxDist == 0 {
		maxDist = 1
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := dst.PixOffset(x, y)
			r := float64(dst.Pix[i]) / 255
			g := float64(dst.Pix[i+1]) / 255
			b := float64(dst.Pix[i+2]) / 255

			r, g, b = sepia.apply(r, g, b)
			r, g, b = contrast(r, p.Contrast), contrast(g, p.Contrast), contrast(b, p.Contrast)
			r, g, b = saturate.apply(r, g, b)

			v := vignetteFactor(math.Hypot(float64(x)-cx, float64(y)-cy)/maxDist, p.Vignette)
			dst.Pix[i] = toByte(r * v)
			dst.Pix[i+1] = toByte(g * v)
			dst.Pix[i+2] = toByte(b * v)
		}
	}

	return dst
}

func sepiaMatrix(amount float64) matrix3 {
	a := 1 - amount
	return matrix3{
		{0.393 + 0.607*a, 0.769 - 0.769*a, 0.189 - 0.189*a},
		{0.349 - 0.349*a, 0.686 + 0.314*a, 0.168 - 0.168*a},
		{0.272 - 0.272*a, 0.534 - 0.534*a, 0.131 + 0.869*a},
	}
}

func saturateMatrix(s float64) matrix3 {
	return matrix3{
		{0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s},
	}
}

func (m matrix3) apply(r, g, b float64) (float64, float64, float64) {
	return clamp01(m[0][0]*r + m[0][1]*g + m[0][2]*b),
		clamp01(m[1][0]*r + m[1][1]*g + m[1][2]*b),
		clamp01(m[2][0]*r + m[2][1]*g + m[2][2]*b)
}

func contrast(v, amount float64) float64 {
	return clamp01((v-0.5)*amount + 0.5)
}

// vignetteFactor is 1 inside 45% of the half diagonal and falls off
// smoothly to 1-strength at the corners.
func vignetteFactor(dist, strength float64) float64 {
	if strength <= 0 {
		return 1
	}
	const inner = 0.45
	t := clamp01((dist - inner) / (1 - inner))
	return 1 - strength*t*t*(3-2*t)
}

func clamp01(v float64) float64 {
	return clampFloat(v, 0, 1)
}

func toByte(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}
