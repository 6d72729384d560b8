package quantize

import (
	"image"
	"image/color"
	"math"

	"posterwall/palette"
)

// diffuse maps src onto dst's palette left to right, top to bottom, and
// spreads each pixel's error with the Floyd-Steinberg weights 7/16, 3/16,
// 5/16 and 1/16. The error a pixel receives is scaled by strength before it
// is added.
func diffuse(dst *image.Paletted, src *image.RGBA, strength float64, m palette.Matcher) {
	b := dst.Rect.Intersect(src.Rect)
	if b.Empty() {
		return
	}

	pal := make([]color.RGBA, len(dst.Palette))
	for i, c := range dst.Palette {
		pal[i] = color.RGBAModel.Convert(c).(color.RGBA)
	}

	// strength in 1/256 steps, errors in 1/16 steps
	s := int32(math.Round(strength * 256))
	w := b.Dx()
	cur := make([][4]int32, w+2)
	next := make([][4]int32, w+2)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		so := src.PixOffset(b.Min.X, y)
		do := dst.PixOffset(b.Min.X, y)

		for x := range w {
			px := src.Pix[so+4*x : so+4*x+4 : so+4*x+4]

			var want color.RGBA
			if s == 0 {
				want = color.RGBA{px[0], px[1], px[2], px[3]}
			} else {
				e := &cur[x+1]
				a := clamp8(int32(px[3]) + (e[3]*s)>>12)
				want = color.RGBA{
					R: min(clamp8(int32(px[0])+(e[0]*s)>>12), a),
					G: min(clamp8(int32(px[1])+(e[1]*s)>>12), a),
					B: min(clamp8(int32(px[2])+(e[2]*s)>>12), a),
					A: a,
				}
			}

			idx := m.Index(want)
			dst.Pix[do+x] = uint8(idx)
			if s == 0 {
				continue
			}

			got := pal[idx]
			diff := [4]int32{
				int32(want.R) - int32(got.R),
				int32(want.G) - int32(got.G),
				int32(want.B) - int32(got.B),
				int32(want.A) - int32(got.A),
			}
			for k, d := range diff {
				cur[x+2][k] += 7 * d
				next[x][k] += 3 * d
				next[x+1][k] += 5 * d
				next[x+2][k] += d
			}
		}

		cur, next = next, cur
		clear(next)
	}
}

func clamp8(v int32) uint8 {
	return uint8(min(255, max(0, v)))
}
