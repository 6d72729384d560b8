// Package quantize reduces an image to a small palette.
//
// The palette comes from a median cut over the opaque pixels, with one extra
// transparent entry when the image has transparent pixels. Pixels are then
// mapped to their closest entry while the mapping error is diffused to the
// neighbours (Floyd-Steinberg) at a configurable strength.
package quantize

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"posterwall/palette"

	"github.com/ericpauley/go-quantize/quantize"
	"golang.org/x/image/draw"
)

var (
	ErrOptions = errors.New("invalid quantization options")
	// ErrQuality is returned, together with the result, when the mapped
	// image scores below the requested minimum.
	ErrQuality = errors.New("quality below minimum")
)

type Options struct {
	// MaxColors bounds the palette, 2 to 256 entries.
	MaxColors int
	// Quality is the minimum accepted Score, 0 accepts anything.
	Quality int
	// Dither is the error diffusion strength between 0 (none) and 1 (full).
	Dither float64
	Metric palette.Metric
	// Palette replaces the generated palette when set.
	Palette color.Palette
}

func (o Options) Validate() error {
	switch {
	case o.MaxColors < 2 || o.MaxColors > palette.MaxColors:
		return fmt.Errorf("%w: colors must be between 2 and %d: %d", ErrOptions, palette.MaxColors, o.MaxColors)
	case o.Quality < 0 || o.Quality > 100:
		return fmt.Errorf("%w: quality must be between 0 and 100: %d", ErrOptions, o.Quality)
	case o.Dither < 0 || o.Dither > 1 || math.IsNaN(o.Dither):
		return fmt.Errorf("%w: dither level must be between 0 and 1: %v", ErrOptions, o.Dither)
	case len(o.Palette) > o.MaxColors:
		return fmt.Errorf("%w: fixed palette has %d colors, more than %d", ErrOptions, len(o.Palette), o.MaxColors)
	}
	return nil
}

// Quantize maps every pixel of m onto a palette of at most opts.MaxColors
// colours. The result has the bounds of m; its Palette and Pix hold the
// palette and the per pixel indices. The same input always gives the same
// output.
func Quantize(m image.Image, opts Options) (*image.Paletted, int, error) {
	if err := opts.Validate(); err != nil {
		return nil, 0, err
	}

	src := toRGBA(m)
	pal := opts.Palette
	if len(pal) == 0 {
		pal = Generate(src, opts.MaxColors)
	}

	matcher, err := palette.NewMatcher(pal, opts.Metric)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrOptions, err)
	}

	b := src.Bounds()
	dst := image.NewPaletted(b, pal)
	if opts.Dither >= 1 && (opts.Metric == palette.RGB || opts.Metric == "") {
		draw.FloydSteinberg.Draw(dst, b, src, b.Min)
	} else {
		diffuse(dst, src, opts.Dither, matcher)
	}

	score := Score(src, dst)
	if score < opts.Quality {
		return dst, score, fmt.Errorf("%w: %d < %d", ErrQuality, score, opts.Quality)
	}
	return dst, score, nil
}

// maxSample is the largest pixel count the median cut looks at; bigger
// images are sampled down with nearest neighbour scaling first.
const maxSample = 1 << 20

// Generate builds a palette of at most maxColors entries from the pixels of
// m. Fully transparent pixels only contribute a single transparent entry.
func Generate(m *image.RGBA, maxColors int) color.Palette {
	q := quantize.MedianCutQuantizer{
		Aggregation:    quantize.Mean,
		Weighting:      opaqueWeight,
		AddTransparent: hasTransparent(m),
	}

	pal := palette.Unique(q.Quantize(make(color.Palette, 0, maxColors), sample(m)))
	if len(pal) == 0 {
		pal = color.Palette{color.RGBA{}}
	}
	return pal
}

func sample(m *image.RGBA) *image.RGBA {
	b := m.Bounds()
	n := b.Dx() * b.Dy()
	if n <= maxSample {
		return m
	}

	f := math.Sqrt(float64(maxSample) / float64(n))
	r := image.Rect(0, 0, max(1, int(float64(b.Dx())*f)), max(1, int(float64(b.Dy())*f)))
	dst := image.NewRGBA(r)
	draw.NearestNeighbor.Scale(dst, r, m, b, draw.Src, nil)
	return dst
}

func opaqueWeight(m image.Image, x, y int) uint32 {
	if rgba, ok := m.(*image.RGBA); ok {
		if rgba.Pix[rgba.PixOffset(x, y)+3] == 0 {
			return 0
		}
		return 1
	}
	if _, _, _, a := m.At(x, y).RGBA(); a == 0 {
		return 0
	}
	return 1
}

func hasTransparent(m *image.RGBA) bool {
	b := m.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := m.Pix[m.PixOffset(b.Min.X, y):m.PixOffset(b.Max.X, y)]
		for i := 3; i < len(row); i += 4 {
			if row[i] == 0 {
				return true
			}
		}
	}
	return false
}

func toRGBA(m image.Image) *image.RGBA {
	if rgba, ok := m.(*image.RGBA); ok {
		return rgba
	}
	b := m.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, m, b.Min, draw.Src)
	return rgba
}

// Score rates how close the indexed image q is to m, from 0 to 100, based
// on the root mean square error over all channels.
func Score(m *image.RGBA, q *image.Paletted) int {
	b := m.Bounds()
	if b.Empty() {
		return 100
	}

	pal := make([]color.RGBA, len(q.Palette))
	for i, c := range q.Palette {
		pal[i] = color.RGBAModel.Convert(c).(color.RGBA)
	}

	var sum uint64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		so := m.PixOffset(b.Min.X, y)
		qo := q.PixOffset(b.Min.X, y)
		for x := range b.Dx() {
			px := m.Pix[so+4*x : so+4*x+4 : so+4*x+4]
			c := pal[q.Pix[qo+x]]
			for k, v := range [4]uint8{c.R, c.G, c.B, c.A} {
				d := int64(px[k]) - int64(v)
				sum += uint64(d * d)
			}
		}
	}

	rmse := math.Sqrt(float64(sum) / float64(4*b.Dx()*b.Dy()))
	return int(math.Round(100 * (1 - rmse/255)))
}
