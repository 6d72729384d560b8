package palette

import (
	"fmt"
	"image/color"
	"math"

	"posterwall/okcolor"
)

type Metric string

// maxCached bounds the per matcher cache; dithered images produce a lot of
// distinct colours.
const maxCached = 1 << 18

const (
	// RGB compares premultiplied sRGB channels, like color.Palette.Index.
	RGB Metric = "rgb"
	// OKLab compares colours in the perceptual OKLab space.
	OKLab Metric = "oklab"
)

// Matcher finds the closest palette entry to a colour. Matchers cache their
// answers and are not safe for concurrent use.
type Matcher interface {
	Index(c color.RGBA) int
}

func NewMatcher(pal color.Palette, metric Metric) (Matcher, error) {
	if len(pal) == 0 {
		return nil, fmt.Errorf("empty palette")
	}

	switch metric {
	case RGB, "":
		m := &rgbMatcher{cache: make(map[color.RGBA]int)}
		for _, c := range pal {
			m.pal = append(m.pal, color.RGBAModel.Convert(c).(color.RGBA))
		}
		return m, nil
	case OKLab:
		m := &labMatcher{cache: make(map[color.RGBA]int)}
		for _, c := range pal {
			m.pal = append(m.pal, okcolor.LabModel.Convert(c).(okcolor.Lab))
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported color metric: %q", metric)
	}
}

type rgbMatcher struct {
	pal   []color.RGBA
	cache map[color.RGBA]int
}

func (p *rgbMatcher) Index(c color.RGBA) int {
	if i, ok := p.cache[c]; ok {
		return i
	}

	ret, bestSum := 0, math.MaxInt
	for i, v := range p.pal {
		dr := int(c.R) - int(v.R)
		dg := int(c.G) - int(v.G)
		db := int(c.B) - int(v.B)
		da := int(c.A) - int(v.A)
		sum := dr*dr + dg*dg + db*db + da*da
		if sum < bestSum {
			ret, bestSum = i, sum
			if sum == 0 {
				break
			}
		}
	}

	if len(p.cache) < maxCached {
		p.cache[c] = ret
	}
	return ret
}

type labMatcher struct {
	pal   []okcolor.Lab
	cache map[color.RGBA]int
}

func (p *labMatcher) Index(c color.RGBA) int {
	if i, ok := p.cache[c]; ok {
		return i
	}

	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	lc := okcolor.FromLinear(okcolor.FromNRGBA8(n.R, n.G, n.B, n.A))

	ret, bestSum := 0, math.MaxFloat64
	for i, v := range p.pal {
		sum := lc.Distance(v)
		if sum < bestSum {
			ret, bestSum = i, sum
			if sum == 0 {
				break
			}
		}
	}

	if len(p.cache) < maxCached {
		p.cache[c] = ret
	}
	return ret
}

// Unique drops repeated colours, keeping the first occurrence.
func Unique(pal color.Palette) color.Palette {
	seen := make(map[color.RGBA]struct{}, len(pal))
	res := pal[:0:0]
	for _, c := range pal {
		k := color.RGBAModel.Convert(c).(color.RGBA)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		res = append(res, c)
	}
	return res
}
