package compose

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

type Filter string

const (
	Nearest    Filter = "nearest"
	Bilinear   Filter = "bilinear"
	CatmullRom Filter = "catmullrom"
	Lanczos    Filter = "lanczos"
)

// Resampler scales src to fill dr and composites it over dst. Pixels of dr
// outside dst's bounds are skipped.
type Resampler interface {
	Resample(dst draw.Image, dr image.Rectangle, src image.Image)
}

func NewResampler(f Filter) (Resampler, error) {
	switch f {
	case Nearest:
		return interpolator{draw.NearestNeighbor}, nil
	case Bilinear:
		return interpolator{draw.ApproxBiLinear}, nil
	case CatmullRom:
		return interpolator{draw.CatmullRom}, nil
	case Lanczos:
		return lanczos{}, nil
	default:
		return nil, fmt.Errorf("unsupported resize filter: %q", f)
	}
}

type interpolator struct {
	draw.Interpolator
}

func (i interpolator) Resample(dst draw.Image, dr image.Rectangle, src image.Image) {
	sr := src.Bounds()
	if sr.Size() == dr.Size() {
		draw.Draw(dst, dr, src, sr.Min, draw.Over)
		return
	}
	i.Scale(dst, dr, src, sr, draw.Over, nil)
}

// lanczos resizes into a scratch image first, nfnt/resize does not draw
// into an existing destination.
type lanczos struct{}

func (lanczos) Resample(dst draw.Image, dr image.Rectangle, src image.Image) {
	m := src
	if src.Bounds().Size() != dr.Size() {
		m = resize.Resize(uint(dr.Dx()), uint(dr.Dy()), src, resize.Lanczos3)
	}
	draw.Draw(dst, dr, m, m.Bounds().Min, draw.Over)
}

// Composite scales img to the region's slot and draws it source-over onto
// the canvas. Nothing is done for a slot that lies entirely off the canvas.
func Composite(region *Region, img image.Image, rs Resampler) {
	if region.Visible().Empty() || region.slot.Empty() {
		return
	}
	if rs == nil {
		rs = interpolator{draw.NearestNeighbor}
	}
	rs.Resample(region.dst, region.slot, img)
}
