package compose

import (
	"image"
)

// Canvas is the poster being assembled. Workers never get the canvas
// itself, only a Region limited to their slot.
type Canvas struct {
	img *image.RGBA
}

// NewCanvas returns a fully transparent w x h canvas.
func NewCanvas(w, h int) *Canvas {
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, max(0, w), max(0, h)))}
}

func (c *Canvas) Image() *image.RGBA {
	return c.img
}

func (c *Canvas) Bounds() image.Rectangle {
	return c.img.Rect
}

// Region grants write access to slot r. The part of r outside the canvas is
// cut off, so drawing through the region can not touch any pixel outside
// both r and the canvas.
func (c *Canvas) Region(r image.Rectangle) *Region {
	return &Region{
		slot: r,
		dst:  c.img.SubImage(r).(*image.RGBA),
	}
}

// Region shares pixel memory with its canvas. Regions of disjoint slots may
// be drawn to from different goroutines at the same time.
type Region struct {
	slot image.Rectangle
	dst  *image.RGBA
}

// Slot is the full target rectangle, which may reach past the canvas.
func (r *Region) Slot() image.Rectangle {
	return r.slot
}

// Visible is the part of the slot that lies on the canvas.
func (r *Region) Visible() image.Rectangle {
	return r.dst.Rect
}
