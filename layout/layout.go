// Package layout assigns placement slots on the poster canvas.
//
// Images are packed left to right in bands of a fixed height. Once the
// insertion point has moved past the right edge the next image still lands
// at the current point and only afterwards the cursor wraps to a new row, so
// the last image of a row may run off the canvas (it is clipped when drawn).
// Odd rows start half a band to the left, which gives the brick pattern.
package layout

import (
	"fmt"
	"image"
	"math"
	"sync"
)

type Mode string

const (
	Realtime Mode = "realtime"
	Batch    Mode = "batch"
)

// minBatchBand is the smallest band height used in batch mode.
const minBatchBand = 100

// BandHeight derives the band height for a canvas of the given height.
func BandHeight(mode Mode, canvasHeight, gap int) int {
	switch mode {
	case Realtime:
		return max(1, (canvasHeight-gap*9)/10)
	default:
		return max(minBatchBand, (canvasHeight-gap*5)/6)
	}
}

type Config struct {
	Width      int
	Height     int
	Gap        int
	BandHeight int
}

func (c Config) Validate() error {
	switch {
	case c.Width < 0:
		return fmt.Errorf("invalid canvas width: %d", c.Width)
	case c.Height < 0:
		return fmt.Errorf("invalid canvas height: %d", c.Height)
	case c.Gap < 0:
		return fmt.Errorf("invalid gap: %d", c.Gap)
	case c.BandHeight < 1:
		return fmt.Errorf("invalid band height: %d", c.BandHeight)
	}
	return nil
}

// Cursor is the insertion point of the next image. X may be negative on
// staggered rows.
type Cursor struct {
	X   int
	Y   int
	Row int
}

// Slot is the area one source image is drawn to.
type Slot struct {
	image.Rectangle
}

// TargetWidth returns the width of a srcW x srcH image scaled to the band
// height, keeping its aspect ratio. The result is at least one pixel.
func TargetWidth(srcW, srcH, band int) int {
	if srcH <= 0 {
		return 1
	}
	return max(1, int(math.Round(float64(srcW)*float64(band)/float64(srcH))))
}

// Full reports whether no further slot may be produced at cursor c.
func Full(c Cursor, cfg Config) bool {
	return c.Y > cfg.Height || cfg.Height < cfg.BandHeight
}

// Allocate places a srcW x srcH image at cursor c and returns the slot and
// the advanced cursor. It returns false, and leaves the cursor untouched,
// when the canvas is full.
func Allocate(c Cursor, srcW, srcH int, cfg Config) (Slot, Cursor, bool) {
	if Full(c, cfg) {
		return Slot{}, c, false
	}

	w := TargetWidth(srcW, srcH, cfg.BandHeight)
	slot := Slot{image.Rect(c.X, c.Y, c.X+w, c.Y+cfg.BandHeight)}

	if c.X < cfg.Width {
		c.X += w + cfg.Gap
	} else {
		c.Row++
		c.Y += cfg.BandHeight + cfg.Gap
		if c.Row%2 == 1 {
			c.X = -cfg.BandHeight / 2
		} else {
			c.X = 0
		}
	}

	return slot, c, true
}

// Allocator hands out slots in call order. The stop check and the cursor
// update happen under one lock, so concurrent callers never see a cursor
// where X belongs to one placement and Y to another.
type Allocator struct {
	mu     sync.Mutex
	cfg    Config
	cursor Cursor
}

func NewAllocator(cfg Config) *Allocator {
	return &Allocator{cfg: cfg}
}

// Next returns the slot for the next image, or false once the canvas is
// full. A false result is not sticky by itself, but since Y never decreases
// every later call returns false as well.
func (a *Allocator) Next(srcW, srcH int) (Slot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot, next, ok := Allocate(a.cursor, srcW, srcH, a.cfg)
	a.cursor = next
	return slot, ok
}

func (a *Allocator) Cursor() Cursor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursor
}

func (a *Allocator) Config() Config {
	return a.cfg
}
