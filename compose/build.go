// Package compose assembles the poster wall.
//
// Build walks the image source on the calling goroutine and hands each
// image to a worker for decoding. The decoded results are collected back in
// listing order; only an image that decoded gets a slot from the layout
// allocator, and the slot, as a Region, goes to a worker that scales and
// draws the image. The cursor is therefore never shared with the workers,
// regions never overlap, and a file that fails to decode leaves no trace in
// the layout.
package compose

import (
	"image"
	"log/slog"
	"sync/atomic"

	"posterwall/layout"
	"posterwall/parallel"
	"posterwall/source"
)

// defaultLookahead is the number of decodes that may be in flight ahead of
// the oldest unplaced image.
const defaultLookahead = 8

type Source interface {
	Each(fn func(source.Entry, error) bool) error
}

type Options struct {
	Layout    layout.Config
	Resampler Resampler
	Logger    *slog.Logger
	// Lookahead bounds the decodes in flight, defaultLookahead when < 1.
	Lookahead int
}

// Stats counts what happened to the images of a run.
type Stats struct {
	// Placed images were drawn onto the canvas.
	Placed uint64
	// Failed images had a readable header but their pixels could not be
	// decoded. They consumed no slot.
	Failed uint64
	// Skipped files were not images and consumed no slot.
	Skipped uint64
}

// Build composes every image of src onto a new canvas and returns it once
// all dispatched work has finished. Errors from src, a directory failure in
// particular, are returned after waiting for work already dispatched.
func Build(src Source, opts Options, worker parallel.WorkerFunc, wait parallel.WaitFunc) (*image.RGBA, Stats, error) {
	if err := opts.Layout.Validate(); err != nil {
		return nil, Stats{}, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lookahead := opts.Lookahead
	if lookahead < 1 {
		lookahead = defaultLookahead
	}

	canvas := NewCanvas(opts.Layout.Width, opts.Layout.Height)
	alloc := layout.NewAllocator(opts.Layout)

	var placed atomic.Uint64
	var failed, skipped uint64

	// pending holds the decode results not placed yet, oldest first.
	var pending []chan decoded
	// pass and passPlaced stop a cyclic source whose images never decode.
	var pass, passPlaced int

	place := func() bool {
		d := <-pending[0]
		pending = pending[1:]

		if d.entry.Pass != pass {
			if passPlaced == 0 {
				logger.Info("no image placed in a whole pass", "pass", pass)
				return false
			}
			pass, passPlaced = d.entry.Pass, 0
		}

		fileLog := logger.With("file", d.entry.Path)
		if d.err != nil {
			failed++
			fileLog.Error("could not decode image", "error", d.err)
			return true
		}

		b := d.img.Bounds()
		slot, ok := alloc.Next(b.Dx(), b.Dy())
		if !ok {
			logger.Info("canvas full", "file", d.entry.Path, "cursor", alloc.Cursor())
			return false
		}
		passPlaced++
		region := canvas.Region(slot.Rectangle)

		worker(func() {
			fileLog.Debug("compositing", "slot", slot.Rectangle, "visible", region.Visible())
			Composite(region, d.img, opts.Resampler)
			placed.Add(1)
		})
		return true
	}

	open := true
	err := src.Each(func(e source.Entry, err error) bool {
		if err != nil {
			skipped++
			logger.Error("could not open image", "error", err)
			return true
		}

		ch := make(chan decoded, 1)
		worker(func() {
			img, err := e.Decode()
			ch <- decoded{entry: e, img: img, err: err}
		})
		pending = append(pending, ch)

		if len(pending) >= lookahead {
			open = place()
		}
		return open
	})

	for err == nil && open && len(pending) > 0 {
		open = place()
	}

	wait(false)

	stats := Stats{
		Placed:  placed.Load(),
		Failed:  failed,
		Skipped: skipped,
	}
	if err != nil {
		return nil, stats, err
	}
	return canvas.Image(), stats, nil
}

type decoded struct {
	entry source.Entry
	img   image.Image
	err   error
}
