// Package poster is the command that turns a folder of images into a poster
// wall raster and, optionally, a palette reduced copy of it.
package poster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"posterwall/compose"
	"posterwall/layout"
	"posterwall/palette"
	"posterwall/parallel"
	"posterwall/pngopt"
	"posterwall/quantize"
	"posterwall/source"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	homedir "github.com/mitchellh/go-homedir"
	"golang.org/x/image/draw"
)

var (
	// ErrPersist marks a failure to write an output file.
	ErrPersist = errors.New("persist failure")
	// ErrQuantize marks a failure of the palette reduction stage. The raw
	// poster is already on disk when it is returned.
	ErrQuantize = errors.New("quantization failure")
)

type CLICmd struct {
	Dir        string `help:"Folder with the source images" short:"d" aliases:"directory" default:"."`
	Output     string `help:"Poster file, the format follows the extension (png, bmp, tif, tiff)" default:"poster.png"`
	Width      int    `help:"Canvas width" default:"4096" group:"layout"`
	Height     int    `help:"Canvas height" default:"2160" group:"layout"`
	Gap        int    `help:"Space between images and rows" default:"10" group:"layout"`
	BandHeight int    `help:"Row height, derived from the canvas height and mode when 0" default:"0" group:"layout"`
	Mode       string `help:"Preset for filter, repeat and quantize when those are auto" enum:"realtime,batch" default:"batch"`
	Filter     string `help:"Resize filter" enum:"auto,nearest,bilinear,catmullrom,lanczos" default:"auto" group:"layout"`
	Repeat     string `help:"Cycle through the folder until the canvas is full" enum:"auto,on,off" default:"auto" group:"layout"`
	Background string `help:"Flatten the poster onto this color (#RGB, #RGBA, #RRGGBB or #RRGGBBAA) before saving" group:"layout"`

	Quantize        string  `help:"Write a palette reduced copy of the poster" enum:"auto,on,off" default:"auto" group:"quantize"`
	QuantizedOutput string  `help:"Palette reduced PNG, <output>.min.png when empty" group:"quantize"`
	Colors          int     `help:"Maximum palette size" default:"256" group:"quantize"`
	Quality         int     `help:"Minimum accepted quality score (0-100)" default:"0" group:"quantize"`
	Dither          float64 `help:"Error diffusion strength (0-1)" default:"1.0" group:"quantize"`
	Metric          string  `help:"Color distance used to match palette entries" enum:"rgb,oklab" default:"rgb" group:"quantize"`
	Palette         string  `help:"PAL file in RIFF format to use instead of a generated palette" group:"quantize"`
	PaletteOut      string  `help:"Export the palette as a PAL file in RIFF format" group:"quantize"`
	Strip           bool    `help:"Drop ancillary PNG chunks from the palette reduced copy" default:"false" group:"quantize"`

	layout     layout.Config
	filter     compose.Filter
	repeat     bool
	quantize   bool
	fixed      color.Palette
	background color.Color
}

func (c *CLICmd) Validate(kctx *kong.Context) error {
	dir, err := absPath(c.Dir)
	var info os.FileInfo
	if err == nil {
		if info, err = os.Stat(dir); err == nil && !info.IsDir() {
			err = fmt.Errorf("not a directory")
		}
	}
	if err != nil {
		return fmt.Errorf("%w: invalid scan path %q: %w", source.ErrDirectory, c.Dir, err)
	}
	c.Dir = dir

	if c.Output, err = absPath(c.Output); err != nil {
		return fmt.Errorf("invalid output path %q: %w", c.Output, err)
	}
	if _, err = formatOf(c.Output); err != nil {
		return err
	}

	switch {
	case c.Width < 1:
		return fmt.Errorf("invalid canvas width: %d", c.Width)
	case c.Height < 1:
		return fmt.Errorf("invalid canvas height: %d", c.Height)
	case c.Gap < 0:
		return fmt.Errorf("invalid gap: %d", c.Gap)
	case c.BandHeight < 0:
		return fmt.Errorf("invalid band height: %d", c.BandHeight)
	}

	mode := layout.Mode(c.Mode)
	c.layout = layout.Config{
		Width:      c.Width,
		Height:     c.Height,
		Gap:        c.Gap,
		BandHeight: c.BandHeight,
	}
	if c.layout.BandHeight == 0 {
		c.layout.BandHeight = layout.BandHeight(mode, c.Height, c.Gap)
	}

	c.filter = compose.Filter(c.Filter)
	if c.Filter == "auto" {
		c.filter = compose.Lanczos
		if mode == layout.Realtime {
			c.filter = compose.Nearest
		}
	}
	c.repeat = c.Repeat == "on" || (c.Repeat == "auto" && mode == layout.Batch)
	c.quantize = c.Quantize == "on" || (c.Quantize == "auto" && mode == layout.Batch)

	if c.Background != "" {
		if c.background, err = parseHexToColor(c.Background); err != nil {
			return err
		}
	}

	if !c.quantize {
		return nil
	}

	if c.QuantizedOutput == "" {
		c.QuantizedOutput = strings.TrimSuffix(c.Output, filepath.Ext(c.Output)) + ".min.png"
	}
	if c.QuantizedOutput, err = absPath(c.QuantizedOutput); err != nil {
		return fmt.Errorf("invalid quantized output path %q: %w", c.QuantizedOutput, err)
	}
	if c.QuantizedOutput == c.Output {
		return fmt.Errorf("quantized output would overwrite the poster: %q", c.Output)
	}

	if c.Palette != "" {
		if c.Palette, err = absPath(c.Palette); err != nil {
			return fmt.Errorf("invalid palette path %q: %w", c.Palette, err)
		}
		if c.fixed, err = palette.Load(c.Palette); err != nil {
			return err
		}
	}
	if c.PaletteOut != "" {
		if c.PaletteOut, err = absPath(c.PaletteOut); err != nil {
			return fmt.Errorf("invalid palette output path %q: %w", c.PaletteOut, err)
		}
	}

	return c.quantizeOptions().Validate()
}

func (c *CLICmd) quantizeOptions() quantize.Options {
	return quantize.Options{
		MaxColors: c.Colors,
		Quality:   c.Quality,
		Dither:    c.Dither,
		Metric:    palette.Metric(c.Metric),
		Palette:   c.fixed,
	}
}

func (c *CLICmd) Run(worker parallel.WorkerFunc, wait parallel.WaitFunc) error {
	logger := slog.Default().With("run", uuid.NewString())
	logger.Info("building poster", "dir", c.Dir, "width", c.layout.Width, "height", c.layout.Height,
		"band", c.layout.BandHeight, "gap", c.layout.Gap, "filter", c.filter, "repeat", c.repeat)

	rs, err := compose.NewResampler(c.filter)
	if err != nil {
		return err
	}

	canvas, stats, err := compose.Build(source.New(c.Dir, c.repeat), compose.Options{
		Layout:    c.layout,
		Resampler: rs,
		Logger:    logger,
	}, worker, wait)
	if err != nil {
		return err
	}
	logger.Info("stats", "placed", stats.Placed, "failed", stats.Failed, "skipped", stats.Skipped,
		"total", stats.Placed+stats.Failed)

	var img image.Image = canvas
	if c.background != nil {
		img = flatten(canvas, c.background)
	}

	if err = save(c.Output, img); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	logger.Info("saved poster", "file", c.Output)

	if !c.quantize {
		return nil
	}
	return c.compress(logger.With("file", c.QuantizedOutput), img)
}

// compress writes the palette reduced copy of img and, when asked, its
// palette.
func (c *CLICmd) compress(logger *slog.Logger, img image.Image) error {
	q, score, err := quantize.Quantize(img, c.quantizeOptions())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrQuantize, err)
	}
	logger.Info("quantized", "colors", len(q.Palette), "score", score)

	var buf bytes.Buffer
	enc := png.Encoder{
		CompressionLevel: png.BestCompression,
		BufferPool:       pngPool,
	}
	if err = enc.Encode(&buf, q); err != nil {
		return fmt.Errorf("%w: could not encode PNG: %w", ErrQuantize, err)
	}

	data, err := pngopt.Optimize(buf.Bytes(), pngopt.Options{Strip: c.Strip})
	switch {
	case errors.Is(err, pngopt.ErrUnsupported):
		logger.Warn("keeping encoder output", "error", err)
		data = buf.Bytes()
	case err != nil:
		return fmt.Errorf("%w: %w", ErrQuantize, err)
	}
	logger.Debug("optimized", "encoded", buf.Len(), "optimized", len(data))

	if err = writeFile(c.QuantizedOutput, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	logger.Info("saved quantized poster", "bytes", len(data))

	if c.PaletteOut != "" {
		if err = palette.Save(c.PaletteOut, q.Palette); err != nil {
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
		logger.Info("saved palette", "palette", c.PaletteOut)
	}
	return nil
}

// flatten draws m over a canvas filled with bg.
func flatten(m *image.RGBA, bg color.Color) *image.RGBA {
	b := m.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(dst, b, m, b.Min, draw.Over)
	return dst
}

func absPath(p string) (string, error) {
	p, err := homedir.Expand(p)
	if err != nil {
		return "", err
	}
	return filepath.Abs(p)
}
