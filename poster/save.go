package poster

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func formatOf(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		return "png", nil
	case ".bmp":
		return "bmp", nil
	case ".tif", ".tiff":
		return "tiff", nil
	default:
		return "", fmt.Errorf("unsupported output format: %q", ext)
	}
}

// save encodes img in the format matching the extension of path.
func save(path string, img image.Image) error {
	format, err := formatOf(path)
	if err != nil {
		return err
	}

	return atomicWrite(path, func(w io.Writer) error {
		switch format {
		case "png":
			enc := png.Encoder{
				CompressionLevel: png.BestCompression,
				BufferPool:       pngPool,
			}
			if err := enc.Encode(w, img); err != nil {
				return fmt.Errorf("could not encode PNG destination %q: %w", path, err)
			}
		case "bmp":
			if err := bmp.Encode(w, img); err != nil {
				return fmt.Errorf("could not encode BMP destination %q: %w", path, err)
			}
		case "tiff":
			if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
				return fmt.Errorf("could not encode TIFF destination %q: %w", path, err)
			}
		}
		return nil
	})
}

func writeFile(path string, data []byte) error {
	return atomicWrite(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// atomicWrite fills a temporary file next to path and renames it over path
// once write succeeded. The temporary file is removed otherwise.
func atomicWrite(path string, write func(io.Writer) error) (err error) {
	dir, name := filepath.Split(path)
	outFile, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("could not create temporary destination for %q: %w", path, err)
	}
	canRename := false
	defer func() {
		if defErr := outFile.Sync(); defErr != nil && err == nil {
			err = fmt.Errorf("could not flush temporary destination %q: %w", outFile.Name(), defErr)
		}
		if defErr := outFile.Close(); defErr != nil && err == nil {
			err = fmt.Errorf("could not close temporary destination %q: %w", outFile.Name(), defErr)
		}

		if canRename && err == nil {
			if defErr := os.Rename(outFile.Name(), path); defErr != nil {
				err = fmt.Errorf("could not rename destination file %q: %w", path, defErr)
			}
		}
		if err != nil {
			_ = os.Remove(outFile.Name())
		}
	}()

	if err = write(outFile); err != nil {
		return err
	}
	// CreateTemp makes the file owner only.
	if err = outFile.Chmod(0o644); err != nil {
		return fmt.Errorf("could not set mode of temporary destination %q: %w", outFile.Name(), err)
	}

	canRename = true
	return nil
}

// parseHexToColor reads #RGB, #RGBA, #RRGGBB or #RRGGBBAA. Colors are
// straight, not premultiplied.
func parseHexToColor(s string) (color.Color, error) {
	hex, ok := strings.CutPrefix(s, "#")
	if !ok {
		return nil, fmt.Errorf("invalid color %q, should start with #", s)
	}

	var digits int
	switch len(hex) {
	case 3, 4:
		digits = 1
	case 6, 8:
		digits = 2
	default:
		return nil, fmt.Errorf("invalid color %q, should be #RGB, #RGBA, #RRGGBB or #RRGGBBAA", s)
	}

	fields := [4]uint8{0, 0, 0, 0xff}
	for i := 0; i*digits < len(hex); i++ {
		v, err := strconv.ParseUint(hex[i*digits:(i+1)*digits], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("could not read color %q: %w", s, err)
		}
		if digits == 1 {
			v |= v << 4
		}
		fields[i] = uint8(v)
	}

	return color.NRGBA{fields[0], fields[1], fields[2], fields[3]}, nil
}

type pngEncoderBufferPool struct {
	pool sync.Pool
}

func (p *pngEncoderBufferPool) Get() *png.EncoderBuffer {
	return p.pool.Get().(*png.EncoderBuffer)
}

func (p *pngEncoderBufferPool) Put(buf *png.EncoderBuffer) {
	p.pool.Put(buf)
}

var pngPool = &pngEncoderBufferPool{
	pool: sync.Pool{
		New: func() any {
			return &png.EncoderBuffer{}
		},
	},
}
