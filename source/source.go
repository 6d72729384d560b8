// Package source enumerates the images of a directory.
package source

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/vp8l"
	_ "golang.org/x/image/webp"
)

var (
	// ErrDecode marks a single file that could not be read as an image.
	ErrDecode = errors.New("decode failure")
	// ErrDirectory marks a directory that could not be listed.
	ErrDirectory = errors.New("directory failure")
)

// Entry is a file whose image header decoded. The pixels are decoded
// later, by whoever draws the image.
type Entry struct {
	Path   string
	Format string
	Width  int
	Height int
	// Pass is the zero based traversal pass the entry was found in.
	Pass int
}

func (e Entry) Decode() (image.Image, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open image %q: %w", ErrDecode, e.Path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Error("could not close image", "file", e.Path, "error", closeErr)
		}
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: could not decode image %q: %w", ErrDecode, e.Path, err)
	}
	return img, nil
}

// Dir lists the regular files of one directory in name order. With Repeat
// set it starts over after the last file, until the consumer stops or a
// whole pass produced no image.
type Dir struct {
	Path   string
	Repeat bool
}

func New(dir string, repeat bool) *Dir {
	return &Dir{Path: dir, Repeat: repeat}
}

// Each calls fn for every file in the directory, with either an entry or an
// error wrapping ErrDecode. Enumeration stops when fn returns false. The
// returned error wraps ErrDirectory when the directory cannot be listed;
// decode errors are only ever handed to fn.
func (d *Dir) Each(fn func(Entry, error) bool) error {
	for pass := 0; ; pass++ {
		files, err := os.ReadDir(d.Path)
		if err != nil {
			return fmt.Errorf("%w: unable to read folder %q: %w", ErrDirectory, d.Path, err)
		}

		var found int
		for _, file := range files {
			if file.IsDir() {
				continue
			}

			name := filepath.Join(d.Path, file.Name())
			if !file.Type().IsRegular() {
				if info, err := os.Stat(name); err != nil || !info.Mode().IsRegular() {
					continue
				}
			}

			entry, err := probe(name)
			if err == nil {
				found++
				entry.Pass = pass
			}
			if !fn(entry, err) {
				return nil
			}
		}

		if !d.Repeat || found == 0 {
			return nil
		}
	}
}

func probe(name string) (Entry, error) {
	f, err := os.Open(name)
	if err != nil {
		return Entry{Path: name}, fmt.Errorf("%w: could not open image %q: %w", ErrDecode, name, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Error("could not close image", "file", name, "error", closeErr)
		}
	}()

	conf, format, err := image.DecodeConfig(f)
	if err != nil {
		return Entry{Path: name}, fmt.Errorf("%w: could not read image %q: %w", ErrDecode, name, err)
	}
	if conf.Width <= 0 || conf.Height <= 0 {
		return Entry{Path: name}, fmt.Errorf("%w: empty image %q: %dx%d", ErrDecode, name, conf.Width, conf.Height)
	}

	return Entry{
		Path:   name,
		Format: format,
		Width:  conf.Width,
		Height: conf.Height,
	}, nil
}
