// Package palette reads and writes palettes in the Microsoft RIFF PAL
// format and maps colours onto a palette.
package palette

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"os"

	"golang.org/x/image/riff"
)

/*
typedef struct tagLOGPALETTE {
  WORD         palVersion;
  WORD         palNumEntries;
  PALETTEENTRY palPalEntry[1];
} LOGPALETTE;

typedef struct tagPALETTEENTRY {
  BYTE peRed;
  BYTE peGreen;
  BYTE peBlue;
  BYTE peFlags;
} PALETTEENTRY;
*/

// MaxColors is the largest palette an indexed image can reference.
const MaxColors = 256

var (
	riffType = riff.FourCC{'R', 'I', 'F', 'F'}
	palType  = riff.FourCC{'P', 'A', 'L', ' '}
	dataType = riff.FourCC{'d', 'a', 't', 'a'}
)

var errTooManyColors = errors.New("too many colors")

// Load reads every palette of a RIFF PAL file and returns their colours as
// one palette, without duplicates.
func Load(path string) (color.Palette, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open palette %q: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Error("could not close palette", "file", path, "error", closeErr)
		}
	}()

	pals, err := ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("could not load palette %q: %w", path, err)
	}

	var all color.Palette
	for _, pal := range pals {
		all = append(all, pal...)
	}
	all = Unique(all)

	switch {
	case len(all) == 0:
		return nil, fmt.Errorf("empty palette %q", path)
	case len(all) > MaxColors:
		return nil, fmt.Errorf("palette %q: %w: %d", path, errTooManyColors, len(all))
	}
	return all, nil
}

// Save writes pal to path as a single palette RIFF PAL file.
func Save(path string, pal color.Palette) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create palette %q: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("could not close palette %q: %w", path, closeErr)
		}
	}()

	if _, err = WriteTo(f, []color.Palette{pal}); err != nil {
		return fmt.Errorf("could not save palette %q: %w", path, err)
	}
	return nil
}

func ReadFrom(r io.Reader) ([]color.Palette, error) {
	formType, rd, err := riff.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not open RIFF stream: %w", err)
	} else if formType != palType {
		return nil, fmt.Errorf("unsupported RIFF content type: %s", string(formType[:]))
	}

	return readPalettes(rd, string(formType[:]))
}

func readPalettes(r *riff.Reader, ident string) ([]color.Palette, error) {
	var res []color.Palette

	for {
		id, size, data, err := r.Next()
		if err != nil {
			if err == io.EOF {
				return res, nil
			}
			return res, fmt.Errorf("could not read chunk %q#%d: %w", ident, len(res), err)
		}

		switch id {
		case riff.LIST:
			listType, list, err := riff.NewListReader(size, data)
			if err != nil {
				return res, fmt.Errorf("could not read list from chunk %q#%d: %w", ident, len(res), err)
			} else if listType != palType {
				return res, fmt.Errorf("chunk %q#%d unsupported type: %s", ident, len(res), string(listType[:]))
			}

			listRes, err := readPalettes(list, fmt.Sprintf("%s%d.%s", ident, len(res), listType[:]))
			res = append(res, listRes...)
			if err != nil {
				return res, err
			}
		case dataType:
			pal, err := readPalette(data, fmt.Sprintf("%s%d", ident, len(res)))
			if err != nil {
				return res, err
			}
			res = append(res, pal)
		default:
			return res, fmt.Errorf("unsupported chunk type in %q#%d: %s", ident, len(res), id[:])
		}
	}
}

func readPalette(r io.Reader, ident string) (color.Palette, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("could not read header from chunk %s: %w", ident, err)
	}

	if ver := binary.BigEndian.Uint16(head[:2]); ver != 3 {
		return nil, fmt.Errorf("unsupported palette version in chunk %s: %d", ident, ver)
	}

	count := binary.LittleEndian.Uint16(head[2:])
	res := make(color.Palette, count)
	var entry [4]byte
	for i := range res {
		if _, err := io.ReadFull(r, entry[:]); err != nil {
			return res[:i], fmt.Errorf("could not read color %d/%d from chunk %s: %w", i, count, ident, err)
		}

		res[i] = color.RGBA{
			R: entry[0],
			G: entry[1],
			B: entry[2],
			A: 0xff,
		}
	}

	return res, nil
}

// WriteTo writes pals as one RIFF PAL document. PAL entries carry no alpha,
// colours are stored un-premultiplied.
func WriteTo(w io.Writer, pals []color.Palette) (int64, error) {
	size := 4
	for _, pal := range pals {
		if len(pal) > 0xffff {
			return 0, fmt.Errorf("%w: %d", errTooManyColors, len(pal))
		}
		size += 4 + 4 + 4 + len(pal)*4 // chunk id + chunk size + palVersion + palNumEntries + 4 bytes/color
	}

	buf := make([]byte, 0, 8+size)
	buf = append(buf, riffType[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = append(buf, palType[:]...)

	for _, pal := range pals {
		buf = append(buf, dataType[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(4+len(pal)*4))
		buf = append(buf, 0, 0x03)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(pal)))
		for _, col := range pal {
			c := color.NRGBAModel.Convert(col).(color.NRGBA)
			buf = append(buf, c.R, c.G, c.B, 0)
		}
	}

	n, err := w.Write(buf)
	if err == nil && n != len(buf) {
		err = fmt.Errorf("wrote only %d/%d bytes", n, len(buf))
	}
	return int64(n), err
}
