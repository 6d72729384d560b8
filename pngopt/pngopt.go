// Package pngopt rewrites PNG files losslessly into a smaller encoding.
//
// The image data is inflated, unfiltered and then filtered again with each
// of the standard row filters plus an adaptive per row choice. Every
// candidate is recompressed and the smallest one wins. Pixels, palette and
// transparency are never changed.
package pngopt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

var (
	ErrFormat = errors.New("malformed PNG")
	// ErrUnsupported marks valid files the optimizer does not rewrite, such
	// as interlaced images.
	ErrUnsupported = errors.New("unsupported PNG")
)

const signature = "\x89PNG\r\n\x1a\n"

type Options struct {
	// Level is the zlib compression level, 0 means best compression.
	Level int
	// Strip drops ancillary chunks other than tRNS.
	Strip bool
}

type chunk struct {
	typ  string
	data []byte
}

func (c chunk) ancillary() bool {
	return c.typ[0]&0x20 != 0
}

type header struct {
	width, height int
	depth         uint8
	colorType     uint8
	interlace     uint8
}

// bitsPerPixel returns 0 for invalid colour type and depth pairs.
func (h header) bitsPerPixel() int {
	var channels int
	var depths []uint8
	switch h.colorType {
	case 0:
		channels, depths = 1, []uint8{1, 2, 4, 8, 16}
	case 2:
		channels, depths = 3, []uint8{8, 16}
	case 3:
		channels, depths = 1, []uint8{1, 2, 4, 8}
	case 4:
		channels, depths = 2, []uint8{8, 16}
	case 6:
		channels, depths = 4, []uint8{8, 16}
	default:
		return 0
	}
	for _, d := range depths {
		if d == h.depth {
			return channels * int(d)
		}
	}
	return 0
}

// Optimize returns the smallest lossless re-encoding of the PNG in data, or
// data itself when no candidate is smaller.
func Optimize(data []byte, opts Options) ([]byte, error) {
	chunks, err := readChunks(data)
	if err != nil {
		return nil, err
	}

	hdr, err := parseHeader(chunks[0])
	if err != nil {
		return nil, err
	}
	if hdr.interlace != 0 {
		return nil, fmt.Errorf("%w: interlaced image", ErrUnsupported)
	}

	bits := hdr.bitsPerPixel()
	if bits == 0 {
		return nil, fmt.Errorf("%w: color type %d with bit depth %d", ErrFormat, hdr.colorType, hdr.depth)
	}
	bpp := max(1, bits/8)
	stride := (hdr.width*bits + 7) / 8

	var idat bytes.Buffer
	for _, c := range chunks {
		if c.typ == "IDAT" {
			idat.Write(c.data)
		}
	}

	zr, err := zlib.NewReader(&idat)
	if err != nil {
		return nil, fmt.Errorf("%w: image data: %w", ErrFormat, err)
	}
	filtered, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: image data: %w", ErrFormat, err)
	}
	if len(filtered) != hdr.height*(stride+1) {
		return nil, fmt.Errorf("%w: image data is %d bytes, want %d", ErrFormat, len(filtered), hdr.height*(stride+1))
	}

	raw, err := unfilter(filtered, stride, bpp)
	if err != nil {
		return nil, err
	}

	best, err := recompress(raw, stride, bpp, opts.Level)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.WriteString(signature)
	wroteData := false
	for _, c := range chunks {
		switch {
		case c.typ == "IDAT":
			if !wroteData {
				writeChunk(&out, chunk{"IDAT", best})
				wroteData = true
			}
		case opts.Strip && c.ancillary() && c.typ != "tRNS":
			// dropped
		default:
			writeChunk(&out, c)
		}
	}

	if out.Len() >= len(data) {
		return data, nil
	}
	return out.Bytes(), nil
}

func readChunks(data []byte) ([]chunk, error) {
	if !bytes.HasPrefix(data, []byte(signature)) {
		return nil, fmt.Errorf("%w: missing signature", ErrFormat)
	}

	var chunks []chunk
	var hasData bool
	for p := len(signature); ; {
		if len(data)-p < 12 {
			return nil, fmt.Errorf("%w: truncated chunk at offset %d", ErrFormat, p)
		}
		n := binary.BigEndian.Uint32(data[p:])
		if uint64(n) > uint64(len(data)-p-12) {
			return nil, fmt.Errorf("%w: chunk length %d at offset %d", ErrFormat, n, p)
		}

		body := data[p+4 : p+8+int(n)]
		sum := binary.BigEndian.Uint32(data[p+8+int(n):])
		if crc32.ChecksumIEEE(body) != sum {
			return nil, fmt.Errorf("%w: checksum mismatch in %q chunk", ErrFormat, body[:4])
		}

		c := chunk{typ: string(body[:4]), data: body[4:]}
		switch {
		case len(chunks) == 0 && c.typ != "IHDR":
			return nil, fmt.Errorf("%w: first chunk is %q", ErrFormat, c.typ)
		case c.typ == "IDAT":
			hasData = true
		}
		chunks = append(chunks, c)
		p += 12 + int(n)

		if c.typ == "IEND" {
			break
		}
	}

	if !hasData {
		return nil, fmt.Errorf("%w: no image data", ErrFormat)
	}
	return chunks, nil
}

func parseHeader(c chunk) (header, error) {
	if len(c.data) != 13 {
		return header{}, fmt.Errorf("%w: header is %d bytes", ErrFormat, len(c.data))
	}
	h := header{
		width:     int(binary.BigEndian.Uint32(c.data[0:])),
		height:    int(binary.BigEndian.Uint32(c.data[4:])),
		depth:     c.data[8],
		colorType: c.data[9],
		interlace: c.data[12],
	}
	if h.width <= 0 || h.height <= 0 || h.width > 1<<24 || h.height > 1<<24 {
		return header{}, fmt.Errorf("%w: dimensions %dx%d", ErrFormat, h.width, h.height)
	}
	if c.data[10] != 0 || c.data[11] != 0 {
		return header{}, fmt.Errorf("%w: compression or filter method", ErrUnsupported)
	}
	return h, nil
}

func writeChunk(w *bytes.Buffer, c chunk) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(len(c.data)))
	w.Write(b[:])

	crc := crc32.NewIEEE()
	w.WriteString(c.typ)
	crc.Write([]byte(c.typ))
	w.Write(c.data)
	crc.Write(c.data)

	binary.BigEndian.PutUint32(b[:], crc.Sum32())
	w.Write(b[:])
}

// recompress filters raw with every strategy, deflates each candidate and
// returns the smallest stream. Ties go to the earlier strategy.
func recompress(raw []byte, stride, bpp, level int) ([]byte, error) {
	if level == 0 {
		level = zlib.BestCompression
	}

	strategies := []filterFunc{
		fixedFilter(ftNone),
		fixedFilter(ftSub),
		fixedFilter(ftUp),
		fixedFilter(ftAverage),
		fixedFilter(ftPaeth),
		adaptiveFilter,
	}

	results := make([][]byte, len(strategies))
	errs := make([]error, len(strategies))
	var wg sync.WaitGroup
	for i, strategy := range strategies {
		wg.Go(func() {
			var buf bytes.Buffer
			zw, err := zlib.NewWriterLevel(&buf, level)
			if err != nil {
				errs[i] = err
				return
			}
			if _, err = zw.Write(strategy(raw, stride, bpp)); err != nil {
				errs[i] = err
				return
			}
			if err = zw.Close(); err != nil {
				errs[i] = err
				return
			}
			results[i] = buf.Bytes()
		})
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("could not compress image data: %w", err)
	}

	best := results[0]
	for _, r := range results[1:] {
		if len(r) < len(best) {
			best = r
		}
	}
	return best, nil
}
