package pngopt

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, m image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&buf, m))
	return buf.Bytes()
}

func samePixels(t *testing.T, want, got []byte) {
	t.Helper()
	a, err := png.Decode(bytes.NewReader(want))
	require.NoError(t, err)
	b, err := png.Decode(bytes.NewReader(got))
	require.NoError(t, err)

	require.Equal(t, a.Bounds(), b.Bounds())
	for y := a.Bounds().Min.Y; y < a.Bounds().Max.Y; y++ {
		for x := a.Bounds().Min.X; x < a.Bounds().Max.X; x++ {
			r1, g1, b1, a1 := a.At(x, y).RGBA()
			r2, g2, b2, a2 := b.At(x, y).RGBA()
			require.Equal(t, [4]uint32{r1, g1, b1, a1}, [4]uint32{r2, g2, b2, a2}, "pixel (%d,%d)", x, y)
		}
	}
}

// gradient has enough structure for the row filters to matter.
func gradient(w, h int, set func(x, y int, v uint8)) {
	r := rand.New(rand.NewSource(int64(w*h + 1)))
	for y := range h {
		for x := range w {
			set(x, y, uint8(x*3+y*5+r.Intn(4)))
		}
	}
}

func testImages() map[string]image.Image {
	const w, h = 67, 41
	rect := image.Rect(0, 0, w, h)

	gray := image.NewGray(rect)
	gradient(w, h, func(x, y int, v uint8) { gray.SetGray(x, y, color.Gray{v}) })

	gray16 := image.NewGray16(rect)
	gradient(w, h, func(x, y int, v uint8) { gray16.SetGray16(x, y, color.Gray16{uint16(v)<<8 | uint16(x)}) })

	rgb := image.NewRGBA(rect)
	gradient(w, h, func(x, y int, v uint8) { rgb.SetRGBA(x, y, color.RGBA{v, v / 2, 255 - v, 0xff}) })

	nrgba := image.NewNRGBA(rect)
	gradient(w, h, func(x, y int, v uint8) { nrgba.SetNRGBA(x, y, color.NRGBA{v, 0x40, v / 3, uint8(y * 6)}) })

	nrgba64 := image.NewNRGBA64(rect)
	gradient(w, h, func(x, y int, v uint8) {
		nrgba64.SetNRGBA64(x, y, color.NRGBA64{uint16(v) << 8, uint16(x) << 9, 0x1234, 0xffff - uint16(y)<<8})
	})

	bw := image.NewPaletted(rect, color.Palette{color.Black, color.White})
	for y := range h {
		for x := range w {
			bw.SetColorIndex(x, y, uint8((x/4+y/4)&1))
		}
	}

	pal16 := make(color.Palette, 16)
	for i := range pal16 {
		pal16[i] = color.NRGBA{uint8(i * 16), uint8(255 - i*16), 0x80, 0xff}
	}
	pal16[0] = color.NRGBA{}
	p4 := image.NewPaletted(rect, pal16)
	gradient(w, h, func(x, y int, v uint8) { p4.SetColorIndex(x, y, v%16) })

	pal256 := make(color.Palette, 256)
	for i := range pal256 {
		pal256[i] = color.RGBA{uint8(i), uint8(i * 7), uint8(i * 13), 0xff}
	}
	pal256[255] = color.RGBA{}
	p8 := image.NewPaletted(rect, pal256)
	gradient(w, h, func(x, y int, v uint8) { p8.SetColorIndex(x, y, v) })

	return map[string]image.Image{
		"gray":      gray,
		"gray16":    gray16,
		"rgb":       rgb,
		"nrgba":     nrgba,
		"nrgba64":   nrgba64,
		"paletted1": bw,
		"paletted4": p4,
		"paletted8": p8,
	}
}

func TestOptimizeLossless(t *testing.T) {
	for name, m := range testImages() {
		t.Run(name, func(t *testing.T) {
			in := encode(t, m)
			out, err := Optimize(in, Options{})
			require.NoError(t, err)

			assert.Less(t, len(out), len(in))
			samePixels(t, in, out)
		})
	}
}

func TestOptimizeKeepsInputWithoutGain(t *testing.T) {
	in := encode(t, image.NewGray(image.Rect(0, 0, 1, 1)))
	out, err := Optimize(in, Options{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), len(in))
	samePixels(t, in, out)

	again, err := Optimize(out, Options{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(again), len(out))
}

func TestOptimizeMultipleDataChunks(t *testing.T) {
	in := encode(t, testImages()["rgb"])
	chunks, err := readChunks(in)
	require.NoError(t, err)

	var split []chunk
	for _, c := range chunks {
		if c.typ != "IDAT" {
			split = append(split, c)
			continue
		}
		for len(c.data) > 100 {
			split = append(split, chunk{"IDAT", c.data[:100]})
			c.data = c.data[100:]
		}
		split = append(split, c)
	}
	in = assemble(split)

	out, err := Optimize(in, Options{})
	require.NoError(t, err)
	samePixels(t, in, out)

	outChunks, err := readChunks(out)
	require.NoError(t, err)
	var n int
	for _, c := range outChunks {
		if c.typ == "IDAT" {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestOptimizeStrip(t *testing.T) {
	in := encode(t, testImages()["paletted4"])
	chunks, err := readChunks(in)
	require.NoError(t, err)

	// tEXt goes right before IEND
	text := chunk{"tEXt", []byte("Comment\x00poster wall")}
	chunks = append(chunks[:len(chunks)-1:len(chunks)-1], text, chunks[len(chunks)-1])
	in = assemble(chunks)

	types := func(data []byte) []string {
		cs, err := readChunks(data)
		require.NoError(t, err)
		var res []string
		for _, c := range cs {
			res = append(res, c.typ)
		}
		return res
	}

	kept, err := Optimize(in, Options{})
	require.NoError(t, err)
	assert.Contains(t, types(kept), "tEXt")
	assert.Contains(t, types(kept), "tRNS")

	stripped, err := Optimize(in, Options{Strip: true})
	require.NoError(t, err)
	assert.NotContains(t, types(stripped), "tEXt")
	assert.Contains(t, types(stripped), "tRNS")
	samePixels(t, in, stripped)
}

func TestOptimizeErrors(t *testing.T) {
	valid := encode(t, testImages()["gray"])

	_, err := Optimize([]byte("not a png at all"), Options{})
	assert.ErrorIs(t, err, ErrFormat)

	_, err = Optimize(valid[:len(valid)-20], Options{})
	assert.ErrorIs(t, err, ErrFormat)

	corrupt := bytes.Clone(valid)
	corrupt[len(signature)+10] ^= 0xff
	_, err = Optimize(corrupt, Options{})
	assert.ErrorIs(t, err, ErrFormat)

	chunks, err := readChunks(valid)
	require.NoError(t, err)
	hdr := chunk{"IHDR", bytes.Clone(chunks[0].data)}
	hdr.data[12] = 1
	_, err = Optimize(assemble(append([]chunk{hdr}, chunks[1:]...)), Options{})
	assert.ErrorIs(t, err, ErrUnsupported)

	hdr = chunk{"IHDR", bytes.Clone(chunks[0].data)}
	hdr.data[8] = 3
	_, err = Optimize(assemble(append([]chunk{hdr}, chunks[1:]...)), Options{})
	assert.ErrorIs(t, err, ErrFormat)

	var noData []chunk
	for _, c := range chunks {
		if c.typ != "IDAT" {
			noData = append(noData, c)
		}
	}
	_, err = Optimize(assemble(noData), Options{})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestFiltersRoundTrip(t *testing.T) {
	const stride, bpp = 24, 3
	r := rand.New(rand.NewSource(9))
	raw := make([]byte, stride*10)
	r.Read(raw)

	for ft := ftNone; ft <= ftPaeth; ft++ {
		got, err := unfilter(fixedFilter(ft)(raw, stride, bpp), stride, bpp)
		require.NoError(t, err)
		assert.Equal(t, raw, got, "filter %d", ft)
	}

	got, err := unfilter(adaptiveFilter(raw, stride, bpp), stride, bpp)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func assemble(chunks []chunk) []byte {
	var buf bytes.Buffer
	buf.WriteString(signature)
	for _, c := range chunks {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(c.data)))
		buf.Write(b[:])
		buf.WriteString(c.typ)
		buf.Write(c.data)
		binary.BigEndian.PutUint32(b[:], crc32.ChecksumIEEE(append([]byte(c.typ), c.data...)))
		buf.Write(b[:])
	}
	return buf.Bytes()
}
