package palette

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vga4 = color.Palette{
	color.RGBA{0x00, 0x00, 0x00, 0xff},
	color.RGBA{0xaa, 0x00, 0x00, 0xff},
	color.RGBA{0x00, 0xaa, 0x00, 0xff},
	color.RGBA{0xff, 0xff, 0xff, 0xff},
}

func TestWriteToLayout(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteTo(&buf, []color.Palette{vga4})
	require.NoError(t, err)

	b := buf.Bytes()
	assert.Equal(t, int64(len(b)), n)
	assert.Equal(t, 8+4+8+4+4*4, len(b))
	assert.Equal(t, "RIFF", string(b[:4]))
	assert.Equal(t, uint32(len(b)-8), binary.LittleEndian.Uint32(b[4:8]))
	assert.Equal(t, "PAL data", string(b[8:16]))
	assert.Equal(t, uint32(4+4*4), binary.LittleEndian.Uint32(b[16:20]))
	assert.Equal(t, []byte{0x00, 0x03, 0x04, 0x00}, b[20:24])
	assert.Equal(t, []byte{0xaa, 0x00, 0x00, 0x00}, b[28:32])
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vga.pal")
	// A duplicate and a translucent colour, stored without alpha.
	pal := append(color.Palette{}, vga4...)
	pal = append(pal, vga4[1], color.NRGBA{0x10, 0x20, 0x30, 0x80})
	require.NoError(t, Save(path, pal))

	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, vga4, got[:4])
	assert.Equal(t, color.RGBA{0x10, 0x20, 0x30, 0xff}, got[4])
}

func TestReadFromErrors(t *testing.T) {
	_, err := ReadFrom(bytes.NewReader([]byte("RIFF\x04\x00\x00\x00WAVE")))
	assert.ErrorContains(t, err, "unsupported RIFF content type")

	var buf bytes.Buffer
	_, err = WriteTo(&buf, []color.Palette{vga4})
	require.NoError(t, err)
	b := buf.Bytes()
	b[21] = 0x02
	_, err = ReadFrom(bytes.NewReader(b))
	assert.ErrorContains(t, err, "unsupported palette version")

	_, err = Load(filepath.Join(t.TempDir(), "missing.pal"))
	assert.Error(t, err)
}

func TestMatchers(t *testing.T) {
	for _, metric := range []Metric{RGB, OKLab} {
		t.Run(string(metric), func(t *testing.T) {
			m, err := NewMatcher(vga4, metric)
			require.NoError(t, err)

			assert.Equal(t, 0, m.Index(color.RGBA{0x05, 0x05, 0x05, 0xff}))
			assert.Equal(t, 1, m.Index(color.RGBA{0xb0, 0x10, 0x08, 0xff}))
			assert.Equal(t, 2, m.Index(color.RGBA{0x00, 0xaa, 0x00, 0xff}))
			assert.Equal(t, 3, m.Index(color.RGBA{0xf0, 0xf0, 0xf0, 0xff}))
			// cached answer
			assert.Equal(t, 1, m.Index(color.RGBA{0xb0, 0x10, 0x08, 0xff}))
		})
	}

	_, err := NewMatcher(vga4, "cie76")
	assert.Error(t, err)
	_, err = NewMatcher(nil, RGB)
	assert.Error(t, err)
}

func TestUnique(t *testing.T) {
	pal := color.Palette{vga4[0], vga4[1], color.RGBA{0, 0, 0, 0xff}, vga4[1]}
	assert.Equal(t, color.Palette{vga4[0], vga4[1]}, Unique(pal))
}
