package source

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func fixtureDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, dir, "a.png", 400, 200)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("not an image"), 0o644))
	writePNG(t, dir, "c.png", 300, 100)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	return dir
}

type seen struct {
	entries []Entry
	errs    []error
}

func (s *seen) collect(limit int) func(Entry, error) bool {
	return func(e Entry, err error) bool {
		if err != nil {
			s.errs = append(s.errs, err)
		} else {
			s.entries = append(s.entries, e)
		}
		return len(s.entries)+len(s.errs) < limit
	}
}

func TestEachSinglePass(t *testing.T) {
	dir := fixtureDir(t)

	var s seen
	require.NoError(t, New(dir, false).Each(s.collect(100)))

	require.Len(t, s.entries, 2)
	assert.Equal(t, filepath.Join(dir, "a.png"), s.entries[0].Path)
	assert.Equal(t, "png", s.entries[0].Format)
	assert.Equal(t, 400, s.entries[0].Width)
	assert.Equal(t, 200, s.entries[0].Height)
	assert.Equal(t, filepath.Join(dir, "c.png"), s.entries[1].Path)

	require.Len(t, s.errs, 1)
	assert.ErrorIs(t, s.errs[0], ErrDecode)
	assert.Contains(t, s.errs[0].Error(), "b.txt")
}

func TestEachRepeat(t *testing.T) {
	dir := fixtureDir(t)

	var s seen
	require.NoError(t, New(dir, true).Each(s.collect(9)))

	require.Len(t, s.entries, 6)
	for i, e := range s.entries {
		assert.Equal(t, i/2, e.Pass)
	}
	assert.Len(t, s.errs, 3)
}

func TestEachRepeatWithoutImagesTerminates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))

	var s seen
	require.NoError(t, New(dir, true).Each(s.collect(1000)))
	assert.Empty(t, s.entries)
	assert.Len(t, s.errs, 1)
}

func TestEachListsDotFiles(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, ".cover.png", 50, 60)
	writePNG(t, dir, "a.png", 10, 10)

	var s seen
	require.NoError(t, New(dir, false).Each(s.collect(100)))

	require.Len(t, s.entries, 2)
	assert.Equal(t, filepath.Join(dir, ".cover.png"), s.entries[0].Path)
	assert.Equal(t, 50, s.entries[0].Width)
	assert.Equal(t, filepath.Join(dir, "a.png"), s.entries[1].Path)
	assert.Empty(t, s.errs)
}

func TestEachMissingDirectory(t *testing.T) {
	called := false
	err := New(filepath.Join(t.TempDir(), "missing"), false).Each(func(Entry, error) bool {
		called = true
		return true
	})
	assert.ErrorIs(t, err, ErrDirectory)
	assert.False(t, called)
}

func TestEntryDecode(t *testing.T) {
	dir := fixtureDir(t)

	var s seen
	require.NoError(t, New(dir, false).Each(s.collect(100)))
	require.NotEmpty(t, s.entries)

	img, err := s.entries[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 400, 200), img.Bounds())
	assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, color.RGBAModel.Convert(img.At(0, 0)))

	require.NoError(t, os.WriteFile(s.entries[1].Path, []byte("truncated"), 0o644))
	_, err = s.entries[1].Decode()
	assert.ErrorIs(t, err, ErrDecode)
}
