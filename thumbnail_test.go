package main

import (
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessThumbnail(t *testing.T) {
	dest := t.TempDir()
	out := filepath.Join(dest, "2020", "May", "beach.jpeg")

	rel, err := processThumbnail(testJPEG(t, 400, 100), out, dest, 200)
	require.NoError(t, err)
	assert.Equal(t, ".thumbnails/2020/May/beach.jpg", rel)

	f, err := os.Open(filepath.Join(dest, filepath.FromSlash(rel)))
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestProcessThumbnailOutsideDest(t *testing.T) {
	dest := t.TempDir()
	out := filepath.Join(t.TempDir(), "elsewhere.jpg")

	rel, err := processThumbnail(testJPEG(t, 10, 10), out, dest, 200)
	require.NoError(t, err)
	assert.Equal(t, ".thumbnails/elsewhere.jpg", rel)
}

func TestProcessThumbnailBadImage(t *testing.T) {
	dest := t.TempDir()
	_, err := processThumbnail([]byte("nope"), filepath.Join(dest, "x.jpg"), dest, 200)
	assert.Error(t, err)
}

func TestResolveThumbnail(t *testing.T) {
	dest := t.TempDir()

	p, err := resolveThumbnail(dest, ".thumbnails/x/y.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, thumbnailDir, "x", "y.jpg"), p)

	for _, bad := range []string{"../journal.db", ".thumbnails/../../etc/passwd", "x/../../journal.db"} {
		p, err := resolveThumbnail(dest, bad)
		require.NoError(t, err)
		assert.Empty(t, p, bad)
	}
}
