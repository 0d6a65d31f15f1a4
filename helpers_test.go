package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 90, 255})
		}
	}
	return img
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(w, h), &jpeg.Options{Quality: 85}))
	return buf.Bytes()
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Storage.DestFolder = filepath.Join(dir, "out")
	cfg.Storage.DBPath = filepath.Join(dir, "journal.db")
	cfg.Storage.SrcRoot = filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(cfg.Storage.SrcRoot, 0o755))
	cfg.Exiftool.Enabled = false
	cfg.Geocode.APIKey = ""
	return cfg
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Put(ctx context.Context, data []byte, at time.Time, meta map[string]string) (string, error) {
	args := m.Called(ctx, data, at, meta)
	return args.String(0), args.Error(1)
}
