package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	goexif "github.com/rwcarlsen/goexif/exif"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func history(t *testing.T, h http.Handler) []EmbedEntry {
	t.Helper()
	rec := do(t, h, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []EmbedEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	return rows
}

func TestEmbedEndToEnd(t *testing.T) {
	img := testJPEG(t, 40, 30)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(img)
	}))
	defer origin.Close()

	a := newTestApp(t)
	h := newRouter(a)

	rec := do(t, h, http.MethodPost, "/api/metadata/embed", map[string]interface{}{
		"imageUrl":    origin.URL + "/photo.jpg?token=secret",
		"description": "My edited image",
		"keywords":    "nature, landscape,  photography ",
		"latitude":    40.7128,
		"longitude":   -74.0060,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	x, err := goexif.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	tag, err := x.Get(goexif.ImageDescription)
	require.NoError(t, err)
	desc, _ := tag.StringVal()
	assert.Equal(t, "My edited image", desc)
	lat, lon, err := x.LatLong()
	require.NoError(t, err)
	assert.InDelta(t, 40.7128, lat, 0.00004)
	assert.InDelta(t, -74.006, lon, 0.00004)

	rows := history(t, h)
	require.Len(t, rows, 1)
	assert.Equal(t, statusOK, rows[0].Status)
	assert.Equal(t, rec.Header().Get("X-Request-Id"), rows[0].RequestID)
	assert.Equal(t, origin.URL+"/photo.jpg", rows[0].Source)
	assert.Equal(t, hashBytes(img), rows[0].InputHash)
	assert.Equal(t, hashBytes(rec.Body.Bytes()), rows[0].OutputHash)
	assert.False(t, rows[0].Enriched)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(rows[0].Fields, &fields))
	assert.Equal(t, []interface{}{"nature", "landscape", "photography"}, fields["keywords"])
}

func TestEmbedErrors(t *testing.T) {
	a := newTestApp(t)
	h := newRouter(a)

	tests := []struct {
		name   string
		body   interface{}
		status int
		want   string
	}{
		{"missing source", map[string]interface{}{"description": "d"}, 400,
			`{"error":"invalid request","message":"missing image source"}`},
		{"empty record", map[string]interface{}{"imageData": b64(testJPEG(t, 8, 8))}, 400,
			`{"error":"invalid request","message":"no metadata fields supplied"}`},
		{"png", map[string]interface{}{"imageData": b64(testPNG(t, 8, 8)), "title": "t"}, 400,
			`{"error":"unsupported image format","message":"image is not a JPEG"}`},
		{"bad base64", map[string]interface{}{"imageData": "@@@", "title": "t"}, 400,
			`{"error":"image source unavailable","message":"image data is not valid base64"}`},
		{"half gps", map[string]interface{}{"imageData": b64(testJPEG(t, 8, 8)), "latitude": 1}, 400,
			`{"error":"invalid request","message":"latitude and longitude must be supplied together"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/metadata/embed", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}

	rec := do(t, h, http.MethodPost, "/api/metadata/embed", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rows := history(t, h)
	assert.Len(t, rows, len(tests), "malformed JSON is rejected before journaling")
	for _, row := range rows {
		assert.Equal(t, statusFailed, row.Status)
		assert.NotEmpty(t, row.Error)
	}
}

func TestEmbedArchives(t *testing.T) {
	a := newTestApp(t)
	archiver := new(MockArchiver)
	a.archiver = archiver
	h := newRouter(a)

	archiver.On("Put", mock.Anything, mock.Anything, mock.Anything,
		mock.MatchedBy(func(m map[string]string) bool { return m["title"] == "Bay" && m["request-id"] != "" })).
		Return("embedded/2024/01/abc.jpg", nil).Once()

	rec := do(t, h, http.MethodPost, "/api/metadata/embed", map[string]interface{}{
		"imageData": b64(testJPEG(t, 16, 16)),
		"title":     "Bay",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	archiver.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("bucket gone")).Once()
	rec = do(t, h, http.MethodPost, "/api/metadata/embed", map[string]interface{}{
		"imageData": b64(testJPEG(t, 16, 16)),
		"title":     "Other",
	})
	require.Equal(t, http.StatusOK, rec.Code, "archive failures never fail the embed")

	rows := history(t, h)
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[0].ArchiveKey)
	assert.Equal(t, "archive upload failed", rows[0].Error)
	assert.Equal(t, statusOK, rows[0].Status)
	assert.Equal(t, "embedded/2024/01/abc.jpg", rows[1].ArchiveKey)
	archiver.AssertExpectations(t)
}

func TestInspect(t *testing.T) {
	a := newTestApp(t)
	h := newRouter(a)

	rec := do(t, h, http.MethodPost, "/api/metadata/embed", map[string]interface{}{
		"imageData":   b64(testJPEG(t, 20, 10)),
		"description": "inspect me",
		"exifData":    map[string]interface{}{"Make": "Canon"},
		"latitude":    -33.8688,
		"longitude":   151.2093,
		"altitude":    58,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/metadata/inspect", map[string]interface{}{"imageData": b64(rec.Body.Bytes())})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report InspectReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 20, report.Width)
	assert.Equal(t, 10, report.Height)
	assert.Equal(t, "inspect me", report.Exif.Description)
	assert.Equal(t, "Canon", report.Exif.CameraMake)
	assert.True(t, report.Exif.HasLocation)
	assert.InDelta(t, -33.8688, report.Exif.Latitude, 0.0001)
	require.NotNil(t, report.Exif.Altitude)
	assert.InDelta(t, 58, *report.Exif.Altitude, 0.01)
	assert.NotEmpty(t, report.Tags)

	rec = do(t, h, http.MethodPost, "/api/metadata/inspect", map[string]interface{}{"imageData": b64(testPNG(t, 4, 4))})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCropHandler(t *testing.T) {
	h := newRouter(newTestApp(t))

	rec := do(t, h, http.MethodPost, "/api/image/crop", map[string]interface{}{
		"imageData": b64(testJPEG(t, 32, 24)),
		"x":         4, "y": 4, "width": 10, "height": 8,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Width)
	assert.Equal(t, 8, cfg.Height)

	rec = do(t, h, http.MethodPost, "/api/image/crop", map[string]interface{}{
		"imageData": b64(testJPEG(t, 32, 24)),
		"x":         100, "y": 100, "width": 10, "height": 8,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatermarkHandler(t *testing.T) {
	h := newRouter(newTestApp(t))

	rec := do(t, h, http.MethodPost, "/api/image/watermark", map[string]interface{}{
		"imageData": b64(testJPEG(t, 64, 48)),
		"logoData":  "data:image/png;base64," + b64(testPNG(t, 16, 16)),
		"position":  "top-left",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)

	rec = do(t, h, http.MethodPost, "/api/image/watermark", map[string]interface{}{
		"imageData": b64(testJPEG(t, 64, 48)),
	})
	assert.JSONEq(t, `{"error":"invalid request","message":"missing logo source"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/image/watermark", map[string]interface{}{
		"imageData": b64(testJPEG(t, 64, 48)),
		"logoData":  b64(testPNG(t, 16, 16)),
		"position":  "middle-ish",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGeocodeHandler(t *testing.T) {
	h := newRouter(newTestApp(t))

	rec := do(t, h, http.MethodGet, "/api/geocode?code=849VCWC8%2BR9", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var loc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loc))
	assert.InDelta(t, 37.4220, loc["latitude"].(float64), 0.001)
	assert.InDelta(t, -122.0841, loc["longitude"].(float64), 0.001)

	rec = do(t, h, http.MethodGet, "/api/geocode?code=CWC8%2BR9%20Mountain%20View", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"geocoding unavailable"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/geocode?code=not-a-code", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/geocode?code=CWC8%2BR9&ref=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryEndpoints(t *testing.T) {
	a := newTestApp(t)
	h := newRouter(a)

	id, err := a.db.insertEmbed(&EmbedEntry{RequestID: "r", Status: statusOK})
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/api/history/"+strconv.FormatInt(id, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"requestId":"r"`)

	rec = do(t, h, http.MethodGet, "/api/history/99999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/history/clear", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, history(t, h))
}

func TestThumbnailEndpoint(t *testing.T) {
	a := newTestApp(t)
	h := newRouter(a)

	dir := filepath.Join(a.cfg.Storage.DestFolder, thumbnailDir, "2020", "May")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), testJPEG(t, 4, 4), 0o644))

	rec := do(t, h, http.MethodGet, "/api/thumbnails/.thumbnails/2020/May/a.jpg", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodGet, "/api/thumbnails/2020/May/a.jpg", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/thumbnails/2020/May/missing.jpg", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndCORS(t *testing.T) {
	h := newRouter(newTestApp(t))

	rec := do(t, h, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"exiftool":false`)

	req := httptest.NewRequest(http.MethodOptions, "/api/metadata/embed", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
}
