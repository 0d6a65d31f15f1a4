package main

import (
	"bytes"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"photoTagger/photometa"
)

const defaultQuality = 90

// CropRequest is the body of POST /api/image/crop.
type CropRequest struct {
	ImageURL  string `json:"imageUrl"`
	ImageData string `json:"imageData"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Quality   int    `json:"quality"`
}

// WatermarkRequest is the body of POST /api/image/watermark.
type WatermarkRequest struct {
	ImageURL  string   `json:"imageUrl"`
	ImageData string   `json:"imageData"`
	LogoURL   string   `json:"logoUrl"`
	LogoData  string   `json:"logoData"`
	Position  string   `json:"position"`
	Scale     *float64 `json:"scale"`
	Opacity   *float64 `json:"opacity"`
	Margin    *int     `json:"margin"`
	Quality   int      `json:"quality"`
}

func decodeImage(data []byte, what string) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &photometa.UnsupportedFormatError{Message: what + " cannot be decoded"}
	}
	return img, nil
}

func quality(q int) (int, error) {
	switch {
	case q == 0:
		return defaultQuality, nil
	case q < 1 || q > 100:
		return 0, photometa.NewValidationError("quality must be between 1 and 100")
	}
	return q, nil
}

// cropImage cuts the requested rectangle, clipped to the image bounds. Coordinates
// address the stored pixel grid; the orientation tag travels with the EXIF block.
func cropImage(src []byte, req CropRequest) ([]byte, error) {
	q, err := quality(req.Quality)
	if err != nil {
		return nil, err
	}
	if req.Width <= 0 || req.Height <= 0 {
		return nil, photometa.NewValidationError("width and height must be positive")
	}

	img, err := decodeImage(src, "image")
	if err != nil {
		return nil, err
	}

	rect := image.Rect(req.X, req.Y, req.X+req.Width, req.Y+req.Height).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, photometa.NewValidationError("crop rectangle lies outside the image")
	}

	out, err := encodeJPEG(imaging.Crop(img, rect), q)
	if err != nil {
		return nil, err
	}
	return carryExif(src, out), nil
}

// watermarkImage composites logo onto src.
func watermarkImage(src, logoData []byte, req WatermarkRequest) ([]byte, error) {
	q, err := quality(req.Quality)
	if err != nil {
		return nil, err
	}
	scale, opacity, margin := 0.2, 0.8, 10
	if req.Scale != nil {
		scale = *req.Scale
	}
	if req.Opacity != nil {
		opacity = *req.Opacity
	}
	if req.Margin != nil {
		margin = *req.Margin
	}
	if scale <= 0 || scale > 1 {
		return nil, photometa.NewValidationError("scale must be in (0, 1]")
	}
	if opacity < 0 || opacity > 1 {
		return nil, photometa.NewValidationError("opacity must be in [0, 1]")
	}
	if margin < 0 {
		return nil, photometa.NewValidationError("margin must not be negative")
	}

	img, err := decodeImage(src, "image")
	if err != nil {
		return nil, err
	}
	logo, err := decodeImage(logoData, "logo")
	if err != nil {
		return nil, err
	}

	width := int(float64(img.Bounds().Dx()) * scale)
	if width < 1 {
		width = 1
	}
	logo = imaging.Resize(logo, width, 0, imaging.Lanczos)

	pt, err := placement(req.Position, img.Bounds(), logo.Bounds(), margin)
	if err != nil {
		return nil, err
	}

	out, err := encodeJPEG(imaging.Overlay(img, logo, pt, opacity), q)
	if err != nil {
		return nil, err
	}
	return carryExif(src, out), nil
}

func placement(position string, canvas, logo image.Rectangle, margin int) (image.Point, error) {
	cw, ch := canvas.Dx(), canvas.Dy()
	lw, lh := logo.Dx(), logo.Dy()

	switch strings.ToLower(strings.TrimSpace(position)) {
	case "top-left":
		return image.Pt(margin, margin), nil
	case "top-right":
		return image.Pt(cw-lw-margin, margin), nil
	case "bottom-left":
		return image.Pt(margin, ch-lh-margin), nil
	case "", "bottom-right":
		return image.Pt(cw-lw-margin, ch-lh-margin), nil
	case "center":
		return image.Pt((cw-lw)/2, (ch-lh)/2), nil
	}
	return image.Point{}, photometa.NewValidationError("unknown position %q", position)
}

func encodeJPEG(img image.Image, q int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// carryExif copies the source EXIF block onto a re-encoded output. Failure keeps the
// output without metadata.
func carryExif(src, out []byte) []byte {
	if !photometa.IsJPEG(src) {
		return out
	}
	merged, err := photometa.CopyExif(src, out)
	if err != nil {
		logrus.WithError(err).Warn("EXIF carry-over skipped")
		return out
	}
	return merged
}
