package main

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"photoTagger/photometa"
)

var xmpRegex = regexp.MustCompile(`(?s)<x:xmpmeta.*?</x:xmpmeta>`)

// InspectReport describes the metadata currently embedded in a JPEG.
type InspectReport struct {
	Width  int                  `json:"width"`
	Height int                  `json:"height"`
	Exif   *ExifData            `json:"exif"`
	Tags   []photometa.TagEntry `json:"tags"`
	XMP    string               `json:"xmp,omitempty"`
}

// BuildReport inspects JPEG bytes. Images without metadata give an empty report.
func BuildReport(data []byte) (*InspectReport, error) {
	if !photometa.IsJPEG(data) {
		return nil, &photometa.UnsupportedFormatError{Message: "image is not a JPEG"}
	}

	report := &InspectReport{Exif: &ExifData{}, Tags: []photometa.TagEntry{}}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		report.Width, report.Height = cfg.Width, cfg.Height
	}

	if ed, err := ExtractExif(data); err == nil {
		report.Exif = ed
	} else {
		logrus.WithError(err).Debug("no readable EXIF summary")
	}
	if tags, err := photometa.ReadTags(data); err == nil {
		report.Tags = tags
	}
	report.XMP = extractXMPPacket(data)
	return report, nil
}

// extractXMPPacket returns the first raw XMP packet in data, if any.
func extractXMPPacket(data []byte) string {
	return string(xmpRegex.Find(data))
}

func isJPEGFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}
