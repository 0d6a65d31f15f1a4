package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const thumbnailDir = ".thumbnails"

// generateThumbnail writes a JPEG no larger than maxSize on either side.
func generateThumbnail(data []byte, destPath string, maxSize int) error {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	thumb := imaging.Fit(src, maxSize, maxSize, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(destPath), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	if err := imaging.Save(thumb, destPath, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("failed to save thumbnail: %w", err)
	}
	return nil
}

// processThumbnail creates the thumbnail for an output written at outputPath and
// returns its slash-separated path relative to destFolder.
func processThumbnail(data []byte, outputPath, destFolder string, maxSize int) (string, error) {
	relPath, err := filepath.Rel(destFolder, outputPath)
	if err != nil || strings.HasPrefix(relPath, "..") {
		relPath = filepath.Base(outputPath)
	}

	thumbPath := filepath.Join(destFolder, thumbnailDir, relPath)
	thumbPath = strings.TrimSuffix(thumbPath, filepath.Ext(thumbPath)) + ".jpg"

	if err := generateThumbnail(data, thumbPath, maxSize); err != nil {
		return "", fmt.Errorf("thumbnail generation failed for %s: %w", filepath.Base(outputPath), err)
	}

	relThumb, err := filepath.Rel(destFolder, thumbPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(relThumb), nil
}

// resolveThumbnail maps a request path onto a file inside destFolder/.thumbnails.
// It returns "" when the path escapes that directory.
func resolveThumbnail(destFolder, reqPath string) (string, error) {
	absThumbDir, err := filepath.Abs(filepath.Join(destFolder, thumbnailDir))
	if err != nil {
		return "", err
	}

	reqPath = filepath.FromSlash(strings.TrimPrefix(reqPath, "/"))
	if !strings.HasPrefix(reqPath, thumbnailDir+string(filepath.Separator)) {
		reqPath = filepath.Join(thumbnailDir, reqPath)
	}
	absPath, err := filepath.Abs(filepath.Join(destFolder, reqPath))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absPath, absThumbDir+string(filepath.Separator)) {
		return "", nil
	}
	return absPath, nil
}
