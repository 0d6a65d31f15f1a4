package photometa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Tool writes XMP/IPTC tags into a JPEG file in place.
type Tool interface {
	Available() bool
	Write(ctx context.Context, path string, tags []Tag) error
}

// ExifTool drives the exiftool binary.
type ExifTool struct {
	path string
}

// NewExifTool locates exiftool. An empty bin searches PATH. The returned tool reports
// unavailable when the binary cannot be found.
func NewExifTool(bin string) *ExifTool {
	if bin == "" {
		bin = "exiftool"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		logrus.WithField("bin", bin).Info("exiftool not found, XMP/IPTC enrichment disabled")
		return &ExifTool{}
	}
	return &ExifTool{path: path}
}

func (t *ExifTool) Available() bool {
	return t != nil && t.path != ""
}

func (t *ExifTool) Write(ctx context.Context, path string, tags []Tag) error {
	if !t.Available() {
		return errors.New("exiftool not available")
	}

	args := []string{"-overwrite_original", "-m", "-q", "-charset", "iptc=UTF8", "-IPTC:CodedCharacterSet=UTF8"}
	for _, tag := range tags {
		for _, v := range tag.Values {
			// Repeating an assignment builds a list and replaces any previous list.
			args = append(args, fmt.Sprintf("-%s=%s", tag.Name, v))
		}
	}
	args = append(args, path)
	defer os.Remove(path + "_exiftool_tmp")

	out, err := exec.CommandContext(ctx, t.path, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("exiftool: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// SecondaryWriter adds XMP/IPTC text on top of an EXIF-bearing JPEG. It never fails:
// on any problem the input bytes come back untouched.
type SecondaryWriter struct {
	tool    Tool
	tempDir string
	timeout time.Duration
}

// NewSecondaryWriter creates a writer. A nil tool disables enrichment.
func NewSecondaryWriter(tool Tool, tempDir string, timeout time.Duration) *SecondaryWriter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SecondaryWriter{tool: tool, tempDir: tempDir, timeout: timeout}
}

// Available reports whether Apply will attempt a write.
func (w *SecondaryWriter) Available() bool {
	return w != nil && w.tool != nil && w.tool.Available()
}

// Apply returns the enriched image and true, or img unchanged and false.
func (w *SecondaryWriter) Apply(ctx context.Context, img []byte, rec *Record) ([]byte, bool) {
	tags := ExtendedTags(rec)
	if len(tags) == 0 || !w.Available() {
		return img, false
	}

	out, err := w.apply(ctx, img, tags)
	if err != nil {
		logrus.WithError(err).Warn("XMP/IPTC enrichment skipped")
		return img, false
	}
	return out, true
}

func (w *SecondaryWriter) apply(ctx context.Context, img []byte, tags []Tag) (out []byte, err error) {
	defer recoverInto(&err)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	f, err := os.CreateTemp(w.tempDir, "phototagger-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create transient file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(img); err != nil {
		f.Close()
		return nil, fmt.Errorf("write transient file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close transient file: %w", err)
	}

	if err := w.tool.Write(ctx, path, tags); err != nil {
		return nil, err
	}

	out, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read back: %w", err)
	}
	if !IsJPEG(out) || len(out) < len(img)/2 {
		return nil, fmt.Errorf("tool produced an invalid image (%d bytes)", len(out))
	}
	return out, nil
}
