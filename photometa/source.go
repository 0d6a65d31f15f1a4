package photometa

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Fetcher retrieves image bytes from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPFetcher fetches over HTTP(S) with a timeout and a size cap.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates a fetcher. maxBytes <= 0 means 32 MiB.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, newSourceError("image URL must be an absolute http(s) URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, newSourceError("cannot build image request", err)
	}
	req.Header.Set("Accept", "image/jpeg,image/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newSourceError("image fetch timed out", err)
		}
		return nil, newSourceError("image fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newSourceError(fmt.Sprintf("image fetch returned status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, newSourceError("image download interrupted", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, newSourceError(fmt.Sprintf("image exceeds %d bytes", f.maxBytes), nil)
	}
	if len(data) == 0 {
		return nil, newSourceError("image response was empty", nil)
	}

	logrus.WithFields(logrus.Fields{"host": u.Host, "bytes": len(data)}).Debug("image fetched")
	return data, nil
}

// DecodeInline decodes base64 image data, with or without a "data:<mime>;base64," prefix.
func DecodeInline(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.HasSuffix(s[:i], ";base64") {
			return nil, newSourceError("image data URI must be base64 encoded", nil)
		}
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, newSourceError("image data is empty", nil)
	}

	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, newSourceError("image data is not valid base64", lastErr)
}

// LoadSource resolves the image bytes named by exactly one of imageURL and imageData.
func LoadSource(ctx context.Context, fetcher Fetcher, imageURL, imageData string) ([]byte, error) {
	if err := checkSource(imageURL, imageData); err != nil {
		return nil, err
	}
	if strings.TrimSpace(imageData) != "" {
		return DecodeInline(imageData)
	}
	return fetcher.Fetch(ctx, imageURL)
}
