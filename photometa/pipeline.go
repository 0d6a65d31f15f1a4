package photometa

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Enricher is the optional second pass after the EXIF write.
type Enricher interface {
	Apply(ctx context.Context, img []byte, rec *Record) ([]byte, bool)
}

// Result is the outcome of a successful embed.
type Result struct {
	Image    []byte
	Record   *Record
	Source   []byte
	Enriched bool
}

// Pipeline embeds a record into a JPEG: validate, load the source, merge EXIF
// (mandatory), enrich XMP/IPTC (best effort).
type Pipeline struct {
	fetcher  Fetcher
	enricher Enricher
}

// New creates a pipeline. A nil enricher produces EXIF-only output.
func New(fetcher Fetcher, enricher Enricher) *Pipeline {
	return &Pipeline{fetcher: fetcher, enricher: enricher}
}

// Embed runs the whole operation for an HTTP-style request.
func (p *Pipeline) Embed(ctx context.Context, req *Request) (*Result, error) {
	rec, err := Normalize(req)
	if err != nil {
		return nil, err
	}

	src, err := LoadSource(ctx, p.fetcher, req.ImageURL, req.ImageData)
	if err != nil {
		return nil, err
	}
	return p.EmbedBytes(ctx, src, rec)
}

// EmbedBytes embeds rec into already loaded image bytes.
func (p *Pipeline) EmbedBytes(ctx context.Context, src []byte, rec *Record) (*Result, error) {
	start := time.Now()
	log := logrus.WithField("bytes", len(src))

	if rec == nil || rec.IsEmpty() {
		return nil, NewValidationError("no metadata fields supplied")
	}
	if !IsJPEG(src) {
		return nil, &UnsupportedFormatError{Message: "image is not a JPEG"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged, err := p.merge(src, rec)
	if err != nil {
		log.WithError(err).Error("EXIF merge failed")
		return nil, err
	}
	log.WithField("elapsed", time.Since(start)).Debug("EXIF merged")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Image: merged, Record: rec, Source: src}
	if p.enricher != nil {
		res.Image, res.Enriched = p.enricher.Apply(ctx, merged, rec)
	}

	log.WithFields(logrus.Fields{
		"enriched": res.Enriched,
		"out":      len(res.Image),
		"elapsed":  time.Since(start),
	}).Debug("embed complete")
	return res, nil
}

func (p *Pipeline) merge(src []byte, rec *Record) ([]byte, error) {
	c, err := Load(src)
	if err != nil {
		return nil, err
	}
	if err := c.Merge(rec); err != nil {
		return nil, newMergeError("cannot apply fields", err)
	}
	return c.Serialize(src)
}

// Source resolves image bytes with the pipeline's fetcher.
func (p *Pipeline) Source(ctx context.Context, imageURL, imageData string) ([]byte, error) {
	return LoadSource(ctx, p.fetcher, imageURL, imageData)
}
