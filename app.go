package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"photoTagger/archive"
	"photoTagger/geo"
	"photoTagger/photometa"
)

const version = "0.3.0"

// app holds the long-lived components shared by the HTTP API and the CLI.
type app struct {
	ctx       context.Context
	cfg       *Config
	db        *DB
	pipeline  *photometa.Pipeline
	secondary *photometa.SecondaryWriter
	resolver  *geo.Resolver
	archiver  archive.Archiver
	batch     *batchTracker
}

func newApp(ctx context.Context, cfg *Config) (*app, error) {
	if err := ensureDirectory(cfg.Storage.DestFolder); err != nil {
		return nil, err
	}
	if err := ensureDirectory(filepath.Dir(cfg.Storage.DBPath)); err != nil {
		return nil, err
	}
	db, err := openAndInitDB(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	a := &app{
		ctx: ctx,
		cfg: cfg,
		db:  db,
		resolver: geo.NewResolver(geo.ResolverConfig{
			APIKey:   cfg.Geocode.APIKey,
			Endpoint: cfg.Geocode.Endpoint,
			Timeout:  cfg.Geocode.Timeout,
		}),
		batch: newBatchTracker(),
	}

	if cfg.Exiftool.Enabled {
		a.secondary = photometa.NewSecondaryWriter(photometa.NewExifTool(cfg.Exiftool.Path), cfg.Exiftool.TempDir, cfg.Exiftool.Timeout)
	}
	fetcher := photometa.NewHTTPFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes)
	if a.secondary != nil {
		a.pipeline = photometa.New(fetcher, a.secondary)
	} else {
		a.pipeline = photometa.New(fetcher, nil)
	}

	if cfg.Archive.Enabled {
		store, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			logrus.WithError(err).Warn("archive unavailable, outputs will not be archived")
		} else {
			a.archiver = store
		}
	}
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) exiftoolAvailable() bool {
	return a.secondary.Available()
}

// archiveOutput uploads data when the archive is configured. Failures are logged and
// reported through the returned error message only.
func (a *app) archiveOutput(ctx context.Context, data []byte, requestID string, rec *photometa.Record) (string, string) {
	if a.archiver == nil {
		return "", ""
	}
	meta := map[string]string{"request-id": requestID}
	if rec != nil {
		meta["title"] = rec.Title
	}
	key, err := a.archiver.Put(ctx, data, time.Now().UTC(), meta)
	if err != nil {
		logrus.WithError(err).WithField("request_id", requestID).Warn("archive upload failed")
		return "", "archive upload failed"
	}
	return key, ""
}

// journal stores e. Journal failures never fail the operation that produced e.
func (a *app) journal(e *EmbedEntry) {
	if _, err := a.db.insertEmbed(e); err != nil {
		logrus.WithError(err).WithField("request_id", e.RequestID).Error("failed to journal embed")
	}
}

// errorMessage is the caller-safe text of err.
func errorMessage(err error) string {
	var (
		ve *photometa.ValidationError
		se *photometa.SourceUnavailableError
		ue *photometa.UnsupportedFormatError
		me *photometa.MergeError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &se):
		return se.Error()
	case errors.As(err, &ue):
		return ue.Error()
	case errors.As(err, &me):
		return me.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "internal error"
}

func recordJSON(rec *photometa.Record) []byte {
	if rec == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func hashBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// describeSource names an image source for the journal without query strings or
// inline payloads.
func describeSource(imageURL, imageData string) string {
	if imageData != "" {
		return "inline"
	}
	u, err := url.Parse(imageURL)
	if err != nil || u.Host == "" {
		return "url"
	}
	return u.Scheme + "://" + u.Host + u.Path
}

func ensureDirectory(dirPath string) error {
	if err := os.MkdirAll(dirPath, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}
	return nil
}
