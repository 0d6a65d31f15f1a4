package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"photoTagger/photometa"
	"photoTagger/utils"
)

var errBatchRunning = errors.New("a batch is already running")

// BatchConfig describes one batch run.
type BatchConfig struct {
	SrcFolder  string
	DestFolder string
	Workers    int
}

// BatchStatus is the progress of the current or last batch run.
type BatchStatus struct {
	Status      string    `json:"status"` // idle, scanning, processing, completed, error
	TotalFiles  int64     `json:"totalFiles"`
	Processed   int64     `json:"processed"`
	Embedded    int64     `json:"embedded"`
	Skipped     int64     `json:"skipped"`
	Failed      int64     `json:"failed"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	CurrentFile string    `json:"currentFile"`
	Error       string    `json:"error"`
}

type batchTracker struct {
	mu     sync.Mutex
	status BatchStatus
}

func newBatchTracker() *batchTracker {
	return &batchTracker{status: BatchStatus{Status: "idle"}}
}

func (t *batchTracker) Snapshot() BatchStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *batchTracker) begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Status == "scanning" || t.status.Status == "processing" {
		return errBatchRunning
	}
	t.status = BatchStatus{Status: "scanning", StartTime: time.Now()}
	return nil
}

func (t *batchTracker) update(fn func(s *BatchStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.status)
}

func (t *batchTracker) finish(err error) {
	t.update(func(s *BatchStatus) {
		s.EndTime = time.Now()
		s.CurrentFile = ""
		if err != nil {
			s.Status = "error"
			s.Error = err.Error()
			return
		}
		s.Status = "completed"
	})
}

type outcome int

const (
	outcomeEmbedded outcome = iota
	outcomeSkipped
	outcomeFailed
)

// startBatch runs a batch in the background. It fails when one is already running.
func (a *app) startBatch(ctx context.Context, cfg BatchConfig, rec *photometa.Record) error {
	if err := a.batch.begin(); err != nil {
		return err
	}
	go func() {
		if err := a.runBatch(ctx, cfg, rec); err != nil {
			logrus.WithError(err).Error("batch failed")
		}
	}()
	return nil
}

// batchRun runs a batch in the foreground.
func (a *app) batchRun(ctx context.Context, cfg BatchConfig, rec *photometa.Record) error {
	if err := a.batch.begin(); err != nil {
		return err
	}
	return a.runBatch(ctx, cfg, rec)
}

func (a *app) runBatch(ctx context.Context, cfg BatchConfig, rec *photometa.Record) (err error) {
	defer func() { a.batch.finish(err) }()

	if cfg.Workers <= 0 {
		cfg.Workers = a.cfg.Storage.Workers
	}
	if cfg.DestFolder == "" {
		cfg.DestFolder = a.cfg.Storage.DestFolder
	}
	if err := ensureDirectory(cfg.DestFolder); err != nil {
		return err
	}

	files, err := collectJPEGs(cfg.SrcFolder, cfg.DestFolder)
	if err != nil {
		return fmt.Errorf("failed to walk source directory: %w", err)
	}
	a.batch.update(func(s *BatchStatus) {
		s.Status = "processing"
		s.TotalFiles = int64(len(files))
	})
	logrus.WithFields(logrus.Fields{"src": cfg.SrcFolder, "dest": cfg.DestFolder, "files": len(files)}).Info("batch started")

	fields := recordJSON(rec)
	names := newDestNames(cfg.DestFolder)
	pool := utils.NewPool(cfg.Workers)
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		path := path
		dstPath, statErr := names.assign(path)
		pool.Submit(func() {
			a.batch.update(func(s *BatchStatus) { s.CurrentFile = filepath.Base(path) })
			res := a.processBatchFile(ctx, path, dstPath, statErr, cfg.DestFolder, rec, fields)
			a.batch.update(func(s *BatchStatus) {
				s.Processed++
				switch res {
				case outcomeEmbedded:
					s.Embedded++
				case outcomeSkipped:
					s.Skipped++
				default:
					s.Failed++
				}
			})
		})
	}
	pool.Wait()

	snap := a.batch.Snapshot()
	logrus.WithFields(logrus.Fields{
		"embedded": snap.Embedded,
		"skipped":  snap.Skipped,
		"failed":   snap.Failed,
	}).Info("batch finished")
	return ctx.Err()
}

// collectJPEGs lists JPEG files under src, skipping anything inside dest.
func collectJPEGs(src, dest string) ([]string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", src)
	}
	absDest, _ := filepath.Abs(dest)

	var files []string
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if abs, _ := filepath.Abs(path); abs == absDest {
				return filepath.SkipDir
			}
			return nil
		}
		if isJPEGFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// destNames hands out output paths for one batch run. Sources that share a base name
// and a modification month get numeric suffixes in walk order. It is used from the
// submitting goroutine only.
type destNames struct {
	dest  string
	taken map[string]bool
}

func newDestNames(dest string) *destNames {
	return &destNames{dest: dest, taken: map[string]bool{}}
}

func (d *destNames) assign(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	modTime := info.ModTime()
	dir := filepath.Join(d.dest, strconv.Itoa(modTime.Year()), modTime.Month().String())

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	candidate := filepath.Join(dir, base)
	for i := 1; d.taken[strings.ToLower(candidate)]; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
	// Lower-cased so IMG.jpg and img.JPG never share a file on case-insensitive disks.
	d.taken[strings.ToLower(candidate)] = true
	return candidate, nil
}

func (a *app) processBatchFile(ctx context.Context, path, dstPath string, statErr error, destFolder string, rec *photometa.Record, fields []byte) outcome {
	log := logrus.WithField("file", path)
	entry := &EmbedEntry{RequestID: uuid.NewString(), Source: path, Fields: fields, Status: statusFailed}

	if statErr != nil {
		entry.Error = "cannot stat file"
		log.WithError(statErr).Warn("batch file skipped")
		a.journal(entry)
		return outcomeFailed
	}
	data, err := os.ReadFile(path)
	if err != nil {
		entry.Error = "cannot read file"
		log.WithError(err).Warn("batch file skipped")
		a.journal(entry)
		return outcomeFailed
	}
	entry.InputHash = hashBytes(data)

	done, err := a.db.findEmbedded(entry.InputHash, fields)
	if err != nil {
		log.WithError(err).Warn("journal lookup failed")
	}
	if done {
		log.Debug("already embedded with the same fields")
		return outcomeSkipped
	}

	res, err := a.pipeline.EmbedBytes(ctx, data, rec)
	if err != nil {
		entry.Error = errorMessage(err)
		log.WithError(err).Warn("embed failed")
		a.journal(entry)
		return outcomeFailed
	}

	if err := ensureDirectory(filepath.Dir(dstPath)); err != nil {
		entry.Error = "cannot create destination directory"
		log.WithError(err).Error("batch write failed")
		a.journal(entry)
		return outcomeFailed
	}
	if err := os.WriteFile(dstPath, res.Image, 0o644); err != nil {
		entry.Error = "cannot write output"
		log.WithError(err).Error("batch write failed")
		a.journal(entry)
		return outcomeFailed
	}

	entry.Status = statusOK
	entry.OutputHash = hashBytes(res.Image)
	entry.Size = int64(len(res.Image))
	entry.Enriched = res.Enriched

	thumb, err := processThumbnail(res.Image, dstPath, destFolder, a.cfg.Storage.ThumbnailSize)
	if err != nil {
		log.WithError(err).Warn("thumbnail skipped")
	}
	entry.ThumbnailPath = thumb
	entry.ArchiveKey, entry.Error = a.archiveOutput(ctx, res.Image, entry.RequestID, rec)

	a.journal(entry)
	return outcomeEmbedded
}
