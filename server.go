package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"photoTagger/geo"
	"photoTagger/handle"
	"photoTagger/photometa"
	"photoTagger/utils"
)

type sourceReq struct {
	ImageURL  string `json:"imageUrl"`
	ImageData string `json:"imageData"`
}

type batchReq struct {
	Src     string `json:"src"`
	Workers int    `json:"workers"`
	photometa.Request
}

type batchResp struct {
	Started bool   `json:"started"`
	Status  string `json:"status"`
}

// newRouter builds the HTTP API around a.
func newRouter(a *app) http.Handler {
	r := mux.NewRouter()
	handle.InitializeRoutes(r, handle.Options{
		Version:        version,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		MaxBodyBytes:   a.cfg.Server.MaxBodyBytes,
		Exiftool:       a.exiftoolAvailable,
		Geocoder:       a.resolver.Available,
	})

	r.HandleFunc("/api/metadata/embed", a.handleEmbed).Methods(http.MethodPost)
	r.HandleFunc("/api/metadata/inspect", a.handleInspect).Methods(http.MethodPost)
	r.HandleFunc("/api/image/crop", a.handleCrop).Methods(http.MethodPost)
	r.HandleFunc("/api/image/watermark", a.handleWatermark).Methods(http.MethodPost)
	r.HandleFunc("/api/geocode", a.handleGeocode).Methods(http.MethodGet)
	r.HandleFunc("/api/batch", a.handleBatch).Methods(http.MethodPost)
	r.HandleFunc("/api/batch/status", a.handleBatchStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/history", a.handleListHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/history/clear", a.handleClearHistory).Methods(http.MethodPost)
	r.HandleFunc("/api/history/{id:[0-9]+}", a.handleGetHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/thumbnails/{path:.*}", a.handleThumbnail).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type", "Accept"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedOrigins(a.cfg.Server.AllowedOrigins),
	)
	return cors(r)
}

// StartServer serves the API until ctx is cancelled.
func StartServer(ctx context.Context, a *app) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", srv.Addr).Info("serving HTTP API")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return utils.Quit(ctx, "http", a.cfg.Server.ShutdownTimeout, srv.Shutdown)
}

// decodeJSON decodes the body into v. Oversized bodies keep their own error so they
// map to 413.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return photometa.NewValidationError("invalid JSON body: %v", err)
	}
	return nil
}

func (a *app) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req photometa.Request
	if err := decodeJSON(r, &req); err != nil {
		handle.WriteError(w, r, err)
		return
	}

	requestID := uuid.NewString()
	entry := &EmbedEntry{
		RequestID: requestID,
		Source:    describeSource(req.ImageURL, req.ImageData),
		Status:    statusFailed,
	}

	res, err := a.pipeline.Embed(r.Context(), &req)
	if err != nil {
		entry.Error = errorMessage(err)
		a.journal(entry)
		handle.WriteError(w, r, err)
		return
	}

	entry.Status = statusOK
	entry.Fields = recordJSON(res.Record)
	entry.InputHash = hashBytes(res.Source)
	entry.OutputHash = hashBytes(res.Image)
	entry.Size = int64(len(res.Image))
	entry.Enriched = res.Enriched
	entry.ArchiveKey, entry.Error = a.archiveOutput(r.Context(), res.Image, requestID, res.Record)
	a.journal(entry)

	w.Header().Set("X-Request-Id", requestID)
	handle.WriteJPEG(w, res.Image, "photo-with-metadata.jpg")
}

func (a *app) handleInspect(w http.ResponseWriter, r *http.Request) {
	var req sourceReq
	if err := decodeJSON(r, &req); err != nil {
		handle.WriteError(w, r, err)
		return
	}
	src, err := a.pipeline.Source(r.Context(), req.ImageURL, req.ImageData)
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}
	report, err := BuildReport(src)
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}
	handle.WriteJSON(w, http.StatusOK, report)
}

func (a *app) handleCrop(w http.ResponseWriter, r *http.Request) {
	var req CropRequest
	if err := decodeJSON(r, &req); err != nil {
		handle.WriteError(w, r, err)
		return
	}
	src, err := a.pipeline.Source(r.Context(), req.ImageURL, req.ImageData)
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}
	out, err := cropImage(src, req)
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}
	handle.WriteJPEG(w, out, "cropped.jpg")
}

func (a *app) handleWatermark(w http.ResponseWriter, r *http.Request) {
	var req WatermarkRequest
	if err := decodeJSON(r, &req); err != nil {
		handle.WriteError(w, r, err)
		return
	}
	src, err := a.pipeline.Source(r.Context(), req.ImageURL, req.ImageData)
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}
	if req.LogoURL == "" && req.LogoData == "" {
		handle.WriteError(w, r, photometa.NewValidationError("missing logo source"))
		return
	}
	logo, err := a.pipeline.Source(r.Context(), req.LogoURL, req.LogoData)
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}
	out, err := watermarkImage(src, logo, req)
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}
	handle.WriteJPEG(w, out, "watermarked.jpg")
}

func (a *app) handleGeocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref, err := geo.ParseRef(q.Get("ref"))
	if err != nil {
		handle.WriteError(w, r, photometa.NewValidationError("%v", err))
		return
	}
	loc, err := a.resolver.Resolve(r.Context(), q.Get("code"), ref)
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}
	handle.WriteJSON(w, http.StatusOK, loc)
}

func (a *app) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if err := decodeJSON(r, &req); err != nil {
		handle.WriteError(w, r, err)
		return
	}
	if req.Src == "" {
		handle.WriteError(w, r, photometa.NewValidationError("src folder is required"))
		return
	}
	rec, err := req.Request.Record()
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}

	if a.cfg.Storage.SrcRoot == "" {
		handle.WriteJSON(w, http.StatusForbidden, handle.APIError{Error: "batch source root not configured"})
		return
	}
	src, err := resolveSource(a.cfg.Storage.SrcRoot, req.Src)
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}
	if src == "" {
		handle.WriteJSON(w, http.StatusForbidden, handle.APIError{Error: "access denied"})
		return
	}

	cfg := BatchConfig{SrcFolder: src, DestFolder: a.cfg.Storage.DestFolder, Workers: req.Workers}
	if err := a.startBatch(a.ctx, cfg, rec); err != nil {
		handle.WriteJSON(w, http.StatusConflict, handle.APIError{Error: err.Error()})
		return
	}
	handle.WriteJSON(w, http.StatusAccepted, batchResp{Started: true, Status: "started"})
}

func (a *app) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	handle.WriteJSON(w, http.StatusOK, a.batch.Snapshot())
}

func (a *app) handleListHistory(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePage(r)
	rows, err := a.db.listEmbeds(offset, limit)
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}
	handle.WriteJSON(w, http.StatusOK, rows)
}

func (a *app) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		handle.WriteJSON(w, http.StatusBadRequest, handle.APIError{Error: "invalid id"})
		return
	}
	row, err := a.db.getEmbed(id)
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}
	if row == nil {
		handle.WriteJSON(w, http.StatusNotFound, handle.APIError{Error: "not found"})
		return
	}
	handle.WriteJSON(w, http.StatusOK, row)
}

func (a *app) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.db.clearDBTables(); err != nil {
		handle.WriteError(w, r, err)
		return
	}
	handle.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (a *app) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	reqPath := mux.Vars(r)["path"]
	if reqPath == "" {
		handle.WriteJSON(w, http.StatusBadRequest, handle.APIError{Error: "thumbnail path required"})
		return
	}

	path, err := resolveThumbnail(a.cfg.Storage.DestFolder, reqPath)
	if err != nil {
		handle.WriteError(w, r, err)
		return
	}
	if path == "" {
		handle.WriteJSON(w, http.StatusForbidden, handle.APIError{Error: "access denied"})
		return
	}
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		handle.WriteJSON(w, http.StatusNotFound, handle.APIError{Error: "thumbnail not found"})
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}

// resolveSource maps a batch source onto a directory inside root. Relative sources are
// taken from root. It returns "" when the source, symlinks followed, leaves root.
func resolveSource(root, src string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = real
	}

	if !filepath.IsAbs(src) {
		src = filepath.Join(absRoot, src)
	}
	absSrc := filepath.Clean(src)
	if real, err := filepath.EvalSymlinks(absSrc); err == nil {
		absSrc = real
	}

	rel, err := filepath.Rel(absRoot, absSrc)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", nil
	}
	return absSrc, nil
}

func parsePage(r *http.Request) (int64, int64) {
	q := r.URL.Query()
	var (
		offset int64 = 0
		limit  int64 = 50
	)
	if s := q.Get("offset"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil && v >= 0 {
			offset = v
		}
	}
	if s := q.Get("limit"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	return offset, limit
}
