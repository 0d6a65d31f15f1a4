package handle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"photoTagger/geo"
	"photoTagger/photometa"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type healthResp struct {
	Ok        bool      `json:"ok"`
	Version   string    `json:"version"`
	Exiftool  bool      `json:"exiftool"`
	Geocoder  bool      `json:"geocoder"`
	Timestamp time.Time `json:"timestamp"`
}

func health(opts Options) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := healthResp{Ok: true, Version: opts.Version, Timestamp: time.Now()}
		if opts.Exiftool != nil {
			resp.Exiftool = opts.Exiftool()
		}
		if opts.Geocoder != nil {
			resp.Geocoder = opts.Geocoder()
		}
		WriteJSON(w, http.StatusOK, resp)
	})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteJPEG sends data as a JPEG attachment.
func WriteJPEG(w http.ResponseWriter, data []byte, filename string) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Status maps an error to its HTTP status and response body. Internal failures get a
// generic message so causes never leak to the caller.
func Status(err error) (int, APIError) {
	var (
		ve  *photometa.ValidationError
		se  *photometa.SourceUnavailableError
		ue  *photometa.UnsupportedFormatError
		me  *photometa.MergeError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, APIError{Error: "invalid request", Message: ve.Message}
	case errors.As(err, &se):
		return http.StatusBadRequest, APIError{Error: "image source unavailable", Message: se.Message}
	case errors.As(err, &ue):
		return http.StatusBadRequest, APIError{Error: "unsupported image format", Message: ue.Message}
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge, APIError{Error: "request body too large"}
	case errors.Is(err, geo.ErrGeocodeUnavailable):
		return http.StatusServiceUnavailable, APIError{Error: "geocoding unavailable"}
	case errors.Is(err, geo.ErrInvalidCode):
		return http.StatusBadRequest, APIError{Error: "invalid plus code", Message: err.Error()}
	case errors.Is(err, geo.ErrNotFound):
		return http.StatusNotFound, APIError{Error: "location not found"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, APIError{Error: "request timed out"}
	case errors.As(err, &me):
		return http.StatusInternalServerError, APIError{Error: "metadata embedding failed"}
	}
	return http.StatusInternalServerError, APIError{Error: "internal error"}
}

// WriteError logs err and writes its mapped response.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := Status(err)
	entry := logrus.WithFields(logrus.Fields{"path": r.URL.Path, "status": status}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}
	WriteJSON(w, status, body)
}
