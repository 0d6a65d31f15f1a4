package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	olc "github.com/google/open-location-code/go"
	"github.com/sirupsen/logrus"
)

// DefaultGeocodeEndpoint is the Google Geocoding JSON API.
const DefaultGeocodeEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

var (
	// ErrGeocodeUnavailable means the lookup needs the external service and it is not configured or not reachable.
	ErrGeocodeUnavailable = errors.New("geocoding unavailable")
	// ErrInvalidCode means the input is not a Plus Code in any accepted form.
	ErrInvalidCode = errors.New("invalid plus code")
	// ErrNotFound means the external service returned no result.
	ErrNotFound = errors.New("location not found")
)

// Location is a resolved coordinate.
type Location struct {
	Code      string  `json:"code"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Source    string  `json:"source"` // "local" or "geocoder"
}

// ResolverConfig configures the geocoding fallback.
type ResolverConfig struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// Resolver turns Plus Codes into coordinates. Full codes, and short codes with a
// reference point, decode locally; compound codes ("CWC8+R9 Mountain View") go to the
// external geocoder.
type Resolver struct {
	cfg    ResolverConfig
	client *http.Client
}

// NewResolver creates a resolver. An empty APIKey disables the external lookup.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGeocodeEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Resolver{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Available reports whether compound codes can be resolved.
func (r *Resolver) Available() bool {
	return r.cfg.APIKey != ""
}

// Resolve resolves code. ref is an optional reference point used to recover short codes.
func (r *Resolver) Resolve(ctx context.Context, code string, ref *Location) (*Location, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidCode
	}

	head, locality := splitCompound(code)

	if olc.CheckFull(head) == nil {
		return decodeLocal(head)
	}

	if olc.CheckShort(head) != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}

	if locality == "" {
		if ref == nil {
			return nil, fmt.Errorf("%w: short code needs a reference location or locality", ErrInvalidCode)
		}
		full, err := olc.RecoverNearest(head, ref.Latitude, ref.Longitude)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
		}
		return decodeLocal(full)
	}

	return r.lookup(ctx, code)
}

func splitCompound(code string) (string, string) {
	parts := strings.SplitN(code, " ", 2)
	if len(parts) == 1 {
		return strings.ToUpper(parts[0]), ""
	}
	return strings.ToUpper(parts[0]), strings.TrimSpace(parts[1])
}

func decodeLocal(code string) (*Location, error) {
	area, err := olc.Decode(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	lat, lng := area.Center()
	return &Location{Code: code, Latitude: lat, Longitude: lng, Source: "local"}, nil
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

func (r *Resolver) lookup(ctx context.Context, code string) (*Location, error) {
	if !r.Available() {
		return nil, ErrGeocodeUnavailable
	}

	q := url.Values{}
	q.Set("address", code)
	q.Set("key", r.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build geocode request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		// The request URL carries the key, keep it out of the returned error.
		logrus.WithError(err).Warn("geocode request failed")
		return nil, ErrGeocodeUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logrus.WithField("status", resp.StatusCode).Warn("geocode service returned non-success status")
		return nil, ErrGeocodeUnavailable
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		logrus.WithError(err).Warn("geocode response decode failed")
		return nil, ErrGeocodeUnavailable
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, ErrNotFound
	default:
		logrus.WithFields(logrus.Fields{"status": body.Status, "message": body.ErrorMessage}).Warn("geocode service refused request")
		return nil, ErrGeocodeUnavailable
	}
	if len(body.Results) == 0 {
		return nil, ErrNotFound
	}

	loc := body.Results[0].Geometry.Location
	return &Location{Code: code, Latitude: loc.Lat, Longitude: loc.Lng, Source: "geocoder"}, nil
}

// ParseRef parses a "lat,lng" reference point. An empty string yields nil.
func ParseRef(s string) (*Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("reference must be \"lat,lng\"")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || !ValidLatitude(lat) {
		return nil, fmt.Errorf("invalid reference latitude %q", parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || !ValidLongitude(lng) {
		return nil, fmt.Errorf("invalid reference longitude %q", parts[1])
	}
	return &Location{Latitude: lat, Longitude: lng}, nil
}
