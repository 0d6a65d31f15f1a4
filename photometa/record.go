package photometa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"photoTagger/geo"
)

// Request is the embed operation's JSON body. Top-level fields form the structured
// shape; ExifData carries the legacy field bag.
type Request struct {
	ImageURL  string `json:"imageUrl"`
	ImageData string `json:"imageData"`

	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    Keywords `json:"keywords"`
	City        string   `json:"city"`
	Country     string   `json:"country"`
	Latitude    OptFloat `json:"latitude"`
	Longitude   OptFloat `json:"longitude"`
	Altitude    OptFloat `json:"altitude"`

	ExifData *LegacyFields `json:"exifData,omitempty"`
}

// LegacyFields is the flat field bag older clients send under "exifData". Clients use
// either the EXIF tag names or plain names (description, datetime, latitude, ...); the
// tag names win when both are present.
type LegacyFields struct {
	Description string   `json:"ImageDescription"`
	Keywords    Keywords `json:"Keywords"`
	Make        string   `json:"Make"`
	Model       string   `json:"Model"`
	Copyright   string   `json:"Copyright"`
	DateTime    string   `json:"DateTimeOriginal"`
	Latitude    OptFloat `json:"GPSLatitude"`
	Longitude   OptFloat `json:"GPSLongitude"`
	Altitude    OptFloat `json:"GPSAltitude"`

	PlainDescription string   `json:"description"`
	PlainDateTime    string   `json:"datetime"`
	PlainLatitude    OptFloat `json:"latitude"`
	PlainLongitude   OptFloat `json:"longitude"`
	PlainAltitude    OptFloat `json:"altitude"`
}

// canonical folds the plain-name fields into the tag-name ones. GPS moves as a unit so
// the two spellings never combine into one position.
func (l LegacyFields) canonical() *LegacyFields {
	if clean(l.Description) == "" {
		l.Description = l.PlainDescription
	}
	if clean(l.DateTime) == "" {
		l.DateTime = l.PlainDateTime
	}
	if !l.Latitude.Set && !l.Longitude.Set && !l.Altitude.Set {
		l.Latitude, l.Longitude, l.Altitude = l.PlainLatitude, l.PlainLongitude, l.PlainAltitude
	}
	return &l
}

// Keywords accepts either a comma-separated string or an array of strings.
type Keywords []string

func (k *Keywords) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*k = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = strings.Split(s, ",")
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("keywords must be a string or an array of strings")
	}
	*k = list
	return nil
}

// OptFloat is a number that may be absent. It accepts JSON numbers and numeric
// strings; null and "" leave it unset.
type OptFloat struct {
	Value float64
	Set   bool
}

// Float returns a set OptFloat.
func Float(v float64) OptFloat {
	return OptFloat{Value: v, Set: true}
}

func (o *OptFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = OptFloat{}
		return nil
	}
	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*o = OptFloat{}
			return nil
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", raw)
	}
	*o = OptFloat{Value: v, Set: true}
	return nil
}

func (o OptFloat) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Position is a validated GPS fix.
type Position struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

// Record is the canonical set of fields to embed. Empty strings and a zero DateTime
// mean "absent".
type Record struct {
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	City        string    `json:"city,omitempty"`
	Country     string    `json:"country,omitempty"`
	Make        string    `json:"make,omitempty"`
	Model       string    `json:"model,omitempty"`
	Copyright   string    `json:"copyright,omitempty"`
	DateTime    time.Time `json:"datetime,omitempty"`
	GPS         *Position `json:"gps,omitempty"`
}

// IsEmpty reports whether no field is set.
func (r *Record) IsEmpty() bool {
	return r.Title == "" && r.Description == "" && len(r.Keywords) == 0 &&
		r.City == "" && r.Country == "" && r.Make == "" && r.Model == "" &&
		r.Copyright == "" && r.DateTime.IsZero() && r.GPS == nil
}

// KeywordText is the single-string form written to the primary section.
func (r *Record) KeywordText() string {
	return strings.Join(r.Keywords, ", ")
}

// Normalize validates that an image source is present and builds the record.
func Normalize(req *Request) (*Record, error) {
	if err := checkSource(req.ImageURL, req.ImageData); err != nil {
		return nil, err
	}
	return req.Record()
}

func checkSource(imageURL, imageData string) error {
	hasURL := strings.TrimSpace(imageURL) != ""
	hasData := strings.TrimSpace(imageData) != ""
	switch {
	case !hasURL && !hasData:
		return NewValidationError("missing image source")
	case hasURL && hasData:
		return NewValidationError("imageUrl and imageData are mutually exclusive")
	}
	return nil
}

// Record builds the canonical record from whichever shape the request uses. When any
// structured field is present it wins for text and GPS; the legacy bag only fills a
// missing description or keyword list, and never contributes GPS.
func (r *Request) Record() (*Record, error) {
	legacy := &LegacyFields{}
	if r.ExifData != nil {
		legacy = r.ExifData.canonical()
	}

	rec := &Record{
		Make:      clean(legacy.Make),
		Model:     clean(legacy.Model),
		Copyright: clean(legacy.Copyright),
		DateTime:  parseDateTime(legacy.DateTime),
	}

	var lat, lon, alt OptFloat
	if r.hasStructured() {
		rec.Title = clean(r.Title)
		rec.Description = clean(r.Description)
		if rec.Description == "" {
			rec.Description = clean(legacy.Description)
		}
		rec.Keywords = normalizeKeywords(r.Keywords)
		if len(rec.Keywords) == 0 {
			rec.Keywords = normalizeKeywords(legacy.Keywords)
		}
		rec.City = clean(r.City)
		rec.Country = clean(r.Country)
		lat, lon, alt = r.Latitude, r.Longitude, r.Altitude
	} else {
		rec.Description = clean(legacy.Description)
		rec.Keywords = normalizeKeywords(legacy.Keywords)
		lat, lon, alt = legacy.Latitude, legacy.Longitude, legacy.Altitude
	}

	pos, err := position(lat, lon, alt)
	if err != nil {
		return nil, err
	}
	rec.GPS = pos

	if rec.IsEmpty() {
		return nil, NewValidationError("no metadata fields supplied")
	}
	return rec, nil
}

func (r *Request) hasStructured() bool {
	return clean(r.Title) != "" || clean(r.Description) != "" ||
		len(normalizeKeywords(r.Keywords)) > 0 ||
		clean(r.City) != "" || clean(r.Country) != "" ||
		r.Latitude.Set || r.Longitude.Set || r.Altitude.Set
}

// position enforces that coordinates come in pairs. Out-of-range pairs are dropped,
// never clamped.
func position(lat, lon, alt OptFloat) (*Position, error) {
	if !lat.Set && !lon.Set {
		return nil, nil
	}
	if lat.Set != lon.Set {
		return nil, NewValidationError("latitude and longitude must be supplied together")
	}
	if !geo.ValidLatitude(lat.Value) || !geo.ValidLongitude(lon.Value) {
		logrus.WithFields(logrus.Fields{"latitude": lat.Value, "longitude": lon.Value}).
			Debug("coordinates out of range, GPS omitted")
		return nil, nil
	}

	p := &Position{Latitude: lat.Value, Longitude: lon.Value}
	if alt.Set {
		if geo.ValidAltitude(alt.Value) {
			a := alt.Value
			p.Altitude = &a
		} else {
			logrus.WithField("altitude", alt.Value).Debug("altitude out of range, omitted")
		}
	}
	return p, nil
}

func normalizeKeywords(in []string) []string {
	var out []string
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func clean(s string) string {
	return strings.TrimSpace(s)
}

var dateTimeLayouts = []string{
	"2006:01:02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDateTime returns the zero time for empty, unparsable, or out-of-range input.
func parseDateTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateTimeLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			continue
		}
		if t.Year() < 1900 || t.Year() > 2100 {
			logrus.WithField("datetime", s).Debug("datetime out of range, dropped")
			return time.Time{}
		}
		return t
	}
	logrus.WithField("datetime", s).Debug("unparsable datetime, dropped")
	return time.Time{}
}
