package main

import (
	"bytes"
	"fmt"
	"time"

	exifcommon "github.com/dsoprea/go-exif/v3/common"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/mknote"
	"github.com/sirupsen/logrus"

	"photoTagger/geo"
	"photoTagger/photometa"
)

// ExifData is the goexif view of the common fields, read independently of the writer.
type ExifData struct {
	Description      string     `json:"description,omitempty"`
	CameraMake       string     `json:"make,omitempty"`
	CameraModel      string     `json:"model,omitempty"`
	Copyright        string     `json:"copyright,omitempty"`
	DateTimeOriginal *time.Time `json:"datetime,omitempty"`
	Orientation      int        `json:"orientation,omitempty"`
	Latitude         float64    `json:"latitude,omitempty"`
	Longitude        float64    `json:"longitude,omitempty"`
	Altitude         *float64   `json:"altitude,omitempty"`
	HasLocation      bool       `json:"hasLocation"`
}

func init() {
	exif.RegisterParsers(mknote.All...)
}

// ExtractExif reads common EXIF fields from JPEG bytes. Returns best-effort data.
// goexif only looks at the first APP1 segment, so files with XMP ahead of EXIF are
// read through the flat tag list instead.
func ExtractExif(data []byte) (*ExifData, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		entries, tagErr := photometa.ReadTags(data)
		if tagErr != nil {
			return nil, err
		}
		logrus.WithError(err).Debug("goexif could not read EXIF, using flat tag list")
		return exifFromTags(entries), nil
	}

	var out ExifData
	out.Description = stringField(x, exif.ImageDescription)
	out.CameraMake = stringField(x, exif.Make)
	out.CameraModel = stringField(x, exif.Model)
	out.Copyright = stringField(x, exif.Copyright)

	if s := stringField(x, exif.DateTimeOriginal); s != "" {
		if t, err := parseExifTime(s); err == nil {
			out.DateTimeOriginal = &t
		}
	} else if t, err := x.DateTime(); err == nil {
		out.DateTimeOriginal = &t
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if i, err := tag.Int(0); err == nil {
			out.Orientation = i
		}
	}

	if lat, lon, err := x.LatLong(); err == nil {
		out.Latitude = lat
		out.Longitude = lon
		out.HasLocation = true
	}
	if tag, err := x.Get(exif.GPSAltitude); err == nil {
		if r, err := tag.Rat(0); err == nil {
			alt, _ := r.Float64()
			if ref, err := x.Get(exif.GPSAltitudeRef); err == nil {
				if v, err := ref.Int(0); err == nil && v == 1 {
					alt = -alt
				}
			}
			out.Altitude = &alt
		}
	}

	return &out, nil
}

const (
	ifd0Path   = "IFD"
	exifIfd    = "IFD/Exif"
	gpsIfdPath = "IFD/GPSInfo"
)

func exifFromTags(entries []photometa.TagEntry) *ExifData {
	text := func(ifd, name string) string {
		e, err := photometa.FindTag(entries, ifd, name)
		if err != nil {
			return ""
		}
		if s, ok := e.Raw.(string); ok {
			return s
		}
		return e.Value
	}

	out := &ExifData{
		Description: text(ifd0Path, "ImageDescription"),
		CameraMake:  text(ifd0Path, "Make"),
		CameraModel: text(ifd0Path, "Model"),
		Copyright:   text(ifd0Path, "Copyright"),
	}

	ts := text(exifIfd, "DateTimeOriginal")
	if ts == "" {
		ts = text(ifd0Path, "DateTime")
	}
	if t, err := parseExifTime(ts); err == nil {
		out.DateTimeOriginal = &t
	}

	if e, err := photometa.FindTag(entries, ifd0Path, "Orientation"); err == nil {
		if v, ok := e.Raw.([]uint16); ok && len(v) > 0 {
			out.Orientation = int(v[0])
		}
	}

	lat, latOK := coordinate(entries, "GPSLatitude", text(gpsIfdPath, "GPSLatitudeRef"))
	lon, lonOK := coordinate(entries, "GPSLongitude", text(gpsIfdPath, "GPSLongitudeRef"))
	if latOK && lonOK {
		out.Latitude, out.Longitude, out.HasLocation = lat, lon, true
	}

	if e, err := photometa.FindTag(entries, gpsIfdPath, "GPSAltitude"); err == nil {
		if r, ok := e.Raw.([]exifcommon.Rational); ok && len(r) > 0 && r[0].Denominator != 0 {
			alt := float64(r[0].Numerator) / float64(r[0].Denominator)
			if ref, err := photometa.FindTag(entries, gpsIfdPath, "GPSAltitudeRef"); err == nil {
				if b, ok := ref.Raw.([]byte); ok && len(b) > 0 && b[0] == 1 {
					alt = -alt
				}
			}
			out.Altitude = &alt
		}
	}
	return out
}

func coordinate(entries []photometa.TagEntry, name, ref string) (float64, bool) {
	e, err := photometa.FindTag(entries, gpsIfdPath, name)
	if err != nil || ref == "" {
		return 0, false
	}
	r, ok := e.Raw.([]exifcommon.Rational)
	if !ok || len(r) != 3 {
		return 0, false
	}
	part := func(q exifcommon.Rational) float64 {
		if q.Denominator == 0 {
			return 0
		}
		return float64(q.Numerator) / float64(q.Denominator)
	}
	return geo.DMSToDecimal(part(r[0]), part(r[1]), part(r[2]), ref[0]), true
}

func stringField(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}

func parseExifTime(s string) (time.Time, error) {
	layouts := []string{
		"2006:01:02 15:04:05",
		time.RFC3339,
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse exif time: %q", s)
}
