package photometa

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf16"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	"github.com/sirupsen/logrus"

	"photoTagger/geo"
)

const exifTimeLayout = "2006:01:02 15:04:05"

var (
	exifIfdPath = exifcommon.IfdExifStandardIfdIdentity.UnindexedString()
	gpsIfdPath  = exifcommon.IfdGpsInfoStandardIfdIdentity.UnindexedString()

	errContainerUsed = errors.New("container already serialized")
)

// Tag is one XMP/IPTC assignment for the extended section. List tags carry several values.
type Tag struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Container is an image's EXIF block plus the extended text fields destined for
// XMP/IPTC. The primary section is the root IFD; the Exif and GPS sections are child
// IFDs created on first write. A Container belongs to one image and is serialized once.
type Container struct {
	root     *exif.IfdBuilder
	Extended []Tag

	existing bool
	consumed bool
}

// IsJPEG reports whether b starts with the JPEG start-of-image marker.
func IsJPEG(b []byte) bool {
	return len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8
}

// IsPNG reports whether b starts with the PNG signature.
func IsPNG(b []byte) bool {
	return len(b) >= 4 && b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47
}

// Load parses the EXIF block of img. Missing or unreadable EXIF yields an empty
// container; an error is returned only when not even an empty one can be built.
func Load(img []byte) (*Container, error) {
	root, err := loadRoot(img)
	if err == nil {
		return &Container{root: root, Extended: []Tag{}, existing: true}, nil
	}
	logrus.WithError(err).Debug("no usable EXIF block, starting from an empty container")

	root, err = newRootBuilder()
	if err != nil {
		return nil, newMergeError("cannot initialise EXIF container", err)
	}
	return &Container{root: root, Extended: []Tag{}}, nil
}

// Primary returns the root IFD builder.
func (c *Container) Primary() *exif.IfdBuilder {
	return c.root
}

// GPSPresent reports whether the container holds a GPS section.
func (c *Container) GPSPresent() bool {
	_, err := c.root.ChildWithTagId(exifcommon.IfdGpsInfoStandardIfdIdentity.TagId())
	return err == nil
}

// HasExisting reports whether Load found an EXIF block in the source bytes.
func (c *Container) HasExisting() bool {
	return c.existing
}

func loadRoot(img []byte) (root *exif.IfdBuilder, err error) {
	defer recoverInto(&err)

	sl, err := parseSegments(img)
	if err != nil {
		return nil, err
	}
	// ConstructExifBuilder hands back a fresh builder when there is no EXIF segment.
	if _, _, err := sl.FindExif(); err != nil {
		return nil, err
	}
	return sl.ConstructExifBuilder()
}

func newRootBuilder() (root *exif.IfdBuilder, err error) {
	defer recoverInto(&err)

	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return nil, err
	}
	ti := exif.NewTagIndex()
	return exif.NewIfdBuilder(im, ti, exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder), nil
}

func parseSegments(img []byte) (*jpegstructure.SegmentList, error) {
	intfc, err := jpegstructure.NewJpegMediaParser().ParseBytes(img)
	if err != nil {
		return nil, err
	}
	sl, ok := intfc.(*jpegstructure.SegmentList)
	if !ok {
		return nil, fmt.Errorf("unexpected media context %T", intfc)
	}
	return sl, nil
}

// Merge writes every set field of rec into the container, replacing prior values of
// the same tags and leaving all other tags alone. GPS is written as a unit or not at all.
func (c *Container) Merge(rec *Record) (err error) {
	defer recoverInto(&err)

	if c.consumed {
		return errContainerUsed
	}

	primary := c.root
	if rec.Description != "" {
		if err := set(primary, "ImageDescription", rec.Description); err != nil {
			return err
		}
		setWide(primary, "XPComment", rec.Description)
	}
	if rec.Title != "" {
		setWide(primary, "XPTitle", rec.Title)
	}
	if len(rec.Keywords) > 0 {
		setWide(primary, "XPKeywords", rec.KeywordText())
	}
	for _, f := range []struct{ name, value string }{
		{"Make", rec.Make},
		{"Model", rec.Model},
		{"Copyright", rec.Copyright},
	} {
		if f.value == "" {
			continue
		}
		if err := set(primary, f.name, f.value); err != nil {
			return err
		}
	}

	if !rec.DateTime.IsZero() {
		ts := rec.DateTime.Format(exifTimeLayout)
		if err := set(primary, "DateTime", ts); err != nil {
			return err
		}
		exifIb, err := exif.GetOrCreateIbFromRootIb(c.root, exifIfdPath)
		if err != nil {
			return fmt.Errorf("exif section: %w", err)
		}
		if err := set(exifIb, "DateTimeOriginal", ts); err != nil {
			return err
		}
	}

	if rec.GPS != nil {
		if err := c.mergeGPS(rec.GPS); err != nil {
			return err
		}
	}

	if tags := ExtendedTags(rec); tags != nil {
		c.Extended = tags
	}
	return nil
}

func (c *Container) mergeGPS(p *Position) error {
	if !geo.ValidLatitude(p.Latitude) || !geo.ValidLongitude(p.Longitude) {
		return nil
	}

	lat := geo.DecimalToDMS(p.Latitude, true)
	lon := geo.DecimalToDMS(p.Longitude, false)

	values := []tagValue{
		{"GPSVersionID", []byte{2, 3, 0, 0}},
		{"GPSLatitudeRef", string(lat.Ref)},
		{"GPSLatitude", dmsRationals(lat)},
		{"GPSLongitudeRef", string(lon.Ref)},
		{"GPSLongitude", dmsRationals(lon)},
	}
	if p.Altitude != nil && geo.ValidAltitude(*p.Altitude) {
		ref := byte(0)
		if *p.Altitude < 0 {
			ref = 1
		}
		values = append(values,
			tagValue{"GPSAltitudeRef", []byte{ref}},
			tagValue{"GPSAltitude", []exifcommon.Rational{{
				Numerator:   uint32(math.Round(math.Abs(*p.Altitude) * 100)),
				Denominator: 100,
			}}},
		)
	}

	gps, err := exif.GetOrCreateIbFromRootIb(c.root, gpsIfdPath)
	if err != nil {
		return fmt.Errorf("gps section: %w", err)
	}
	for _, v := range values {
		if err := set(gps, v.name, v.value); err != nil {
			return err
		}
	}
	return nil
}

type tagValue struct {
	name  string
	value interface{}
}

func dmsRationals(d geo.DMS) []exifcommon.Rational {
	return []exifcommon.Rational{
		{Numerator: d.Degrees, Denominator: 1},
		{Numerator: d.Minutes, Denominator: 1},
		{Numerator: d.SecondsNumerator, Denominator: d.SecondsDenominator},
	}
}

func set(ib *exif.IfdBuilder, name string, value interface{}) error {
	if err := ib.SetStandardWithName(name, value); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

// setWide writes a Windows XP* tag (UTF-16LE, NUL terminated). These mirror the ASCII
// tags for viewers that mangle UTF-8, so a failure only gets logged.
func setWide(ib *exif.IfdBuilder, name, value string) {
	if err := set(ib, name, utf16le(value)); err != nil {
		logrus.WithError(err).WithField("tag", name).Debug("skipping wide-text tag")
	}
}

func utf16le(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2+2)
	for _, u := range units {
		out = binary.LittleEndian.AppendUint16(out, u)
	}
	return append(out, 0, 0)
}

// DecodeUTF16LE reverses the XP* tag encoding.
func DecodeUTF16LE(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// Serialize writes the container into a copy of original and returns the new JPEG.
// original is never modified.
func (c *Container) Serialize(original []byte) (out []byte, err error) {
	if !IsJPEG(original) {
		return nil, &UnsupportedFormatError{Message: "image is not a JPEG"}
	}
	if c.consumed {
		return nil, newMergeError("container reused", errContainerUsed)
	}
	c.consumed = true

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, newMergeError("EXIF encoder failure", fmt.Errorf("%v", r))
		}
	}()

	sl, err := parseSegments(append([]byte(nil), original...))
	if err != nil {
		return nil, newMergeError("cannot parse JPEG structure", err)
	}
	if err := sl.SetExif(c.root); err != nil {
		return nil, newMergeError("cannot encode EXIF block", err)
	}

	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return nil, newMergeError("cannot write JPEG", err)
	}
	return buf.Bytes(), nil
}

// ExtendedTags maps the record's text fields onto XMP and IPTC tag names.
func ExtendedTags(rec *Record) []Tag {
	var tags []Tag
	add := func(name string, values ...string) {
		if len(values) == 0 || (len(values) == 1 && values[0] == "") {
			return
		}
		tags = append(tags, Tag{Name: name, Values: values})
	}

	add("XMP-dc:Title", rec.Title)
	add("IPTC:ObjectName", rec.Title)
	add("XMP-dc:Description", rec.Description)
	add("IPTC:Caption-Abstract", rec.Description)
	add("XMP-dc:Subject", rec.Keywords...)
	add("IPTC:Keywords", rec.Keywords...)
	add("XMP-photoshop:City", rec.City)
	add("IPTC:City", rec.City)
	add("XMP-photoshop:Country", rec.Country)
	add("IPTC:Country-PrimaryLocationName", rec.Country)
	return tags
}

// CopyExif carries the EXIF block of src over to dst, for outputs re-encoded by the
// image library. dst is returned unchanged when src has no EXIF block.
func CopyExif(src, dst []byte) ([]byte, error) {
	c, err := Load(src)
	if err != nil {
		return dst, err
	}
	if !c.HasExisting() {
		return dst, nil
	}
	return c.Serialize(dst)
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		if e, ok := r.(error); ok {
			*err = e
			return
		}
		*err = fmt.Errorf("%v", r)
	}
}
