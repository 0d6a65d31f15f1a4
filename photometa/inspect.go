package photometa

import (
	"fmt"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
)

// TagEntry is one decoded EXIF tag.
type TagEntry struct {
	IFD   string      `json:"ifd"`
	Name  string      `json:"name"`
	Value string      `json:"value"`
	Raw   interface{} `json:"-"`
}

// ReadTags returns every EXIF tag of img in file order. XP* tags are decoded from
// UTF-16LE.
func ReadTags(img []byte) (entries []TagEntry, err error) {
	defer recoverInto(&err)

	raw, err := exif.SearchAndExtractExif(img)
	if err != nil {
		return nil, err
	}
	flat, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return nil, err
	}

	entries = make([]TagEntry, 0, len(flat))
	for _, t := range flat {
		e := TagEntry{IFD: t.IfdPath, Name: t.TagName, Value: t.Formatted, Raw: t.Value}
		if b, ok := t.Value.([]byte); ok && strings.HasPrefix(t.TagName, "XP") {
			e.Value = DecodeUTF16LE(b)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// FindTag returns the first tag with the given IFD path and name.
func FindTag(entries []TagEntry, ifd, name string) (TagEntry, error) {
	for _, e := range entries {
		if e.IFD == ifd && e.Name == name {
			return e, nil
		}
	}
	return TagEntry{}, fmt.Errorf("tag %s/%s not found", ifd, name)
}
