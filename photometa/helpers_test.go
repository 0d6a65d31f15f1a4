package photometa

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	goexif "github.com/rwcarlsen/goexif/exif"
	"github.com/stretchr/testify/require"
)

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

// testJPEG encodes a small gradient with the standard library encoder. The result
// carries no EXIF block.
func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 8), uint8(y * 10), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

// withOrientation returns a JPEG whose EXIF block holds only an Orientation tag.
func withOrientation(t *testing.T, img []byte, orientation uint16) []byte {
	t.Helper()
	c, err := Load(img)
	require.NoError(t, err)
	require.NoError(t, c.root.SetStandardWithName("Orientation", []uint16{orientation}))
	out, err := c.Serialize(img)
	require.NoError(t, err)
	return out
}

func embed(t *testing.T, img []byte, rec *Record) []byte {
	t.Helper()
	c, err := Load(img)
	require.NoError(t, err)
	require.NoError(t, c.Merge(rec))
	out, err := c.Serialize(img)
	require.NoError(t, err)
	return out
}

func decodeExif(t *testing.T, img []byte) *goexif.Exif {
	t.Helper()
	x, err := goexif.Decode(bytes.NewReader(img))
	require.NoError(t, err)
	return x
}

func stringTag(t *testing.T, x *goexif.Exif, name goexif.FieldName) string {
	t.Helper()
	tag, err := x.Get(name)
	require.NoError(t, err)
	s, err := tag.StringVal()
	require.NoError(t, err)
	return s
}

// insertXMP adds an XMP APP1 segment after the EXIF APP1, where exiftool puts it. Without
// an EXIF segment the packet goes right after SOI.
func insertXMP(img []byte, packet string) []byte {
	content := append([]byte("http://ns.adobe.com/xap/1.0/\x00"), packet...)
	n := len(content) + 2
	segment := append([]byte{0xFF, 0xE1, byte(n >> 8), byte(n)}, content...)

	at := 2
	for i := 2; i+4 <= len(img) && img[i] == 0xFF && img[i+1] != 0xDA; {
		size := int(img[i+2])<<8 | int(img[i+3])
		end := i + 2 + size
		if img[i+1] == 0xE1 && bytes.HasPrefix(img[i+4:], []byte("Exif\x00\x00")) {
			at = end
			break
		}
		i = end
	}

	out := make([]byte, 0, len(img)+len(segment))
	out = append(out, img[:at]...)
	out = append(out, segment...)
	return append(out, img[at:]...)
}

