package geo

import (
	"fmt"
	"math"
)

// SecondsDenominator is the fixed denominator used for the arc-second rational.
// 10000 keeps four decimal digits of arc-second precision.
const SecondsDenominator = 10000

// DMS is a coordinate in the EXIF degrees/minutes/seconds layout.
type DMS struct {
	Degrees            uint32
	Minutes            uint32
	SecondsNumerator   uint32
	SecondsDenominator uint32
	Ref                byte
}

// Seconds returns the arc-seconds as a float.
func (d DMS) Seconds() float64 {
	if d.SecondsDenominator == 0 {
		return 0
	}
	return float64(d.SecondsNumerator) / float64(d.SecondsDenominator)
}

// Decimal converts d back to signed decimal degrees.
func (d DMS) Decimal() float64 {
	return DMSToDecimal(float64(d.Degrees), float64(d.Minutes), d.Seconds(), d.Ref)
}

func (d DMS) String() string {
	return fmt.Sprintf("%d°%d'%.4f\"%c", d.Degrees, d.Minutes, d.Seconds(), d.Ref)
}

// DecimalToDMS splits a decimal-degree value into floored degrees and minutes and
// rounded seconds over SecondsDenominator. The sign moves into Ref.
func DecimalToDMS(value float64, isLatitude bool) DMS {
	abs := math.Abs(value)
	degrees := math.Floor(abs)
	minutesFloat := (abs - degrees) * 60
	minutes := math.Floor(minutesFloat)
	secondsFloat := (minutesFloat - minutes) * 60

	return DMS{
		Degrees:            uint32(degrees),
		Minutes:            uint32(minutes),
		SecondsNumerator:   uint32(math.Round(secondsFloat * SecondsDenominator)),
		SecondsDenominator: SecondsDenominator,
		Ref:                hemisphere(value, isLatitude),
	}
}

// DMSToDecimal is the inverse of DecimalToDMS. S and W references negate the result.
func DMSToDecimal(degrees, minutes, seconds float64, ref byte) float64 {
	dd := degrees + minutes/60 + seconds/3600
	if ref == 'S' || ref == 'W' {
		dd = -dd
	}
	return dd
}

func hemisphere(value float64, isLatitude bool) byte {
	switch {
	case isLatitude && value >= 0:
		return 'N'
	case isLatitude:
		return 'S'
	case value >= 0:
		return 'E'
	default:
		return 'W'
	}
}

// MaxAltitude is the largest altitude, in metres, that fits the centimetre GPSAltitude
// rational.
const MaxAltitude = float64(math.MaxUint32) / 100

// ValidAltitude reports whether v can be written as GPSAltitude.
func ValidAltitude(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) <= MaxAltitude
}

// ValidLatitude reports whether v is a usable latitude.
func ValidLatitude(v float64) bool {
	return !math.IsNaN(v) && v >= -90 && v <= 90
}

// ValidLongitude reports whether v is a usable longitude.
func ValidLongitude(v float64) bool {
	return !math.IsNaN(v) && v >= -180 && v <= 180
}
