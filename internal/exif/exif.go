package exif

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"strings"
	"time"

	goexif "github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"
)

// Metadata is the normalized record extracted from an image payload.
// Width and Height are always populated; every other field is nil when the
// corresponding tag was absent or unparseable.
type Metadata struct {
	Width  int
	Height int

	CameraMake     *string
	CameraModel    *string
	Lens           *string
	ISO            *int
	Aperture       *float64
	ShutterSpeed   *string
	FocalLengthMM  *int
	CapturedAt     *time.Time
	TimezoneOffset *string // raw tag value, e.g. "+02:00", stored verbatim

	Latitude  *float64
	Longitude *float64
	AltitudeM *float64
}

// HasGPS reports whether a coordinate pair was extracted.
func (m *Metadata) HasGPS() bool {
	return m.Latitude != nil && m.Longitude != nil
}

const captureTimeLayout = "2006:01:02 15:04:05"

var exifMarker = []byte("Exif\x00\x00")

// Extract parses an image payload into Metadata.
//
// Pixel dimensions are read first and are the only mandatory result; an
// unreadable container is the single fatal error. Tag parsing is best-effort:
// each reader contributes whatever fields it can and a single unparseable tag
// never prevents extraction of the rest.
func Extract(r io.Reader) (*Metadata, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("exif: read payload: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("exif: unreadable image: %w", err)
	}

	md := &Metadata{Width: cfg.Width, Height: cfg.Height}

	x := decodeTags(data)
	if x == nil {
		// Well-formed but tagless image: dimensions-only record.
		return md, nil
	}

	for _, read := range []func(*goexif.Exif, *Metadata){
		readCamera,
		readExposure,
		readCaptureTime,
		readTimezone,
		readGPS,
	} {
		read(x, md)
	}

	return md, nil
}

// decodeTags tries the structured container parse first, then falls back to
// locating the raw TIFF block behind the Exif marker and parsing from there.
// The fallback tolerates containers whose segment layout confuses the primary
// path. Returns nil when no tag block could be parsed at all.
func decodeTags(data []byte) *goexif.Exif {
	x, err := goexif.Decode(bytes.NewReader(data))
	if err == nil {
		return x
	}

	if idx := bytes.Index(data, exifMarker); idx >= 0 {
		if x, fberr := goexif.Decode(bytes.NewReader(data[idx+len(exifMarker):])); fberr == nil {
			return x
		}
	}

	slog.Debug("no parseable exif block", "error", err)
	return nil
}

func readCamera(x *goexif.Exif, md *Metadata) {
	md.CameraMake = stringField(x, goexif.Make)
	md.CameraModel = stringField(x, goexif.Model)
	md.Lens = stringField(x, goexif.LensModel)
}

func readExposure(x *goexif.Exif, md *Metadata) {
	if r, ok := ratField(x, goexif.FNumber); ok {
		// Zero denominator means the tag is garbage, not a crash.
		if f, ok := r.Float(); ok {
			md.Aperture = &f
		}
	}

	if r, ok := ratField(x, goexif.ExposureTime); ok && r.Den != 0 {
		s := ExposureString(r.Num, r.Den)
		md.ShutterSpeed = &s
	}

	if r, ok := ratField(x, goexif.FocalLength); ok {
		if f, ok := r.Float(); ok {
			mm := int(f) // truncated to whole millimeters
			md.FocalLengthMM = &mm
		}
	}

	if tag, err := x.Get(goexif.ISOSpeedRatings); err == nil {
		if iso, err := tag.Int(0); err == nil {
			md.ISO = &iso
		}
	}
}

func readCaptureTime(x *goexif.Exif, md *Metadata) {
	if t := timeField(x, goexif.DateTime); t != nil {
		md.CapturedAt = t
	}
	// The original-capture timestamp is the more accurate one and overrides
	// the generic DateTime when both are present.
	if t := timeField(x, goexif.DateTimeOriginal); t != nil {
		md.CapturedAt = t
	}
}

func readTimezone(x *goexif.Exif, md *Metadata) {
	if s := stringField(x, goexif.FieldName("OffsetTimeOriginal")); s != nil {
		md.TimezoneOffset = s
		return
	}
	md.TimezoneOffset = stringField(x, goexif.FieldName("OffsetTime"))
}

// readGPS emits a coordinate pair only when both axes have a value and a
// hemisphere reference. Partial GPS data is discarded as a unit rather than
// partially trusted.
func readGPS(x *goexif.Exif, md *Metadata) {
	latRef := stringField(x, goexif.GPSLatitudeRef)
	lonRef := stringField(x, goexif.GPSLongitudeRef)
	lat, latOK := dmsField(x, goexif.GPSLatitude)
	lon, lonOK := dmsField(x, goexif.GPSLongitude)

	if latRef == nil || lonRef == nil || !latOK || !lonOK {
		return
	}

	latDec := DMSToDecimal(lat[0], lat[1], lat[2], *latRef)
	lonDec := DMSToDecimal(lon[0], lon[1], lon[2], *lonRef)
	md.Latitude = &latDec
	md.Longitude = &lonDec

	if r, ok := ratField(x, goexif.GPSAltitude); ok {
		if alt, ok := r.Float(); ok {
			if tag, err := x.Get(goexif.GPSAltitudeRef); err == nil {
				if ref, err := tag.Int(0); err == nil && ref == 1 {
					alt = -alt // below sea level
				}
			}
			md.AltitudeM = &alt
		}
	}
}

// stringField returns a trimmed text tag, nil when absent or empty. Trailing
// NUL bytes may or may not survive goexif's decoding, so both are stripped.
func stringField(x *goexif.Exif, name goexif.FieldName) *string {
	tag, err := x.Get(name)
	if err != nil {
		return nil
	}
	s, err := tag.StringVal()
	if err != nil {
		return nil
	}
	s = strings.TrimSpace(strings.Trim(s, "\x00"))
	if s == "" {
		return nil
	}
	return &s
}

func ratField(x *goexif.Exif, name goexif.FieldName) (Rational, bool) {
	tag, err := x.Get(name)
	if err != nil {
		return Rational{}, false
	}
	num, den, err := tag.Rat2(0)
	if err != nil {
		return Rational{}, false
	}
	return Rational{Num: num, Den: den}, true
}

func dmsField(x *goexif.Exif, name goexif.FieldName) ([3]Rational, bool) {
	var out [3]Rational
	tag, err := x.Get(name)
	if err != nil {
		return out, false
	}
	for i := range out {
		num, den, err := tag.Rat2(i)
		if err != nil {
			return out, false
		}
		out[i] = Rational{Num: num, Den: den}
	}
	return out, true
}

func timeField(x *goexif.Exif, name goexif.FieldName) *time.Time {
	s := stringField(x, name)
	if s == nil {
		return nil
	}
	t, err := time.Parse(captureTimeLayout, *s)
	if err != nil {
		return nil
	}
	return &t
}
