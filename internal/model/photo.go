package model

import (
	"strings"
	"time"
)

// AccessLevel controls who may fetch a photo's files.
type AccessLevel string

const (
	AccessPublic        AccessLevel = "public"
	AccessAuthenticated AccessLevel = "authenticated"
	AccessPrivate       AccessLevel = "private"
)

// Valid reports whether the level is one of the known values.
func (l AccessLevel) Valid() bool {
	switch l {
	case AccessPublic, AccessAuthenticated, AccessPrivate:
		return true
	}
	return false
}

// VariantKind distinguishes the original upload from encoded derivatives
// when resolving file paths. Originals and derivatives live under separate roots.
const (
	VariantOriginal = "original"
)

type Photo struct {
	ID           string      `db:"id"`
	UserID       string      `db:"user_id"`
	Title        string      `db:"title"`
	OriginalName string      `db:"original_name"`
	MimeType     string      `db:"mime_type"`
	Size         int64       `db:"size"`
	StoragePath  string      `db:"storage_path"` // original file, relative to the originals root
	AccessLevel  AccessLevel `db:"access_level"`

	// Extracted metadata. Everything except Width/Height is optional;
	// a nil pointer means the tag was not present in the source.
	Width          int        `db:"width"`
	Height         int        `db:"height"`
	CameraMake     *string    `db:"camera_make"`
	CameraModel    *string    `db:"camera_model"`
	Lens           *string    `db:"lens"`
	ISO            *int       `db:"iso"`
	Aperture       *float64   `db:"aperture"`
	ShutterSpeed   *string    `db:"shutter_speed"`
	FocalLengthMM  *int       `db:"focal_length_mm"`
	CapturedAt     *time.Time `db:"captured_at"`
	TimezoneOffset *string    `db:"timezone_offset"` // raw tag value, e.g. "+02:00"
	Latitude       *float64   `db:"latitude"`
	Longitude      *float64   `db:"longitude"`
	AltitudeM      *float64   `db:"altitude_m"`

	// Geocoding enrichment, appended after extraction when GPS is present.
	LocationName    *string `db:"location_name"`
	LocationAddress *string `db:"location_address"`

	CreatedAt time.Time `db:"created_at"`
}

// PhotoVariant is one encoded derivative: a (size tier, format) combination
// actually produced at ingestion. Sizes larger than the source are never produced.
type PhotoVariant struct {
	ID       string `db:"id"`
	PhotoID  string `db:"photo_id"`
	SizeTier string `db:"size_tier"`
	Format   string `db:"format"` // avif, webp or jpeg
	Path     string `db:"path"`   // relative to the derivatives root
	Width    int    `db:"width"`
	Height   int    `db:"height"`
	Size     int64  `db:"size"`
	MimeType string `db:"mime_type"`
}

// Key is the URL token for this derivative: "{tier}-{format}". The original
// file uses the bare "original" token instead.
func (v *PhotoVariant) Key() string {
	return v.SizeTier + "-" + v.Format
}

// SplitVariantKey returns the size tier and format a variant token refers
// to. For "original" the tier is the token itself and the format is empty;
// malformed tokens come back as a bare tier with no format.
func SplitVariantKey(key string) (tier, format string) {
	if key == VariantOriginal {
		return VariantOriginal, ""
	}
	if i := strings.LastIndex(key, "-"); i > 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
