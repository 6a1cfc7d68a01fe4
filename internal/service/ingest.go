package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lensworks/aperture/internal/exif"
	"github.com/lensworks/aperture/internal/geocode"
	"github.com/lensworks/aperture/internal/imaging"
	"github.com/lensworks/aperture/internal/model"
	"github.com/lensworks/aperture/internal/progress"
	"github.com/lensworks/aperture/internal/repository"
	"github.com/lensworks/aperture/internal/storage"
)

// ErrMalformedUpload marks payloads that could not be decoded as an image.
// The client sent something broken; the server did nothing wrong.
var ErrMalformedUpload = errors.New("malformed upload")

// UploadInput is one raw upload: the payload plus what the client declared
// about it. Ephemeral; exists only for the duration of ingestion.
type UploadInput struct {
	UserID      string
	Title       string
	Filename    string
	ContentType string
	AccessLevel model.AccessLevel
	Data        []byte
}

// IngestService runs the ingestion pipeline for one upload: metadata
// extraction, geocoding annotation, derivative encoding, storage and
// persistence. Uploads are processed concurrently across request goroutines;
// within one upload the stages run in order.
type IngestService struct {
	repo        repository.PhotoRepository
	originals   storage.Storage
	derivatives storage.Storage
	replica     storage.Storage // optional off-site copy of originals
	encoder     *imaging.Encoder
	geocoder    *geocode.Client // optional
}

func NewIngestService(repo repository.PhotoRepository, originals, derivatives, replica storage.Storage, encoder *imaging.Encoder, geocoder *geocode.Client) *IngestService {
	return &IngestService{
		repo:        repo,
		originals:   originals,
		derivatives: derivatives,
		replica:     replica,
		encoder:     encoder,
		geocoder:    geocoder,
	}
}

// Ingest processes one upload end to end and persists the resulting record.
// Metadata extraction always completes (or degrades) before encoding begins;
// annotation runs after the record is persisted, is best-effort and can
// never fail the ingestion. The only fatal outcomes are an unreadable image
// container and persistence failure.
func (s *IngestService) Ingest(ctx context.Context, in UploadInput, report progress.Reporter) (*model.Photo, []*model.PhotoVariant, error) {
	if report == nil {
		report = progress.Discard
	}
	report.Report(progress.StageUpload, 20)

	md, err := exif.Extract(bytes.NewReader(in.Data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
	}
	dropInvalidCoordinates(md)
	report.Report(progress.StageExif, 50)

	photo := &model.Photo{
		ID:           uuid.New().String(),
		UserID:       in.UserID,
		Title:        in.Title,
		OriginalName: in.Filename,
		MimeType:     in.ContentType,
		Size:         int64(len(in.Data)),
		AccessLevel:  in.AccessLevel,
		CreatedAt:    time.Now(),
	}
	applyMetadata(photo, md)

	img, err := imaging.Decode(bytes.NewReader(in.Data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
	}

	photo.StoragePath = photo.ID + strings.ToLower(filepath.Ext(in.Filename))
	if err := s.originals.Save(photo.StoragePath, bytes.NewReader(in.Data)); err != nil {
		return nil, nil, fmt.Errorf("failed to store original: %w", err)
	}
	s.replicate(photo.StoragePath, in.Data)

	encoded, err := s.encoder.Encode(ctx, img, photo.ID, report)
	if err != nil {
		// Context cancellation mid-encode; drop what was written.
		s.cleanup(photo.StoragePath, encoded)
		return nil, nil, err
	}

	variants := make([]*model.PhotoVariant, 0, len(encoded))
	for _, v := range encoded {
		variants = append(variants, &model.PhotoVariant{
			ID:       uuid.New().String(),
			PhotoID:  photo.ID,
			SizeTier: v.SizeTier,
			Format:   v.Format,
			Path:     v.Path,
			Width:    v.Width,
			Height:   v.Height,
			Size:     v.Size,
			MimeType: v.MimeType,
		})
	}

	if err := s.repo.Create(photo, variants); err != nil {
		s.cleanup(photo.StoragePath, encoded)
		return nil, nil, fmt.Errorf("failed to create photo record: %w", err)
	}

	// Annotation lands after the record exists so a slow or failed lookup
	// never holds the upload hostage.
	s.annotate(ctx, photo, md)
	if photo.LocationName != nil || photo.LocationAddress != nil {
		if err := s.repo.UpdateLocation(photo.ID, photo.LocationName, photo.LocationAddress); err != nil {
			slog.Warn("failed to persist location annotation", "photo", photo.ID, "error", err)
		}
	}

	report.Report(progress.StageComplete, 100)
	return photo, variants, nil
}

// annotate attaches a place name when coordinates were extracted. Provider
// failure resolves to no annotation; a photo with partial metadata is
// indistinguishable in status from a fully annotated one.
func (s *IngestService) annotate(ctx context.Context, photo *model.Photo, md *exif.Metadata) {
	if s.geocoder == nil || !md.HasGPS() {
		return
	}

	loc, err := s.geocoder.Reverse(ctx, *md.Latitude, *md.Longitude, "")
	if err != nil || loc == nil {
		if err != nil {
			slog.Warn("geocoding annotation skipped", "photo", photo.ID, "error", err)
		}
		return
	}

	photo.LocationName = &loc.Name
	photo.LocationAddress = &loc.Address
}

// replicate copies the original off-site, best-effort.
func (s *IngestService) replicate(path string, data []byte) {
	if s.replica == nil {
		return
	}
	if err := s.replica.Save(path, bytes.NewReader(data)); err != nil {
		slog.Warn("replica upload failed", "path", path, "error", err)
	}
}

// cleanup removes files written before a failed ingestion, best-effort.
func (s *IngestService) cleanup(originalPath string, encoded []imaging.Variant) {
	if err := s.originals.Delete(originalPath); err != nil {
		slog.Error("failed to delete original during cleanup", "path", originalPath, "error", err)
	}
	for _, v := range encoded {
		if err := s.derivatives.Delete(v.Path); err != nil {
			slog.Error("failed to delete derivative during cleanup", "path", v.Path, "error", err)
		}
	}
}

func applyMetadata(photo *model.Photo, md *exif.Metadata) {
	photo.Width = md.Width
	photo.Height = md.Height
	photo.CameraMake = md.CameraMake
	photo.CameraModel = md.CameraModel
	photo.Lens = md.Lens
	photo.ISO = md.ISO
	photo.Aperture = md.Aperture
	photo.ShutterSpeed = md.ShutterSpeed
	photo.FocalLengthMM = md.FocalLengthMM
	photo.CapturedAt = md.CapturedAt
	photo.TimezoneOffset = md.TimezoneOffset
	photo.Latitude = md.Latitude
	photo.Longitude = md.Longitude
	photo.AltitudeM = md.AltitudeM
}

// dropInvalidCoordinates discards out-of-range coordinate pairs so the
// persisted record honors the lat/lon bounds invariant. Garbage GPS tags can
// produce values outside the valid ranges.
func dropInvalidCoordinates(md *exif.Metadata) {
	if !md.HasGPS() {
		return
	}
	lat, lon := *md.Latitude, *md.Longitude
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		slog.Warn("dropping out-of-range gps coordinates", "lat", lat, "lon", lon)
		md.Latitude = nil
		md.Longitude = nil
		md.AltitudeM = nil
	}
}
