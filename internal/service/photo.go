package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lensworks/aperture/internal/access"
	"github.com/lensworks/aperture/internal/imaging"
	"github.com/lensworks/aperture/internal/model"
	"github.com/lensworks/aperture/internal/repository"
	"github.com/lensworks/aperture/internal/storage"
)

// PhotoService covers the read/delete side: lookups, display URL selection
// and removal of a photo with its files.
type PhotoService struct {
	repo        repository.PhotoRepository
	access      *access.Controller
	specs       *imaging.SpecProvider
	originals   storage.Storage
	derivatives storage.Storage
	replica     storage.Storage // optional
	signedTTL   time.Duration
}

func NewPhotoService(repo repository.PhotoRepository, ctrl *access.Controller, specs *imaging.SpecProvider, originals, derivatives, replica storage.Storage, signedTTL time.Duration) *PhotoService {
	return &PhotoService{
		repo:        repo,
		access:      ctrl,
		specs:       specs,
		originals:   originals,
		derivatives: derivatives,
		replica:     replica,
		signedTTL:   signedTTL,
	}
}

func (s *PhotoService) ByID(id string) (*model.Photo, error) {
	return s.repo.ByID(id)
}

func (s *PhotoService) Variants(photoID string) ([]*model.PhotoVariant, error) {
	return s.repo.Variants(photoID)
}

func (s *PhotoService) List(limit, offset int) ([]*model.Photo, error) {
	return s.repo.List(limit, offset)
}

// Visible reports whether the requester may see the photo's metadata. The
// same access-level policy that gates files gates metadata.
func (s *PhotoService) Visible(photo *model.Photo, req model.Requester) bool {
	return s.access.Check(photo, "", req).Allowed
}

// DisplayURL picks the variant to serve for (tier, preferred format) via the
// fallback chain and returns a signed temporary URL for it. Empty string when
// the photo has no usable variant.
func (s *PhotoService) DisplayURL(photo *model.Photo, tier, preferred string) (string, error) {
	variants, err := s.repo.Variants(photo.ID)
	if err != nil {
		return "", err
	}

	v := imaging.DisplayVariant(variants, s.specs.TierNames(), tier, preferred)
	if v == nil {
		return "", nil
	}
	return s.access.Sign(photo.ID, v.Key(), s.signedTTL), nil
}

// ReplicaURL returns a presigned URL for the off-site copy of the original,
// for operator tooling. Empty when no replica is configured or the backend
// cannot presign.
func (s *PhotoService) ReplicaURL(photo *model.Photo) (string, error) {
	signer, ok := s.replica.(storage.URLSigner)
	if !ok {
		return "", nil
	}
	return signer.PresignedURL(photo.StoragePath, s.signedTTL)
}

// SignedOriginalURL issues a temporary URL for the original file.
func (s *PhotoService) SignedOriginalURL(photo *model.Photo) string {
	return s.access.Sign(photo.ID, model.VariantOriginal, s.signedTTL)
}

// Delete removes the photo record and its files. File removal is best-effort:
// a missing file must not strand the database row.
func (s *PhotoService) Delete(id string) error {
	photo, err := s.repo.ByID(id)
	if err != nil {
		return fmt.Errorf("failed to get photo: %w", err)
	}

	variants, err := s.repo.Variants(id)
	if err != nil {
		return fmt.Errorf("failed to get variants: %w", err)
	}

	for _, v := range variants {
		if err := s.derivatives.Delete(v.Path); err != nil {
			slog.Warn("failed to delete derivative", "path", v.Path, "error", err)
		}
	}
	if err := s.originals.Delete(photo.StoragePath); err != nil {
		slog.Warn("failed to delete original", "path", photo.StoragePath, "error", err)
	}
	if s.replica != nil {
		if err := s.replica.Delete(photo.StoragePath); err != nil {
			slog.Warn("failed to delete replica copy", "path", photo.StoragePath, "error", err)
		}
	}

	return s.repo.Delete(id)
}
