package repository

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/lensworks/aperture/internal/model"
)

var (
	ErrPhotoNotFound = errors.New("photo not found")
)

type PhotoRepository interface {
	Create(photo *model.Photo, variants []*model.PhotoVariant) error
	ByID(id string) (*model.Photo, error)
	Variants(photoID string) ([]*model.PhotoVariant, error)
	List(limit, offset int) ([]*model.Photo, error)
	UpdateLocation(id string, name, address *string) error
	Delete(id string) error
}

type photoRepository struct {
	db *sqlx.DB
}

func NewPhotoRepository(db *sqlx.DB) *photoRepository {
	return &photoRepository{db: db}
}

// Create persists the photo record and its variant table in one transaction.
func (r *photoRepository) Create(photo *model.Photo, variants []*model.PhotoVariant) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO photos (id, user_id, title, original_name, mime_type, size, storage_path, access_level,
	                              width, height, camera_make, camera_model, lens, iso, aperture, shutter_speed,
	                              focal_length_mm, captured_at, timezone_offset, latitude, longitude, altitude_m,
	                              location_name, location_address, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`

	_, err = tx.Exec(query,
		photo.ID,
		photo.UserID,
		photo.Title,
		photo.OriginalName,
		photo.MimeType,
		photo.Size,
		photo.StoragePath,
		photo.AccessLevel,
		photo.Width,
		photo.Height,
		photo.CameraMake,
		photo.CameraModel,
		photo.Lens,
		photo.ISO,
		photo.Aperture,
		photo.ShutterSpeed,
		photo.FocalLengthMM,
		photo.CapturedAt,
		photo.TimezoneOffset,
		photo.Latitude,
		photo.Longitude,
		photo.AltitudeM,
		photo.LocationName,
		photo.LocationAddress,
		photo.CreatedAt,
	)
	if err != nil {
		return err
	}

	variantQuery := `INSERT INTO photo_variants (id, photo_id, size_tier, format, path, width, height, size, mime_type)
	                 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, v := range variants {
		_, err = tx.Exec(variantQuery,
			v.ID,
			v.PhotoID,
			v.SizeTier,
			v.Format,
			v.Path,
			v.Width,
			v.Height,
			v.Size,
			v.MimeType,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *photoRepository) ByID(id string) (*model.Photo, error) {
	photo := &model.Photo{}
	query := `SELECT * FROM photos WHERE id = $1`

	err := r.db.Get(photo, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrPhotoNotFound
	}

	return photo, err
}

func (r *photoRepository) Variants(photoID string) ([]*model.PhotoVariant, error) {
	var variants []*model.PhotoVariant
	query := `SELECT * FROM photo_variants WHERE photo_id = $1 ORDER BY size_tier, format`

	err := r.db.Select(&variants, query, photoID)
	if err != nil {
		return nil, err
	}

	return variants, nil
}

func (r *photoRepository) List(limit, offset int) ([]*model.Photo, error) {
	var photos []*model.Photo
	query := `SELECT * FROM photos ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	err := r.db.Select(&photos, query, limit, offset)
	if err != nil {
		return nil, err
	}

	return photos, nil
}

// UpdateLocation appends geocoding enrichment to an already-persisted photo.
func (r *photoRepository) UpdateLocation(id string, name, address *string) error {
	query := `UPDATE photos SET location_name = $1, location_address = $2 WHERE id = $3`
	_, err := r.db.Exec(query, name, address, id)
	return err
}

// Delete removes the photo; the variant rows go with it via ON DELETE CASCADE.
func (r *photoRepository) Delete(id string) error {
	query := `DELETE FROM photos WHERE id = $1`
	_, err := r.db.Exec(query, id)
	return err
}
