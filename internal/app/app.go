package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/lensworks/aperture/internal/access"
	"github.com/lensworks/aperture/internal/cache"
	"github.com/lensworks/aperture/internal/config"
	"github.com/lensworks/aperture/internal/db"
	"github.com/lensworks/aperture/internal/geocode"
	"github.com/lensworks/aperture/internal/imaging"
	"github.com/lensworks/aperture/internal/progress"
	"github.com/lensworks/aperture/internal/ratelimit"
	"github.com/lensworks/aperture/internal/repository"
	"github.com/lensworks/aperture/internal/service"
	"github.com/lensworks/aperture/internal/storage"
)

type App struct {
	Cfg           *config.Config
	DB            *sqlx.DB
	Cache         *cache.Store
	Access        *access.Controller
	Specs         *imaging.SpecProvider
	Limiter       *ratelimit.Limiter
	ProgressHub   *progress.Hub
	IngestService *service.IngestService
	PhotoService  *service.PhotoService
}

func New(cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	// Cache store. Optional: a nil store degrades geocode caching to
	// pass-through and rate limiting to fail-open.
	var store *cache.Store
	if cfg.RedisAddr != "" {
		store, err = cache.Open(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			slog.Warn("cache store unavailable, continuing without it", "addr", cfg.RedisAddr, "error", err)
			store = nil
		}
	}

	// Storage
	originals, err := storage.NewLocalStorage(cfg.OriginalsRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize originals storage: %v", err)
	}
	derivatives, err := storage.NewLocalStorage(cfg.DerivativesRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize derivatives storage: %v", err)
	}

	var replica storage.Storage
	if cfg.S3Enabled {
		s3Replica, err := storage.NewS3Replica(storage.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Endpoint:  cfg.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 replica: %v", err)
		}
		replica = s3Replica
	}

	// Access control over the two storage roots
	ctrl, err := access.New(originals.Root(), derivatives.Root(), []byte(cfg.SigningSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize access controller: %v", err)
	}

	// Derivative encoding
	specs, err := imaging.NewSpecProvider(cfg.DerivativeSpecJSON)
	if err != nil {
		return nil, fmt.Errorf("invalid derivative spec: %v", err)
	}
	encoder := imaging.NewEncoder(specs, derivatives, cfg.AVIFQualityOffset, cfg.AVIFQualityFloor)

	// Geocoding
	geocoder := geocode.New(cfg.GeocoderBaseURL, cfg.GeocoderUserAgent, cfg.GeocoderLanguage, cfg.GeocoderTimeout, store)

	// Repositories and services
	photoRepository := repository.NewPhotoRepository(database)
	ingestService := service.NewIngestService(photoRepository, originals, derivatives, replica, encoder, geocoder)
	photoService := service.NewPhotoService(photoRepository, ctrl, specs, originals, derivatives, replica, cfg.SignedURLTTL)

	return &App{
		Cfg:           cfg,
		DB:            database,
		Cache:         store,
		Access:        ctrl,
		Specs:         specs,
		Limiter:       ratelimit.New(store, cfg.RateLimitFailOpen),
		ProgressHub:   progress.NewHub(),
		IngestService: ingestService,
		PhotoService:  photoService,
	}, nil
}

func (a *App) Close() error {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			slog.Warn("failed to close cache store", "error", err)
		}
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
