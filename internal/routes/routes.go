package routes

import (
	"net/http"

	"github.com/lensworks/aperture/internal/app"
	"github.com/lensworks/aperture/internal/handler"
	"github.com/lensworks/aperture/internal/middleware"
	"github.com/lensworks/aperture/internal/ratelimit"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	photos := handler.NewPhotoHandler(app.IngestService, app.PhotoService, app.ProgressHub, app.Cfg.MaxUploadBytes)
	files := handler.NewFileHandler(app.PhotoService, app.Access)

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Rate limiters per operation class
	limitFiles := middleware.RateLimit(app.Limiter, ratelimit.ClassFiles, app.Cfg.RateLimitFiles, app.Cfg.RateLimitWindow)
	limitUploads := middleware.RateLimit(app.Limiter, ratelimit.ClassUploads, app.Cfg.RateLimitUploads, app.Cfg.RateLimitWindow)

	// Photos
	mux.Handle("POST /photos", limitUploads(middleware.RequireAuth(photos.Upload)))
	mux.HandleFunc("GET /photos", photos.List)
	mux.HandleFunc("GET /photos/{id}", photos.Get)
	mux.HandleFunc("DELETE /photos/{id}", middleware.RequireAuth(photos.Delete))
	mux.HandleFunc("GET /photos/{id}/replica", middleware.RequireAuth(photos.Replica))

	// Files (originals and derivatives)
	mux.Handle("GET /photos/{id}/file/{variant}", limitFiles(http.HandlerFunc(files.Serve)))

	// Upload progress (server-sent events)
	mux.HandleFunc("GET /uploads/{id}/progress", photos.Progress)

	// Global middleware
	return middleware.Chain(mux,
		middleware.RequestLogging,
		middleware.Auth(app.Cfg.JWTSecret),
	)
}
