package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lensworks/aperture/internal/access"
	"github.com/lensworks/aperture/internal/ctxkeys"
	"github.com/lensworks/aperture/internal/model"
	"github.com/lensworks/aperture/internal/repository"
	"github.com/lensworks/aperture/internal/service"
)

// FileHandler serves photo files: originals and encoded derivatives. Requests
// are authorized either by a valid temporary signature or by the requester's
// identity against the photo's access level. Failures that could leak
// information (bad signatures, traversal attempts, unknown variants) all
// collapse to a generic not-found.
type FileHandler struct {
	photos *service.PhotoService
	access *access.Controller
}

func NewFileHandler(photos *service.PhotoService, ctrl *access.Controller) *FileHandler {
	return &FileHandler{photos: photos, access: ctrl}
}

// Serve handles GET /photos/{id}/file/{variant}.
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	photoID := r.PathValue("id")
	variantKey := r.PathValue("variant")

	photo, err := h.photos.ByID(photoID)
	if err != nil {
		if !errors.Is(err, repository.ErrPhotoNotFound) {
			slog.Error("failed to get photo", "photo", photoID, "error", err)
		}
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if !h.authorized(w, r, photo, variantKey) {
		return
	}

	kind, relPath, mimeType, ok := h.locate(photo, variantKey)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	fullPath, err := h.access.ResolvePath(kind, relPath)
	if err != nil {
		// ErrPathTraversal is already logged at the source; either way the
		// client learns nothing beyond not-found.
		if !errors.Is(err, access.ErrPathTraversal) {
			slog.Warn("failed to resolve file", "photo", photoID, "variant", variantKey, "error", err)
		}
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if mimeType != "" {
		w.Header().Set("Content-Type", mimeType)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, fullPath)
}

// authorized applies signature verification when signature parameters are
// present, the identity policy otherwise. It writes the error response itself
// when access is denied.
func (h *FileHandler) authorized(w http.ResponseWriter, r *http.Request, photo *model.Photo, variantKey string) bool {
	q := r.URL.Query()
	if q.Get("signature") != "" || q.Get("expires") != "" {
		expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
		if err != nil || !h.access.Verify(photo.ID, variantKey, expires, q.Get("signature")) {
			slog.Warn("rejected signed url", "photo", photo.ID, "variant", variantKey)
			writeError(w, http.StatusNotFound, "not found")
			return false
		}
		return true
	}

	requester := ctxkeys.Requester(r.Context())
	decision := h.access.Check(photo, variantKey, requester)
	if !decision.Allowed {
		slog.Info("file access denied",
			"photo", photo.ID,
			"variant", variantKey,
			"reason", decision.Reason,
		)
		if requester.IsAnonymous() {
			writeError(w, http.StatusUnauthorized, "authentication required")
		} else {
			writeError(w, http.StatusForbidden, "access denied")
		}
		return false
	}
	return true
}

// locate maps the variant key to the storage kind, relative path and MIME
// type of the file to serve.
func (h *FileHandler) locate(photo *model.Photo, variantKey string) (kind, relPath, mimeType string, ok bool) {
	if variantKey == model.VariantOriginal {
		return model.VariantOriginal, photo.StoragePath, photo.MimeType, true
	}

	variants, err := h.photos.Variants(photo.ID)
	if err != nil {
		slog.Error("failed to load variants", "photo", photo.ID, "error", err)
		return "", "", "", false
	}
	for _, v := range variants {
		if v.Key() == variantKey {
			return "derivative", v.Path, v.MimeType, true
		}
	}
	return "", "", "", false
}
