package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/lensworks/aperture/internal/ctxkeys"
	"github.com/lensworks/aperture/internal/model"
	"github.com/lensworks/aperture/internal/progress"
	"github.com/lensworks/aperture/internal/repository"
	"github.com/lensworks/aperture/internal/service"
	"github.com/lensworks/aperture/internal/validation"
)

const multipartMemoryLimit = 32 << 20

// PhotoHandler serves the photo API: upload, metadata reads, listing,
// deletion and upload progress streaming.
type PhotoHandler struct {
	ingest         *service.IngestService
	photos         *service.PhotoService
	hub            *progress.Hub
	maxUploadBytes int64
}

func NewPhotoHandler(ingest *service.IngestService, photos *service.PhotoService, hub *progress.Hub, maxUploadBytes int64) *PhotoHandler {
	return &PhotoHandler{
		ingest:         ingest,
		photos:         photos,
		hub:            hub,
		maxUploadBytes: maxUploadBytes,
	}
}

// photoResponse is the wire shape of a photo record. Variants are nested by
// size tier then format so clients can pick a rendition without string
// parsing.
type photoResponse struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	OriginalName string            `json:"original_name"`
	MimeType     string            `json:"mime_type"`
	Size         int64             `json:"size"`
	AccessLevel  model.AccessLevel `json:"access_level"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`

	CameraMake     *string    `json:"camera_make,omitempty"`
	CameraModel    *string    `json:"camera_model,omitempty"`
	Lens           *string    `json:"lens,omitempty"`
	ISO            *int       `json:"iso,omitempty"`
	Aperture       *float64   `json:"aperture,omitempty"`
	ShutterSpeed   *string    `json:"shutter_speed,omitempty"`
	FocalLengthMM  *int       `json:"focal_length_mm,omitempty"`
	CapturedAt     *time.Time `json:"captured_at,omitempty"`
	TimezoneOffset *string    `json:"timezone_offset,omitempty"`

	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	AltitudeM       *float64 `json:"altitude_m,omitempty"`
	LocationName    *string  `json:"location_name,omitempty"`
	LocationAddress *string  `json:"location_address,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	Variants   map[string]map[string]variantResponse `json:"variants,omitempty"`
	DisplayURL string                                `json:"display_url,omitempty"`
}

type variantResponse struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
}

func toPhotoResponse(photo *model.Photo, variants []*model.PhotoVariant) photoResponse {
	resp := photoResponse{
		ID:              photo.ID,
		Title:           photo.Title,
		OriginalName:    photo.OriginalName,
		MimeType:        photo.MimeType,
		Size:            photo.Size,
		AccessLevel:     photo.AccessLevel,
		Width:           photo.Width,
		Height:          photo.Height,
		CameraMake:      photo.CameraMake,
		CameraModel:     photo.CameraModel,
		Lens:            photo.Lens,
		ISO:             photo.ISO,
		Aperture:        photo.Aperture,
		ShutterSpeed:    photo.ShutterSpeed,
		FocalLengthMM:   photo.FocalLengthMM,
		CapturedAt:      photo.CapturedAt,
		TimezoneOffset:  photo.TimezoneOffset,
		Latitude:        photo.Latitude,
		Longitude:       photo.Longitude,
		AltitudeM:       photo.AltitudeM,
		LocationName:    photo.LocationName,
		LocationAddress: photo.LocationAddress,
		CreatedAt:       photo.CreatedAt,
	}

	if len(variants) > 0 {
		resp.Variants = map[string]map[string]variantResponse{}
		for _, v := range variants {
			byFormat, ok := resp.Variants[v.SizeTier]
			if !ok {
				byFormat = map[string]variantResponse{}
				resp.Variants[v.SizeTier] = byFormat
			}
			byFormat[v.Format] = variantResponse{
				Width:    v.Width,
				Height:   v.Height,
				Size:     v.Size,
				MimeType: v.MimeType,
			}
		}
	}
	return resp
}

// Upload ingests one multipart upload. The request runs the full pipeline
// synchronously; clients wanting incremental feedback pass an upload_id and
// watch the progress stream on a second connection.
func (h *PhotoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	requester := ctxkeys.Requester(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	if err := validation.ValidateFile(header, validation.PhotoConstraints); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	level := model.AccessPublic
	if v := r.FormValue("access_level"); v != "" {
		level = model.AccessLevel(v)
		if !level.Valid() {
			writeError(w, http.StatusBadRequest, "invalid access_level")
			return
		}
	}

	var reporter progress.Reporter = progress.Discard
	if uploadID := r.FormValue("upload_id"); uploadID != "" {
		tracker := h.hub.Register(uploadID)
		defer func() {
			h.hub.Remove(uploadID)
			tracker.Close()
		}()
		reporter = tracker
	}

	in := service.UploadInput{
		UserID:      requester.UserID,
		Title:       r.FormValue("title"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		AccessLevel: level,
		Data:        data,
	}

	photo, variants, err := h.ingest.Ingest(r.Context(), in, reporter)
	if err != nil {
		if errors.Is(err, service.ErrMalformedUpload) {
			writeError(w, http.StatusBadRequest, "uploaded file is not a readable image")
			return
		}
		slog.Error("ingestion failed", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process upload")
		return
	}

	resp := toPhotoResponse(photo, variants)
	if url, err := h.photos.DisplayURL(photo, "medium", ""); err == nil {
		resp.DisplayURL = url
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Get returns one photo's metadata with its variant table. The photo's access
// level gates metadata the same way it gates files.
func (h *PhotoHandler) Get(w http.ResponseWriter, r *http.Request) {
	photo, ok := h.visiblePhoto(w, r)
	if !ok {
		return
	}

	variants, err := h.photos.Variants(photo.ID)
	if err != nil {
		slog.Error("failed to load variants", "photo", photo.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load photo")
		return
	}

	resp := toPhotoResponse(photo, variants)

	tier := r.URL.Query().Get("size")
	if tier == "" {
		tier = "medium"
	}
	if url, err := h.photos.DisplayURL(photo, tier, r.URL.Query().Get("format")); err == nil {
		resp.DisplayURL = url
	}

	writeJSON(w, http.StatusOK, resp)
}

// List returns photos the requester may see, newest first.
func (h *PhotoHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	photos, err := h.photos.List(limit, offset)
	if err != nil {
		slog.Error("failed to list photos", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list photos")
		return
	}

	requester := ctxkeys.Requester(r.Context())
	out := make([]photoResponse, 0, len(photos))
	for _, p := range photos {
		if !h.photos.Visible(p, requester) {
			continue
		}
		out = append(out, toPhotoResponse(p, nil))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"photos": out,
		"limit":  limit,
		"offset": offset,
	})
}

// Delete removes a photo with its files. Only the owner or an administrator
// may delete.
func (h *PhotoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	photo, err := h.photos.ByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrPhotoNotFound) {
			writeError(w, http.StatusNotFound, "photo not found")
			return
		}
		slog.Error("failed to get photo", "photo", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete photo")
		return
	}

	requester := ctxkeys.Requester(r.Context())
	if photo.UserID != requester.UserID && !requester.IsAdmin() {
		writeError(w, http.StatusForbidden, "not allowed to delete this photo")
		return
	}

	if err := h.photos.Delete(id); err != nil {
		slog.Error("failed to delete photo", "photo", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete photo")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Replica returns a presigned direct-download URL for the off-site copy of
// the original, for operator tooling and disaster recovery. Administrators
// only; 404 when no replica is configured.
func (h *PhotoHandler) Replica(w http.ResponseWriter, r *http.Request) {
	requester := ctxkeys.Requester(r.Context())
	if !requester.IsAdmin() {
		writeError(w, http.StatusForbidden, "administrator privilege required")
		return
	}

	id := r.PathValue("id")
	photo, err := h.photos.ByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrPhotoNotFound) {
			writeError(w, http.StatusNotFound, "photo not found")
			return
		}
		slog.Error("failed to get photo", "photo", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load photo")
		return
	}

	url, err := h.photos.ReplicaURL(photo)
	if err != nil {
		slog.Error("failed to presign replica url", "photo", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to presign replica url")
		return
	}
	if url == "" {
		writeError(w, http.StatusNotFound, "no replica configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Progress streams ingestion progress for an in-flight upload as
// server-sent events. The stream ends when the upload completes or the
// client disconnects.
func (h *PhotoHandler) Progress(w http.ResponseWriter, r *http.Request) {
	tracker := h.hub.Get(r.PathValue("id"))
	if tracker == nil {
		writeError(w, http.StatusNotFound, "unknown upload")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-tracker.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// visiblePhoto loads the photo from the path ID and applies the metadata
// visibility policy, writing the error response itself on failure.
func (h *PhotoHandler) visiblePhoto(w http.ResponseWriter, r *http.Request) (*model.Photo, bool) {
	id := r.PathValue("id")
	photo, err := h.photos.ByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrPhotoNotFound) {
			writeError(w, http.StatusNotFound, "photo not found")
			return nil, false
		}
		slog.Error("failed to get photo", "photo", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load photo")
		return nil, false
	}

	requester := ctxkeys.Requester(r.Context())
	if !h.photos.Visible(photo, requester) {
		if requester.IsAnonymous() {
			writeError(w, http.StatusUnauthorized, "authentication required")
		} else {
			writeError(w, http.StatusForbidden, "access denied")
		}
		return nil, false
	}
	return photo, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
