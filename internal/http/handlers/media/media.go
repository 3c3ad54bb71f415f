package media

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/openflix/catalog-service/internal/http/middleware"
	mediaService "github.com/openflix/catalog-service/internal/services/media"
	"github.com/openflix/catalog-service/internal/storage"
	"github.com/openflix/catalog-service/internal/utils/response"
)

type MediaHandlers struct {
	storage      storage.Storage
	mediaService *mediaService.Service
}

type MediaInfoResponse struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Platform    string    `json:"platform"`
	ObjectKey   string    `json:"object_key,omitempty"`
	ProviderID  string    `json:"provider_id,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	MediaURL    string    `json:"media_url,omitempty"`
}

type PlaybackURLResponse struct {
	ID          string `json:"id"`
	Platform    string `json:"platform"`
	PlaybackURL string `json:"playback_url,omitempty"`
	ProviderID  string `json:"provider_id,omitempty"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

// NewMediaHandlers creates a new media handlers instance
func NewMediaHandlers(storage storage.Storage, mediaService *mediaService.Service) *MediaHandlers {
	return &MediaHandlers{
		storage:      storage,
		mediaService: mediaService,
	}
}

// GetMediaInfo retrieves a media record by id
// @Summary Get media record information
// @Description Get the stored metadata for a media record, local or external
// @Tags media
// @Produce json
// @Param id path string true "Media record id"
// @Success 200 {object} MediaInfoResponse "Media information retrieved successfully"
// @Failure 401 {object} response.Response "Unauthorized"
// @Failure 404 {object} response.Response "Media not found"
// @Security BearerAuth
// @Router /media/{id} [get]
func (h *MediaHandlers) GetMediaInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, ok := middleware.GetActorIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("actor not authenticated")))
			return
		}

		id := r.PathValue("id")
		if id == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("media id is required")))
			return
		}

		rec, err := h.storage.GetMediaRecord(id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				response.WriteJSON(w, http.StatusNotFound, response.GeneralError(errors.New("media not found")))
				return
			}
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}

		resp := MediaInfoResponse{
			ID:         rec.ID,
			Kind:       string(rec.Kind),
			Platform:   string(rec.Platform),
			ObjectKey:  rec.ObjectKey,
			ProviderID: rec.ProviderID,
			Size:       rec.Size,
			Checksum:   rec.Checksum,
			CreatedAt:  rec.CreatedAt,
		}
		if rec.IsLocal() {
			resp.MediaURL = h.mediaService.GetMediaURL(rec.ObjectKey)
			if info, err := h.mediaService.GetObjectInfo(rec.ObjectKey); err == nil {
				resp.ContentType = info.ContentType
			}
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Media information retrieved successfully", resp))
	}
}

// GeneratePlaybackURL generates a time-limited playback URL for a media record.
// External records carry no stored object; the provider reference is returned
// instead and the player embeds it.
// @Summary Generate playback URL
// @Description Generate a presigned playback URL for a locally stored media record
// @Tags media
// @Produce json
// @Param id path string true "Media record id"
// @Param expires query int false "Expiration time in seconds (default: 3600)"
// @Success 200 {object} PlaybackURLResponse "Playback URL generated successfully"
// @Failure 401 {object} response.Response "Unauthorized"
// @Failure 404 {object} response.Response "Media not found"
// @Security BearerAuth
// @Router /media/{id}/playback-url [get]
func (h *MediaHandlers) GeneratePlaybackURL() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, ok := middleware.GetActorIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("actor not authenticated")))
			return
		}

		id := r.PathValue("id")
		if id == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("media id is required")))
			return
		}

		rec, err := h.storage.GetMediaRecord(id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				response.WriteJSON(w, http.StatusNotFound, response.GeneralError(errors.New("media not found")))
				return
			}
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}

		if !rec.IsLocal() {
			resp := PlaybackURLResponse{
				ID:         rec.ID,
				Platform:   string(rec.Platform),
				ProviderID: rec.ProviderID,
			}
			response.WriteJSON(w, http.StatusOK, response.RequestOK("External media reference retrieved", resp))
			return
		}

		expires := 3600 // default 1 hour
		if expiresParam := r.URL.Query().Get("expires"); expiresParam != "" {
			if parsed, err := strconv.Atoi(expiresParam); err == nil && parsed > 0 {
				expires = parsed
			}
		}

		playbackURL, err := h.mediaService.GeneratePresignedDownloadURL(rec.ObjectKey, time.Duration(expires)*time.Second)
		if err != nil {
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(errors.New("failed to generate playback URL")))
			return
		}

		resp := PlaybackURLResponse{
			ID:          rec.ID,
			Platform:    string(rec.Platform),
			PlaybackURL: playbackURL.String(),
			ExpiresAt:   time.Now().Add(time.Duration(expires) * time.Second).Unix(),
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Playback URL generated successfully", resp))
	}
}
