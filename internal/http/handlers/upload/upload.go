package upload

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/openflix/catalog-service/internal/events"
	"github.com/openflix/catalog-service/internal/http/middleware"
	"github.com/openflix/catalog-service/internal/upload"
	"github.com/openflix/catalog-service/internal/utils/response"
)

type UploadHandlers struct {
	manager   *upload.Manager
	publisher events.Publisher
}

// NewUploadHandlers creates a new upload handlers instance
func NewUploadHandlers(manager *upload.Manager, publisher events.Publisher) *UploadHandlers {
	return &UploadHandlers{
		manager:   manager,
		publisher: publisher,
	}
}

// ReceiveChunk accepts one chunk of a client-sliced upload. Completion is
// implicit: the last accepted chunk triggers finalize, and the response then
// carries the storage reference.
// @Summary Upload one chunk of a media file
// @Description Accept a chunk; finalizes the session automatically once all chunks arrived
// @Tags upload
// @Accept multipart/form-data
// @Produce json
// @Param session_id formData string true "Upload session id (uuid)"
// @Param chunk_index formData int true "0-based chunk index"
// @Param total_chunks formData int true "Total number of chunks"
// @Param total_size formData int true "Total upload size in bytes"
// @Param file formData file true "Chunk payload"
// @Success 202 {object} upload.Progress "Chunk accepted"
// @Failure 400 {object} response.Response "Malformed index or offset"
// @Failure 409 {object} response.Response "Session or size conflict"
// @Security BearerAuth
// @Router /upload/chunk [post]
func (h *UploadHandlers) ReceiveChunk() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.GetActorIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("actor not authenticated")))
			return
		}

		// Keep one chunk in memory at most; the rest spills to disk
		if err := r.ParseMultipartForm(h.manager.ChunkSize()); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid multipart form")))
			return
		}

		sessionID := r.FormValue("session_id")
		chunkIndex, err := strconv.Atoi(r.FormValue("chunk_index"))
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("chunk_index must be an integer")))
			return
		}
		totalChunks, err := strconv.Atoi(r.FormValue("total_chunks"))
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("total_chunks must be an integer")))
			return
		}
		totalSize, err := strconv.ParseInt(r.FormValue("total_size"), 10, 64)
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("total_size must be an integer")))
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("chunk payload is required")))
			return
		}
		defer file.Close()

		progress, err := h.manager.ReceiveChunk(upload.Chunk{
			SessionID:   sessionID,
			Index:       chunkIndex,
			TotalChunks: totalChunks,
			TotalSize:   totalSize,
			Body:        file,
		})
		if err != nil {
			response.WriteJSON(w, chunkErrorStatus(err), response.GeneralError(err))
			return
		}

		h.publisher.PublishUploadProgress(actorID, sessionID, progress.ReceivedChunks, progress.TotalChunks)

		// Implicit completion: the covering chunk finalizes the session
		if progress.Complete {
			obj, err := h.manager.TryFinalize(r.Context(), sessionID)
			switch {
			case errors.Is(err, upload.ErrIncomplete):
				// Another chunk was retracted between accept and finalize;
				// the client keeps sending
			case errors.Is(err, upload.ErrLengthMismatch):
				response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
				return
			case err != nil:
				// Staging survives; the client may re-poll to retry finalize
				response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
				return
			default:
				progress.ObjectKey = obj.ObjectKey
				h.publisher.PublishUploadFinalized(actorID, sessionID, obj.ObjectKey, obj.Size)
			}
		}

		response.WriteJSON(w, http.StatusAccepted, response.RequestOK("Chunk accepted", progress))
	}
}

// SessionStatus reports staging progress and, once finalized, the storage
// reference. Polling this after the last chunk also retries a finalize that
// failed on a transient storage error.
// @Summary Get upload session status
// @Tags upload
// @Produce json
// @Param id path string true "Upload session id"
// @Success 200 {object} upload.Progress "Session status"
// @Failure 404 {object} response.Response "Session expired or unknown"
// @Security BearerAuth
// @Router /upload/{id} [get]
func (h *UploadHandlers) SessionStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.GetActorIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("actor not authenticated")))
			return
		}

		sessionID := r.PathValue("id")
		if sessionID == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("session id is required")))
			return
		}

		progress, err := h.manager.Status(sessionID)
		if err != nil {
			response.WriteJSON(w, http.StatusNotFound, response.GeneralError(err))
			return
		}

		if progress.Complete && progress.ObjectKey == "" {
			obj, err := h.manager.TryFinalize(r.Context(), sessionID)
			if err == nil {
				progress.ObjectKey = obj.ObjectKey
				h.publisher.PublishUploadFinalized(actorID, sessionID, obj.ObjectKey, obj.Size)
			}
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Session status retrieved", progress))
	}
}

// AbortSession reclaims staging for an upload the client gave up on.
// @Summary Abort an upload session
// @Tags upload
// @Param id path string true "Upload session id"
// @Success 200 {object} response.Response "Session aborted"
// @Security BearerAuth
// @Router /upload/{id} [delete]
func (h *UploadHandlers) AbortSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.GetActorIDFromContext(r.Context()); !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("actor not authenticated")))
			return
		}

		sessionID := r.PathValue("id")
		if sessionID == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("session id is required")))
			return
		}

		h.manager.Abort(sessionID)

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Upload session aborted", nil))
	}
}

func chunkErrorStatus(err error) int {
	switch {
	case errors.Is(err, upload.ErrSessionExpired), errors.Is(err, upload.ErrSizeMismatch):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
