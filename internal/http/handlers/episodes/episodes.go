package episodes

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/openflix/catalog-service/internal/http/middleware"
	"github.com/openflix/catalog-service/internal/services/catalog"
	"github.com/openflix/catalog-service/internal/storage"
	"github.com/openflix/catalog-service/internal/types"
	"github.com/openflix/catalog-service/internal/utils/response"
)

type EpisodeHandlers struct {
	catalog *catalog.Service
}

// NewEpisodeHandlers creates a new episode handlers instance
func NewEpisodeHandlers(catalogService *catalog.Service) *EpisodeHandlers {
	return &EpisodeHandlers{
		catalog: catalogService,
	}
}

// CreateEpisode appends a new episode at the end of its season.
// @Summary Create an episode
// @Description Create an episode; it takes the next order slot of its season
// @Tags episodes
// @Accept json
// @Produce json
// @Param request body types.EpisodeCreateRequest true "Episode payload"
// @Success 201 {object} types.Episode "Episode created"
// @Failure 400 {object} response.Response "Validation failure"
// @Security BearerAuth
// @Router /episodes [post]
func (h *EpisodeHandlers) CreateEpisode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.EpisodeCreateRequest

		err := json.NewDecoder(r.Body).Decode(&req)
		if errors.Is(err, io.EOF) {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(fmt.Errorf("empty body")))
			return
		}
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		if err := validator.New().Struct(req); err != nil {
			validateErrs := err.(validator.ValidationErrors)
			response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(validateErrs))
			return
		}

		episode, err := h.catalog.CreateEpisode(req)
		if err != nil {
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}

		slog.Info("Episode created",
			slog.String("episode_id", episode.ID),
			slog.String("season_id", episode.SeasonID),
			slog.Int("order", episode.Order))

		response.WriteJSON(w, http.StatusCreated, response.RequestOK("Episode created successfully", episode))
	}
}

// GetEpisode returns a single episode.
// @Summary Get an episode
// @Tags episodes
// @Produce json
// @Param id path string true "Episode id"
// @Success 200 {object} types.Episode "Episode retrieved"
// @Failure 404 {object} response.Response "Episode not found"
// @Security BearerAuth
// @Router /episodes/{id} [get]
func (h *EpisodeHandlers) GetEpisode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("episode id is required")))
			return
		}

		episode, err := h.catalog.GetEpisode(id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				response.WriteJSON(w, http.StatusNotFound, response.GeneralError(errors.New("episode not found")))
				return
			}
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Episode retrieved successfully", episode))
	}
}

// AttachMedia binds a media slot of an episode to a finalized upload session
// or an external platform reference.
// @Summary Attach media to an episode slot
// @Description Resolve an upload session or provider id into a media record and point the slot at it
// @Tags episodes
// @Accept json
// @Produce json
// @Param id path string true "Episode id"
// @Param request body types.AttachMediaRequest true "Attachment payload"
// @Success 200 {object} media.Record "Media attached"
// @Failure 400 {object} response.Response "Validation failure or incomplete session"
// @Failure 404 {object} response.Response "Episode not found"
// @Security BearerAuth
// @Router /episodes/{id}/media [post]
func (h *EpisodeHandlers) AttachMedia() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("episode id is required")))
			return
		}

		var req types.AttachMediaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}

		if err := validator.New().Struct(req); err != nil {
			validateErrs := err.(validator.ValidationErrors)
			response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(validateErrs))
			return
		}

		record, err := h.catalog.AttachMedia(r.Context(), id, req)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				response.WriteJSON(w, http.StatusNotFound, response.GeneralError(errors.New("episode not found")))
				return
			}
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Media attached successfully", record))
	}
}

// SequenceContext returns the previous/current/next navigation triple.
// @Summary Get an episode's sequence context
// @Description Previous, current and next episode of the season in one consistent read
// @Tags episodes
// @Produce json
// @Param id path string true "Episode id"
// @Success 200 {object} types.SequenceContext "Sequence context retrieved"
// @Failure 404 {object} response.Response "Episode not found"
// @Security BearerAuth
// @Router /episodes/{id}/context [get]
func (h *EpisodeHandlers) SequenceContext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("episode id is required")))
			return
		}

		seq, err := h.catalog.SequenceContext(id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				response.WriteJSON(w, http.StatusNotFound, response.GeneralError(errors.New("episode not found")))
				return
			}
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Sequence context retrieved successfully", seq))
	}
}

// MoveEpisode reassigns an episode to another season, appending it at the end.
// @Summary Move an episode to another season
// @Description Reassign the episode; it takes the next order slot of the target season
// @Tags episodes
// @Accept json
// @Produce json
// @Param id path string true "Episode id"
// @Param request body types.MoveEpisodeRequest true "Target season"
// @Success 200 {object} map[string]interface{} "Episode moved"
// @Failure 404 {object} response.Response "Episode not found"
// @Security BearerAuth
// @Router /episodes/{id}/season [patch]
func (h *EpisodeHandlers) MoveEpisode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("episode id is required")))
			return
		}

		var req types.MoveEpisodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}

		if err := validator.New().Struct(req); err != nil {
			validateErrs := err.(validator.ValidationErrors)
			response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(validateErrs))
			return
		}

		order, err := h.catalog.MoveEpisode(id, req.SeasonID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				response.WriteJSON(w, http.StatusNotFound, response.GeneralError(errors.New("episode not found")))
				return
			}
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}

		slog.Info("Episode moved",
			slog.String("episode_id", id),
			slog.String("season_id", req.SeasonID),
			slog.Int("order", order))

		result := map[string]interface{}{
			"episode_id": id,
			"season_id":  req.SeasonID,
			"order":      order,
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Episode moved successfully", result))
	}
}

// ReorderSeason applies a full-season reorder atomically. Order values arrive
// as string tokens; one bad entry rejects the whole request unchanged.
// @Summary Reorder a season's episodes
// @Description Apply a complete new ordering for the season, all-or-nothing
// @Tags seasons
// @Accept json
// @Produce json
// @Param id path string true "Season id"
// @Param request body types.ReorderRequest true "New ordering"
// @Success 200 {object} response.Response "Season reordered"
// @Failure 400 {object} response.Response "Invalid entry, the failing item is in data"
// @Security BearerAuth
// @Router /seasons/{id}/reorder [post]
func (h *EpisodeHandlers) ReorderSeason() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.GetActorIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("actor not authenticated")))
			return
		}

		seasonID := r.PathValue("id")
		if seasonID == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("season id is required")))
			return
		}

		var req types.ReorderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}

		if err := validator.New().Struct(req); err != nil {
			validateErrs := err.(validator.ValidationErrors)
			response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(validateErrs))
			return
		}

		if err := h.catalog.ReorderSeason(actorID, seasonID, req.Items); err != nil {
			var reorderErr *catalog.ReorderError
			if errors.As(err, &reorderErr) {
				response.WriteJSON(w, http.StatusBadRequest, response.DetailedError(err, reorderErr))
				return
			}
			if errors.Is(err, storage.ErrReorderMismatch) {
				response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
				return
			}
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}

		slog.Info("Season reordered",
			slog.String("season_id", seasonID),
			slog.Int("episodes", len(req.Items)))

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Season reordered successfully", nil))
	}
}

// ListSeasonEpisodes lists a season's episodes in sequence order.
// @Summary List a season's episodes
// @Tags seasons
// @Produce json
// @Param id path string true "Season id"
// @Success 200 {array} types.EpisodeRef "Episodes retrieved"
// @Security BearerAuth
// @Router /seasons/{id}/episodes [get]
func (h *EpisodeHandlers) ListSeasonEpisodes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seasonID := r.PathValue("id")
		if seasonID == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("season id is required")))
			return
		}

		refs, err := h.catalog.SeasonEpisodes(seasonID)
		if err != nil {
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Episodes retrieved successfully", refs))
	}
}
