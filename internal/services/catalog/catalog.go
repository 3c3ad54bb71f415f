package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/openflix/catalog-service/internal/events"
	"github.com/openflix/catalog-service/internal/storage"
	"github.com/openflix/catalog-service/internal/types"
	"github.com/openflix/catalog-service/internal/types/media"
	"github.com/openflix/catalog-service/internal/upload"
)

// Finalizer resolves an upload session into its finished stored object.
type Finalizer interface {
	TryFinalize(ctx context.Context, sessionID string) (*media.StoredObject, error)
}

// ReorderError reports which entry of a reorder request failed validation so
// the caller can re-render a corrected form. Nothing is applied when one is
// returned.
type ReorderError struct {
	EpisodeID string `json:"episode_id"`
	Value     string `json:"value"`
	Reason    string `json:"reason"`
}

func (e *ReorderError) Error() string {
	return fmt.Sprintf("invalid reorder entry for episode %s: %s (%s)", e.EpisodeID, e.Value, e.Reason)
}

// Service is the facade external handlers call: attach media to an episode,
// reorder a season's children, navigate the sequence. Ordering mutations for
// one season are mutually exclusive through a per-season lock; operations on
// different seasons never contend.
type Service struct {
	storage storage.Storage
	uploads Finalizer
	events  events.Publisher

	mu          sync.Mutex
	seasonLocks map[string]*sync.Mutex
}

func NewService(st storage.Storage, uploads Finalizer, publisher events.Publisher) *Service {
	return &Service{
		storage:     st,
		uploads:     uploads,
		events:      publisher,
		seasonLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) seasonLock(seasonID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.seasonLocks[seasonID]
	if !ok {
		lock = &sync.Mutex{}
		s.seasonLocks[seasonID] = lock
	}
	return lock
}

// CreateEpisode appends a new episode at the end of its season's sequence.
func (s *Service) CreateEpisode(req types.EpisodeCreateRequest) (types.Episode, error) {
	lock := s.seasonLock(req.SeasonID)
	lock.Lock()
	defer lock.Unlock()

	return s.storage.CreateEpisode(req.SeasonID, req.Title, req.Description, req.Length, req.Public)
}

// AttachMedia resolves the payload into a media record and points the
// episode's slot at it. A finalized upload session becomes local media; an
// external provider id is registered as-is. The previously referenced record
// is orphaned, never deleted here.
func (s *Service) AttachMedia(ctx context.Context, episodeID string, req types.AttachMediaRequest) (media.Record, error) {
	kind := media.KindVideo
	if req.Slot == types.SlotThumbnail {
		kind = media.KindImage
	}

	var mediaID string

	switch {
	case req.SessionID != "" && req.ProviderID != "":
		return media.Record{}, errors.New("payload must be either an upload session or an external id, not both")

	case req.SessionID != "":
		obj, err := s.uploads.TryFinalize(ctx, req.SessionID)
		if err != nil {
			if errors.Is(err, upload.ErrIncomplete) {
				return media.Record{}, fmt.Errorf("upload session %s is not complete yet", req.SessionID)
			}
			return media.Record{}, err
		}

		mediaID, err = s.storage.CreateMediaRecord(obj.ObjectKey, kind, obj.Size, obj.Checksum)
		if err != nil {
			return media.Record{}, err
		}

	case req.ProviderID != "":
		if req.Platform != string(media.PlatformYouTube) && req.Platform != string(media.PlatformVimeo) {
			return media.Record{}, fmt.Errorf("unsupported platform: %s", req.Platform)
		}

		var err error
		mediaID, err = s.storage.CreateExternalMediaRecord(req.ProviderID, media.Platform(req.Platform), kind)
		if err != nil {
			return media.Record{}, err
		}

	default:
		return media.Record{}, errors.New("payload must carry an upload session or an external id")
	}

	previous, err := s.storage.SetEpisodeMedia(episodeID, req.Slot, mediaID)
	if err != nil {
		return media.Record{}, err
	}

	if previous != "" {
		slog.Info("Media slot replaced, previous record orphaned",
			slog.String("episode_id", episodeID),
			slog.String("slot", string(req.Slot)),
			slog.String("orphaned_media_id", previous))
	}

	return s.storage.GetMediaRecord(mediaID)
}

// ReorderSeason validates and applies a full-season reorder. Order values
// arrive as string tokens and must each parse as an integer; the i-th episode
// id receives the i-th order. Any invalid token, duplicate id, or duplicate
// order rejects the whole request before anything is persisted.
func (s *Service) ReorderSeason(actorID, seasonID string, items []types.ReorderItem) error {
	ids := make([]string, len(items))
	orders := make([]int, len(items))
	seenIDs := make(map[string]bool, len(items))
	seenOrders := make(map[int]bool, len(items))

	for i, item := range items {
		order, err := strconv.Atoi(item.Order)
		if err != nil {
			return &ReorderError{EpisodeID: item.EpisodeID, Value: item.Order, Reason: "order is not a number"}
		}
		if seenIDs[item.EpisodeID] {
			return &ReorderError{EpisodeID: item.EpisodeID, Value: item.Order, Reason: "duplicate episode id"}
		}
		if seenOrders[order] {
			return &ReorderError{EpisodeID: item.EpisodeID, Value: item.Order, Reason: "duplicate order value"}
		}
		seenIDs[item.EpisodeID] = true
		seenOrders[order] = true
		ids[i] = item.EpisodeID
		orders[i] = order
	}

	lock := s.seasonLock(seasonID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.storage.BulkReorderEpisodes(seasonID, ids, orders); err != nil {
		return err
	}

	s.events.PublishSeasonReordered(actorID, seasonID, len(items))

	return nil
}

// MoveEpisode reassigns an episode to another season, appending it at the
// end. The old season's orders are left untouched, gap and all.
func (s *Service) MoveEpisode(episodeID, newSeasonID string) (int, error) {
	lock := s.seasonLock(newSeasonID)
	lock.Lock()
	defer lock.Unlock()

	return s.storage.ReassignEpisodeSeason(episodeID, newSeasonID)
}

// GetEpisode returns a single episode by id.
func (s *Service) GetEpisode(episodeID string) (types.Episode, error) {
	return s.storage.GetEpisode(episodeID)
}

// SequenceContext returns the previous/current/next triple for navigation.
func (s *Service) SequenceContext(episodeID string) (types.SequenceContext, error) {
	return s.storage.GetSequenceContext(episodeID)
}

// SeasonEpisodes lists a season's children in order.
func (s *Service) SeasonEpisodes(seasonID string) ([]types.EpisodeRef, error) {
	return s.storage.ListSeasonEpisodes(seasonID)
}
