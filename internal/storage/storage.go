package storage

import (
	"errors"

	"github.com/openflix/catalog-service/internal/types"
	"github.com/openflix/catalog-service/internal/types/media"
)

// ErrReorderMismatch means a bulk reorder request did not cover the season's
// children exactly (missing episode, duplicate id, or wrong count). Nothing
// is applied when it is returned.
var ErrReorderMismatch = errors.New("reorder set does not match season children")

type Storage interface {
	// Media reference store. Inserts only; records are never mutated and
	// supersession is the caller's responsibility.
	CreateMediaRecord(objectKey string, kind media.Kind, size int64, checksum string) (string, error)
	CreateExternalMediaRecord(providerID string, platform media.Platform, kind media.Kind) (string, error)
	GetMediaRecord(id string) (media.Record, error)

	// Catalog entities. CreateEpisode appends at the end of the season's
	// sequence (max order + 1, or 1 for an empty season).
	CreateEpisode(seasonID, title, description string, length int, public bool) (types.Episode, error)
	GetEpisode(id string) (types.Episode, error)
	SetEpisodeMedia(episodeID string, slot types.MediaSlot, mediaID string) (string, error)
	ListSeasonEpisodes(seasonID string) ([]types.EpisodeRef, error)

	// Ordering. BulkReorderEpisodes applies all new orders in one
	// transaction or none at all; ReassignEpisodeSeason appends the episode
	// to the new season and leaves a gap behind in the old one.
	BulkReorderEpisodes(seasonID string, episodeIDs []string, orders []int) error
	ReassignEpisodeSeason(episodeID, newSeasonID string) (int, error)
	GetSequenceContext(episodeID string) (types.SequenceContext, error)

	// Maintenance, used by the staging sweeper to reap media records no
	// episode slot references anymore.
	ListOrphanMediaRecords(limit int) ([]media.Record, error)
	DeleteMediaRecord(id string) error
}
