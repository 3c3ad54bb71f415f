package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/openflix/catalog-service/internal/storage"
	"github.com/openflix/catalog-service/internal/types"
	"github.com/openflix/catalog-service/internal/types/media"
)

// CacheService wraps storage with Redis caching for the hot read paths:
// sequence navigation and season listings. Every ordering mutation
// invalidates the affected season so readers never see a stale sequence for
// longer than one request.
type CacheService struct {
	storage storage.Storage
	redis   *redis.Client
}

// NewCacheService creates a new cache service
func NewCacheService(storage storage.Storage, redisClient *redis.Client) *CacheService {
	return &CacheService{
		storage: storage,
		redis:   redisClient,
	}
}

// Cache key patterns
const (
	SequenceContextKey = "seqctx:%s"         // seqctx:episodeID
	SeasonEpisodesKey  = "season:episodes:%s" // season:episodes:seasonID
)

// Cache durations
const (
	SequenceContextDuration = 60 * time.Second // Navigation triples
	SeasonEpisodesDuration  = 45 * time.Second // Hot season listings
)

// GetSequenceContext returns the cached navigation triple or fetches it from
// the database in one consistent read.
func (c *CacheService) GetSequenceContext(episodeID string) (types.SequenceContext, error) {
	ctx := context.Background()
	key := fmt.Sprintf(SequenceContextKey, episodeID)

	// Try cache first
	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var seq types.SequenceContext
		if err := json.Unmarshal([]byte(cached), &seq); err == nil {
			return seq, nil
		}
	}

	// Cache miss - fetch from database
	seq, err := c.storage.GetSequenceContext(episodeID)
	if err != nil {
		return seq, err
	}

	// Cache the result
	data, _ := json.Marshal(seq)
	c.redis.Set(ctx, key, data, SequenceContextDuration)

	return seq, nil
}

// ListSeasonEpisodes returns the cached ordered listing or fetches from DB
func (c *CacheService) ListSeasonEpisodes(seasonID string) ([]types.EpisodeRef, error) {
	ctx := context.Background()
	key := fmt.Sprintf(SeasonEpisodesKey, seasonID)

	// Try cache first
	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var refs []types.EpisodeRef
		if err := json.Unmarshal([]byte(cached), &refs); err == nil {
			return refs, nil
		}
	}

	// Cache miss - fetch from database
	refs, err := c.storage.ListSeasonEpisodes(seasonID)
	if err != nil {
		return nil, err
	}

	// Cache the result
	data, _ := json.Marshal(refs)
	c.redis.Set(ctx, key, data, SeasonEpisodesDuration)

	return refs, nil
}

// InvalidateSeason clears the season listing and the navigation triple of
// every episode in the season. Ordering changed, so all of them are suspect.
func (c *CacheService) InvalidateSeason(ctx context.Context, seasonID string) {
	refs, err := c.storage.ListSeasonEpisodes(seasonID)
	if err != nil {
		// Fall back to dropping just the listing; triples expire on their own
		c.redis.Del(ctx, fmt.Sprintf(SeasonEpisodesKey, seasonID))
		return
	}

	keys := make([]string, 0, len(refs)+1)
	keys = append(keys, fmt.Sprintf(SeasonEpisodesKey, seasonID))
	for _, ref := range refs {
		keys = append(keys, fmt.Sprintf(SequenceContextKey, ref.ID))
	}

	c.redis.Del(ctx, keys...)
}

// InvalidateEpisode clears a single episode's navigation triple.
func (c *CacheService) InvalidateEpisode(ctx context.Context, episodeID string) {
	c.redis.Del(ctx, fmt.Sprintf(SequenceContextKey, episodeID))
}

// Methods to pass through to storage (implement storage.Storage interface)
func (c *CacheService) CreateMediaRecord(objectKey string, kind media.Kind, size int64, checksum string) (string, error) {
	return c.storage.CreateMediaRecord(objectKey, kind, size, checksum)
}

func (c *CacheService) CreateExternalMediaRecord(providerID string, platform media.Platform, kind media.Kind) (string, error) {
	return c.storage.CreateExternalMediaRecord(providerID, platform, kind)
}

func (c *CacheService) GetMediaRecord(id string) (media.Record, error) {
	return c.storage.GetMediaRecord(id)
}

func (c *CacheService) CreateEpisode(seasonID, title, description string, length int, public bool) (types.Episode, error) {
	ep, err := c.storage.CreateEpisode(seasonID, title, description, length, public)
	if err != nil {
		return ep, err
	}

	// A new tail changes the previous tail's "next" pointer
	c.InvalidateSeason(context.Background(), seasonID)

	return ep, nil
}

func (c *CacheService) GetEpisode(id string) (types.Episode, error) {
	return c.storage.GetEpisode(id)
}

func (c *CacheService) SetEpisodeMedia(episodeID string, slot types.MediaSlot, mediaID string) (string, error) {
	previous, err := c.storage.SetEpisodeMedia(episodeID, slot, mediaID)
	if err != nil {
		return "", err
	}

	c.InvalidateEpisode(context.Background(), episodeID)

	return previous, nil
}

func (c *CacheService) BulkReorderEpisodes(seasonID string, episodeIDs []string, orders []int) error {
	err := c.storage.BulkReorderEpisodes(seasonID, episodeIDs, orders)
	if err != nil {
		return err
	}

	c.InvalidateSeason(context.Background(), seasonID)

	return nil
}

func (c *CacheService) ReassignEpisodeSeason(episodeID, newSeasonID string) (int, error) {
	// The old season changes too; look it up before the move
	ep, epErr := c.storage.GetEpisode(episodeID)

	order, err := c.storage.ReassignEpisodeSeason(episodeID, newSeasonID)
	if err != nil {
		return 0, err
	}

	ctx := context.Background()
	if epErr == nil {
		c.InvalidateSeason(ctx, ep.SeasonID)
	}
	c.InvalidateSeason(ctx, newSeasonID)

	return order, nil
}

func (c *CacheService) ListOrphanMediaRecords(limit int) ([]media.Record, error) {
	return c.storage.ListOrphanMediaRecords(limit)
}

func (c *CacheService) DeleteMediaRecord(id string) error {
	return c.storage.DeleteMediaRecord(id)
}
