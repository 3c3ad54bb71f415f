package types

import "time"

type MediaSlot string

const (
	SlotThumbnail MediaSlot = "thumbnail"
	SlotVideo     MediaSlot = "video"
	SlotTrailer   MediaSlot = "trailer"
)

// Episode is a catalog entity ordered within its season.
type Episode struct {
	ID          string    `json:"id"`
	SeasonID    string    `json:"season_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Length      int       `json:"length"`
	Public      bool      `json:"public"`
	Order       int       `json:"order"`
	ThumbnailID string    `json:"thumbnail_id,omitempty"`
	VideoID     string    `json:"video_id,omitempty"`
	TrailerID   string    `json:"trailer_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EpisodeRef is the slim shape used for sequence navigation.
type EpisodeRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

// SequenceContext is the previous/current/next triple backing the
// "continue watching" navigation. Previous and Next are nil at the
// boundaries of the season.
type SequenceContext struct {
	Previous *EpisodeRef `json:"previous"`
	Current  Episode     `json:"current"`
	Next     *EpisodeRef `json:"next"`
}

type EpisodeCreateRequest struct {
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description" validate:"required,max=500"`
	Length      int    `json:"length" validate:"required,min=1"`
	Public      bool   `json:"public"`
	SeasonID    string `json:"season_id" validate:"required"`
}

// ReorderItem pairs an episode with its new order token. Order arrives as a
// string from the reorder form and is parsed before anything is applied.
type ReorderItem struct {
	EpisodeID string `json:"episode_id" validate:"required"`
	Order     string `json:"order" validate:"required"`
}

type ReorderRequest struct {
	Items []ReorderItem `json:"items" validate:"required,min=1,dive"`
}

// AttachMediaRequest binds a media slot of an episode either to a finalized
// upload session (local media) or to an external platform video id.
type AttachMediaRequest struct {
	Slot       MediaSlot `json:"slot" validate:"required,oneof=thumbnail video trailer"`
	SessionID  string    `json:"session_id,omitempty"`
	ProviderID string    `json:"provider_id,omitempty"`
	Platform   string    `json:"platform,omitempty" validate:"omitempty,oneof=youtube vimeo"`
}

type MoveEpisodeRequest struct {
	SeasonID string `json:"season_id" validate:"required"`
}
