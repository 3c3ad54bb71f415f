package media

import "time"

// Kind is stored purely as metadata; bytes are never sniffed.
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
)

// Platform identifies where the media bytes live.
type Platform string

const (
	PlatformLocal   Platform = "local"
	PlatformYouTube Platform = "youtube"
	PlatformVimeo   Platform = "vimeo"
)

// StoredObject is an immutable, fully assembled blob in object storage.
// Replacing media for an entity creates a new StoredObject; existing ones
// are never mutated in place.
type StoredObject struct {
	ObjectKey string    `json:"object_key"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is a logical media unit referenced by catalog entities. Exactly one
// of ObjectKey (local) or ProviderID (external) is populated.
type Record struct {
	ID         string    `json:"id" db:"id"`
	Kind       Kind      `json:"kind" db:"kind"`
	Platform   Platform  `json:"platform" db:"platform"`
	ObjectKey  string    `json:"object_key,omitempty" db:"object_key"`
	ProviderID string    `json:"provider_id,omitempty" db:"provider_id"`
	Size       int64     `json:"size,omitempty" db:"size"`
	Checksum   string    `json:"checksum,omitempty" db:"checksum"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// IsLocal reports whether the record points at an object in our storage.
func (r Record) IsLocal() bool {
	return r.Platform == PlatformLocal
}
