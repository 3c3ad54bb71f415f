package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openflix/catalog-service/internal/types/media"
)

var (
	// ErrSessionExpired means the staging area was already finalized or
	// reclaimed; the client must restart with a new session id.
	ErrSessionExpired = errors.New("upload session expired")

	// ErrInvalidRange means a chunk would extend past the declared total size.
	ErrInvalidRange = errors.New("chunk range exceeds declared total size")

	// ErrSizeMismatch means the declared total size or chunk count conflicts
	// with what was recorded for the session by an earlier chunk.
	ErrSizeMismatch = errors.New("declared size conflicts with session")

	// ErrLengthMismatch means the assembled object did not add up to the
	// declared total size.
	ErrLengthMismatch = errors.New("assembled length does not match declared total size")

	// ErrIncomplete signals a normal mid-upload state, not a failure: keep
	// sending chunks.
	ErrIncomplete = errors.New("upload incomplete")

	// ErrChunkIndex means the chunk index is outside [0, totalChunks).
	ErrChunkIndex = errors.New("chunk index out of range")
)

// Chunk is one contiguous slice of a larger upload. The byte offset is derived
// from Index and the configured chunk size, never from the client.
type Chunk struct {
	SessionID   string
	Index       int
	TotalChunks int
	TotalSize   int64
	Body        io.Reader
}

// Progress reports how much of a session has been staged.
type Progress struct {
	ReceivedChunks int    `json:"received_chunks"`
	TotalChunks    int    `json:"total_chunks"`
	Complete       bool   `json:"complete"`
	ObjectKey      string `json:"object_key,omitempty"`
}

// session tracks one client-driven upload attempt. Chunk bookkeeping is
// guarded by mu; staging file writes happen outside the lock since distinct
// indices touch distinct slot files.
type session struct {
	id           string
	dir          string
	totalSize    int64
	totalChunks  int
	received     map[int]int64 // chunk index -> bytes staged
	createdAt    time.Time
	lastActivity time.Time
	finalized    bool
	result       *media.StoredObject
	mu           sync.Mutex
}

// Manager owns the staging area and the set of live upload sessions.
type Manager struct {
	stagingDir string
	chunkSize  int64
	ttl        time.Duration
	store      ObjectStore

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager creates the staging directory and an empty session registry.
func NewManager(stagingDir string, chunkSize int64, ttl time.Duration, store ObjectStore) (*Manager, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	return &Manager{
		stagingDir: stagingDir,
		chunkSize:  chunkSize,
		ttl:        ttl,
		store:      store,
		sessions:   make(map[string]*session),
	}, nil
}

// ChunkSize returns the configured chunk size in bytes.
func (m *Manager) ChunkSize() int64 {
	return m.chunkSize
}

// ReceiveChunk validates and stages one chunk. The session is created lazily
// on its first chunk. Re-delivering an index overwrites the slot, so client
// retries are idempotent. Lazy creation means a chunk arriving after its
// session was swept starts a fresh session under the same id; the client then
// re-sends everything, which is safe but wasted work.
func (m *Manager) ReceiveChunk(c Chunk) (Progress, error) {
	if _, err := uuid.Parse(c.SessionID); err != nil {
		return Progress{}, fmt.Errorf("invalid session id: %w", err)
	}

	if c.TotalChunks <= 0 || c.Index < 0 || c.Index >= c.TotalChunks {
		return Progress{}, ErrChunkIndex
	}

	if c.TotalSize <= 0 {
		return Progress{}, ErrSizeMismatch
	}

	offset := int64(c.Index) * m.chunkSize
	if offset >= c.TotalSize {
		return Progress{}, ErrInvalidRange
	}

	s, err := m.getOrCreate(c.SessionID, c.TotalSize, c.TotalChunks)
	if err != nil {
		return Progress{}, err
	}

	// The slot may hold at most the bytes between its offset and the end of
	// the declared size. Reading one extra byte detects oversized chunks.
	maxLen := c.TotalSize - offset
	if maxLen > m.chunkSize {
		maxLen = m.chunkSize
	}

	n, err := m.writeSlot(s, c.Index, io.LimitReader(c.Body, maxLen+1))
	if err != nil {
		// The staging dir disappears only when a finalize or a sweep
		// reclaimed the session between lookup and write
		if errors.Is(err, os.ErrNotExist) {
			return Progress{}, ErrSessionExpired
		}
		return Progress{}, err
	}
	if n > maxLen {
		m.removeSlot(s, c.Index)
		return Progress{}, ErrInvalidRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return Progress{}, ErrSessionExpired
	}

	s.received[c.Index] = n
	s.lastActivity = time.Now()

	return Progress{
		ReceivedChunks: len(s.received),
		TotalChunks:    s.totalChunks,
		Complete:       len(s.received) == s.totalChunks,
	}, nil
}

// Status reports staging progress, and the object key once finalized.
func (m *Manager) Status(sessionID string) (Progress, error) {
	s, ok := m.lookup(sessionID)
	if !ok {
		return Progress{}, ErrSessionExpired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := Progress{
		ReceivedChunks: len(s.received),
		TotalChunks:    s.totalChunks,
		Complete:       len(s.received) == s.totalChunks,
	}
	if s.result != nil {
		p.ObjectKey = s.result.ObjectKey
	}
	return p, nil
}

// Abort reclaims staging for a session at the client's request. Aborting an
// unknown or already-finalized session is a no-op.
func (m *Manager) Abort(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		os.RemoveAll(s.dir)
	}
}

// SweepExpired reclaims staging for sessions idle past the TTL and drops
// finalized session records past the TTL. Returns how many were reclaimed.
// An in-flight finalize holds the session mutex, so it is never interrupted.
// Once an id is reclaimed here, a later chunk under that id is
// indistinguishable from a new upload and starts a fresh session.
func (m *Manager) SweepExpired(now time.Time) int {
	m.mu.RLock()
	candidates := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	reclaimed := 0
	for _, s := range candidates {
		// A busy session mutex means a receive or finalize is in flight;
		// that session is not idle, and the sweep must not wait on it.
		if !s.mu.TryLock() {
			continue
		}
		idle := now.Sub(s.lastActivity) > m.ttl
		s.mu.Unlock()
		if !idle {
			continue
		}

		m.mu.Lock()
		if cur, ok := m.sessions[s.id]; !ok || cur != s {
			m.mu.Unlock()
			continue
		}
		delete(m.sessions, s.id)
		m.mu.Unlock()

		os.RemoveAll(s.dir)
		reclaimed++
	}
	return reclaimed
}

// SweepStaleDirs reclaims on-disk staging directories older than the TTL that
// no live session owns. This catches leftovers of crashed server processes,
// which never appear in any registry.
func (m *Manager) SweepStaleDirs(now time.Time) (int, error) {
	entries, err := os.ReadDir(m.stagingDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := m.lookup(entry.Name()); ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= m.ttl {
			continue
		}

		if err := os.RemoveAll(filepath.Join(m.stagingDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (m *Manager) getOrCreate(sessionID string, totalSize int64, totalChunks int) (*session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		dir := filepath.Join(m.stagingDir, sessionID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("failed to create session staging dir: %w", err)
		}

		now := time.Now()
		s = &session{
			id:           sessionID,
			dir:          dir,
			totalSize:    totalSize,
			totalChunks:  totalChunks,
			received:     make(map[int]int64),
			createdAt:    now,
			lastActivity: now,
		}
		m.sessions[sessionID] = s
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	// Validate against the recorded shape without holding the manager lock.
	// An in-flight finalize holds s.mu across the store write; waiting on it
	// here must never stall chunks for other sessions.
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil, ErrSessionExpired
	}
	if s.totalSize != totalSize || s.totalChunks != totalChunks {
		return nil, ErrSizeMismatch
	}
	return s, nil
}

func (m *Manager) lookup(sessionID string) (*session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	return s, ok
}

func (m *Manager) writeSlot(s *session, index int, r io.Reader) (int64, error) {
	f, err := os.Create(slotPath(s.dir, index))
	if err != nil {
		return 0, fmt.Errorf("failed to create chunk slot: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stage chunk %d: %w", index, err)
	}

	return n, nil
}

func (m *Manager) removeSlot(s *session, index int) {
	os.Remove(slotPath(s.dir, index))
}

func slotPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.part", index))
}
