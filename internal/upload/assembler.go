package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/openflix/catalog-service/internal/types/media"
)

// ObjectStore is where finalized objects land. The production implementation
// wraps MinIO; tests substitute an in-memory store.
type ObjectStore interface {
	Put(ctx context.Context, objectKey string, r io.Reader, size int64, contentType string) error
}

// TryFinalize assembles the session into one durable object once every chunk
// has arrived. It returns ErrIncomplete while chunks are missing, which is a
// normal mid-upload state. Finalize is serialized per session: a concurrent
// second call observes the first call's StoredObject instead of double-writing.
// An object-store failure leaves staging intact so the caller can retry
// without re-uploading chunks.
func (m *Manager) TryFinalize(ctx context.Context, sessionID string) (*media.StoredObject, error) {
	s, ok := m.lookup(sessionID)
	if !ok {
		return nil, ErrSessionExpired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return s.result, nil
	}

	if len(s.received) < s.totalChunks {
		return nil, ErrIncomplete
	}

	obj, err := m.assemble(ctx, s)
	if err != nil {
		return nil, err
	}

	s.finalized = true
	s.result = obj
	os.RemoveAll(s.dir)

	slog.Info("Upload session finalized",
		slog.String("session_id", s.id),
		slog.String("object_key", obj.ObjectKey),
		slog.Int64("size", obj.Size))

	return obj, nil
}

// assemble concatenates chunk slots in strictly ascending index order into a
// scratch file, verifies the total length, then hands the bytes to the object
// store under a fresh key.
func (m *Manager) assemble(ctx context.Context, s *session) (*media.StoredObject, error) {
	scratch := filepath.Join(s.dir, "assembled.tmp")

	f, err := os.Create(scratch)
	if err != nil {
		return nil, fmt.Errorf("failed to create assembly scratch file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(scratch)
	}()

	hash := sha256.New()
	w := io.MultiWriter(f, hash)

	var total int64
	for i := 0; i < s.totalChunks; i++ {
		n, err := copySlot(w, slotPath(s.dir, i))
		if err != nil {
			return nil, fmt.Errorf("failed to assemble chunk %d: %w", i, err)
		}
		total += n
	}

	if total != s.totalSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrLengthMismatch, total, s.totalSize)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind assembly file: %w", err)
	}

	objectKey := fmt.Sprintf("media/%s", uuid.New().String())
	if err := m.store.Put(ctx, objectKey, f, total, "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("failed to store assembled object: %w", err)
	}

	return &media.StoredObject{
		ObjectKey: objectKey,
		Size:      total,
		Checksum:  hex.EncodeToString(hash.Sum(nil)),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func copySlot(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return io.Copy(w, f)
}
