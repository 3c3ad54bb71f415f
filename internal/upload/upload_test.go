package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory ObjectStore for tests
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	failAll bool
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (ms *memStore) Put(ctx context.Context, objectKey string, r io.Reader, size int64, contentType string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.failAll {
		return errors.New("simulated storage outage")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	ms.objects[objectKey] = data
	ms.puts++
	return nil
}

func setupManager(t *testing.T, chunkSize int64) (*Manager, *memStore) {
	t.Helper()

	store := newMemStore()
	mgr, err := NewManager(t.TempDir(), chunkSize, time.Hour, store)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return mgr, store
}

func sendChunk(t *testing.T, mgr *Manager, sessionID string, index, totalChunks int, totalSize int64, data []byte) Progress {
	t.Helper()

	p, err := mgr.ReceiveChunk(Chunk{
		SessionID:   sessionID,
		Index:       index,
		TotalChunks: totalChunks,
		TotalSize:   totalSize,
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		t.Fatalf("Unexpected error receiving chunk %d: %v", index, err)
	}
	return p
}

// splitPayload slices data the way the browser uploader does
func splitPayload(data []byte, chunkSize int64) [][]byte {
	var chunks [][]byte
	for off := int64(0); off < int64(len(data)); off += chunkSize {
		end := off + chunkSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

func TestFinalize_OutOfOrderDelivery(t *testing.T) {
	// chunk size 5, total size 12, chunks delivered in order [2,0,1]
	mgr, store := setupManager(t, 5)

	payload := []byte("hello world!")
	chunks := splitPayload(payload, 5)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}

	sessionID := uuid.New().String()
	for _, i := range []int{2, 0, 1} {
		sendChunk(t, mgr, sessionID, i, 3, 12, chunks[i])
	}

	obj, err := mgr.TryFinalize(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Unexpected finalize error: %v", err)
	}
	if obj.Size != 12 {
		t.Fatalf("Expected assembled size 12, got %d", obj.Size)
	}
	if got := store.objects[obj.ObjectKey]; !bytes.Equal(got, payload) {
		t.Fatalf("Assembled bytes mismatch: got %q, want %q", got, payload)
	}
}

func TestFinalize_AnyPermutationMatchesInOrder(t *testing.T) {
	const chunkSize = 4

	payload := make([]byte, 4*5+2)
	rand.New(rand.NewSource(42)).Read(payload)
	chunks := splitPayload(payload, chunkSize)

	for trial := 0; trial < 5; trial++ {
		mgr, store := setupManager(t, chunkSize)

		perm := rand.New(rand.NewSource(int64(trial))).Perm(len(chunks))
		sessionID := uuid.New().String()
		for _, i := range perm {
			sendChunk(t, mgr, sessionID, i, len(chunks), int64(len(payload)), chunks[i])
		}

		obj, err := mgr.TryFinalize(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("Permutation %v: finalize failed: %v", perm, err)
		}
		if !bytes.Equal(store.objects[obj.ObjectKey], payload) {
			t.Fatalf("Permutation %v: assembled bytes differ from in-order delivery", perm)
		}
	}
}

func TestReceiveChunk_IdempotentRetry(t *testing.T) {
	mgr, store := setupManager(t, 5)

	payload := []byte("hello world!")
	chunks := splitPayload(payload, 5)
	sessionID := uuid.New().String()

	sendChunk(t, mgr, sessionID, 0, 3, 12, chunks[0])
	sendChunk(t, mgr, sessionID, 1, 3, 12, chunks[1])
	// client retries chunk 1 with identical bytes
	p := sendChunk(t, mgr, sessionID, 1, 3, 12, chunks[1])
	if p.ReceivedChunks != 2 {
		t.Fatalf("Expected 2 received chunks after retry, got %d", p.ReceivedChunks)
	}
	sendChunk(t, mgr, sessionID, 2, 3, 12, chunks[2])

	obj, err := mgr.TryFinalize(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Unexpected finalize error: %v", err)
	}
	if !bytes.Equal(store.objects[obj.ObjectKey], payload) {
		t.Fatal("Retried chunk changed the final output")
	}
}

func TestReceiveChunk_Validation(t *testing.T) {
	mgr, _ := setupManager(t, 5)
	sessionID := uuid.New().String()

	_, err := mgr.ReceiveChunk(Chunk{SessionID: "not-a-uuid", Index: 0, TotalChunks: 1, TotalSize: 5, Body: bytes.NewReader([]byte("aaaaa"))})
	if err == nil {
		t.Fatal("Expected error for malformed session id")
	}

	_, err = mgr.ReceiveChunk(Chunk{SessionID: sessionID, Index: 3, TotalChunks: 3, TotalSize: 12, Body: bytes.NewReader(nil)})
	if !errors.Is(err, ErrChunkIndex) {
		t.Fatalf("Expected ErrChunkIndex, got %v", err)
	}

	// chunk 2 of a 12-byte upload may carry at most 2 bytes
	_, err = mgr.ReceiveChunk(Chunk{SessionID: sessionID, Index: 2, TotalChunks: 3, TotalSize: 12, Body: bytes.NewReader([]byte("toolong"))})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("Expected ErrInvalidRange, got %v", err)
	}
}

func TestReceiveChunk_SizeConflict(t *testing.T) {
	mgr, _ := setupManager(t, 5)
	sessionID := uuid.New().String()

	sendChunk(t, mgr, sessionID, 0, 3, 12, []byte("hello"))

	_, err := mgr.ReceiveChunk(Chunk{SessionID: sessionID, Index: 1, TotalChunks: 3, TotalSize: 999, Body: bytes.NewReader([]byte(" worl"))})
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("Expected ErrSizeMismatch, got %v", err)
	}
}

func TestTryFinalize_Incomplete(t *testing.T) {
	mgr, _ := setupManager(t, 5)
	sessionID := uuid.New().String()

	sendChunk(t, mgr, sessionID, 0, 3, 12, []byte("hello"))

	_, err := mgr.TryFinalize(context.Background(), sessionID)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Expected ErrIncomplete, got %v", err)
	}
}

func TestTryFinalize_AtMostOnce(t *testing.T) {
	mgr, store := setupManager(t, 5)

	payload := []byte("hello world!")
	chunks := splitPayload(payload, 5)
	sessionID := uuid.New().String()
	for i, c := range chunks {
		sendChunk(t, mgr, sessionID, i, len(chunks), int64(len(payload)), c)
	}

	const callers = 8
	results := make([]*struct {
		key string
		err error
	}, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obj, err := mgr.TryFinalize(context.Background(), sessionID)
			r := &struct {
				key string
				err error
			}{err: err}
			if obj != nil {
				r.key = obj.ObjectKey
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	if store.puts != 1 {
		t.Fatalf("Expected exactly 1 object write, got %d", store.puts)
	}
	for i, r := range results {
		if r.err != nil {
			t.Fatalf("Caller %d got error: %v", i, r.err)
		}
		if r.key != results[0].key {
			t.Fatalf("Caller %d observed a different object key", i)
		}
	}
}

func TestTryFinalize_StorageFailureIsRetryable(t *testing.T) {
	mgr, store := setupManager(t, 5)

	payload := []byte("hello world!")
	chunks := splitPayload(payload, 5)
	sessionID := uuid.New().String()
	for i, c := range chunks {
		sendChunk(t, mgr, sessionID, i, len(chunks), int64(len(payload)), c)
	}

	store.failAll = true
	if _, err := mgr.TryFinalize(context.Background(), sessionID); err == nil {
		t.Fatal("Expected finalize to fail during storage outage")
	}

	// staging survived, so a retry succeeds without re-uploading chunks
	store.failAll = false
	obj, err := mgr.TryFinalize(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Retry after storage failure failed: %v", err)
	}
	if !bytes.Equal(store.objects[obj.ObjectKey], payload) {
		t.Fatal("Retry produced wrong bytes")
	}
}

func TestFinalizedSessionRejectsChunks(t *testing.T) {
	mgr, _ := setupManager(t, 5)

	sessionID := uuid.New().String()
	sendChunk(t, mgr, sessionID, 0, 1, 3, []byte("abc"))

	if _, err := mgr.TryFinalize(context.Background(), sessionID); err != nil {
		t.Fatalf("Unexpected finalize error: %v", err)
	}

	_, err := mgr.ReceiveChunk(Chunk{SessionID: sessionID, Index: 0, TotalChunks: 1, TotalSize: 3, Body: bytes.NewReader([]byte("abc"))})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	mgr, _ := setupManager(t, 5)
	mgr.ttl = time.Minute

	sessionID := uuid.New().String()
	sendChunk(t, mgr, sessionID, 0, 3, 12, []byte("hello"))

	if n := mgr.SweepExpired(time.Now()); n != 0 {
		t.Fatalf("Expected no sessions reclaimed yet, got %d", n)
	}

	if n := mgr.SweepExpired(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("Expected 1 session reclaimed, got %d", n)
	}

	if _, err := mgr.Status(sessionID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired after sweep, got %v", err)
	}
}

// blockingStore parks every Put until released, simulating a slow or hung
// storage backend.
type blockingStore struct {
	entered chan struct{}
	release chan struct{}
}

func (bs *blockingStore) Put(ctx context.Context, objectKey string, r io.Reader, size int64, contentType string) error {
	bs.entered <- struct{}{}
	<-bs.release
	_, err := io.Copy(io.Discard, r)
	return err
}

func TestReceiveChunk_NotBlockedByInFlightFinalize(t *testing.T) {
	store := &blockingStore{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	mgr, err := NewManager(t.TempDir(), 5, time.Hour, store)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	sessionA := uuid.New().String()
	sendChunk(t, mgr, sessionA, 0, 1, 3, []byte("abc"))

	finalized := make(chan error, 1)
	go func() {
		_, err := mgr.TryFinalize(context.Background(), sessionA)
		finalized <- err
	}()
	// Finalize is now parked inside the store Put, holding session A's mutex
	<-store.entered

	// A chunk for an unrelated session must go through immediately
	received := make(chan error, 1)
	sessionB := uuid.New().String()
	go func() {
		_, err := mgr.ReceiveChunk(Chunk{
			SessionID:   sessionB,
			Index:       0,
			TotalChunks: 3,
			TotalSize:   12,
			Body:        bytes.NewReader([]byte("hello")),
		})
		received <- err
	}()

	select {
	case err := <-received:
		if err != nil {
			t.Fatalf("Unrelated chunk failed during in-flight finalize: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Chunk for an unrelated session stalled behind an in-flight store write")
	}

	// The sweep must not wait on the busy session and must not reclaim it
	// mid-finalize; the idle session is fair game
	swept := make(chan int, 1)
	go func() {
		swept <- mgr.SweepExpired(time.Now().Add(2 * time.Hour))
	}()
	select {
	case n := <-swept:
		if n != 1 {
			t.Fatalf("Expected only the idle session reclaimed, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Sweep stalled behind an in-flight store write")
	}

	close(store.release)
	if err := <-finalized; err != nil {
		t.Fatalf("Finalize failed after release: %v", err)
	}

	// A straggler chunk for the finalized session gets the expiry contract
	_, err = mgr.ReceiveChunk(Chunk{SessionID: sessionA, Index: 0, TotalChunks: 1, TotalSize: 3, Body: bytes.NewReader([]byte("abc"))})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired for straggler, got %v", err)
	}
}

func TestReceiveChunk_ReclaimedStagingRejected(t *testing.T) {
	mgr, _ := setupManager(t, 5)

	sessionID := uuid.New().String()
	sendChunk(t, mgr, sessionID, 0, 3, 12, []byte("hello"))

	// Staging reclaimed out from under the registry entry, as a racing
	// sweep would do
	s, ok := mgr.lookup(sessionID)
	if !ok {
		t.Fatal("Session not found after first chunk")
	}
	if err := os.RemoveAll(s.dir); err != nil {
		t.Fatalf("Failed to remove staging dir: %v", err)
	}

	_, err := mgr.ReceiveChunk(Chunk{SessionID: sessionID, Index: 1, TotalChunks: 3, TotalSize: 12, Body: bytes.NewReader([]byte(" worl"))})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired for reclaimed staging, got %v", err)
	}
}

func TestSweepStaleDirs(t *testing.T) {
	mgr, _ := setupManager(t, 5)
	mgr.ttl = time.Minute

	// A directory no live session owns, as left behind by a crashed process
	staleID := uuid.New().String()
	if err := os.MkdirAll(filepath.Join(mgr.stagingDir, staleID), 0o755); err != nil {
		t.Fatalf("Failed to create stale dir: %v", err)
	}
	old := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(filepath.Join(mgr.stagingDir, staleID), old, old); err != nil {
		t.Fatalf("Failed to age stale dir: %v", err)
	}

	// A live session's directory must survive even if old on disk
	liveID := uuid.New().String()
	sendChunk(t, mgr, liveID, 0, 3, 12, []byte("hello"))

	n, err := mgr.SweepStaleDirs(time.Now())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 stale dir reclaimed, got %d", n)
	}

	if _, err := os.Stat(filepath.Join(mgr.stagingDir, staleID)); !os.IsNotExist(err) {
		t.Fatal("Stale dir was not removed")
	}
	if _, err := mgr.Status(liveID); err != nil {
		t.Fatalf("Live session was disturbed: %v", err)
	}
}

func TestConcurrentChunksSameSession(t *testing.T) {
	const chunkSize = 8

	payload := make([]byte, 8*16)
	rand.New(rand.NewSource(7)).Read(payload)
	chunks := splitPayload(payload, chunkSize)

	mgr, store := setupManager(t, chunkSize)
	sessionID := uuid.New().String()

	var wg sync.WaitGroup
	errs := make(chan error, len(chunks))
	for i, c := range chunks {
		wg.Add(1)
		go func(i int, data []byte) {
			defer wg.Done()
			_, err := mgr.ReceiveChunk(Chunk{
				SessionID:   sessionID,
				Index:       i,
				TotalChunks: len(chunks),
				TotalSize:   int64(len(payload)),
				Body:        bytes.NewReader(data),
			})
			if err != nil {
				errs <- fmt.Errorf("chunk %d: %w", i, err)
			}
		}(i, c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Concurrent chunk failed: %v", err)
	}

	obj, err := mgr.TryFinalize(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Unexpected finalize error: %v", err)
	}
	if !bytes.Equal(store.objects[obj.ObjectKey], payload) {
		t.Fatal("Concurrent delivery produced wrong bytes")
	}
}
