package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/duchft/blobcached/internal/core/domain"
)

// =============================================================================
// Mock Store
// =============================================================================

type brokenStore struct {
	err error
}

func (s *brokenStore) Get(ctx context.Context, key string) (*domain.Entry, error) {
	return nil, s.err
}

func (s *brokenStore) Set(ctx context.Context, key string, payload []byte, meta domain.EntryMeta) error {
	return s.err
}

func (s *brokenStore) Delete(ctx context.Context, key string) error { return s.err }
func (s *brokenStore) Clear(ctx context.Context) error              { return s.err }

func (s *brokenStore) Cleanup(ctx context.Context) (*domain.SweepResult, error) {
	return nil, s.err
}

func (s *brokenStore) Stats(ctx context.Context) (*domain.Stats, error) {
	return nil, s.err
}

func (s *brokenStore) Export(ctx context.Context) (*domain.Snapshot, error) {
	return nil, s.err
}

func (s *brokenStore) Import(ctx context.Context, snap *domain.Snapshot) error {
	return s.err
}

func (s *brokenStore) Close() error { return s.err }

type workingStore struct {
	brokenStore
	entry *domain.Entry
}

func (s *workingStore) Get(ctx context.Context, key string) (*domain.Entry, error) {
	if s.entry == nil || s.entry.Key != key {
		return nil, ErrNotFound
	}
	return s.entry, nil
}

// =============================================================================
// Failsafe Tests
// =============================================================================

func TestFailsafe_DegradesOnFailure(t *testing.T) {
	fs := NewFailsafe(&brokenStore{err: errors.New("disk I/O error")})
	ctx := context.Background()

	if _, err := fs.Get(ctx, "abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected miss, got %v", err)
	}
	if err := fs.Set(ctx, "abc", []byte("data"), domain.EntryMeta{}); err != nil {
		t.Errorf("expected silent no-op set, got %v", err)
	}
	if err := fs.Delete(ctx, "abc"); err != nil {
		t.Errorf("expected silent no-op delete, got %v", err)
	}
	if err := fs.Clear(ctx); err != nil {
		t.Errorf("expected silent no-op clear, got %v", err)
	}

	result, err := fs.Cleanup(ctx)
	if err != nil {
		t.Errorf("expected silent no-op cleanup, got %v", err)
	}
	if result.RemovedCount != 0 || result.FreedBytes != 0 {
		t.Errorf("expected zero sweep result, got %+v", result)
	}

	stats, err := fs.Stats(ctx)
	if err != nil {
		t.Errorf("expected zeroed stats, got error %v", err)
	}
	if stats.TotalSizeBytes != 0 || stats.EntryCount != 0 {
		t.Errorf("expected zeroed stats, got %+v", stats)
	}
}

func TestFailsafe_PassesThroughHits(t *testing.T) {
	entry := &domain.Entry{Key: "abc", Payload: []byte("data"), CreatedAt: time.Now()}
	fs := NewFailsafe(&workingStore{entry: entry})
	ctx := context.Background()

	got, err := fs.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Key != "abc" {
		t.Errorf("expected key abc, got %q", got.Key)
	}

	// A plain miss is not a failure and passes through untouched.
	if _, err := fs.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected miss for absent key, got %v", err)
	}
}

func TestFailsafe_ExportKeepsErrors(t *testing.T) {
	ioErr := errors.New("disk I/O error")
	fs := NewFailsafe(&brokenStore{err: ioErr})

	// Admin operations must not pretend to have worked.
	if _, err := fs.Export(context.Background()); !errors.Is(err, ioErr) {
		t.Errorf("expected export error to propagate, got %v", err)
	}
	if err := fs.Import(context.Background(), &domain.Snapshot{}); !errors.Is(err, ioErr) {
		t.Errorf("expected import error to propagate, got %v", err)
	}
}
