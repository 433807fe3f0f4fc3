package sqlite

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/duchft/blobcached/internal/core/domain"
	"github.com/duchft/blobcached/internal/infra/store"
)

// =============================================================================
// Helpers
// =============================================================================

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func testLimits() store.Limits {
	return store.Limits{
		MaxSizeBytes:  1000,
		MaxEntries:    10,
		TTL:           1 * time.Hour,
		SchemaVersion: 1,
	}
}

func newTestStore(t *testing.T, limits store.Limits) (*Store, *fakeClock) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s, err := New(db, limits)
	if err != nil {
		_ = db.Close()
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	clock := newFakeClock()
	s.now = clock.Now
	return s, clock
}

// assertConsistent checks the accounting invariant: metadata totals must
// equal what the live entries actually add up to.
func assertConsistent(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	snap, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	var sum, count int64
	for _, e := range snap.Entries {
		sum += e.SizeBytes
		count++
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalSizeBytes != sum {
		t.Errorf("accounting drift: metadata says %d bytes, entries sum to %d", stats.TotalSizeBytes, sum)
	}
	if stats.EntryCount != count {
		t.Errorf("accounting drift: metadata says %d entries, found %d", stats.EntryCount, count)
	}
}

func payloadOf(n int) []byte {
	return bytes.Repeat([]byte("x"), n)
}

// =============================================================================
// Basic Operations
// =============================================================================

func TestStore_SetGet(t *testing.T) {
	s, _ := newTestStore(t, testLimits())
	ctx := context.Background()

	meta := domain.EntryMeta{ContentType: "application/json", ContentLength: 4}
	if err := s.Set(ctx, "abc", []byte("data"), meta); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	entry, err := s.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(entry.Payload) != "data" {
		t.Errorf("expected payload data, got %q", entry.Payload)
	}
	if entry.ContentType != "application/json" {
		t.Errorf("expected content type application/json, got %q", entry.ContentType)
	}
	if entry.SizeBytes != 4 {
		t.Errorf("expected 4 size bytes, got %d", entry.SizeBytes)
	}
	if entry.SchemaVersion != 1 {
		t.Errorf("expected schema version 1, got %d", entry.SchemaVersion)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected miss for absent key, got %v", err)
	}
	assertConsistent(t, s)
}

func TestStore_Get_RefreshesRecency(t *testing.T) {
	s, clock := newTestStore(t, testLimits())
	ctx := context.Background()

	if err := s.Set(ctx, "abc", []byte("data"), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	created := clock.Now()

	clock.Advance(10 * time.Minute)
	entry, err := s.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !entry.LastAccessedAt.Equal(clock.Now()) {
		t.Errorf("expected last access %v, got %v", clock.Now(), entry.LastAccessedAt)
	}
	if !entry.CreatedAt.Equal(created) {
		t.Errorf("expected created at %v unchanged, got %v", created, entry.CreatedAt)
	}
}

func TestStore_Set_OverwriteAccounting(t *testing.T) {
	s, _ := newTestStore(t, testLimits())
	ctx := context.Background()

	if err := s.Set(ctx, "abc", payloadOf(100), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "abc", payloadOf(40), domain.EntryMeta{}); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.EntryCount != 1 {
		t.Errorf("expected 1 entry after overwrite, got %d", stats.EntryCount)
	}
	if stats.TotalSizeBytes != 40 {
		t.Errorf("expected 40 bytes after overwrite, got %d", stats.TotalSizeBytes)
	}
	assertConsistent(t, s)
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore(t, testLimits())
	ctx := context.Background()

	if err := s.Set(ctx, "abc", payloadOf(50), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Delete(ctx, "abc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "abc"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected miss after delete, got %v", err)
	}

	// Deleting an absent key is a no-op.
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("expected no-op delete, got %v", err)
	}

	stats, _ := s.Stats(ctx)
	if stats.EntryCount != 0 || stats.TotalSizeBytes != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}
	assertConsistent(t, s)
}

func TestStore_Clear(t *testing.T) {
	s, _ := newTestStore(t, testLimits())
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, key, payloadOf(10), domain.EntryMeta{}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.EntryCount != 0 || stats.TotalSizeBytes != 0 {
		t.Errorf("expected zeroed stats, got %+v", stats)
	}
	if stats.OldestEntry != nil {
		t.Errorf("expected no oldest entry, got %v", stats.OldestEntry)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected miss after clear, got %v", err)
	}
}

// =============================================================================
// Eviction
// =============================================================================

func TestStore_LRUEviction_OldestAccessFirst(t *testing.T) {
	limits := testLimits()
	limits.MaxSizeBytes = 300
	s, clock := newTestStore(t, limits)
	ctx := context.Background()

	// A oldest access, then B, then C.
	for _, key := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, key, payloadOf(100), domain.EntryMeta{}); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
		clock.Advance(time.Minute)
	}

	// D needs 100 bytes; exactly one eviction suffices and it must be A.
	if err := s.Set(ctx, "d", payloadOf(100), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set d failed: %v", err)
	}

	if _, err := s.Get(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Error("expected a to be evicted")
	}
	for _, key := range []string{"b", "c", "d"} {
		if _, err := s.Get(ctx, key); err != nil {
			t.Errorf("expected %s to survive, got %v", key, err)
		}
		clock.Advance(time.Second)
	}
	assertConsistent(t, s)
}

func TestStore_LRUEviction_GetProtects(t *testing.T) {
	limits := testLimits()
	limits.MaxSizeBytes = 300
	s, clock := newTestStore(t, limits)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, key, payloadOf(100), domain.EntryMeta{}); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
		clock.Advance(time.Minute)
	}

	// Touch A: now B holds the oldest access time.
	if _, err := s.Get(ctx, "a"); err != nil {
		t.Fatalf("Get a failed: %v", err)
	}
	clock.Advance(time.Minute)

	if err := s.Set(ctx, "d", payloadOf(100), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set d failed: %v", err)
	}

	if _, err := s.Get(ctx, "b"); !errors.Is(err, store.ErrNotFound) {
		t.Error("expected b to be evicted")
	}
	if _, err := s.Get(ctx, "a"); err != nil {
		t.Errorf("expected a to survive after refresh, got %v", err)
	}
	assertConsistent(t, s)
}

func TestStore_MaxEntriesEviction(t *testing.T) {
	limits := testLimits()
	limits.MaxEntries = 3
	s, clock := newTestStore(t, limits)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d"} {
		if err := s.Set(ctx, key, payloadOf(10), domain.EntryMeta{}); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
		clock.Advance(time.Minute)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.EntryCount != 3 {
		t.Errorf("expected count capped at 3, got %d", stats.EntryCount)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Error("expected a to be evicted")
	}
	assertConsistent(t, s)
}

func TestStore_OversizedItemAcceptedOverQuota(t *testing.T) {
	limits := testLimits()
	limits.MaxSizeBytes = 100
	s, clock := newTestStore(t, limits)
	ctx := context.Background()

	if err := s.Set(ctx, "small", payloadOf(50), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set small failed: %v", err)
	}
	clock.Advance(time.Minute)

	// 500 bytes can never fit; everything else is evicted and the write is
	// still accepted over-quota.
	if err := s.Set(ctx, "huge", payloadOf(500), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set huge failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.EntryCount != 1 {
		t.Errorf("expected only the oversized entry, got %d entries", stats.EntryCount)
	}
	if stats.TotalSizeBytes != 500 {
		t.Errorf("expected 500 bytes, got %d", stats.TotalSizeBytes)
	}
	if _, err := s.Get(ctx, "huge"); err != nil {
		t.Errorf("expected oversized entry to be readable, got %v", err)
	}
	assertConsistent(t, s)
}

// =============================================================================
// Expiry
// =============================================================================

func TestStore_Get_LazyExpiry(t *testing.T) {
	s, clock := newTestStore(t, testLimits())
	ctx := context.Background()

	if err := s.Set(ctx, "abc", payloadOf(10), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	clock.Advance(1*time.Hour + time.Millisecond)
	if _, err := s.Get(ctx, "abc"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}

	// The miss removed the entry, not just hid it.
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.EntryCount != 0 {
		t.Errorf("expected entry removed on expiry, count = %d", stats.EntryCount)
	}
	assertConsistent(t, s)
}

func TestStore_Cleanup(t *testing.T) {
	s, clock := newTestStore(t, testLimits())
	ctx := context.Background()

	if err := s.Set(ctx, "old", payloadOf(30), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set old failed: %v", err)
	}
	clock.Advance(40 * time.Minute)
	if err := s.Set(ctx, "young", payloadOf(20), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set young failed: %v", err)
	}

	// old is now 70 minutes past creation, young 30.
	clock.Advance(30 * time.Minute)
	result, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.RemovedCount != 1 {
		t.Errorf("expected 1 removed, got %d", result.RemovedCount)
	}
	if result.FreedBytes != 30 {
		t.Errorf("expected 30 freed bytes, got %d", result.FreedBytes)
	}

	if _, err := s.Get(ctx, "young"); err != nil {
		t.Errorf("expected young to survive, got %v", err)
	}

	snap, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !snap.Metadata.LastCleanupAt.Equal(clock.Now()) {
		t.Errorf("expected last cleanup %v, got %v", clock.Now(), snap.Metadata.LastCleanupAt)
	}
	assertConsistent(t, s)
}

func TestStore_Cleanup_NothingExpired(t *testing.T) {
	s, clock := newTestStore(t, testLimits())
	ctx := context.Background()

	if err := s.Set(ctx, "abc", payloadOf(10), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	clock.Advance(time.Minute)

	result, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.RemovedCount != 0 || result.FreedBytes != 0 {
		t.Errorf("expected empty sweep, got %+v", result)
	}
	assertConsistent(t, s)
}

// =============================================================================
// Stats
// =============================================================================

func TestStore_Stats_OldestEntry(t *testing.T) {
	s, clock := newTestStore(t, testLimits())
	ctx := context.Background()

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.OldestEntry != nil {
		t.Errorf("expected no oldest entry on empty store, got %v", stats.OldestEntry)
	}

	first := clock.Now()
	if err := s.Set(ctx, "first", payloadOf(10), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	clock.Advance(time.Hour / 2)
	if err := s.Set(ctx, "second", payloadOf(10), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	stats, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.OldestEntry == nil || !stats.OldestEntry.Equal(first) {
		t.Errorf("expected oldest entry %v, got %v", first, stats.OldestEntry)
	}
}

// =============================================================================
// Snapshot
// =============================================================================

func TestStore_ExportImportRoundTrip(t *testing.T) {
	s, clock := newTestStore(t, testLimits())
	ctx := context.Background()

	if err := s.Set(ctx, "a", []byte("alpha"), domain.EntryMeta{ContentType: "text/plain"}); err != nil {
		t.Fatalf("Set a failed: %v", err)
	}
	clock.Advance(time.Minute)
	if err := s.Set(ctx, "b", []byte("beta"), domain.EntryMeta{ContentType: "application/json"}); err != nil {
		t.Fatalf("Set b failed: %v", err)
	}

	snap, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(snap.Entries) != 2 {
		t.Fatalf("expected 2 exported entries, got %d", len(snap.Entries))
	}

	// Wipe and restore into the same store.
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := s.Import(ctx, snap); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	restored, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("Export after import failed: %v", err)
	}
	if len(restored.Entries) != 2 {
		t.Fatalf("expected 2 restored entries, got %d", len(restored.Entries))
	}
	for i, e := range restored.Entries {
		orig := snap.Entries[i]
		if e.Key != orig.Key || !bytes.Equal(e.Payload, orig.Payload) {
			t.Errorf("entry %d mismatch: %q vs %q", i, e.Key, orig.Key)
		}
		if !e.CreatedAt.Equal(orig.CreatedAt) || !e.LastAccessedAt.Equal(orig.LastAccessedAt) {
			t.Errorf("entry %q timestamps not preserved", e.Key)
		}
		if e.SizeBytes != orig.SizeBytes {
			t.Errorf("entry %q size not preserved", e.Key)
		}
	}
	if restored.Metadata.TotalSizeBytes != snap.Metadata.TotalSizeBytes {
		t.Errorf("expected %d total bytes, got %d", snap.Metadata.TotalSizeBytes, restored.Metadata.TotalSizeBytes)
	}
	if restored.Metadata.EntryCount != snap.Metadata.EntryCount {
		t.Errorf("expected %d entries, got %d", snap.Metadata.EntryCount, restored.Metadata.EntryCount)
	}
	assertConsistent(t, s)
}

func TestStore_Import_RestampsSchemaVersion(t *testing.T) {
	s, clock := newTestStore(t, testLimits())
	ctx := context.Background()

	created := clock.Now().Add(-2 * time.Minute)
	snap := &domain.Snapshot{
		SchemaVersion: 99,
		Entries: []*domain.Entry{
			{
				Key:            "legacy",
				Payload:        []byte("old format"),
				CreatedAt:      created,
				LastAccessedAt: created,
				SizeBytes:      10,
				SchemaVersion:  99,
			},
		},
		Metadata: &domain.Metadata{
			TotalSizeBytes: 10,
			EntryCount:     1,
			SchemaVersion:  99,
			LastCleanupAt:  created,
		},
	}

	if err := s.Import(ctx, snap); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	restored, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	// Payloads and timestamps come through untouched; versions do not.
	if restored.Entries[0].SchemaVersion != 1 {
		t.Errorf("expected entry re-stamped to version 1, got %d", restored.Entries[0].SchemaVersion)
	}
	if restored.Metadata.SchemaVersion != 1 {
		t.Errorf("expected metadata re-stamped to version 1, got %d", restored.Metadata.SchemaVersion)
	}
	if !restored.Entries[0].CreatedAt.Equal(created) {
		t.Errorf("expected created at preserved, got %v", restored.Entries[0].CreatedAt)
	}
}

func TestStore_Import_NilMetadataRecomputed(t *testing.T) {
	s, clock := newTestStore(t, testLimits())
	ctx := context.Background()

	now := clock.Now()
	snap := &domain.Snapshot{
		SchemaVersion: 1,
		Entries: []*domain.Entry{
			{Key: "a", Payload: payloadOf(30), CreatedAt: now, LastAccessedAt: now, SizeBytes: 30, SchemaVersion: 1},
			{Key: "b", Payload: payloadOf(20), CreatedAt: now, LastAccessedAt: now, SizeBytes: 20, SchemaVersion: 1},
		},
	}

	if err := s.Import(ctx, snap); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalSizeBytes != 50 || stats.EntryCount != 2 {
		t.Errorf("expected recomputed metadata 50/2, got %+v", stats)
	}
	assertConsistent(t, s)
}

// =============================================================================
// Schema Version
// =============================================================================

func TestStore_VersionMismatchClearsOnOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s, err := New(db, testLimits())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Set(ctx, "abc", payloadOf(10), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen with a bumped schema version: the old contents are discarded.
	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	limits := testLimits()
	limits.SchemaVersion = 2
	s2, err := New(db2, limits)
	if err != nil {
		_ = db2.Close()
		t.Fatalf("New with bumped version failed: %v", err)
	}
	defer s2.Close()

	stats, err := s2.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.EntryCount != 0 {
		t.Errorf("expected cache cleared on version change, got %d entries", stats.EntryCount)
	}
	if stats.SchemaVersion != 2 {
		t.Errorf("expected metadata re-stamped to version 2, got %d", stats.SchemaVersion)
	}
}

func TestStore_ReopenKeepsEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s, err := New(db, testLimits())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Set(ctx, "abc", []byte("durable"), domain.EntryMeta{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	s2, err := New(db2, testLimits())
	if err != nil {
		_ = db2.Close()
		t.Fatalf("New failed: %v", err)
	}
	defer s2.Close()

	entry, err := s2.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(entry.Payload) != "durable" {
		t.Errorf("expected payload to survive reopen, got %q", entry.Payload)
	}
}
