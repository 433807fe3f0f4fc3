package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/duchft/blobcached/internal/core/domain"
	"github.com/duchft/blobcached/internal/infra/store"
	"github.com/duchft/blobcached/internal/metrics"
)

// Store implements store.Store in memory. The LRU core keeps recency order;
// byte totals and the metadata aggregate are tracked alongside under one
// mutex so compound operations stay atomic. Useful for tests and for
// deployments that do not want a cache file.
type Store struct {
	mu          sync.Mutex
	lru         *lru.Cache[string, *domain.Entry]
	limits      store.Limits
	totalSize   int64
	lastCleanup time.Time
	now         func() time.Time
}

// New creates an empty in-memory store.
func New(limits store.Limits) (*Store, error) {
	capacity := int(limits.MaxEntries)
	if capacity <= 0 {
		capacity = int(store.DefaultLimits.MaxEntries)
	}
	cache, err := lru.New[string, *domain.Entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Store{
		lru:    cache,
		limits: limits,
		now:    time.Now,
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (*domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lru.Get(key)
	if !ok {
		return nil, store.ErrNotFound
	}

	now := s.now().UTC()
	if entry.Expired(now, s.limits.TTL) {
		s.lru.Remove(key)
		s.totalSize -= entry.SizeBytes
		metrics.CacheEvictions.WithLabelValues("ttl").Inc()
		s.publishGauges()
		return nil, store.ErrNotFound
	}

	entry.LastAccessedAt = now
	copied := *entry
	return &copied, nil
}

func (s *Store) Set(ctx context.Context, key string, payload []byte, meta domain.EntryMeta) error {
	size := int64(len(payload))
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureSpace(size)

	if old, ok := s.lru.Peek(key); ok {
		s.totalSize -= old.SizeBytes
	}
	s.lru.Add(key, &domain.Entry{
		Key:            key,
		Payload:        payload,
		ContentType:    meta.ContentType,
		ContentLength:  meta.ContentLength,
		CreatedAt:      now,
		LastAccessedAt: now,
		SizeBytes:      size,
		SchemaVersion:  s.limits.SchemaVersion,
	})
	s.totalSize += size
	s.publishGauges()
	return nil
}

// ensureSpace evicts in the LRU core's own recency order, which matches
// last-accessed order because Get and Add both promote. Caller holds the lock.
func (s *Store) ensureSpace(required int64) {
	for s.totalSize+required > s.limits.MaxSizeBytes || int64(s.lru.Len()) >= s.limits.MaxEntries {
		_, victim, ok := s.lru.RemoveOldest()
		if !ok {
			break
		}
		s.totalSize -= victim.SizeBytes
		metrics.CacheEvictions.WithLabelValues("lru").Inc()
	}
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.lru.Peek(key); ok {
		s.lru.Remove(key)
		s.totalSize -= entry.SizeBytes
		metrics.CacheEvictions.WithLabelValues("explicit").Inc()
		s.publishGauges()
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Purge()
	s.totalSize = 0
	s.lastCleanup = s.now().UTC()
	s.publishGauges()
	return nil
}

func (s *Store) Cleanup(ctx context.Context) (*domain.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	result := &domain.SweepResult{}
	for _, key := range s.lru.Keys() {
		entry, ok := s.lru.Peek(key)
		if !ok || !entry.Expired(now, s.limits.TTL) {
			continue
		}
		s.lru.Remove(key)
		s.totalSize -= entry.SizeBytes
		result.RemovedCount++
		result.FreedBytes += entry.SizeBytes
	}
	s.lastCleanup = now

	if result.RemovedCount > 0 {
		metrics.CacheEvictions.WithLabelValues("ttl").Add(float64(result.RemovedCount))
	}
	s.publishGauges()
	return result, nil
}

func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.Stats{
		TotalSizeBytes: s.totalSize,
		EntryCount:     int64(s.lru.Len()),
		SchemaVersion:  s.limits.SchemaVersion,
	}
	var oldest time.Time
	for _, key := range s.lru.Keys() {
		if entry, ok := s.lru.Peek(key); ok {
			if oldest.IsZero() || entry.CreatedAt.Before(oldest) {
				oldest = entry.CreatedAt
			}
		}
	}
	if !oldest.IsZero() {
		stats.OldestEntry = &oldest
	}
	return stats, nil
}

func (s *Store) Export(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*domain.Entry, 0, s.lru.Len())
	for _, key := range s.lru.Keys() {
		if entry, ok := s.lru.Peek(key); ok {
			copied := *entry
			entries = append(entries, &copied)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	return &domain.Snapshot{
		SchemaVersion: s.limits.SchemaVersion,
		Entries:       entries,
		Metadata: &domain.Metadata{
			TotalSizeBytes: s.totalSize,
			EntryCount:     int64(s.lru.Len()),
			SchemaVersion:  s.limits.SchemaVersion,
			LastCleanupAt:  s.lastCleanup,
		},
	}, nil
}

func (s *Store) Import(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Purge()
	s.totalSize = 0

	// Oldest access first so the LRU core rebuilds the same eviction order.
	entries := make([]*domain.Entry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if e != nil {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessedAt.Before(entries[j].LastAccessedAt)
	})

	// The LRU core cannot hold more than its capacity; keep the most
	// recently used tail so Add never silently evicts behind our accounting.
	if capacity := int(s.limits.MaxEntries); capacity > 0 && len(entries) > capacity {
		entries = entries[len(entries)-capacity:]
	}

	for _, e := range entries {
		copied := *e
		copied.SchemaVersion = s.limits.SchemaVersion
		s.lru.Add(e.Key, &copied)
		s.totalSize += e.SizeBytes
	}
	if snap.Metadata != nil {
		s.lastCleanup = snap.Metadata.LastCleanupAt
	}
	s.publishGauges()
	return nil
}

func (s *Store) Close() error {
	return nil
}

// publishGauges mirrors the aggregate into prometheus. Caller holds the lock.
func (s *Store) publishGauges() {
	metrics.CacheSizeBytes.Set(float64(s.totalSize))
	metrics.CacheEntries.Set(float64(s.lru.Len()))
}
