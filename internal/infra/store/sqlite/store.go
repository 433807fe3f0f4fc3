package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/duchft/blobcached/internal/core/domain"
	"github.com/duchft/blobcached/internal/infra/store"
	"github.com/duchft/blobcached/internal/metrics"
)

// Store implements store.Store on SQLite. Every mutation runs entry writes
// and the metadata delta in one transaction, so the aggregate can never drift
// from the live entry set.
type Store struct {
	db     *sqlx.DB
	limits store.Limits
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store over an opened database, seeding the metadata singleton
// if absent. A stored schema version different from the configured one clears
// the cache and re-stamps the metadata.
func New(db *sqlx.DB, limits store.Limits) (*Store, error) {
	s := &Store{
		db:     db,
		limits: limits,
		logger: slog.With("component", "store"),
		now:    time.Now,
	}
	if err := s.initMetadata(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

type entryRow struct {
	Key            string `db:"key"`
	Payload        []byte `db:"payload"`
	ContentType    string `db:"content_type"`
	ContentLength  int64  `db:"content_length"`
	CreatedAt      int64  `db:"created_at"`
	LastAccessedAt int64  `db:"last_accessed_at"`
	SizeBytes      int64  `db:"size_bytes"`
	SchemaVersion  int    `db:"schema_version"`
}

func (r *entryRow) toDomain() *domain.Entry {
	return &domain.Entry{
		Key:            r.Key,
		Payload:        r.Payload,
		ContentType:    r.ContentType,
		ContentLength:  r.ContentLength,
		CreatedAt:      time.UnixMilli(r.CreatedAt).UTC(),
		LastAccessedAt: time.UnixMilli(r.LastAccessedAt).UTC(),
		SizeBytes:      r.SizeBytes,
		SchemaVersion:  r.SchemaVersion,
	}
}

type metadataRow struct {
	TotalSizeBytes int64 `db:"total_size_bytes"`
	EntryCount     int64 `db:"entry_count"`
	SchemaVersion  int   `db:"schema_version"`
	LastCleanupAt  int64 `db:"last_cleanup_at"`
}

const selectEntry = `
SELECT key, payload, content_type, content_length, created_at, last_accessed_at, size_bytes, schema_version
FROM entries WHERE key = ?`

// withTx runs fn inside a transaction, committing when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}

func (s *Store) initMetadata(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO metadata (id, total_size_bytes, entry_count, schema_version, last_cleanup_at)
VALUES (1, 0, 0, ?, 0)
ON CONFLICT (id) DO NOTHING`, s.limits.SchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to seed metadata: %w", err)
	}

	var stored int
	if err := s.db.GetContext(ctx, &stored, `SELECT schema_version FROM metadata WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if stored != s.limits.SchemaVersion {
		s.logger.Warn("schema version changed, clearing cache",
			"stored", stored,
			"configured", s.limits.SchemaVersion)
		if err := s.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear cache on version change: %w", err)
		}
	}
	return nil
}

// Get returns a live entry, refreshing its recency. An entry past the TTL is
// deleted on the way out and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) (*domain.Entry, error) {
	var result *domain.Entry
	expired := false

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row entryRow
		err := tx.GetContext(ctx, &row, selectEntry, key)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load entry: %w", err)
		}

		entry := row.toDomain()
		now := s.now().UTC()
		if entry.Expired(now, s.limits.TTL) {
			// Returning nil lets the expiry delete commit; the miss is
			// reported after the transaction.
			expired = true
			return s.removeInTx(ctx, tx, key, row.SizeBytes)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE entries SET last_accessed_at = ? WHERE key = ?`,
			now.UnixMilli(), key); err != nil {
			return fmt.Errorf("failed to refresh recency: %w", err)
		}
		entry.LastAccessedAt = now
		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		metrics.CacheEvictions.WithLabelValues("ttl").Inc()
		s.publishGauges(ctx)
		return nil, store.ErrNotFound
	}
	return result, nil
}

// Set writes an entry, evicting least-recently-used entries first when the
// write would exceed the size or count bound. Eviction, entry write and
// metadata delta commit as one unit.
func (s *Store) Set(ctx context.Context, key string, payload []byte, meta domain.EntryMeta) error {
	size := int64(len(payload))
	nowMs := s.now().UTC().UnixMilli()

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.ensureSpaceInTx(ctx, tx, size); err != nil {
			return err
		}

		var oldSize int64
		err := tx.GetContext(ctx, &oldSize, `SELECT size_bytes FROM entries WHERE key = ?`, key)
		switch {
		case err == nil:
			// Overwrite: swap the old size for the new one, count unchanged.
			if _, err := tx.ExecContext(ctx, `
UPDATE entries
SET payload = ?, content_type = ?, content_length = ?, created_at = ?, last_accessed_at = ?, size_bytes = ?, schema_version = ?
WHERE key = ?`,
				payload, meta.ContentType, meta.ContentLength, nowMs, nowMs, size, s.limits.SchemaVersion, key); err != nil {
				return fmt.Errorf("failed to overwrite entry: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE metadata SET total_size_bytes = total_size_bytes - ? + ? WHERE id = 1`,
				oldSize, size); err != nil {
				return fmt.Errorf("failed to update metadata: %w", err)
			}
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
INSERT INTO entries (key, payload, content_type, content_length, created_at, last_accessed_at, size_bytes, schema_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				key, payload, meta.ContentType, meta.ContentLength, nowMs, nowMs, size, s.limits.SchemaVersion); err != nil {
				return fmt.Errorf("failed to insert entry: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE metadata SET total_size_bytes = total_size_bytes + ?, entry_count = entry_count + 1 WHERE id = 1`,
				size); err != nil {
				return fmt.Errorf("failed to update metadata: %w", err)
			}
		default:
			return fmt.Errorf("failed to check existing entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publishGauges(ctx)
	return nil
}

// ensureSpaceInTx evicts entries in last-accessed order until the new payload
// fits both bounds or nothing is left to evict. A single item larger than the
// size bound is accepted over-quota rather than rejected.
func (s *Store) ensureSpaceInTx(ctx context.Context, tx *sqlx.Tx, required int64) error {
	var m metadataRow
	if err := tx.GetContext(ctx, &m,
		`SELECT total_size_bytes, entry_count, schema_version, last_cleanup_at FROM metadata WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	totalSize := m.TotalSizeBytes
	count := m.EntryCount
	evicted := int64(0)

	for totalSize+required > s.limits.MaxSizeBytes || count >= s.limits.MaxEntries {
		var victim struct {
			Key       string `db:"key"`
			SizeBytes int64  `db:"size_bytes"`
		}
		err := tx.GetContext(ctx, &victim,
			`SELECT key, size_bytes FROM entries ORDER BY last_accessed_at ASC, key ASC LIMIT 1`)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to pick eviction victim: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, victim.Key); err != nil {
			return fmt.Errorf("failed to evict entry: %w", err)
		}
		totalSize -= victim.SizeBytes
		count--
		evicted++
		s.logger.Debug("evicted entry", "key", victim.Key, "size_bytes", victim.SizeBytes)
	}

	if evicted > 0 {
		metrics.CacheEvictions.WithLabelValues("lru").Add(float64(evicted))
		if _, err := tx.ExecContext(ctx,
			`UPDATE metadata SET total_size_bytes = ?, entry_count = ? WHERE id = 1`,
			totalSize, count); err != nil {
			return fmt.Errorf("failed to update metadata: %w", err)
		}
	}
	return nil
}

func (s *Store) removeInTx(ctx context.Context, tx *sqlx.Tx, key string, size int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE metadata SET total_size_bytes = total_size_bytes - ?, entry_count = entry_count - 1 WHERE id = 1`,
		size); err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return nil
}

// Delete removes an entry. No-op if absent.
func (s *Store) Delete(ctx context.Context, key string) error {
	removed := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var size int64
		err := tx.GetContext(ctx, &size, `SELECT size_bytes FROM entries WHERE key = ?`, key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load entry: %w", err)
		}
		removed = true
		return s.removeInTx(ctx, tx, key, size)
	})
	if err != nil {
		return err
	}
	if removed {
		metrics.CacheEvictions.WithLabelValues("explicit").Inc()
		s.publishGauges(ctx)
	}
	return nil
}

// Clear removes all entries and resets the metadata aggregate, stamping it
// with the configured schema version.
func (s *Store) Clear(ctx context.Context) error {
	nowMs := s.now().UTC().UnixMilli()
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
			return fmt.Errorf("failed to clear entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE metadata
SET total_size_bytes = 0, entry_count = 0, schema_version = ?, last_cleanup_at = ?
WHERE id = 1`,
			s.limits.SchemaVersion, nowMs); err != nil {
			return fmt.Errorf("failed to reset metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publishGauges(ctx)
	return nil
}

// Cleanup deletes every entry older than the TTL and refreshes the
// metadata's last-cleanup timestamp.
func (s *Store) Cleanup(ctx context.Context) (*domain.SweepResult, error) {
	now := s.now().UTC()
	cutoffMs := now.Add(-s.limits.TTL).UnixMilli()

	result := &domain.SweepResult{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var agg struct {
			Count int64 `db:"count"`
			Bytes int64 `db:"bytes"`
		}
		if err := tx.GetContext(ctx, &agg, `
SELECT COUNT(*) AS count, COALESCE(SUM(size_bytes), 0) AS bytes
FROM entries WHERE created_at < ?`, cutoffMs); err != nil {
			return fmt.Errorf("failed to measure expired entries: %w", err)
		}

		if agg.Count > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE created_at < ?`, cutoffMs); err != nil {
				return fmt.Errorf("failed to delete expired entries: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE metadata
SET total_size_bytes = total_size_bytes - ?, entry_count = entry_count - ?, last_cleanup_at = ?
WHERE id = 1`,
			agg.Bytes, agg.Count, now.UnixMilli()); err != nil {
			return fmt.Errorf("failed to update metadata: %w", err)
		}

		result.RemovedCount = agg.Count
		result.FreedBytes = agg.Bytes
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.RemovedCount > 0 {
		metrics.CacheEvictions.WithLabelValues("ttl").Add(float64(result.RemovedCount))
	}
	s.publishGauges(ctx)
	return result, nil
}

// Stats reports the aggregate state without mutating anything.
func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	stats := &domain.Stats{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var m metadataRow
		if err := tx.GetContext(ctx, &m,
			`SELECT total_size_bytes, entry_count, schema_version, last_cleanup_at FROM metadata WHERE id = 1`); err != nil {
			return fmt.Errorf("failed to load metadata: %w", err)
		}

		var oldest sql.NullInt64
		if err := tx.GetContext(ctx, &oldest, `SELECT MIN(created_at) FROM entries`); err != nil {
			return fmt.Errorf("failed to find oldest entry: %w", err)
		}

		stats.TotalSizeBytes = m.TotalSizeBytes
		stats.EntryCount = m.EntryCount
		stats.SchemaVersion = m.SchemaVersion
		if oldest.Valid {
			t := time.UnixMilli(oldest.Int64).UTC()
			stats.OldestEntry = &t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Export dumps the full live state for backup or migration.
func (s *Store) Export(ctx context.Context) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var rows []entryRow
		if err := tx.SelectContext(ctx, &rows, `
SELECT key, payload, content_type, content_length, created_at, last_accessed_at, size_bytes, schema_version
FROM entries ORDER BY created_at ASC, key ASC`); err != nil {
			return fmt.Errorf("failed to dump entries: %w", err)
		}

		var m metadataRow
		if err := tx.GetContext(ctx, &m,
			`SELECT total_size_bytes, entry_count, schema_version, last_cleanup_at FROM metadata WHERE id = 1`); err != nil {
			return fmt.Errorf("failed to load metadata: %w", err)
		}

		entries := make([]*domain.Entry, len(rows))
		for i := range rows {
			entries[i] = rows[i].toDomain()
		}
		snap.SchemaVersion = m.SchemaVersion
		snap.Entries = entries
		snap.Metadata = &domain.Metadata{
			TotalSizeBytes: m.TotalSizeBytes,
			EntryCount:     m.EntryCount,
			SchemaVersion:  m.SchemaVersion,
			LastCleanupAt:  time.UnixMilli(m.LastCleanupAt).UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Import destructively replaces the store contents with the snapshot. Every
// entry keeps its timestamps and size but is re-stamped with the store's
// current schema version; payloads are not transformed. Nil snapshot metadata
// is recomputed from the entries.
func (s *Store) Import(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
			return fmt.Errorf("failed to clear entries: %w", err)
		}

		var totalSize, count int64
		for _, e := range snap.Entries {
			if e == nil {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO entries (key, payload, content_type, content_length, created_at, last_accessed_at, size_bytes, schema_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				e.Key, e.Payload, e.ContentType, e.ContentLength,
				e.CreatedAt.UnixMilli(), e.LastAccessedAt.UnixMilli(),
				e.SizeBytes, s.limits.SchemaVersion); err != nil {
				return fmt.Errorf("failed to import entry %q: %w", e.Key, err)
			}
			totalSize += e.SizeBytes
			count++
		}

		meta := snap.Metadata
		if meta == nil {
			meta = &domain.Metadata{TotalSizeBytes: totalSize, EntryCount: count}
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE metadata
SET total_size_bytes = ?, entry_count = ?, schema_version = ?, last_cleanup_at = ?
WHERE id = 1`,
			meta.TotalSizeBytes, meta.EntryCount, s.limits.SchemaVersion,
			meta.LastCleanupAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to import metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publishGauges(ctx)
	return nil
}

// Close releases the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}

// publishGauges mirrors the metadata aggregate into prometheus, best-effort.
func (s *Store) publishGauges(ctx context.Context) {
	var m metadataRow
	if err := s.db.GetContext(ctx, &m,
		`SELECT total_size_bytes, entry_count, schema_version, last_cleanup_at FROM metadata WHERE id = 1`); err != nil {
		return
	}
	metrics.CacheSizeBytes.Set(float64(m.TotalSizeBytes))
	metrics.CacheEntries.Set(float64(m.EntryCount))
}
