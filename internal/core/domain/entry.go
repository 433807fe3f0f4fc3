package domain

import "time"

// Entry is one stored content item. Key is an opaque content id (typically a
// hash-like blob id) and is unique per store. SizeBytes is the authoritative
// size for quota accounting, computed from the payload at write time;
// ContentType/ContentLength are descriptive only.
type Entry struct {
	Key            string    `json:"key"`
	Payload        []byte    `json:"payload"`
	ContentType    string    `json:"content_type,omitempty"`
	ContentLength  int64     `json:"content_length,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	SizeBytes      int64     `json:"size_bytes"`
	SchemaVersion  int       `json:"schema_version"`
}

// Expired reports whether the entry's age exceeds ttl at the given instant.
func (e *Entry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CreatedAt) > ttl
}

// Metadata is the singleton aggregate record of a store. TotalSizeBytes and
// EntryCount must always equal the sum/count over the live entry set; every
// entry mutation updates this record in the same transaction.
type Metadata struct {
	TotalSizeBytes int64     `json:"total_size_bytes"`
	EntryCount     int64     `json:"entry_count"`
	SchemaVersion  int       `json:"schema_version"`
	LastCleanupAt  time.Time `json:"last_cleanup_at"`
}

// EntryMeta carries the descriptive fields a caller may attach on Set.
type EntryMeta struct {
	ContentType   string
	ContentLength int64
}

// Stats is the read-only view returned by Store.Stats.
type Stats struct {
	TotalSizeBytes int64      `json:"total_size_bytes"`
	EntryCount     int64      `json:"entry_count"`
	OldestEntry    *time.Time `json:"oldest_entry,omitempty"`
	SchemaVersion  int        `json:"schema_version"`
}

// SweepResult reports what a Cleanup pass removed.
type SweepResult struct {
	RemovedCount int64 `json:"removed_count"`
	FreedBytes   int64 `json:"freed_bytes"`
}

// Snapshot is the export/import format: a full dump of the live state,
// suitable for backup or migration between store instances.
type Snapshot struct {
	SchemaVersion int       `json:"schema_version"`
	Entries       []*Entry  `json:"entries"`
	Metadata      *Metadata `json:"metadata"`
}
