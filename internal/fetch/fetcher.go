package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/duchft/blobcached/internal/core/domain"
	"github.com/duchft/blobcached/internal/infra/origin"
	"github.com/duchft/blobcached/internal/infra/store"
	"github.com/duchft/blobcached/internal/metrics"
	"github.com/duchft/blobcached/internal/retry"
)

// Kind selects how a fetched payload is decoded before caching.
type Kind string

const (
	KindJSON   Kind = "json"
	KindBinary Kind = "binary"
	KindImage  Kind = "image"
)

// ParseKind maps a kind name to its Kind. The empty string selects KindBinary.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", string(KindBinary):
		return KindBinary, nil
	case string(KindJSON):
		return KindJSON, nil
	case string(KindImage):
		return KindImage, nil
	default:
		return "", fmt.Errorf("unknown content kind: %s", s)
	}
}

// Options tunes a single fetch.
type Options struct {
	// Kind defaults to KindBinary.
	Kind Kind

	// SkipCache bypasses the cache read. Fetched content is still written
	// back so the next reader benefits.
	SkipCache bool

	// AttemptTimeout bounds each network attempt. Zero means the origin
	// client's own timeout is the only bound.
	AttemptTimeout time.Duration

	// Progress receives byte-level download progress for binary fetches when
	// the origin announces a content length. Best-effort.
	Progress func(done, total int64)
}

// Result is what a fetch hands back.
type Result struct {
	Data        []byte
	ContentType string
	Cached      bool
}

// Origin is the upstream the fetcher reads through to.
type Origin interface {
	Fetch(ctx context.Context, key string, progress func(done, total int64)) (*origin.Payload, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Fetcher serves content by key: cache first, then the origin with retry,
// writing successful downloads back through the cache. Concurrent fetches of
// the same key and kind share one network call.
type Fetcher struct {
	store  store.Store
	origin Origin
	policy retry.Policy
	group  singleflight.Group
	logger *slog.Logger
}

// New creates a Fetcher over the given store and origin.
func New(st store.Store, org Origin, policy retry.Policy) *Fetcher {
	return &Fetcher{
		store:  st,
		origin: org,
		policy: policy,
		logger: slog.With("component", "fetcher"),
	}
}

// Fetch returns the content for key, from cache when possible. On a miss the
// origin call runs under the retry policy; the decoded payload is written
// back before returning with Cached=false.
func (f *Fetcher) Fetch(ctx context.Context, key string, opts Options) (*Result, error) {
	kind := opts.Kind
	if kind == "" {
		kind = KindBinary
	}

	start := time.Now()
	defer func() {
		metrics.FetchLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}()

	if !opts.SkipCache {
		if entry, err := f.store.Get(ctx, key); err == nil {
			metrics.CacheHits.Inc()
			metrics.FetchesTotal.WithLabelValues(string(kind), "hit").Inc()
			return &Result{
				Data:        entry.Payload,
				ContentType: entry.ContentType,
				Cached:      true,
			}, nil
		}
		metrics.CacheMisses.Inc()
	}

	// One download per key+kind no matter how many callers pile in.
	v, err, _ := f.group.Do(string(kind)+":"+key, func() (any, error) {
		return f.fetchOrigin(ctx, key, kind, opts)
	})
	if err != nil {
		metrics.FetchesTotal.WithLabelValues(string(kind), "error").Inc()
		return nil, err
	}
	metrics.FetchesTotal.WithLabelValues(string(kind), "fetched").Inc()
	return v.(*Result), nil
}

func (f *Fetcher) fetchOrigin(ctx context.Context, key string, kind Kind, opts Options) (*Result, error) {
	var progress func(done, total int64)
	if kind == KindBinary {
		progress = opts.Progress
	}

	payload, err := retry.Do(ctx, "fetch:"+key, f.policy,
		func(ctx context.Context) (*origin.Payload, error) {
			attemptCtx := ctx
			if opts.AttemptTimeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
				defer cancel()
			}
			return f.origin.Fetch(attemptCtx, key, progress)
		})
	if err != nil {
		return nil, err
	}

	data, contentType, err := decode(key, kind, payload)
	if err != nil {
		return nil, err
	}

	contentLength := payload.ContentLength
	if contentLength <= 0 {
		contentLength = int64(len(data))
	}

	// The write may outlive a caller that cancels right after the download
	// finishes; cached payloads are idempotent per key, so let it complete.
	writeCtx := context.WithoutCancel(ctx)
	if err := f.store.Set(writeCtx, key, data, domain.EntryMeta{
		ContentType:   contentType,
		ContentLength: contentLength,
	}); err != nil {
		f.logger.Warn("cache write failed", "key", key, "error", err)
	}

	return &Result{Data: data, ContentType: contentType, Cached: false}, nil
}

// decode re-serializes the downloaded bytes per kind: JSON is validated and
// compacted, images become base64 data-URLs, binary passes through.
func decode(key string, kind Kind, p *origin.Payload) ([]byte, string, error) {
	switch kind {
	case KindJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, p.Data); err != nil {
			return nil, "", domain.NewValidationError("fetch:"+key, "payload is not valid JSON: "+err.Error())
		}
		return buf.Bytes(), "application/json", nil

	case KindImage:
		contentType := p.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
		return []byte(dataURL), contentType, nil

	default:
		return p.Data, p.ContentType, nil
	}
}

// Prefetch warms the cache for key and discards the payload.
func (f *Fetcher) Prefetch(ctx context.Context, key string, kind Kind) error {
	_, err := f.Fetch(ctx, key, Options{Kind: kind})
	return err
}

// Exists reports whether content for key is available, preferring the cache
// over an origin probe.
func (f *Fetcher) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := f.store.Get(ctx, key); err == nil {
		return true, nil
	}
	return f.origin.Exists(ctx, key)
}
