package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/duchft/blobcached/internal/core/domain"
	"github.com/duchft/blobcached/internal/metrics"
)

// Payload is one downloaded content item plus the descriptive headers the
// origin sent along.
type Payload struct {
	Data          []byte
	ContentType   string
	ContentLength int64
}

// Config holds origin connection configuration.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	HeadCacheTTL   time.Duration
}

// Client fetches content blobs from the origin over HTTP. Errors other than
// a missing key keep "fetch" in their message so the retry classifier treats
// them as transient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headMemo   *gocache.Cache
}

// NewClient creates an origin client. RequestTimeout bounds each individual
// request; HeadCacheTTL bounds how long existence verdicts are memoized.
func NewClient(cfg Config) *Client {
	headTTL := cfg.HeadCacheTTL
	if headTTL <= 0 {
		headTTL = 1 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		headMemo: gocache.New(headTTL, 5*headTTL),
	}
}

func (c *Client) contentURL(key string) string {
	return c.baseURL + "/" + url.PathEscape(key)
}

// Fetch downloads the content for key. When progress is non-nil and the
// origin announced a content length, it is invoked with byte-level progress
// as the body streams in; without a content length the download still works
// but progress reporting is skipped.
func (c *Client) Fetch(ctx context.Context, key string, progress func(done, total int64)) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: create request: %w", key, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.NewNotFoundError(key)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("fetch %s: rate limited (429), retry after: %s",
			key, resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", key, resp.StatusCode)
	}

	var data []byte
	if progress != nil && resp.ContentLength > 0 {
		data, err = readWithProgress(resp.Body, resp.ContentLength, progress)
	} else {
		data, err = io.ReadAll(resp.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", key, err)
	}

	metrics.OriginBytesRead.Add(float64(len(data)))
	return &Payload{
		Data:          data,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}

// Exists checks whether the origin has content for key without downloading
// it. Verdicts are memoized briefly to keep repeated existence probes off the
// wire.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if v, ok := c.headMemo.Get(key); ok {
		return v.(bool), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.contentURL(key), nil)
	if err != nil {
		return false, fmt.Errorf("fetch %s: create request: %w", key, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.headMemo.Set(key, false, gocache.DefaultExpiration)
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		c.headMemo.Set(key, true, gocache.DefaultExpiration)
		return true, nil
	default:
		return false, fmt.Errorf("fetch %s: unexpected status %d", key, resp.StatusCode)
	}
}

// Close cleans up idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func readWithProgress(r io.Reader, total int64, progress func(done, total int64)) ([]byte, error) {
	data := make([]byte, 0, total)
	chunk := make([]byte, 32*1024)
	var done int64

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			data = append(data, chunk[:n]...)
			done += int64(n)
			progress(done, total)
		}
		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
