package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the cache-warming pipeline.
type Client struct {
	rdb   *redis.Client
	queue string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Queue    string `yaml:"queue"` // warm queue key
}

// DefaultQueue is the warm queue key used when none is configured.
const DefaultQueue = "blobcached:warm"

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	queue := cfg.Queue
	if queue == "" {
		queue = DefaultQueue
	}

	return &Client{rdb: rdb, queue: queue}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// PopTask pops the oldest warm task from the queue.
func (c *Client) PopTask(ctx context.Context) (task string, found bool, err error) {
	results, err := c.rdb.ZRangeWithScores(ctx, c.queue, 0, 0).Result()
	if err != nil {
		return "", false, fmt.Errorf("zrange failed: %w", err)
	}
	if len(results) == 0 {
		return "", false, nil
	}

	member := results[0].Member.(string)

	// Remove from queue
	if err := c.rdb.ZRem(ctx, c.queue, member).Err(); err != nil {
		return "", false, fmt.Errorf("zrem failed: %w", err)
	}

	return member, true, nil
}

// PushTask adds a warm task to the queue. Re-pushing a task that is already
// queued refreshes its position instead of duplicating it.
func (c *Client) PushTask(ctx context.Context, task string) error {
	score := float64(time.Now().UnixNano())
	if err := c.rdb.ZAdd(ctx, c.queue, redis.Z{Score: score, Member: task}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// GetAllTasks returns all pending warm tasks.
func (c *Client) GetAllTasks(ctx context.Context) ([]string, error) {
	return c.rdb.ZRange(ctx, c.queue, 0, -1).Result()
}

// QueueLength returns the number of pending warm tasks.
func (c *Client) QueueLength(ctx context.Context) (int64, error) {
	return c.rdb.ZCard(ctx, c.queue).Result()
}

// ClearQueue removes all pending warm tasks.
func (c *Client) ClearQueue(ctx context.Context) error {
	return c.rdb.Del(ctx, c.queue).Err()
}

// FormatTask renders a warm task as "kind:key".
func FormatTask(kind, key string) string {
	return kind + ":" + key
}

// ParseTask parses a "kind:key" warm task. A bare key without a kind prefix
// warms as binary content.
func ParseTask(task string) (kind, key string, err error) {
	kind, key, ok := strings.Cut(task, ":")
	if !ok {
		return "binary", task, nil
	}

	switch kind {
	case "json", "binary", "image":
		return kind, key, nil
	default:
		return "", "", fmt.Errorf("invalid task kind: %s", kind)
	}
}
