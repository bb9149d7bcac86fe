package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrLockHeld = errors.New("lock is held by another worker")

const (
	lockPrefix     = "lock:"
	recentScansKey = "scans:recent"
)

// releaseScript deletes the lock only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type Client struct {
	rdb *redis.Client
}

// ScanEvent is one entry of the recent scan feed.
type ScanEvent struct {
	Code      string    `json:"code"`
	Outcome   string    `json:"outcome"`
	OrderID   string    `json:"order_id,omitempty"`
	SKU       string    `json:"sku,omitempty"`
	Token     string    `json:"token,omitempty"`
	Completed bool      `json:"completed"`
	At        time.Time `json:"at"`
}

func Initialize(redisURL string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	// Test connection
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// AcquireLock takes a named lock for at most ttl and returns the function
// that releases it. The lock is polled until ctx is done.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := lockPrefix + name
	token := uuid.NewString()

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
		}
		if ok {
			return func() {
				// release must work even when the caller's context is done
				_ = releaseScript.Run(context.Background(), c.rdb, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockHeld, name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// PushRecentScan prepends event to the recent scan feed, keeping at most
// limit entries.
func (c *Client) PushRecentScan(ctx context.Context, event ScanEvent, limit int) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal scan event: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, recentScansKey, jsonData)
		pipe.LTrim(ctx, recentScansKey, 0, int64(limit-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record scan event: %w", err)
	}
	return nil
}

// RecentScans returns up to limit events, newest first.
func (c *Client) RecentScans(ctx context.Context, limit int) ([]ScanEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	vals, err := c.rdb.LRange(ctx, recentScansKey, 0, int64(limit-1)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get recent scans: %w", err)
	}

	events := make([]ScanEvent, 0, len(vals))
	for _, val := range vals {
		var event ScanEvent
		if err := json.Unmarshal([]byte(val), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Close Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}
