package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr        string
	Password    string
	SnapshotTTL time.Duration
}

// Client is a read-through cache for trip seat snapshots. It is purely a
// projection of the lock table: every seat event for a trip invalidates the
// trip's cached snapshots, and a short TTL bounds staleness even if an
// invalidation is lost.
type Client struct {
	client      *redis.Client
	snapshotTTL time.Duration

	// Per-trip invalidation generation. A snapshot built from table state
	// read before an invalidation must not be written after it; callers
	// capture the generation before reading and pass it to SetSnapshot.
	mu   sync.Mutex
	gens map[int64]uint64
}

func NewClient(cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           0,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		client:      rdb,
		snapshotTTL: cfg.SnapshotTTL,
		gens:        make(map[int64]uint64),
	}, nil
}

// Generation returns the trip's current invalidation generation.
func (c *Client) Generation(tripID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[tripID]
}

func (c *Client) bump(tripID int64) {
	c.mu.Lock()
	c.gens[tripID]++
	c.mu.Unlock()
}

func snapshotKey(tripID int64, from, to int) string {
	return fmt.Sprintf("snapshot:%d:%d:%d", tripID, from, to)
}

func tripKeysPattern(tripID int64) string {
	return fmt.Sprintf("snapshot:%d:*", tripID)
}

// GetSnapshotRaw returns the cached snapshot JSON for a trip segment, or an
// error on miss.
func (c *Client) GetSnapshotRaw(ctx context.Context, tripID int64, from, to int) ([]byte, error) {
	data, err := c.client.Get(ctx, snapshotKey(tripID, from, to)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("snapshot not in cache")
		}
		return nil, fmt.Errorf("cache lookup error: %w", err)
	}
	return data, nil
}

// SetSnapshot stores a snapshot under a short TTL. gen is the trip's
// generation captured before the snapshot was built; if an invalidation ran
// since, the write is skipped so a stale projection never lands after its
// own eviction. Failures are returned for logging only; the caller has the
// data already.
func (c *Client) SetSnapshot(ctx context.Context, tripID int64, from, to int, gen uint64, snapshot interface{}) error {
	if c.Generation(tripID) != gen {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKey(tripID, from, to), data, c.snapshotTTL).Err()
}

// InvalidateTrip drops every cached snapshot for a trip. Called for each
// published seat event. The generation bump comes first: a concurrent
// snapshot write either sees the new generation and skips, or wrote before
// the DEL below and gets evicted by it.
func (c *Client) InvalidateTrip(ctx context.Context, tripID int64) error {
	c.bump(tripID)
	iter := c.client.Scan(ctx, 0, tripKeysPattern(tripID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Client) Close() error {
	return c.client.Close()
}
