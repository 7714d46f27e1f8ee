package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"crattend/internal/model"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// RosterCache keeps recently served rosters in redis.
type RosterCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRosterCache builds a cache whose entries expire after ttl.
func NewRosterCache(client *redis.Client, ttl time.Duration) *RosterCache {
	return &RosterCache{client: client, prefix: "attendance:roster:", ttl: ttl}
}

// Get returns a cached roster, or nil on a miss.
func (c *RosterCache) Get(ctx context.Context, key string) (*model.Roster, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r model.Roster
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode cached roster: %w", err)
	}
	return &r, nil
}

// Set caches a roster under key.
func (c *RosterCache) Set(ctx context.Context, key string, r model.Roster) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, payload, c.ttl).Err()
}

// Invalidate drops every cached roster.
func (c *RosterCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
