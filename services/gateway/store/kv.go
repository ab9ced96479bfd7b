// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Key Namespaces
// =============================================================================

// Redis key prefixes. Everything the gateway keeps in the KV store is
// ephemeral and TTL-bound; losing the store degrades admission to its
// fail-open paths but never loses durable data.
const (
	KeySession    = "sess:"        // sess:<hmac>         -> session blob JSON
	KeyIPMinute   = "rl_ip:"       // rl_ip:<ip>          -> per-minute counter
	KeyAnonQuota  = "rl_anon:"     // rl_anon:<ip>        -> anonymous day counter
	KeyTierPrefix = "rl_user_"     // rl_user_<tier>:<id> -> per-user day counter
	KeyAnonTokens = "rl_anon_tok:" // rl_anon_tok:<ip>    -> anonymous token estimate counter
)

// =============================================================================
// KV
// =============================================================================

// KV wraps the Redis client with the small verb set the gateway needs:
// TTL'd counters, session blobs, and at-most-once flags.
type KV struct {
	client *redis.Client
}

// OpenKV connects to Redis from a redis:// DSN and pings it.
func OpenKV(ctx context.Context, dsn string) (*KV, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing Redis DSN: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging Redis: %w", err)
	}
	slog.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)
	return &KV{client: client}, nil
}

// NewKV wraps an existing client. Tests use this with miniature fakes.
func NewKV(client *redis.Client) *KV {
	return &KV{client: client}
}

// Close releases the client.
func (kv *KV) Close() error {
	return kv.client.Close()
}

// Ping reports liveness for the health endpoint.
func (kv *KV) Ping(ctx context.Context) error {
	return kv.client.Ping(ctx).Err()
}

// =============================================================================
// Counters
// =============================================================================

// IncrWithTTL increments the counter and arms its TTL only when the key has
// none, so a window's expiry never slides under sustained traffic.
func (kv *KV) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := kv.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrementing counter %s: %w", key, err)
	}
	return incr.Val(), nil
}

// IncrByWithTTL is IncrWithTTL with an arbitrary delta, for token counters.
func (kv *KV) IncrByWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := kv.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrementing counter %s: %w", key, err)
	}
	return incr.Val(), nil
}

// CounterValue reads a counter; a missing key is zero.
func (kv *KV) CounterValue(ctx context.Context, key string) (int64, error) {
	n, err := kv.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading counter %s: %w", key, err)
	}
	return n, nil
}

// SecondsToExpiry returns the key's remaining TTL in whole seconds, rounded
// up, for Retry-After headers. Keys without a TTL report zero.
func (kv *KV) SecondsToExpiry(ctx context.Context, key string) (int, error) {
	ttl, err := kv.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("reading TTL for %s: %w", key, err)
	}
	if ttl <= 0 {
		return 0, nil
	}
	return int((ttl + time.Second - 1) / time.Second), nil
}

// =============================================================================
// Session Blobs
// =============================================================================

// PutSession stores the JSON-encoded blob under the key with the given TTL.
func (kv *KV) PutSession(ctx context.Context, key string, blob any, ttl time.Duration) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encoding session blob: %w", err)
	}
	if err := kv.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// GetSession loads the blob into dest and refreshes the rolling TTL. The
// boolean reports whether the session exists.
func (kv *KV) GetSession(ctx context.Context, key string, dest any, ttl time.Duration) (bool, error) {
	data, err := kv.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading session: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decoding session blob: %w", err)
	}
	if err := kv.client.Expire(ctx, key, ttl).Err(); err != nil {
		slog.Warn("session TTL refresh failed", "error", err)
	}
	return true, nil
}

// DeleteSession destroys the session. Deleting a missing key is not an error.
func (kv *KV) DeleteSession(ctx context.Context, key string) error {
	if err := kv.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// =============================================================================
// Flags
// =============================================================================

// SetAlertFlag sets the key if absent (SET NX EX) and reports whether this
// call won the race. Implements the cost engine's FlagStore.
func (kv *KV) SetAlertFlag(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	won, err := kv.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setting alert flag %s: %w", key, err)
	}
	return won, nil
}
