// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the two persistence adapters the gateway composes:
// a Postgres row store (users, conversations, turns, day buckets) and a
// Redis KV store (sessions, rate counters, alert flags).
//
// Writes that must be atomic across rows (turn insert plus conversation
// totals, global bucket plus unique-user accounting) run inside single
// transactions here; nothing above this package opens a transaction.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// =============================================================================
// DB
// =============================================================================

// DB wraps the pgx connection pool and implements every row-store interface
// consumed by the session, cost, chat, and handler packages.
type DB struct {
	pool *pgxpool.Pool
}

// PoolConfig bounds the shared connection pool.
type PoolConfig struct {
	MinConns int32
	MaxConns int32
}

// Open connects, pings, and returns the row store.
func Open(ctx context.Context, dsn string, cfg PoolConfig) (*DB, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	slog.Info("Connected to Postgres", "min_conns", pcfg.MinConns, "max_conns", pcfg.MaxConns)
	return &DB{pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Ping reports liveness for the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// =============================================================================
// Schema
// =============================================================================

// schema is the embedded DDL. Dev and test environments boot from it
// directly; production deployments run the same statements through their
// migration tooling.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id              UUID PRIMARY KEY,
    email           TEXT NOT NULL,
    password_hash   TEXT NOT NULL,
    tier            TEXT NOT NULL DEFAULT 'free',
    email_verified  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at      TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_live
    ON users (email) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS conversations (
    id               UUID PRIMARY KEY,
    user_id          UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title            TEXT,
    total_tokens     BIGINT NOT NULL DEFAULT 0,
    summary_context  TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_message_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at       TIMESTAMPTZ,
    archived_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS conversations_active
    ON conversations (user_id, last_message_at DESC)
    WHERE deleted_at IS NULL AND archived_at IS NULL;

CREATE TABLE IF NOT EXISTS chat_turns (
    id                      UUID PRIMARY KEY,
    user_id                 UUID REFERENCES users(id) ON DELETE SET NULL,
    session_id              TEXT,
    conversation_id         UUID REFERENCES conversations(id) ON DELETE SET NULL,
    user_message            TEXT NOT NULL,
    assistant_response      TEXT,
    message_length          INTEGER NOT NULL,
    response_length         INTEGER,
    input_tokens            INTEGER,
    output_tokens           INTEGER,
    tokens_used             INTEGER,
    actual_cost_millicents  BIGINT,
    tools_used              TEXT[],
    success                 BOOLEAN NOT NULL,
    error_message           TEXT,
    duration_ms             BIGINT NOT NULL,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS chat_turns_by_conversation
    ON chat_turns (conversation_id, created_at);
CREATE INDEX IF NOT EXISTS chat_turns_by_user_day
    ON chat_turns (user_id, created_at);

CREATE TABLE IF NOT EXISTS user_daily_usage (
    user_id            UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    usage_date         DATE NOT NULL,
    total_tokens_used  BIGINT NOT NULL DEFAULT 0,
    request_count      INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, usage_date)
);

CREATE TABLE IF NOT EXISTS global_daily_cost (
    usage_date            DATE PRIMARY KEY,
    total_cost_millicents BIGINT NOT NULL DEFAULT 0,
    total_requests        BIGINT NOT NULL DEFAULT 0,
    total_tokens          BIGINT NOT NULL DEFAULT 0,
    unique_users          BIGINT NOT NULL DEFAULT 0
);
`

// InitSchema creates the tables when they do not exist.
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}
