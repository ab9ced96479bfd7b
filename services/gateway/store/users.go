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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
)

// ErrEmailTaken is returned when a live user already owns the email.
var ErrEmailTaken = errors.New("email already registered")

// ErrNotFound is the generic missing-row sentinel for this package.
var ErrNotFound = errors.New("not found")

// pgUniqueViolation is the Postgres error code for unique index breaches.
const pgUniqueViolation = "23505"

// CreateUser inserts a new free-tier user. The email must already be
// normalized (lowercase, trimmed) and the hash computed by the vault.
func (db *DB) CreateUser(ctx context.Context, email, passwordHash string) (*datatypes.User, error) {
	u := &datatypes.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Tier:         datatypes.TierFree,
	}
	err := db.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, tier)
		VALUES ($1, $2, $3, $4)
		RETURNING email_verified, created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, u.Tier,
	).Scan(&u.EmailVerified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns the live user with that email, or ErrNotFound.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*datatypes.User, error) {
	return db.scanUser(ctx, `
		SELECT id, email, password_hash, tier, email_verified,
		       created_at, updated_at, deleted_at
		FROM users
		WHERE email = $1 AND deleted_at IS NULL`, email)
}

// GetUserByID returns the live user, or ErrNotFound. Sessions referencing a
// soft-deleted user are destroyed by the caller on this miss.
func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*datatypes.User, error) {
	return db.scanUser(ctx, `
		SELECT id, email, password_hash, tier, email_verified,
		       created_at, updated_at, deleted_at
		FROM users
		WHERE id = $1 AND deleted_at IS NULL`, id)
}

// SoftDeleteUser marks the user gone. Turn rows keep their user_id until
// the row is hard-deleted, at which point the FK sets them null.
func (db *DB) SoftDeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE users SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft-deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) scanUser(ctx context.Context, query string, arg any) (*datatypes.User, error) {
	var (
		u         datatypes.User
		deletedAt *time.Time
	)
	err := db.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Tier, &u.EmailVerified,
		&u.CreatedAt, &u.UpdatedAt, &deletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	u.DeletedAt = deletedAt
	return &u, nil
}
