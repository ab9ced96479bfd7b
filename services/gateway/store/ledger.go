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

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
)

// =============================================================================
// Per-User Day Ledger
// =============================================================================

// AddUsage books one successful turn into the user's day bucket, creating
// the row on first use.
func (db *DB) AddUsage(ctx context.Context, userID uuid.UUID, day time.Time, tokens int64) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO user_daily_usage (user_id, usage_date, total_tokens_used, request_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, usage_date) DO UPDATE
		SET total_tokens_used = user_daily_usage.total_tokens_used + EXCLUDED.total_tokens_used,
		    request_count     = user_daily_usage.request_count + 1`,
		userID, day, tokens)
	if err != nil {
		return fmt.Errorf("adding user day usage: %w", err)
	}
	return nil
}

// UsageToday reads the user's day bucket. A missing row means zero usage.
func (db *DB) UsageToday(ctx context.Context, userID uuid.UUID, day time.Time) (*datatypes.UserDayUsage, error) {
	u := &datatypes.UserDayUsage{UserID: userID, Date: day}
	err := db.pool.QueryRow(ctx, `
		SELECT total_tokens_used, request_count
		FROM user_daily_usage
		WHERE user_id = $1 AND usage_date = $2`,
		userID, day).Scan(&u.TotalTokensUsed, &u.RequestCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading user day usage: %w", err)
	}
	return u, nil
}

// =============================================================================
// Global Day Bucket
// =============================================================================

// RecordGlobalCost adds a successful turn's cost and tokens to the global
// day bucket. unique_users advances when the user has no booked request
// yet today; this runs before the per-user ledger write, so a zero or
// missing request_count marks a first turn. Anonymous turns never count
// toward unique_users.
func (db *DB) RecordGlobalCost(ctx context.Context, day time.Time, millicents, tokens int64, userID *uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning cost transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	newUser := 0
	if userID != nil {
		var seen bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM user_daily_usage
				WHERE user_id = $1 AND usage_date = $2 AND request_count > 0
			)`, *userID, day).Scan(&seen)
		if err != nil {
			return fmt.Errorf("checking first turn of day: %w", err)
		}
		if !seen {
			newUser = 1
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO global_daily_cost (usage_date, total_cost_millicents, total_requests, total_tokens, unique_users)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (usage_date) DO UPDATE
		SET total_cost_millicents = global_daily_cost.total_cost_millicents + EXCLUDED.total_cost_millicents,
		    total_requests        = global_daily_cost.total_requests + 1,
		    total_tokens          = global_daily_cost.total_tokens + EXCLUDED.total_tokens,
		    unique_users          = global_daily_cost.unique_users + EXCLUDED.unique_users`,
		day, millicents, tokens, newUser)
	if err != nil {
		return fmt.Errorf("upserting global day bucket: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing cost record: %w", err)
	}
	return nil
}

// GlobalCostToday reads the day bucket's cost total. A missing row is a
// fresh day, zero spend.
func (db *DB) GlobalCostToday(ctx context.Context, day time.Time) (int64, error) {
	var total int64
	err := db.pool.QueryRow(ctx, `
		SELECT total_cost_millicents FROM global_daily_cost WHERE usage_date = $1`,
		day).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading global day bucket: %w", err)
	}
	return total, nil
}

// GlobalDayStats returns the full bucket row for admin visibility.
func (db *DB) GlobalDayStats(ctx context.Context, day time.Time) (*datatypes.GlobalDayCost, error) {
	g := &datatypes.GlobalDayCost{Date: day}
	err := db.pool.QueryRow(ctx, `
		SELECT total_cost_millicents, total_requests, total_tokens, unique_users
		FROM global_daily_cost
		WHERE usage_date = $1`,
		day).Scan(&g.TotalCostMillicents, &g.TotalRequests, &g.TotalTokens, &g.UniqueUsers)
	if errors.Is(err, pgx.ErrNoRows) {
		return g, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading global day stats: %w", err)
	}
	return g, nil
}
