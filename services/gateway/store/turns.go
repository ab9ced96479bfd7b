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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
)

// =============================================================================
// Turn Insert
// =============================================================================

// InsertTurn persists one chat attempt. When the turn belongs to a thread,
// the thread's last_message_at, updated_at, and total_tokens advance inside
// the same transaction; last_message_at never moves backwards.
func (db *DB) InsertTurn(ctx context.Context, t *datatypes.Turn) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning turn transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_turns (
			id, user_id, session_id, conversation_id,
			user_message, assistant_response, message_length, response_length,
			input_tokens, output_tokens, tokens_used, actual_cost_millicents,
			tools_used, success, error_message, duration_ms, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		t.ID, t.UserID, t.SessionID, t.ConversationID,
		t.UserMessage, t.AssistantResponse, t.MessageLength, t.ResponseLength,
		t.InputTokens, t.OutputTokens, t.TokensUsed, t.ActualCostMillicents,
		t.ToolsUsed, t.Success, t.ErrorMessage, t.DurationMs, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	if t.ConversationID != nil {
		tokens := 0
		if t.TokensUsed != nil {
			tokens = *t.TokensUsed
		}
		_, err = tx.Exec(ctx, `
			UPDATE conversations
			SET last_message_at = GREATEST(last_message_at, $2),
			    updated_at      = GREATEST(updated_at, $2),
			    total_tokens    = total_tokens + $3
			WHERE id = $1`,
			*t.ConversationID, t.CreatedAt, tokens,
		)
		if err != nil {
			return fmt.Errorf("advancing conversation totals: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}
	return nil
}

// =============================================================================
// Turn Queries
// =============================================================================

// LoadTurns returns a thread's turns in chronological order, failures
// included; history replay filters on Success.
func (db *DB) LoadTurns(ctx context.Context, conversationID uuid.UUID) ([]datatypes.Turn, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, user_id, session_id, conversation_id,
		       user_message, assistant_response, message_length, response_length,
		       input_tokens, output_tokens, tokens_used, actual_cost_millicents,
		       tools_used, success, error_message, duration_ms, created_at
		FROM chat_turns
		WHERE conversation_id = $1
		ORDER BY created_at ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// ListRecentTurns returns the user's newest turns for the history endpoint.
func (db *DB) ListRecentTurns(ctx context.Context, userID uuid.UUID, limit int) ([]datatypes.Turn, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx, `
		SELECT id, user_id, session_id, conversation_id,
		       user_message, assistant_response, message_length, response_length,
		       input_tokens, output_tokens, tokens_used, actual_cost_millicents,
		       tools_used, success, error_message, duration_ms, created_at
		FROM chat_turns
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// TurnStatsToday aggregates today's attempts for the stats endpoint.
func (db *DB) TurnStatsToday(ctx context.Context, userID uuid.UUID) (total int, succeeded int, err error) {
	err = db.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE success)
		FROM chat_turns
		WHERE user_id = $1 AND created_at >= date_trunc('day', now() AT TIME ZONE 'utc')`,
		userID).Scan(&total, &succeeded)
	if err != nil {
		return 0, 0, fmt.Errorf("aggregating turn stats: %w", err)
	}
	return total, succeeded, nil
}

func scanTurns(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]datatypes.Turn, error) {
	var out []datatypes.Turn
	for rows.Next() {
		var t datatypes.Turn
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.SessionID, &t.ConversationID,
			&t.UserMessage, &t.AssistantResponse, &t.MessageLength, &t.ResponseLength,
			&t.InputTokens, &t.OutputTokens, &t.TokensUsed, &t.ActualCostMillicents,
			&t.ToolsUsed, &t.Success, &t.ErrorMessage, &t.DurationMs, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
