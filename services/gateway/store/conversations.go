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
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
)

// =============================================================================
// Helpers
// =============================================================================

// AutoTitleMaxRunes bounds a generated thread title.
const AutoTitleMaxRunes = 50

// AutoTitle derives a thread title from its first message: trim, take at
// most 50 code points, append an ellipsis when cut.
func AutoTitle(firstMessage string) string {
	s := strings.TrimSpace(firstMessage)
	runes := []rune(s)
	if len(runes) <= AutoTitleMaxRunes {
		return s
	}
	return string(runes[:AutoTitleMaxRunes]) + "…"
}

const previewMaxRunes = 80

func preview(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= previewMaxRunes {
		return s
	}
	return string([]rune(s)[:previewMaxRunes]) + "…"
}

// =============================================================================
// Conversation CRUD
// =============================================================================

const conversationColumns = `
	id, user_id, title, total_tokens, summary_context,
	created_at, updated_at, last_message_at, deleted_at, archived_at`

// CreateConversation opens a new thread for the user. summaryContext seeds
// the carry-over digest when the thread continues an archived one.
func (db *DB) CreateConversation(ctx context.Context, userID uuid.UUID, title, summaryContext *string) (*datatypes.Conversation, error) {
	id := uuid.New()
	row := db.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, user_id, title, summary_context)
		VALUES ($1, $2, $3, $4)
		RETURNING `+conversationColumns,
		id, userID, title, summaryContext)
	return scanConversation(row)
}

// GetConversation returns the thread only when owned by userID and not
// deleted. Archived threads are still retrievable by id.
func (db *DB) GetConversation(ctx context.Context, id, userID uuid.UUID) (*datatypes.Conversation, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, userID)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

// ListActiveConversations returns the user's visible threads, newest
// activity first, each with a successful-turn count and a preview of the
// latest exchange.
func (db *DB) ListActiveConversations(ctx context.Context, userID uuid.UUID) ([]datatypes.ConversationSummary, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT c.id,
		       COALESCE(c.title, ''),
		       c.total_tokens,
		       c.last_message_at,
		       COALESCE(t.msg_count, 0),
		       COALESCE(t.last_message, '')
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT count(*) AS msg_count,
			       (SELECT user_message FROM chat_turns
			        WHERE conversation_id = c.id AND success
			        ORDER BY created_at DESC LIMIT 1) AS last_message
			FROM chat_turns
			WHERE conversation_id = c.id AND success
		) t ON TRUE
		WHERE c.user_id = $1 AND c.deleted_at IS NULL AND c.archived_at IS NULL
		ORDER BY c.last_message_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []datatypes.ConversationSummary
	for rows.Next() {
		var (
			s       datatypes.ConversationSummary
			lastMsg string
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.TotalTokens, &s.LastMessageAt, &s.MessageCount, &lastMsg); err != nil {
			return nil, fmt.Errorf("scanning conversation summary: %w", err)
		}
		s.LastPreview = preview(lastMsg)
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetConversationTitle renames an owned, non-deleted thread.
func (db *DB) SetConversationTitle(ctx context.Context, id, userID uuid.UUID, title string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE conversations SET title = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, userID, title)
	if err != nil {
		return fmt.Errorf("setting conversation title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveConversation hides a saturated thread from the active list while
// keeping it as the summary source.
func (db *DB) ArchiveConversation(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE conversations SET archived_at = now(), updated_at = now()
		WHERE id = $1 AND archived_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("archiving conversation: %w", err)
	}
	return nil
}

// SoftDeleteConversation hides the thread from its owner. Turns stay
// queryable by admin tooling.
func (db *DB) SoftDeleteConversation(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE conversations SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, userID)
	if err != nil {
		return fmt.Errorf("soft-deleting conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (*datatypes.Conversation, error) {
	var c datatypes.Conversation
	err := row.Scan(
		&c.ID, &c.UserID, &c.Title, &c.TotalTokens, &c.SummaryContext,
		&c.CreatedAt, &c.UpdatedAt, &c.LastMessageAt, &c.DeletedAt, &c.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
