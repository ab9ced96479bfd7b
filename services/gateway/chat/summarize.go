// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/llm"
)

// summarizeMaxTokens caps the rollover summary completion. Slightly above
// the 500 tokens the instruction asks for so the model can finish its
// sentence.
const summarizeMaxTokens = 600

// summarizeTemperature keeps rollover summaries deterministic-ish.
const summarizeTemperature = 0.2

// rollover runs the summarize-and-continue protocol on a saturated thread:
// compress its history, archive it, and open a fresh thread carrying the
// summary. The summarization call is billed to the thread's owner like any
// other turn. If summarization fails the rollover still happens, just
// without carried context; blocking the user on a full thread is worse
// than losing its digest.
func (o *Orchestrator) rollover(ctx context.Context, p *datatypes.Principal, conv *datatypes.Conversation) (*datatypes.Conversation, error) {
	history, err := o.convs.LoadTurns(ctx, conv.ID)
	if err != nil {
		return nil, datatypes.NewInternal(err)
	}

	summary := o.summarize(ctx, p, conv, history)

	if err := o.convs.ArchiveConversation(ctx, conv.ID); err != nil {
		return nil, datatypes.NewInternal(err)
	}

	fresh, err := o.convs.CreateConversation(ctx, p.UserID, conv.Title, summary)
	if err != nil {
		return nil, datatypes.NewInternal(err)
	}
	slog.Info("conversation rolled over",
		"old_conversation_id", conv.ID,
		"new_conversation_id", fresh.ID,
		"total_tokens", conv.TotalTokens,
		"summarized", summary != nil,
	)
	return fresh, nil
}

// summarize asks the model to compress the thread and books the cost.
// Returns nil when the call fails.
func (o *Orchestrator) summarize(ctx context.Context, p *datatypes.Principal, conv *datatypes.Conversation, history []datatypes.Turn) *string {
	start := time.Now()
	result, err := o.complete(ctx, llm.CompletionRequest{
		Model:       o.cfg.Model,
		Messages:    buildSummarizeMessages(conv.SummaryContext, history),
		MaxTokens:   summarizeMaxTokens,
		Temperature: summarizeTemperature,
	})
	if err != nil {
		slog.Error("thread summarization failed", "conversation_id", conv.ID, "error", err)
		return nil
	}

	millicents, cerr := o.engine.Reconcile(result.InputTokens, result.OutputTokens, result.Model)
	if cerr != nil {
		millicents, cerr = o.engine.Reconcile(result.InputTokens, result.OutputTokens, o.cfg.Model)
	}
	if cerr != nil {
		slog.Error("summarization cost reconciliation failed", "model", result.Model, "error", cerr)
	} else {
		o.book(ctx, p, millicents, int64(result.TotalTokens()))
		o.metrics.RecordTurnTokens(result.Model, result.InputTokens, result.OutputTokens)
		o.metrics.RecordSpend(result.Model, millicents)
	}

	slog.Info("thread summarized",
		"conversation_id", conv.ID,
		"summary_tokens", result.OutputTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	text := result.Text
	return &text
}
