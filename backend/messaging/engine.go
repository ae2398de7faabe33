// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"context"
	"sort"

	"github.com/efchatnet/efmsg/backend/apperrors"
	"github.com/efchatnet/efmsg/backend/models"
)

// MessageReader is the part of the message store the engine reads from.
type MessageReader interface {
	MessagesForUser(ctx context.Context, userID int64) ([]models.Message, error)
	MessagesBetween(ctx context.Context, userID, otherID int64) ([]models.Message, error)
}

// Engine derives caller-scoped views from raw store rows. It never writes.
type Engine struct {
	store MessageReader
}

func NewEngine(store MessageReader) *Engine {
	return &Engine{store: store}
}

// Conversation is the latest direct message exchanged with one
// counterparty.
type Conversation struct {
	CounterpartyID int64
	LastMessage    models.Message
}

// ListVisible returns the caller's feed oldest first. With a counterparty it
// is the direct messages of that pair plus every broadcast; without one it
// is every broadcast plus all of the caller's direct messages. Messages the
// caller hid are left out either way.
func (e *Engine) ListVisible(ctx context.Context, callerID int64, counterpartyID *int64) ([]models.Message, error) {
	if callerID <= 0 {
		return nil, apperrors.Validation("caller id must be positive")
	}

	var (
		rows []models.Message
		err  error
	)
	if counterpartyID != nil {
		if *counterpartyID <= 0 {
			return nil, apperrors.Validation("counterparty id must be positive")
		}
		rows, err = e.store.MessagesBetween(ctx, callerID, *counterpartyID)
	} else {
		rows, err = e.store.MessagesForUser(ctx, callerID)
	}
	if err != nil {
		return nil, err
	}

	visible := make([]models.Message, 0, len(rows))
	for i := range rows {
		m := &rows[i]
		if !m.VisibleTo(callerID) {
			continue
		}
		if counterpartyID != nil && m.IsDirect() {
			if other, _ := m.Counterparty(callerID); other != *counterpartyID {
				continue
			}
		}
		visible = append(visible, *m)
	}

	sort.SliceStable(visible, func(i, j int) bool { return visible[i].Before(&visible[j]) })
	return visible, nil
}

// ListConversations returns one entry per counterparty the caller has a
// non-hidden direct message with, newest first. Broadcasts never count.
func (e *Engine) ListConversations(ctx context.Context, callerID int64) ([]Conversation, error) {
	if callerID <= 0 {
		return nil, apperrors.Validation("caller id must be positive")
	}

	rows, err := e.store.MessagesForUser(ctx, callerID)
	if err != nil {
		return nil, err
	}

	latest := make(map[int64]*models.Message)
	for i := range rows {
		m := &rows[i]
		if !m.IsDirect() || !m.VisibleTo(callerID) {
			continue
		}
		other, ok := m.Counterparty(callerID)
		if !ok {
			continue
		}
		if cur, seen := latest[other]; !seen || cur.Before(m) {
			latest[other] = m
		}
	}

	conversations := make([]Conversation, 0, len(latest))
	for other, m := range latest {
		conversations = append(conversations, Conversation{CounterpartyID: other, LastMessage: *m})
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[j].LastMessage.Before(&conversations[i].LastMessage)
	})
	return conversations, nil
}
