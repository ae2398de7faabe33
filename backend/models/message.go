// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

const (
	MaxAttachmentPathLen = 200
	MaxAttachmentTypeLen = 50
)

// Message is a stored chat message. A message is either a broadcast
// (RecipientID nil) or a direct message (RecipientID set), never both.
type Message struct {
	ID             int64      `json:"id" db:"id"`
	Content        string     `json:"content" db:"content"`
	SenderID       int64      `json:"sender_id" db:"sender_id"`
	RecipientID    *int64     `json:"recipient_id,omitempty" db:"recipient_id"`
	IsBroadcast    bool       `json:"is_broadcast" db:"is_broadcast"`
	ReadStatus     bool       `json:"read_status" db:"read_status"`
	ReadTimestamp  *time.Time `json:"read_timestamp,omitempty" db:"read_timestamp"`
	AttachmentPath *string    `json:"attachment_path,omitempty" db:"attachment_path"`
	AttachmentType *string    `json:"attachment_type,omitempty" db:"attachment_type"`
	DeletedFor     UserSet    `json:"deleted_for" db:"-"`
	Timestamp      time.Time  `json:"timestamp" db:"timestamp"`
}

// NewMessage carries the caller-supplied fields of a message to be created.
type NewMessage struct {
	Content        string
	SenderID       int64
	RecipientID    *int64
	IsBroadcast    bool
	AttachmentPath *string
	AttachmentType *string
}

// Normalize drops a stray recipient id from a broadcast.
func (n NewMessage) Normalize() NewMessage {
	if n.IsBroadcast {
		n.RecipientID = nil
	}
	return n
}

// Validate reports the first problem with n, or "" when n can be stored.
func (n NewMessage) Validate() string {
	switch {
	case strings.TrimSpace(n.Content) == "":
		return "message content is required"
	case n.SenderID <= 0:
		return "sender id must be positive"
	case n.IsBroadcast && n.RecipientID != nil:
		return "broadcast messages cannot carry a recipient"
	case !n.IsBroadcast && n.RecipientID == nil:
		return "recipient id is required for direct messages"
	case n.RecipientID != nil && *n.RecipientID <= 0:
		return "recipient id must be positive"
	case n.AttachmentPath != nil && len(*n.AttachmentPath) > MaxAttachmentPathLen:
		return "attachment path is too long"
	case n.AttachmentType != nil && len(*n.AttachmentType) > MaxAttachmentTypeLen:
		return "attachment type is too long"
	}
	return ""
}

// IsDirect reports whether m is addressed to a single recipient.
func (m *Message) IsDirect() bool {
	return !m.IsBroadcast && m.RecipientID != nil
}

// Involves reports whether userID sent m or is its recipient.
func (m *Message) Involves(userID int64) bool {
	return m.SenderID == userID || (m.RecipientID != nil && *m.RecipientID == userID)
}

// Counterparty returns the other side of a direct message from userID's
// point of view. A message a user sent to themself has themself as the
// counterparty.
func (m *Message) Counterparty(userID int64) (int64, bool) {
	if !m.IsDirect() || !m.Involves(userID) {
		return 0, false
	}
	if m.SenderID == userID {
		return *m.RecipientID, true
	}
	return m.SenderID, true
}

// VisibleTo applies the addressing and soft-delete rules for userID.
func (m *Message) VisibleTo(userID int64) bool {
	if m.DeletedFor.Has(userID) {
		return false
	}
	return m.IsBroadcast || m.Involves(userID)
}

// Before orders messages oldest first, falling back to id on equal
// timestamps.
func (m *Message) Before(o *Message) bool {
	if !m.Timestamp.Equal(o.Timestamp) {
		return m.Timestamp.Before(o.Timestamp)
	}
	return m.ID < o.ID
}

// UserSet is the set of users a message is hidden for.
type UserSet map[int64]struct{}

func NewUserSet(ids ...int64) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s UserSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s UserSet) Sorted() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s UserSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}
