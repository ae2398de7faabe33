// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/efchatnet/efmsg/backend/models"
)

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func encodeMessage(m *models.Message) map[string]string {
	values := map[string]string{
		"content":      m.Content,
		"sender_id":    formatInt(m.SenderID),
		"is_broadcast": boolField(m.IsBroadcast),
		"read_status":  boolField(m.ReadStatus),
		"sent_at":      m.Timestamp.Format(time.RFC3339Nano),
	}
	if m.RecipientID != nil {
		values["recipient_id"] = formatInt(*m.RecipientID)
	}
	if m.ReadTimestamp != nil {
		values["read_timestamp"] = m.ReadTimestamp.Format(time.RFC3339Nano)
	}
	if m.AttachmentPath != nil {
		values["attachment_path"] = *m.AttachmentPath
	}
	if m.AttachmentType != nil {
		values["attachment_type"] = *m.AttachmentType
	}
	return values
}

func decodeMessage(id int64, values map[string]string, hidden []string) (*models.Message, error) {
	m := &models.Message{
		ID:          id,
		Content:     values["content"],
		IsBroadcast: values["is_broadcast"] == "1",
		ReadStatus:  values["read_status"] == "1",
		DeletedFor:  models.NewUserSet(),
	}

	var err error
	if m.SenderID, err = strconv.ParseInt(values["sender_id"], 10, 64); err != nil {
		return nil, fmt.Errorf("message %d: bad sender_id: %w", id, err)
	}
	if m.Timestamp, err = time.Parse(time.RFC3339Nano, values["sent_at"]); err != nil {
		return nil, fmt.Errorf("message %d: bad sent_at: %w", id, err)
	}

	if v, ok := values["recipient_id"]; ok {
		recipient, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("message %d: bad recipient_id: %w", id, err)
		}
		m.RecipientID = &recipient
	}
	if v, ok := values["read_timestamp"]; ok {
		readAt, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("message %d: bad read_timestamp: %w", id, err)
		}
		m.ReadTimestamp = &readAt
	}
	if v, ok := values["attachment_path"]; ok {
		m.AttachmentPath = &v
	}
	if v, ok := values["attachment_type"]; ok {
		m.AttachmentType = &v
	}

	for _, member := range hidden {
		uid, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("message %d: bad hidden member %q: %w", id, member, err)
		}
		m.DeletedFor[uid] = struct{}{}
	}
	return m, nil
}
