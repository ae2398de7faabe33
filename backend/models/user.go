// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "time"

// UserSummary is the display data the user directory provides for
// decorating messages. The messaging core never writes it.
type UserSummary struct {
	ID             int64   `json:"id"`
	Username       string  `json:"username"`
	Role           string  `json:"role"`
	ProfilePicture *string `json:"profile_picture"`
	OnlineStatus   bool    `json:"online_status"`
}

// UnknownUser stands in for a user the directory no longer knows about.
func UnknownUser(id int64) UserSummary {
	return UserSummary{ID: id, Username: "Unknown", Role: "user"}
}

// MessageView is the decorated message handed to the presentation layer.
type MessageView struct {
	ID                   int64        `json:"id"`
	Content              string       `json:"content"`
	SenderID             int64        `json:"sender_id"`
	SenderUsername       string       `json:"sender_username"`
	SenderRole           string       `json:"sender_role"`
	SenderProfilePicture *string      `json:"sender_profile_picture"`
	Sender               UserSummary  `json:"sender"`
	RecipientID          *int64       `json:"recipient_id,omitempty"`
	Recipient            *UserSummary `json:"recipient,omitempty"`
	IsBroadcast          bool         `json:"is_broadcast"`
	ReadStatus           bool         `json:"read_status"`
	ReadTimestamp        *time.Time   `json:"read_timestamp,omitempty"`
	AttachmentPath       *string      `json:"attachment_path,omitempty"`
	AttachmentType       *string      `json:"attachment_type,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
}

// ConversationView is one entry of a caller's conversation list: the
// latest direct message exchanged with Counterparty.
type ConversationView struct {
	Counterparty UserSummary `json:"counterparty"`
	LastMessage  MessageView `json:"last_message"`
}
