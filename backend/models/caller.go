// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "strings"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

func ParseRole(v string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(v))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleTeacher:
		return RoleTeacher, true
	case RoleStudent:
		return RoleStudent, true
	default:
		return "", false
	}
}

// Caller is the identity the auth layer attaches to every request.
type Caller struct {
	ID   int64
	Role Role
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// CanMarkRead: only the recipient of a direct message may mark it read.
func CanMarkRead(c Caller, m *Message) bool {
	return m.IsDirect() && *m.RecipientID == c.ID
}

// CanDestroy: the sender or any admin may delete a message for everyone.
func CanDestroy(c Caller, m *Message) bool {
	return m.SenderID == c.ID || c.IsAdmin()
}

// CanHide: any authenticated caller may hide any message from their own view.
func CanHide(c Caller, _ *Message) bool {
	return c.ID > 0
}

// CanPurgeUser guards the bulk removal of a deleted user's messages.
func CanPurgeUser(c Caller) bool {
	return c.IsAdmin()
}
