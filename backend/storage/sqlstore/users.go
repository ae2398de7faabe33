// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/efchatnet/efmsg/backend/models"
)

// Directory reads display data from the users table. It never writes.
type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) LookupUsers(ctx context.Context, ids []int64) (map[int64]models.UserSummary, error) {
	users := make(map[int64]models.UserSummary, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	seen := make(map[int64]bool, len(ids))
	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		args = append(args, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, username, role, profile_picture, online_status
		FROM users WHERE id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup users: %w", classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			u       models.UserSummary
			picture sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &picture, &u.OnlineStatus); err != nil {
			return nil, classify(err)
		}
		if picture.Valid {
			u.ProfilePicture = &picture.String
		}
		users[u.ID] = u
	}
	return users, classify(rows.Err())
}
