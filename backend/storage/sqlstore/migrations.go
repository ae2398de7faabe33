// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package sqlstore

import (
	"context"
	"fmt"
)

var postgresMigrations = []string{
	// Users are owned by the account service; this table only exists so
	// the directory has something to read in standalone deployments.
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(50) NOT NULL UNIQUE,
		role VARCHAR(20) NOT NULL DEFAULT 'student',
		profile_picture VARCHAR(255),
		online_status BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		content TEXT NOT NULL CHECK (content <> ''),
		sender_id BIGINT NOT NULL,
		recipient_id BIGINT,
		is_broadcast BOOLEAN NOT NULL DEFAULT FALSE,
		read_status BOOLEAN NOT NULL DEFAULT FALSE,
		read_timestamp TIMESTAMPTZ,
		attachment_path VARCHAR(200),
		attachment_type VARCHAR(50),
		sent_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT message_addressing CHECK (
			(is_broadcast AND recipient_id IS NULL) OR
			(NOT is_broadcast AND recipient_id IS NOT NULL)
		),
		CONSTRAINT broadcast_never_read CHECK (NOT (is_broadcast AND read_status))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_sender
	ON messages(sender_id, sent_at)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_recipient
	ON messages(recipient_id, sent_at)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_broadcast
	ON messages(sent_at)
	WHERE is_broadcast = TRUE`,

	// One row per (message, viewer) who hid it
	`CREATE TABLE IF NOT EXISTS message_exclusions (
		message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL,
		hidden_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (message_id, user_id)
	)`,
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'student',
		profile_picture TEXT,
		online_status BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL CHECK (content <> ''),
		sender_id INTEGER NOT NULL,
		recipient_id INTEGER,
		is_broadcast BOOLEAN NOT NULL DEFAULT FALSE,
		read_status BOOLEAN NOT NULL DEFAULT FALSE,
		read_timestamp DATETIME,
		attachment_path TEXT CHECK (length(attachment_path) <= 200),
		attachment_type TEXT CHECK (length(attachment_type) <= 50),
		sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (
			(is_broadcast AND recipient_id IS NULL) OR
			(NOT is_broadcast AND recipient_id IS NOT NULL)
		),
		CHECK (NOT (is_broadcast AND read_status))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, sent_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id, sent_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_broadcast ON messages(sent_at) WHERE is_broadcast = TRUE`,

	`CREATE TABLE IF NOT EXISTS message_exclusions (
		message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL,
		hidden_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (message_id, user_id)
	)`,
}

func (s *Store) Migrate(ctx context.Context) error {
	migrations := postgresMigrations
	if s.dialect == SQLite {
		migrations = sqliteMigrations
	}

	for i, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i, s.dialect, classify(err))
		}
	}

	return nil
}
