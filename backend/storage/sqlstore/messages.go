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
	"errors"
	"fmt"

	"github.com/efchatnet/efmsg/backend/apperrors"
	"github.com/efchatnet/efmsg/backend/models"
)

const messageColumns = `m.id, m.content, m.sender_id, m.recipient_id, m.is_broadcast,
	m.read_status, m.read_timestamp, m.attachment_path, m.attachment_type, m.sent_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m         models.Message
		recipient sql.NullInt64
		readAt    sql.NullTime
		path      sql.NullString
		kind      sql.NullString
	)
	err := row.Scan(&m.ID, &m.Content, &m.SenderID, &recipient, &m.IsBroadcast,
		&m.ReadStatus, &readAt, &path, &kind, &m.Timestamp)
	if err != nil {
		return nil, err
	}

	if recipient.Valid {
		m.RecipientID = &recipient.Int64
	}
	if readAt.Valid {
		t := readAt.Time
		m.ReadTimestamp = &t
	}
	if path.Valid {
		m.AttachmentPath = &path.String
	}
	if kind.Valid {
		m.AttachmentType = &kind.String
	}
	m.DeletedFor = models.NewUserSet()
	return &m, nil
}

func (s *Store) CreateMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	msg = msg.Normalize()
	if problem := msg.Validate(); problem != "" {
		return nil, apperrors.Validation("%s", problem)
	}

	sentAt := s.timestamp()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (content, sender_id, recipient_id, is_broadcast, read_status,
			attachment_path, attachment_type, sent_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7)
		RETURNING id`,
		msg.Content, msg.SenderID, msg.RecipientID, msg.IsBroadcast,
		msg.AttachmentPath, msg.AttachmentType, sentAt).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", classify(err))
	}

	return &models.Message{
		ID:             id,
		Content:        msg.Content,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		IsBroadcast:    msg.IsBroadcast,
		AttachmentPath: msg.AttachmentPath,
		AttachmentType: msg.AttachmentType,
		DeletedFor:     models.NewUserSet(),
		Timestamp:      sentAt,
	}, nil
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m WHERE m.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("message %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, classify(err))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM message_exclusions WHERE message_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get exclusions for %d: %w", id, classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, classify(err)
		}
		m.DeletedFor[userID] = struct{}{}
	}
	return m, classify(rows.Err())
}

// exists is used after a conditional write touched no rows, to tell "gone"
// apart from "nothing to do".
func (s *Store) exists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}

func (s *Store) MarkRead(ctx context.Context, id int64, caller models.Caller) error {
	m, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if !models.CanMarkRead(caller, m) {
		return apperrors.Forbidden("not authorized to mark message %d as read", id)
	}

	// The read_status guard keeps the first read timestamp on repeats.
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read_status = TRUE, read_timestamp = $1
		WHERE id = $2 AND read_status = FALSE`,
		s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("mark message %d read: %w", id, classify(err))
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	ok, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("message %d", id)
	}
	return nil
}

func (s *Store) HideMessage(ctx context.Context, id int64, userID int64) error {
	if userID <= 0 {
		return apperrors.Validation("user id must be positive")
	}

	// Insert-if-the-message-exists; the primary key turns a repeat into a
	// no-op and the foreign key stops a row outliving its message.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO message_exclusions (message_id, user_id)
		SELECT m.id, CAST($1 AS BIGINT) FROM messages m WHERE m.id = $2
		ON CONFLICT (message_id, user_id) DO NOTHING`,
		userID, id)
	if isForeignKeyViolation(err) {
		return apperrors.NotFound("message %d", id)
	}
	if err != nil {
		return fmt.Errorf("hide message %d: %w", id, classify(err))
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	ok, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("message %d", id)
	}
	return nil
}

func (s *Store) DestroyMessage(ctx context.Context, id int64, caller models.Caller) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	query := `SELECT ` + messageColumns + ` FROM messages m WHERE m.id = $1`
	if s.dialect == Postgres {
		query += ` FOR UPDATE`
	}
	m, err := scanMessage(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("message %d", id)
	}
	if err != nil {
		return fmt.Errorf("load message %d: %w", id, classify(err))
	}
	if !models.CanDestroy(caller, m) {
		return apperrors.Forbidden("only the sender or an admin can delete message %d for everyone", id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM message_exclusions WHERE message_id = $1`, id); err != nil {
		return fmt.Errorf("delete exclusions for %d: %w", id, classify(err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete message %d: %w", id, classify(err))
	}

	return classify(tx.Commit())
}

func (s *Store) DestroyMessagesInvolving(ctx context.Context, userID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM message_exclusions WHERE message_id IN (
			SELECT id FROM messages WHERE sender_id = $1 OR recipient_id = $1
		)`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete exclusions of user %d: %w", userID, classify(err))
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM messages WHERE sender_id = $1 OR recipient_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete messages of user %d: %w", userID, classify(err))
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (s *Store) MessagesForUser(ctx context.Context, userID int64) ([]models.Message, error) {
	return s.queryMessages(ctx,
		`m.is_broadcast = TRUE OR m.sender_id = $1 OR m.recipient_id = $1`,
		userID)
}

func (s *Store) MessagesBetween(ctx context.Context, userID, otherID int64) ([]models.Message, error) {
	return s.queryMessages(ctx,
		`m.is_broadcast = TRUE
		OR (m.sender_id = $1 AND m.recipient_id = $2)
		OR (m.sender_id = $2 AND m.recipient_id = $1)`,
		userID, otherID)
}

// queryMessages loads the messages matching where (written against alias m)
// and then every exclusion row belonging to them, inside one snapshot.
func (s *Store) queryMessages(ctx context.Context, where string, args ...any) ([]models.Message, error) {
	tx, err := s.db.BeginTx(ctx, s.readTxOptions())
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE `+where+`
		ORDER BY m.sent_at, m.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", classify(err))
	}

	var messages []models.Message
	index := make(map[int64]int)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, classify(err)
		}
		index[m.ID] = len(messages)
		messages = append(messages, *m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if len(messages) == 0 {
		return messages, nil
	}

	exRows, err := tx.QueryContext(ctx, `
		SELECT e.message_id, e.user_id
		FROM message_exclusions e
		JOIN messages m ON m.id = e.message_id
		WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query exclusions: %w", classify(err))
	}
	defer exRows.Close()

	for exRows.Next() {
		var messageID, userID int64
		if err := exRows.Scan(&messageID, &userID); err != nil {
			return nil, classify(err)
		}
		if i, ok := index[messageID]; ok {
			messages[i].DeletedFor[userID] = struct{}{}
		}
	}
	return messages, classify(exRows.Err())
}
