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

package storage

import (
	"context"

	"github.com/efchatnet/efmsg/backend/models"
)

// MessageStore is the durable record of every message. Implementations
// return errors wrapping the apperrors sentinels.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)

	// MarkRead and HideMessage are idempotent; repeating them succeeds
	// without changing anything.
	MarkRead(ctx context.Context, id int64, caller models.Caller) error
	HideMessage(ctx context.Context, id int64, userID int64) error
	DestroyMessage(ctx context.Context, id int64, caller models.Caller) error

	// Raw reads. Rows carry their full DeletedFor set; filtering for the
	// viewer happens in the conversation engine.
	MessagesForUser(ctx context.Context, userID int64) ([]models.Message, error)
	MessagesBetween(ctx context.Context, userID, otherID int64) ([]models.Message, error)

	// DestroyMessagesInvolving removes every message userID sent or
	// received, regardless of who hid it.
	DestroyMessagesInvolving(ctx context.Context, userID int64) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// UserDirectory is the read-only view of the external user records used to
// decorate messages. Unknown ids are simply absent from the result.
type UserDirectory interface {
	LookupUsers(ctx context.Context, ids []int64) (map[int64]models.UserSummary, error)
}
