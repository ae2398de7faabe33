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

package messaging

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/efchatnet/efmsg/backend/apperrors"
	"github.com/efchatnet/efmsg/backend/metrics"
	"github.com/efchatnet/efmsg/backend/models"
	"github.com/efchatnet/efmsg/backend/storage"
)

// SendInput is what a caller supplies when sending a message.
type SendInput struct {
	Content        string
	RecipientID    *int64
	IsBroadcast    bool
	AttachmentPath *string
	AttachmentType *string
}

// Service is the boundary the presentation layer talks to. It applies the
// caller identity, delegates to the store and engine, and decorates results
// with user directory data.
type Service struct {
	store  storage.MessageStore
	engine *Engine
	users  storage.UserDirectory
	log    zerolog.Logger
}

func NewService(store storage.MessageStore, users storage.UserDirectory, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		engine: NewEngine(store),
		users:  users,
		log:    log.With().Str("component", "messaging").Logger(),
	}
}

func checkCaller(caller models.Caller) error {
	if caller.ID <= 0 {
		return apperrors.Validation("caller id must be positive")
	}
	return nil
}

func checkID(id int64, what string) error {
	if id <= 0 {
		return apperrors.Validation("%s id must be positive", what)
	}
	return nil
}

// Send stores a new message from caller. A direct message must address a
// user the directory knows.
func (s *Service) Send(ctx context.Context, caller models.Caller, in SendInput) (*models.MessageView, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}

	msg := models.NewMessage{
		Content:        in.Content,
		SenderID:       caller.ID,
		RecipientID:    in.RecipientID,
		IsBroadcast:    in.IsBroadcast,
		AttachmentPath: in.AttachmentPath,
		AttachmentType: in.AttachmentType,
	}.Normalize()
	if problem := msg.Validate(); problem != "" {
		return nil, apperrors.Validation("%s", problem)
	}

	if msg.RecipientID != nil {
		users, err := s.users.LookupUsers(ctx, []int64{*msg.RecipientID})
		if err != nil {
			return nil, err
		}
		if _, ok := users[*msg.RecipientID]; !ok {
			return nil, apperrors.NotFound("recipient %d", *msg.RecipientID)
		}
	}

	created, err := s.store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	kind := "direct"
	if created.IsBroadcast {
		kind = "broadcast"
	}
	metrics.MessagesSent.WithLabelValues(kind).Inc()

	views, err := s.decorate(ctx, []models.Message{*created})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// ListWith returns the conversation with counterpartyID plus broadcasts.
func (s *Service) ListWith(ctx context.Context, caller models.Caller, counterpartyID int64) ([]models.MessageView, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	messages, err := s.engine.ListVisible(ctx, caller.ID, &counterpartyID)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, messages)
}

// ListAll returns every broadcast plus the caller's own direct messages.
func (s *Service) ListAll(ctx context.Context, caller models.Caller) ([]models.MessageView, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	messages, err := s.engine.ListVisible(ctx, caller.ID, nil)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, messages)
}

func (s *Service) ListConversations(ctx context.Context, caller models.Caller) ([]models.ConversationView, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	conversations, err := s.engine.ListConversations(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, len(conversations))
	for i, c := range conversations {
		messages[i] = c.LastMessage
	}
	views, err := s.decorate(ctx, messages)
	if err != nil {
		return nil, err
	}

	out := make([]models.ConversationView, len(conversations))
	for i, c := range conversations {
		out[i] = models.ConversationView{LastMessage: views[i]}
		if views[i].SenderID == c.CounterpartyID {
			out[i].Counterparty = views[i].Sender
		} else if views[i].Recipient != nil {
			out[i].Counterparty = *views[i].Recipient
		}
	}
	return out, nil
}

func (s *Service) MarkRead(ctx context.Context, caller models.Caller, messageID int64) error {
	if err := checkCaller(caller); err != nil {
		return err
	}
	if err := checkID(messageID, "message"); err != nil {
		return err
	}

	if err := s.store.MarkRead(ctx, messageID, caller); err != nil {
		s.noteDenied(err, "mark_read", caller, messageID)
		return err
	}
	metrics.MessagesRead.Inc()
	return nil
}

// DeleteForMe hides a message from the caller's own views only.
func (s *Service) DeleteForMe(ctx context.Context, caller models.Caller, messageID int64) error {
	if err := checkCaller(caller); err != nil {
		return err
	}
	if err := checkID(messageID, "message"); err != nil {
		return err
	}
	if !models.CanHide(caller, nil) {
		return apperrors.Forbidden("not authorized to hide message %d", messageID)
	}

	if err := s.store.HideMessage(ctx, messageID, caller.ID); err != nil {
		return err
	}
	metrics.MessagesHidden.Inc()
	return nil
}

// DeleteForEveryone removes the message record for all viewers.
func (s *Service) DeleteForEveryone(ctx context.Context, caller models.Caller, messageID int64) error {
	if err := checkCaller(caller); err != nil {
		return err
	}
	if err := checkID(messageID, "message"); err != nil {
		return err
	}

	if err := s.store.DestroyMessage(ctx, messageID, caller); err != nil {
		s.noteDenied(err, "delete_for_everyone", caller, messageID)
		return err
	}

	reason := "sender"
	if caller.IsAdmin() {
		reason = "admin"
	}
	metrics.MessagesDestroyed.WithLabelValues(reason).Inc()
	s.log.Info().
		Int64("message_id", messageID).
		Int64("caller_id", caller.ID).
		Str("caller_role", string(caller.Role)).
		Msg("message deleted for everyone")
	return nil
}

// PurgeUser is the hook for a user being removed from the directory: every
// message they sent or received goes, whoever had hidden it.
func (s *Service) PurgeUser(ctx context.Context, caller models.Caller, userID int64) (int64, error) {
	if err := checkCaller(caller); err != nil {
		return 0, err
	}
	if err := checkID(userID, "user"); err != nil {
		return 0, err
	}
	if !models.CanPurgeUser(caller) {
		metrics.Denied.WithLabelValues("purge_user").Inc()
		return 0, apperrors.Forbidden("only an admin can purge a user's messages")
	}

	n, err := s.store.DestroyMessagesInvolving(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Int64("destroyed", n).Msg("purging user messages failed")
		return n, err
	}

	metrics.MessagesDestroyed.WithLabelValues("user_purge").Add(float64(n))
	s.log.Info().
		Int64("user_id", userID).
		Int64("destroyed", n).
		Int64("caller_id", caller.ID).
		Msg("purged user messages")
	return n, nil
}

func (s *Service) noteDenied(err error, operation string, caller models.Caller, messageID int64) {
	if !errors.Is(err, apperrors.ErrForbidden) {
		return
	}
	metrics.Denied.WithLabelValues(operation).Inc()
	s.log.Warn().
		Str("operation", operation).
		Int64("message_id", messageID).
		Int64("caller_id", caller.ID).
		Msg("authorization denied")
}

// decorate attaches sender and recipient display data, looking every user
// up in one directory call.
func (s *Service) decorate(ctx context.Context, messages []models.Message) ([]models.MessageView, error) {
	views := make([]models.MessageView, len(messages))
	if len(messages) == 0 {
		return views, nil
	}

	var ids []int64
	for i := range messages {
		ids = append(ids, messages[i].SenderID)
		if messages[i].RecipientID != nil {
			ids = append(ids, *messages[i].RecipientID)
		}
	}
	users, err := s.users.LookupUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	lookup := func(id int64) models.UserSummary {
		if u, ok := users[id]; ok {
			return u
		}
		return models.UnknownUser(id)
	}

	for i := range messages {
		m := &messages[i]
		sender := lookup(m.SenderID)
		views[i] = models.MessageView{
			ID:                   m.ID,
			Content:              m.Content,
			SenderID:             m.SenderID,
			SenderUsername:       sender.Username,
			SenderRole:           sender.Role,
			SenderProfilePicture: sender.ProfilePicture,
			Sender:               sender,
			RecipientID:          m.RecipientID,
			IsBroadcast:          m.IsBroadcast,
			ReadStatus:           m.ReadStatus,
			ReadTimestamp:        m.ReadTimestamp,
			AttachmentPath:       m.AttachmentPath,
			AttachmentType:       m.AttachmentType,
			CreatedAt:            m.Timestamp,
		}
		if m.RecipientID != nil {
			recipient := lookup(*m.RecipientID)
			views[i].Recipient = &recipient
		}
	}
	return views, nil
}
