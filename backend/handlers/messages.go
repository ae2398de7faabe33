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

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/efchatnet/efmsg/backend/apperrors"
	"github.com/efchatnet/efmsg/backend/messaging"
	"github.com/efchatnet/efmsg/backend/middleware"
	"github.com/efchatnet/efmsg/backend/models"
)

type MessageHandler struct {
	service *messaging.Service
	log     zerolog.Logger
}

func NewMessageHandler(service *messaging.Service, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{service: service, log: log}
}

type sendRequest struct {
	Content        string  `json:"content"`
	RecipientID    *int64  `json:"recipient_id"`
	IsBroadcast    bool    `json:"is_broadcast"`
	AttachmentPath *string `json:"attachment_path"`
	AttachmentType *string `json:"attachment_type"`
}

// SendMessage handles POST /api/messages
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, apperrors.Validation("invalid request body"))
		return
	}

	view, err := h.service.Send(r.Context(), caller, messaging.SendInput{
		Content:        req.Content,
		RecipientID:    req.RecipientID,
		IsBroadcast:    req.IsBroadcast,
		AttachmentPath: req.AttachmentPath,
		AttachmentType: req.AttachmentType,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Message sent successfully",
		"data":    view,
	})
}

// GetMessages handles GET /api/messages and GET /api/messages/{userId}
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var (
		views []models.MessageView
		err   error
	)
	if raw, present := mux.Vars(r)["userId"]; present {
		var otherID int64
		if otherID, err = parseID(raw, "user"); err == nil {
			views, err = h.service.ListWith(r.Context(), caller, otherID)
		}
	} else {
		views, err = h.service.ListAll(r.Context(), caller)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, views)
}

// GetConversations handles GET /api/messages/conversations
func (h *MessageHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	conversations, err := h.service.ListConversations(r.Context(), caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, conversations)
}

// MarkAsRead handles PUT /api/messages/{messageId}/read
func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	h.withMessage(w, r, h.service.MarkRead, "Message marked as read")
}

// DeleteForMe handles DELETE /api/messages/{messageId}/delete-for-me
func (h *MessageHandler) DeleteForMe(w http.ResponseWriter, r *http.Request) {
	h.withMessage(w, r, h.service.DeleteForMe, "Message deleted for you")
}

// DeleteForEveryone handles DELETE /api/messages/{messageId}/delete-for-everyone
func (h *MessageHandler) DeleteForEveryone(w http.ResponseWriter, r *http.Request) {
	h.withMessage(w, r, h.service.DeleteForEveryone, "Message deleted for everyone")
}

// PurgeUser handles DELETE /api/messages/users/{userId}. Admin only.
func (h *MessageHandler) PurgeUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	userID, err := parseID(mux.Vars(r)["userId"], "user")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	n, err := h.service.PurgeUser(r.Context(), caller, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "User messages deleted",
		"deleted": n,
	})
}

type messageOp func(ctx context.Context, caller models.Caller, messageID int64) error

func (h *MessageHandler) withMessage(w http.ResponseWriter, r *http.Request, op messageOp, done string) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	messageID, err := parseID(mux.Vars(r)["messageId"], "message")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := op(r.Context(), caller, messageID); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": done})
}

func (h *MessageHandler) caller(w http.ResponseWriter, r *http.Request) (models.Caller, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	return caller, ok
}

// fail answers with the status for err's kind. Only unexpected failures are
// logged at error level; the rest are ordinary client outcomes.
func (h *MessageHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": apperrors.PublicMessage(err)})
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation("invalid %s id %q", what, raw)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
