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

package integration

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/efchatnet/efmsg/backend/handlers"
	"github.com/efchatnet/efmsg/backend/messaging"
	"github.com/efchatnet/efmsg/backend/middleware"
	"github.com/efchatnet/efmsg/backend/models"
	"github.com/efchatnet/efmsg/backend/storage"
)

// MessagingIntegration provides the messaging API as a plugin for efchat
type MessagingIntegration struct {
	store          storage.MessageStore
	service        *messaging.Service
	messageHandler *handlers.MessageHandler
	sendLimiter    *middleware.CallerRateLimiter
	jwtSecret      string
	jwtIssuer      string
	log            zerolog.Logger
}

// Config holds configuration for the messaging integration. Store and Users
// are owned by the caller and must already be migrated.
type Config struct {
	Store         storage.MessageStore
	Users         storage.UserDirectory
	JWTSecret     string
	JWTIssuer     string
	SendRateLimit float64
	SendRateBurst int
	Logger        zerolog.Logger
}

// NewMessagingIntegration creates a messaging integration that can be embedded into efchat
func NewMessagingIntegration(config *Config) (*MessagingIntegration, error) {
	e := &MessagingIntegration{
		store:     config.Store,
		jwtSecret: config.JWTSecret,
		jwtIssuer: config.JWTIssuer,
		log:       config.Logger,
	}
	if err := e.ValidateSetup(config); err != nil {
		return nil, err
	}

	e.service = messaging.NewService(config.Store, config.Users, config.Logger)
	e.messageHandler = handlers.NewMessageHandler(e.service, config.Logger)
	e.sendLimiter = middleware.NewCallerRateLimiter(config.SendRateLimit, config.SendRateBurst)
	return e, nil
}

// RegisterRoutes adds the message routes to an existing router.
// If authMiddleware is nil, it will use the built-in JWT validation
func (e *MessagingIntegration) RegisterRoutes(router *mux.Router, authMiddleware func(http.Handler) http.Handler) {
	api := router.PathPrefix("/api/messages").Subrouter()

	if authMiddleware != nil {
		api.Use(authMiddleware)
	} else {
		api.Use(middleware.NewAuthMiddleware(e.jwtSecret, e.jwtIssuer))
	}

	h := e.messageHandler

	// "/conversations" must be matched before "/{userId}".
	api.HandleFunc("/conversations", h.GetConversations).Methods("GET")
	api.HandleFunc("", h.GetMessages).Methods("GET")
	api.HandleFunc("/{userId}", h.GetMessages).Methods("GET")
	api.Handle("", e.sendLimiter.Limit(http.HandlerFunc(h.SendMessage))).Methods("POST")
	api.HandleFunc("/{messageId}/read", h.MarkAsRead).Methods("PUT")
	api.HandleFunc("/{messageId}/delete-for-me", h.DeleteForMe).Methods("DELETE")
	api.HandleFunc("/{messageId}/delete-for-everyone", h.DeleteForEveryone).Methods("DELETE")
	api.HandleFunc("/users/{userId}", h.PurgeUser).Methods("DELETE")
}

// Service returns the messaging service for in-process callers
func (e *MessagingIntegration) Service() *messaging.Service {
	return e.service
}

// Health reports whether the message store is reachable.
func (e *MessagingIntegration) Health(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// CleanupUser removes every message a deleted user sent or received. The
// host calls it from its own user deletion flow with the acting admin.
func (e *MessagingIntegration) CleanupUser(ctx context.Context, admin models.Caller, userID int64) error {
	n, err := e.service.PurgeUser(ctx, admin, userID)
	if err != nil {
		return err
	}
	e.log.Info().Int64("user_id", userID).Int64("messages", n).Msg("cleaned up messages for deleted user")
	return nil
}

// ValidateSetup checks if the messaging module is properly configured
func (e *MessagingIntegration) ValidateSetup(config *Config) error {
	switch {
	case config.Store == nil:
		return &ValidationError{Message: "message store is not configured"}
	case config.Users == nil:
		return &ValidationError{Message: "user directory is not configured"}
	case config.JWTSecret == "":
		return &ValidationError{Message: "JWT secret is not configured"}
	case config.SendRateLimit <= 0 || config.SendRateBurst <= 0:
		return &ValidationError{Message: "send rate limit must be positive"}
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
