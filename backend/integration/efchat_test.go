package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efmsg/backend/middleware"
	"github.com/efchatnet/efmsg/backend/models"
	"github.com/efchatnet/efmsg/backend/storage/sqlstore"
)

const secret = "integration-secret"

type fixture struct {
	t      *testing.T
	router *mux.Router
	store  *sqlstore.Store
	mi     *MessagingIntegration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlstore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	_, err = store.DB().ExecContext(ctx, `INSERT INTO users (id, username, role) VALUES
		(1, 'ada', 'student'), (2, 'mr_b', 'teacher'), (9, 'root', 'admin')`)
	require.NoError(t, err)

	mi, err := NewMessagingIntegration(&Config{
		Store:         store,
		Users:         sqlstore.NewDirectory(store.DB()),
		JWTSecret:     secret,
		JWTIssuer:     "efchat",
		SendRateLimit: 100,
		SendRateBurst: 100,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)

	router := mux.NewRouter()
	mi.RegisterRoutes(router, nil)
	return &fixture{t: t, router: router, store: store, mi: mi}
}

func token(t *testing.T, userID int64, role string) string {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "efchat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func (f *fixture) do(method, path, tok, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type sendResponse struct {
	Message string             `json:"message"`
	Data    models.MessageView `json:"data"`
}

func TestMessageFlowOverHTTP(t *testing.T) {
	f := newFixture(t)
	ada, bee := token(t, 1, "student"), token(t, 2, "teacher")

	rec := f.do(http.MethodPost, "/api/messages", ada, `{"content":"hi","recipient_id":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	hi := decode[sendResponse](t, rec).Data
	assert.Equal(t, "ada", hi.SenderUsername)
	require.NotNil(t, hi.Recipient)
	assert.Equal(t, "mr_b", hi.Recipient.Username)

	rec = f.do(http.MethodPost, "/api/messages", bee, `{"content":"hello all","is_broadcast":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/messages", ada, "")
	require.Equal(t, http.StatusOK, rec.Code)
	feed := decode[[]models.MessageView](t, rec)
	require.Len(t, feed, 2)
	assert.Equal(t, "hi", feed[0].Content)
	assert.Equal(t, "hello all", feed[1].Content)

	rec = f.do(http.MethodGet, "/api/messages/conversations", ada, "")
	require.Equal(t, http.StatusOK, rec.Code)
	conversations := decode[[]models.ConversationView](t, rec)
	require.Len(t, conversations, 1)
	assert.Equal(t, int64(2), conversations[0].Counterparty.ID)
	assert.Equal(t, "hi", conversations[0].LastMessage.Content)

	read := fmt.Sprintf("/api/messages/%d/read", hi.ID)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPut, read, ada, "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPut, read, bee, "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPut, read, bee, "").Code)

	rec = f.do(http.MethodDelete, fmt.Sprintf("/api/messages/%d/delete-for-me", hi.ID), ada, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/api/messages/2", ada, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.MessageView](t, rec), 1)

	everyone := fmt.Sprintf("/api/messages/%d/delete-for-everyone", hi.ID)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodDelete, everyone, bee, "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodDelete, everyone, ada, "").Code)
	rec = f.do(http.MethodDelete, everyone, ada, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "not found")
}

func TestValidationAndAuthErrors(t *testing.T) {
	f := newFixture(t)
	ada := token(t, 1, "student")

	cases := []struct {
		name, method, path, tok, body string
		status                        int
	}{
		{"no token", http.MethodGet, "/api/messages", "", "", http.StatusUnauthorized},
		{"empty content", http.MethodPost, "/api/messages", ada, `{"content":"","is_broadcast":true}`, http.StatusBadRequest},
		{"no recipient", http.MethodPost, "/api/messages", ada, `{"content":"hi"}`, http.StatusBadRequest},
		{"unknown recipient", http.MethodPost, "/api/messages", ada, `{"content":"hi","recipient_id":55}`, http.StatusNotFound},
		{"bad json", http.MethodPost, "/api/messages", ada, `{`, http.StatusBadRequest},
		{"bad user id", http.MethodGet, "/api/messages/abc", ada, "", http.StatusBadRequest},
		{"bad message id", http.MethodPut, "/api/messages/0/read", ada, "", http.StatusBadRequest},
		{"missing message", http.MethodDelete, "/api/messages/999/delete-for-me", ada, "", http.StatusNotFound},
		{"purge as student", http.MethodDelete, "/api/messages/users/2", ada, "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(tc.method, tc.path, tc.tok, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]any](t, rec)["error"])
		})
	}
}

func TestPurgeAndCleanupUser(t *testing.T) {
	f := newFixture(t)
	ada, bee, root := token(t, 1, "student"), token(t, 2, "teacher"), token(t, 9, "admin")

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/messages", ada, `{"content":"a","recipient_id":2}`).Code)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/messages", bee, `{"content":"b","recipient_id":1}`).Code)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/messages", bee, `{"content":"c","recipient_id":9}`).Code)

	rec := f.do(http.MethodDelete, "/api/messages/users/1", root, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["deleted"])

	admin := models.Caller{ID: 9, Role: models.RoleAdmin}
	require.NoError(t, f.mi.CleanupUser(context.Background(), admin, 2))

	rec = f.do(http.MethodGet, "/api/messages", root, "")
	assert.Empty(t, decode[[]models.MessageView](t, rec))
	assert.NoError(t, f.mi.Health(context.Background()))
}

func TestSendIsRateLimited(t *testing.T) {
	f := newFixture(t)
	f.mi.sendLimiter = middleware.NewCallerRateLimiter(0.001, 1)
	f.router = mux.NewRouter()
	f.mi.RegisterRoutes(f.router, nil)
	ada := token(t, 1, "student")

	assert.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/messages", ada, `{"content":"1","is_broadcast":true}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "/api/messages", ada, `{"content":"2","is_broadcast":true}`).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/messages", ada, "").Code)
}

func TestNewMessagingIntegrationValidates(t *testing.T) {
	_, err := NewMessagingIntegration(&Config{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "message store is not configured", verr.Message)
}
