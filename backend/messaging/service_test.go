package messaging

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efmsg/backend/apperrors"
	"github.com/efchatnet/efmsg/backend/models"
	"github.com/efchatnet/efmsg/backend/storage/sqlstore"
)

var (
	userA = models.Caller{ID: 1, Role: models.RoleStudent}
	userB = models.Caller{ID: 2, Role: models.RoleTeacher}
	userC = models.Caller{ID: 3, Role: models.RoleStudent}
	root  = models.Caller{ID: 9, Role: models.RoleAdmin}
)

type mapDirectory map[int64]models.UserSummary

func (d mapDirectory) LookupUsers(_ context.Context, ids []int64) (map[int64]models.UserSummary, error) {
	out := make(map[int64]models.UserSummary)
	for _, id := range ids {
		if u, ok := d[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func newTestService(t *testing.T) (*Service, *sqlstore.Store) {
	t.Helper()
	ctx := context.Background()

	var tick atomic.Int64
	clock := func() time.Time { return t0.Add(time.Duration(tick.Add(1)) * time.Minute) }

	store, err := sqlstore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "svc.db"), sqlstore.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	users := mapDirectory{
		1: {ID: 1, Username: "ada", Role: "student"},
		2: {ID: 2, Username: "mr_b", Role: "teacher", OnlineStatus: true},
		3: {ID: 3, Username: "cy", Role: "student"},
		9: {ID: 9, Username: "root", Role: "admin"},
	}
	return NewService(store, users, zerolog.Nop()), store
}

func contents(views []models.MessageView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Content
	}
	return out
}

func TestScenarioFeedAndConversations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	hi, err := svc.Send(ctx, userA, SendInput{Content: "hi", RecipientID: int64p(userB.ID)})
	require.NoError(t, err)
	assert.Equal(t, "ada", hi.SenderUsername)
	require.NotNil(t, hi.Recipient)
	assert.Equal(t, "mr_b", hi.Recipient.Username)

	_, err = svc.Send(ctx, userB, SendInput{Content: "hello all", IsBroadcast: true})
	require.NoError(t, err)

	feed, err := svc.ListAll(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hello all"}, contents(feed))

	conversations, err := svc.ListConversations(ctx, userA)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, userB.ID, conversations[0].Counterparty.ID)
	assert.Equal(t, "mr_b", conversations[0].Counterparty.Username)
	assert.Equal(t, "hi", conversations[0].LastMessage.Content)
}

func TestScenarioDeleteForMe(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	hi, err := svc.Send(ctx, userA, SendInput{Content: "hi", RecipientID: int64p(userB.ID)})
	require.NoError(t, err)
	_, err = svc.Send(ctx, userB, SendInput{Content: "hello all", IsBroadcast: true})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteForMe(ctx, userA, hi.ID))
	require.NoError(t, svc.DeleteForMe(ctx, userA, hi.ID))

	feedA, err := svc.ListAll(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello all"}, contents(feedA))

	feedB, err := svc.ListWith(ctx, userB, userA.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hello all"}, contents(feedB))

	conversations, err := svc.ListConversations(ctx, userA)
	require.NoError(t, err)
	assert.Empty(t, conversations)

	// Any user may hide a broadcast for themself.
	require.NoError(t, svc.DeleteForMe(ctx, userC, feedB[1].ID))
	feedC, err := svc.ListAll(ctx, userC)
	require.NoError(t, err)
	assert.Empty(t, feedC)
}

func TestScenarioDeleteForEveryone(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	hi, err := svc.Send(ctx, userA, SendInput{Content: "hi", RecipientID: int64p(userB.ID)})
	require.NoError(t, err)

	err = svc.DeleteForEveryone(ctx, userB, hi.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = store.GetMessage(ctx, hi.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteForEveryone(ctx, userA, hi.ID))

	for _, c := range []models.Caller{userA, userB} {
		feed, err := svc.ListAll(ctx, c)
		require.NoError(t, err)
		assert.NotContains(t, contents(feed), "hi")
	}
	_, err = store.GetMessage(ctx, hi.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteForEveryone(ctx, userA, hi.ID), apperrors.ErrNotFound)
}

func TestScenarioMarkRead(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	hi, err := svc.Send(ctx, userA, SendInput{Content: "hi", RecipientID: int64p(userB.ID)})
	require.NoError(t, err)
	assert.False(t, hi.ReadStatus)

	require.NoError(t, svc.MarkRead(ctx, userB, hi.ID))
	first, err := store.GetMessage(ctx, hi.ID)
	require.NoError(t, err)
	assert.True(t, first.ReadStatus)
	require.NotNil(t, first.ReadTimestamp)

	require.NoError(t, svc.MarkRead(ctx, userB, hi.ID))
	second, err := store.GetMessage(ctx, hi.ID)
	require.NoError(t, err)
	assert.True(t, second.ReadStatus)
	assert.True(t, first.ReadTimestamp.Equal(*second.ReadTimestamp))

	assert.ErrorIs(t, svc.MarkRead(ctx, userA, hi.ID), apperrors.ErrForbidden)
}

func TestAdminDeletesForEveryone(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Send(ctx, userC, SendInput{Content: "off topic", IsBroadcast: true})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteForEveryone(ctx, root, m.ID))
	feed, err := svc.ListAll(ctx, userA)
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestSendValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Send(ctx, userA, SendInput{Content: "", IsBroadcast: true})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Send(ctx, userA, SendInput{Content: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Send(ctx, userA, SendInput{Content: "hi", RecipientID: int64p(404)})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.Send(ctx, models.Caller{}, SendInput{Content: "hi", IsBroadcast: true})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	view, err := svc.Send(ctx, userA, SendInput{Content: "all", IsBroadcast: true, RecipientID: int64p(userB.ID)})
	require.NoError(t, err)
	assert.Nil(t, view.RecipientID)
	assert.Nil(t, view.Recipient)
}

func TestUnknownUsersDecorateAsUnknown(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// Written straight to the store: the sender is not in the directory.
	_, err := store.CreateMessage(ctx, models.NewMessage{Content: "ghost", SenderID: 77, RecipientID: int64p(userA.ID)})
	require.NoError(t, err)

	feed, err := svc.ListAll(ctx, userA)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "Unknown", feed[0].SenderUsername)
	assert.Equal(t, "user", feed[0].SenderRole)

	conversations, err := svc.ListConversations(ctx, userA)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, int64(77), conversations[0].Counterparty.ID)
	assert.Equal(t, "Unknown", conversations[0].Counterparty.Username)
}

func TestPurgeUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Send(ctx, userA, SendInput{Content: "a->b", RecipientID: int64p(userB.ID)})
	require.NoError(t, err)
	hidden, err := svc.Send(ctx, userC, SendInput{Content: "c->a", RecipientID: int64p(userA.ID)})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteForMe(ctx, userC, hidden.ID))
	_, err = svc.Send(ctx, userB, SendInput{Content: "b->c", RecipientID: int64p(userC.ID)})
	require.NoError(t, err)

	_, err = svc.PurgeUser(ctx, userB, userA.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	n, err := svc.PurgeUser(ctx, root, userA.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	feedC, err := svc.ListAll(ctx, userC)
	require.NoError(t, err)
	assert.Equal(t, []string{"b->c"}, contents(feedC))
}

func TestIDValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.MarkRead(ctx, userA, 0), apperrors.ErrValidation)
	assert.ErrorIs(t, svc.DeleteForMe(ctx, userA, -1), apperrors.ErrValidation)
	assert.ErrorIs(t, svc.DeleteForEveryone(ctx, userA, 0), apperrors.ErrValidation)
	_, err := svc.ListWith(ctx, userA, 0)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.ErrorIs(t, svc.DeleteForMe(ctx, userA, 12345), apperrors.ErrNotFound)
}
