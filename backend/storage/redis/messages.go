// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efmsg/backend/apperrors"
	"github.com/efchatnet/efmsg/backend/models"
)

const (
	// Redis key layout (all under the store prefix)
	seqKey          = "msg:seq"        // INCR source for message ids
	messagePrefix   = "msg:"           // msg:{id} - hash with the message fields
	hiddenSuffix    = ":hidden"        // msg:{id}:hidden - set of user ids
	broadcastIndex  = "msgs:broadcast" // zset of broadcast ids by send time
	userIndexPrefix = "msgs:user:"     // msgs:user:{uid} - zset of ids uid sent or received
	pairIndexPrefix = "msgs:pair:"     // msgs:pair:{lo}:{hi} - zset of direct ids in a pair
)

// Scripts return -1 when the message hash is gone, so a mutation can never
// recreate keys for a destroyed message.
var (
	markReadScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'read_status') == '1' then return 0 end
redis.call('HSET', KEYS[1], 'read_status', '1', 'read_timestamp', ARGV[1])
return 1
`)

	hideScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
return redis.call('SADD', KEYS[2], ARGV[1])
`)

	destroyScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('DEL', KEYS[1], KEYS[2])
for i = 3, #KEYS do
	redis.call('ZREM', KEYS[i], ARGV[1])
end
return 1
`)
)

// MessageStore keeps messages in Redis. Multi-key scripts assume a single
// Redis node, not a cluster.
type MessageStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

type Option func(*MessageStore)

// WithPrefix namespaces every key, e.g. to share a Redis database.
func WithPrefix(prefix string) Option {
	return func(s *MessageStore) { s.prefix = prefix }
}

func WithClock(now func() time.Time) Option {
	return func(s *MessageStore) { s.now = now }
}

func NewMessageStore(rdb *redis.Client, opts ...Option) *MessageStore {
	s := &MessageStore{
		rdb:    rdb,
		prefix: "efmsg:",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// URL and verifies the connection.
func Open(ctx context.Context, redisURL string, opts ...Option) (*MessageStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(options)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, apperrors.Unavailable(err)
	}
	return NewMessageStore(rdb, opts...), nil
}

func (s *MessageStore) Client() *redis.Client {
	return s.rdb
}

func (s *MessageStore) Prefix() string {
	return s.prefix
}

func (s *MessageStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return apperrors.Unavailable(err)
	}
	return nil
}

func (s *MessageStore) Close() error {
	return s.rdb.Close()
}

func (s *MessageStore) messageKey(id int64) string {
	return s.prefix + messagePrefix + strconv.FormatInt(id, 10)
}

func (s *MessageStore) hiddenKey(id int64) string {
	return s.messageKey(id) + hiddenSuffix
}

func (s *MessageStore) userIndex(uid int64) string {
	return s.prefix + userIndexPrefix + strconv.FormatInt(uid, 10)
}

func (s *MessageStore) pairIndex(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s%s%d:%d", s.prefix, pairIndexPrefix, a, b)
}

// indexKeys lists every sorted set that references m.
func (s *MessageStore) indexKeys(m *models.Message) []string {
	if m.IsBroadcast {
		return []string{s.prefix + broadcastIndex, s.userIndex(m.SenderID)}
	}
	keys := []string{s.userIndex(m.SenderID), s.pairIndex(m.SenderID, *m.RecipientID)}
	if *m.RecipientID != m.SenderID {
		keys = append(keys, s.userIndex(*m.RecipientID))
	}
	return keys
}

// classify treats anything that is not a reply from the server as the
// server being unreachable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return err
	}
	return apperrors.Unavailable(err)
}

func (s *MessageStore) CreateMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	msg = msg.Normalize()
	if problem := msg.Validate(); problem != "" {
		return nil, apperrors.Validation("%s", problem)
	}

	id, err := s.rdb.Incr(ctx, s.prefix+seqKey).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate message id: %w", classify(err))
	}

	m := &models.Message{
		ID:             id,
		Content:        msg.Content,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		IsBroadcast:    msg.IsBroadcast,
		AttachmentPath: msg.AttachmentPath,
		AttachmentType: msg.AttachmentType,
		DeletedFor:     models.NewUserSet(),
		Timestamp:      s.now().UTC(),
	}

	score := float64(m.Timestamp.UnixMicro())
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.messageKey(id), encodeMessage(m))
		for _, key := range s.indexKeys(m) {
			pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: id})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store message %d: %w", id, classify(err))
	}
	return m, nil
}

func (s *MessageStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	messages, err := s.load(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, apperrors.NotFound("message %d", id)
	}
	return &messages[0], nil
}

func (s *MessageStore) MarkRead(ctx context.Context, id int64, caller models.Caller) error {
	m, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if !models.CanMarkRead(caller, m) {
		return apperrors.Forbidden("not authorized to mark message %d as read", id)
	}

	res, err := markReadScript.Run(ctx, s.rdb,
		[]string{s.messageKey(id)},
		s.now().UTC().Format(time.RFC3339Nano)).Int64()
	if err != nil {
		return fmt.Errorf("mark message %d read: %w", id, classify(err))
	}
	if res < 0 {
		return apperrors.NotFound("message %d", id)
	}
	return nil
}

func (s *MessageStore) HideMessage(ctx context.Context, id int64, userID int64) error {
	if userID <= 0 {
		return apperrors.Validation("user id must be positive")
	}

	res, err := hideScript.Run(ctx, s.rdb,
		[]string{s.messageKey(id), s.hiddenKey(id)},
		userID).Int64()
	if err != nil {
		return fmt.Errorf("hide message %d: %w", id, classify(err))
	}
	if res < 0 {
		return apperrors.NotFound("message %d", id)
	}
	return nil
}

func (s *MessageStore) DestroyMessage(ctx context.Context, id int64, caller models.Caller) error {
	m, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if !models.CanDestroy(caller, m) {
		return apperrors.Forbidden("only the sender or an admin can delete message %d for everyone", id)
	}

	gone, err := s.destroy(ctx, m)
	if err != nil {
		return err
	}
	if !gone {
		return apperrors.NotFound("message %d", id)
	}
	return nil
}

// destroy removes m and its index entries atomically. It reports false if
// someone else removed it first.
func (s *MessageStore) destroy(ctx context.Context, m *models.Message) (bool, error) {
	keys := append([]string{s.messageKey(m.ID), s.hiddenKey(m.ID)}, s.indexKeys(m)...)
	res, err := destroyScript.Run(ctx, s.rdb, keys, m.ID).Int64()
	if err != nil {
		return false, fmt.Errorf("destroy message %d: %w", m.ID, classify(err))
	}
	return res > 0, nil
}

func (s *MessageStore) DestroyMessagesInvolving(ctx context.Context, userID int64) (int64, error) {
	ids, err := s.indexMembers(ctx, s.userIndex(userID))
	if err != nil {
		return 0, err
	}
	messages, err := s.load(ctx, ids)
	if err != nil {
		return 0, err
	}

	var destroyed int64
	for i := range messages {
		gone, err := s.destroy(ctx, &messages[i])
		if err != nil {
			return destroyed, err
		}
		if gone {
			destroyed++
		}
	}

	return destroyed, nil
}

func (s *MessageStore) MessagesForUser(ctx context.Context, userID int64) ([]models.Message, error) {
	return s.loadIndexes(ctx, s.prefix+broadcastIndex, s.userIndex(userID))
}

func (s *MessageStore) MessagesBetween(ctx context.Context, userID, otherID int64) ([]models.Message, error) {
	return s.loadIndexes(ctx, s.prefix+broadcastIndex, s.pairIndex(userID, otherID))
}

func (s *MessageStore) loadIndexes(ctx context.Context, keys ...string) ([]models.Message, error) {
	seen := make(map[int64]bool)
	var ids []int64
	for _, key := range keys {
		members, err := s.indexMembers(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	messages, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].Before(&messages[j]) })
	return messages, nil
}

func (s *MessageStore) indexMembers(ctx context.Context, key string) ([]int64, error) {
	members, err := s.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", key, classify(err))
	}

	ids := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue // Not ours
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// load fetches messages with their hidden sets in one round trip. Ids whose
// hash has disappeared are skipped.
func (s *MessageStore) load(ctx context.Context, ids []int64) ([]models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	fields := make([]*redis.MapStringStringCmd, len(ids))
	hidden := make([]*redis.StringSliceCmd, len(ids))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			fields[i] = pipe.HGetAll(ctx, s.messageKey(id))
			hidden[i] = pipe.SMembers(ctx, s.hiddenKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", classify(err))
	}

	messages := make([]models.Message, 0, len(ids))
	for i, id := range ids {
		values := fields[i].Val()
		if len(values) == 0 {
			continue
		}
		m, err := decodeMessage(id, values, hidden[i].Val())
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, nil
}
