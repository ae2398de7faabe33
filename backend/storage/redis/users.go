// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efmsg/backend/models"
)

const userPrefix = "user:" // user:{id} - hash written by the efchat user service

// Directory reads user display data that efchat mirrors into Redis.
type Directory struct {
	rdb    *redis.Client
	prefix string
}

func NewDirectory(rdb *redis.Client, prefix string) *Directory {
	return &Directory{rdb: rdb, prefix: prefix}
}

func (d *Directory) userKey(id int64) string {
	return d.prefix + userPrefix + strconv.FormatInt(id, 10)
}

// PutUser writes or replaces a user's summary.
func (d *Directory) PutUser(ctx context.Context, u models.UserSummary) error {
	fields := map[string]interface{}{
		"username":      u.Username,
		"role":          u.Role,
		"online_status": boolField(u.OnlineStatus),
	}
	if u.ProfilePicture != nil {
		fields["profile_picture"] = *u.ProfilePicture
	}
	if err := d.rdb.HSet(ctx, d.userKey(u.ID), fields).Err(); err != nil {
		return fmt.Errorf("put user %d: %w", u.ID, classify(err))
	}
	return nil
}

func (d *Directory) LookupUsers(ctx context.Context, ids []int64) (map[int64]models.UserSummary, error) {
	out := make(map[int64]models.UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	seen := make(map[int64]bool, len(ids))
	var unique []int64
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	cmds := make([]*redis.MapStringStringCmd, len(unique))
	_, err := d.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range unique {
			cmds[i] = pipe.HGetAll(ctx, d.userKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lookup users: %w", classify(err))
	}

	for i, id := range unique {
		values := cmds[i].Val()
		if len(values) == 0 {
			continue
		}
		u := models.UserSummary{
			ID:           id,
			Username:     values["username"],
			Role:         values["role"],
			OnlineStatus: values["online_status"] == "1",
		}
		if pic, ok := values["profile_picture"]; ok {
			u.ProfilePicture = &pic
		}
		out[id] = u
	}
	return out, nil
}
