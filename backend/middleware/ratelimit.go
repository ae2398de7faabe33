// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/efchatnet/efmsg/backend/metrics"
)

const limiterIdleTTL = 3 * time.Minute

// CallerRateLimiter keeps one token bucket per authenticated caller.
type CallerRateLimiter struct {
	mu        sync.Mutex
	callers   map[int64]*limiterEntry
	r         rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewCallerRateLimiter allows perSecond requests per caller with the given
// burst.
func NewCallerRateLimiter(perSecond float64, burst int) *CallerRateLimiter {
	return &CallerRateLimiter{
		callers: make(map[int64]*limiterEntry),
		r:       rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow reports whether the caller may make another request now.
func (rl *CallerRateLimiter) Allow(callerID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > time.Minute {
		for id, entry := range rl.callers {
			if now.Sub(entry.lastSeen) > limiterIdleTTL {
				delete(rl.callers, id)
			}
		}
		rl.lastSweep = now
	}

	entry, ok := rl.callers[callerID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.callers[callerID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Limit wraps a handler that runs behind the auth middleware.
func (rl *CallerRateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !rl.Allow(caller.ID) {
			metrics.RateLimitHits.Inc()
			retry := time.Duration(float64(time.Second) / float64(rl.r))
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
