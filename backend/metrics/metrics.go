// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efmsg_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "efmsg_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Messaging metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efmsg_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"kind"}, // "direct" or "broadcast"
	)

	MessagesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "efmsg_messages_marked_read_total",
			Help: "Total mark-read requests that succeeded",
		},
	)

	MessagesHidden = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "efmsg_messages_hidden_total",
			Help: "Total delete-for-me requests that succeeded",
		},
	)

	MessagesDestroyed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efmsg_messages_destroyed_total",
			Help: "Total messages removed for everyone",
		},
		[]string{"reason"}, // "sender", "admin" or "user_purge"
	)

	Denied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efmsg_authorization_denied_total",
			Help: "Operations refused by an authorization check",
		},
		[]string{"operation"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "efmsg_rate_limit_hits_total",
			Help: "Send requests rejected by the rate limiter",
		},
	)
)
