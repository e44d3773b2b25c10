package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_store_appends_total",
		Help: "Messages appended to the local log.",
	})
	dedupHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_store_dedup_hits_total",
		Help: "Appends skipped because the message id already existed.",
	})
	readMarkedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_store_read_marked_total",
		Help: "Messages flipped to read by MarkRead.",
	})
	evictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_store_evicted_total",
		Help: "Messages removed by retention eviction.",
	})
	pendingProtectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_store_pending_protected_total",
		Help: "Expired messages skipped by eviction because they were still pending sync.",
	})
)
