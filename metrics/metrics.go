package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pypeman_messages_processed_total",
			Help: "Messages handled per channel and final status",
		},
		[]string{"channel", "status"},
	)

	NodeProcessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pypeman_node_process_duration_seconds",
			Help:    "Node process call duration",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"channel", "node"},
	)

	ChannelStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pypeman_channel_state_changes_total",
			Help: "Channel lifecycle transitions",
		},
		[]string{"channel", "state"},
	)

	// Store metrics
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pypeman_store_errors_total",
			Help: "Message store operation failures",
		},
		[]string{"channel"},
	)

	// Replay metrics
	Replays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pypeman_replays_total",
			Help: "Messages replayed from a channel store",
		},
		[]string{"channel"},
	)
)
