package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	ParticipantsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collabdocs_participants_active",
			Help: "Participants currently joined to a room",
		},
	)

	// Relay metrics
	DeltasRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collabdocs_deltas_relayed_total",
			Help: "Edit deltas relayed to room members",
		},
	)

	CursorsRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collabdocs_cursors_relayed_total",
			Help: "Cursor updates relayed to room members",
		},
	)

	RelayDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collabdocs_relay_drops_total",
			Help: "Relay deliveries dropped because the target connection was gone",
		},
	)

	// Persistence metrics
	SavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabdocs_saves_total",
			Help: "Document saves by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: "auto" or "manual"
	)

	// AI proxy metrics
	EnhanceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabdocs_enhance_requests_total",
			Help: "AI text-enhancement requests by outcome",
		},
		[]string{"outcome"},
	)
)
