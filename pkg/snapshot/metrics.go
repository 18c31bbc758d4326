package snapshot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations tracks store operations by outcome
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircall_snapshot_operations_total",
			Help: "Total number of snapshot store operations",
		},
		[]string{"operation", "status"}, // "save", "get", "delete" / "ok", "miss", "error"
	)

	// Size tracks the encoded size of the last saved snapshot
	Size = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aircall_snapshot_size_bytes",
			Help: "Encoded size of the last saved snapshot in bytes",
		},
		[]string{"dataset"},
	)
)
