package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the mcdrop collectors. Each Metrics registers against its own
// Registerer so services built in tests do not collide on the default registry.
type Metrics struct {
	SessionsCreated  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	ChunksAccepted   prometheus.Counter
	ChunkBytes       prometheus.Counter
	SweepExpired     prometheus.Counter
	FilesReclaimed   prometheus.Counter
	OrphansReaped    prometheus.Counter
	PathViolations   prometheus.Counter

	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcdrop_sessions_created_total",
			Help: "Total number of transfer sessions created",
		}),

		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcdrop_sessions_finished_total",
			Help: "Total number of transfer sessions that reached a terminal status",
		}, []string{"status"}),

		ChunksAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcdrop_chunks_accepted_total",
			Help: "Total number of distinct chunks accepted",
		}),

		ChunkBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcdrop_chunk_bytes_total",
			Help: "Total bytes of accepted chunks",
		}),

		SweepExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcdrop_sweep_expired_total",
			Help: "Total number of sessions expired by the sweeper",
		}),

		FilesReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcdrop_files_reclaimed_total",
			Help: "Total number of completed files removed after their retention window",
		}),

		OrphansReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcdrop_orphans_reaped_total",
			Help: "Total number of staging entries removed that belonged to no session",
		}),

		PathViolations: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcdrop_path_violations_total",
			Help: "Total number of staging paths rejected for escaping the temp root",
		}),

		APIRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcdrop_api_requests_total",
			Help: "Total number of API requests",
		}, []string{"method", "endpoint", "status"}),

		APIRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcdrop_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// NewUnregistered returns Metrics backed by a private registry that nothing scrapes.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
