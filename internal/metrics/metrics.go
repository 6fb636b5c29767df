// Package metrics defines the server's prometheus counters.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SyncCalls       prometheus.Counter
	RecordsApplied  prometheus.Counter
	OwnershipSkips  prometheus.Counter
	StreamsStarted  prometheus.Counter
	StreamsFinished prometheus.Counter
	StreamsCanceled prometheus.Counter
	StreamsFailed   prometheus.Counter
	LiveDeltas      prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

// Global returns the process-wide metrics set, registering it on first use.
func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			SyncCalls: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "wirechat",
				Name:      "sync_calls_total",
				Help:      "Total sync endpoint calls",
			}),
			RecordsApplied: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "wirechat",
				Name:      "sync_records_applied_total",
				Help:      "Total client changes applied to the record store",
			}),
			OwnershipSkips: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "wirechat",
				Name:      "sync_ownership_skips_total",
				Help:      "Total sync changes skipped due to ownership mismatch or missing record",
			}),
			StreamsStarted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "wirechat",
				Name:      "streams_started_total",
				Help:      "Total generation streams started",
			}),
			StreamsFinished: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "wirechat",
				Name:      "streams_finished_total",
				Help:      "Total generation streams finished normally",
			}),
			StreamsCanceled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "wirechat",
				Name:      "streams_canceled_total",
				Help:      "Total generation streams canceled by the user",
			}),
			StreamsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "wirechat",
				Name:      "streams_failed_total",
				Help:      "Total generation streams finalized with a provider error",
			}),
			LiveDeltas: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "wirechat",
				Name:      "live_deltas_total",
				Help:      "Total non-empty deltas pushed over live subscriptions",
			}),
		}
		prometheus.MustRegister(
			global.SyncCalls, global.RecordsApplied, global.OwnershipSkips,
			global.StreamsStarted, global.StreamsFinished, global.StreamsCanceled,
			global.StreamsFailed, global.LiveDeltas,
		)
	})
	return global
}
