// Package metrics exposes the daemon's operational counters over
// Prometheus, grounded on the promhttp wiring in
// emiago-sipgo/cmd/proxysip/main.go. This is ambient instrumentation —
// spec.md never names metrics as a Non-goal, so it is carried
// regardless (SPEC_FULL.md §6.6).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CallsRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sipd",
		Name:      "calls_registered_total",
		Help:      "Distinct Call-IDs registered by the first INVITE seen for them.",
	})

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sipd",
		Name:      "calls_active",
		Help:      "Calls currently tracked in the registry.",
	})

	CallsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sipd",
		Name:      "calls_expired_total",
		Help:      "Calls evicted by the reaper due to lifetime expiry rather than BYE.",
	})

	CallsRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sipd",
		Name:      "calls_revoked_total",
		Help:      "Calls torn down explicitly by BYE.",
	})

	RTPStartFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sipd",
		Name:      "rtp_start_failures_total",
		Help:      "RTP engine start() attempts that failed or timed out.",
	})

	RTPStopSignals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sipd",
		Name:      "rtp_stop_signals_total",
		Help:      "RTP engine stop() signals sent while handling CANCEL (fire-and-forget); stops sent by the registry on BYE, expiry or eviction are not counted.",
	})

	ParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sipd",
		Name:      "parse_failures_total",
		Help:      "Datagrams dropped for failing signature check or parse.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sipd",
		Name:      "work_queue_depth",
		Help:      "Pending items in the router-to-worker queue.",
	})
)

// Serve starts a metrics HTTP listener on addr. Per SPEC_FULL.md §6.6
// this is only called when metrics.address is configured — there is no
// default listener, so operators aren't surprised by a new open port.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
