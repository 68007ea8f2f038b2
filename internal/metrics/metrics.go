package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricsEndpoint = "0.0.0.0:9090"
)

var (
	RecordsCounter *prometheus.CounterVec

	RunCounter        *prometheus.CounterVec
	RunRunTimeSummary *prometheus.SummaryVec

	SiteLookupCounter *prometheus.CounterVec

	NetboxRequestErrorCount *prometheus.CounterVec
)

func init() {
	RecordsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nbsync_records_reconciled",
			Help: "A counter metric to measure the total count of device records reconciled, successful and failed",
		},
		[]string{"action", "outcome"}, // action is create/update/none, outcome is success/validation_error/transport_error
	)

	RunCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nbsync_runs",
			Help: "A counter metric to measure the total count of reconciliation runs",
		},
		[]string{"status"},
	)

	RunRunTimeSummary = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "nbsync_run_duration_seconds",
			Help: "A summary metric to measure the total time spent in completing each reconciliation run",
		},
		[]string{"status"},
	)

	SiteLookupCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nbsync_site_lookups",
			Help: "A counter metric to measure site resolutions by result - cache_hit, found, fallback, error",
		},
		[]string{"result"},
	)

	NetboxRequestErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nbsync_netbox_request_errors",
			Help: "A counter metric to measure the total count of errors in requests to the NetBox API.",
		},
		[]string{"collection", "method", "kind"},
	)
}

// ListenAndServe exposes prometheus metrics as /metrics
func ListenAndServe(addr string) {
	if addr == "" {
		addr = MetricsEndpoint
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 2 * time.Second, // nolint:gomnd // time duration value is clear as is.
		}

		if err := server.ListenAndServe(); err != nil {
			log.Println(err)
		}
	}()
}
