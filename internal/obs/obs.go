// Package obs carries Prometheus instrumentation for the ingestion and
// provider-fetch paths.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecordsUpserted counts canonical records written, by ingestion path.
	RecordsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calltrack_records_upserted_total",
		Help: "Call records written to the store, by ingestion source.",
	}, []string{"source"})

	// RecordsRejected counts payloads dropped during normalization.
	RecordsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calltrack_records_rejected_total",
		Help: "Payloads rejected during normalization, by reason.",
	}, []string{"reason"})

	// ProviderPages counts pages fetched from the upstream API.
	ProviderPages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calltrack_provider_pages_total",
		Help: "Pages fetched from the call-tracking provider.",
	})

	// ProviderRateLimited counts 429 responses that triggered a backoff.
	ProviderRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calltrack_provider_rate_limited_total",
		Help: "Rate-limit responses from the call-tracking provider.",
	})
)

// Handler returns the Prometheus exposition handler (mounted on /metricsz;
// /metrics/* is the domain aggregate namespace).
func Handler() http.Handler {
	return promhttp.Handler()
}
