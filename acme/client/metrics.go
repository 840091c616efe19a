package client

import "github.com/prometheus/client_golang/prometheus"

// clientMetrics tracks transport-level activity: every signed request, every
// transient-failure retry and every explicit newNonce refresh.
type clientMetrics struct {
	signedRequests *prometheus.CounterVec
	retries        prometheus.Counter
	nonceRefreshes prometheus.Counter
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	m := &clientMetrics{
		signedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acme_signed_requests",
			Help: "Signed ACME requests sent, by HTTP response code.",
		}, []string{"code"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acme_request_retries",
			Help: "Signed ACME requests retried after a transient failure.",
		}),
		nonceRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acme_nonce_refreshes",
			Help: "Explicit fetches from the newNonce endpoint.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.signedRequests, m.retries, m.nonceRefreshes)
	}
	return m
}
