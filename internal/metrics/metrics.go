// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeSuccess    = "success"
	OutcomeBadRequest = "bad_request"
	OutcomeFailure    = "failure"
	OutcomeAborted    = "aborted"
)

// Operation label values.
const (
	OperationUpload   = "upload"
	OperationDownload = "download"
)

var (
	transfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driverelay",
			Subsystem: "relay",
			Name:      "transfers_total",
			Help:      "Total number of upload and download requests by outcome",
		},
		[]string{"operation", "outcome"},
	)

	transferBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driverelay",
			Subsystem: "relay",
			Name:      "transfer_bytes_total",
			Help:      "Total number of file bytes relayed",
		},
		[]string{"operation"},
	)

	tokenRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driverelay",
			Subsystem: "auth",
			Name:      "token_requests_total",
			Help:      "Total number of token handshakes with the issuer",
		},
		[]string{"scope", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		transfersTotal,
		transferBytesTotal,
		tokenRequestsTotal,
	)
}

// ObserveTransfer counts one finished transfer.
func ObserveTransfer(operation, outcome string) {
	transfersTotal.WithLabelValues(operation, outcome).Inc()
}

// AddTransferBytes records n relayed bytes.
func AddTransferBytes(operation string, n int64) {
	if n <= 0 {
		return
	}
	transferBytesTotal.WithLabelValues(operation).Add(float64(n))
}

// ObserveTokenRequest counts one handshake with the token issuer.
func ObserveTokenRequest(scope, outcome string) {
	tokenRequestsTotal.WithLabelValues(scope, outcome).Inc()
}
