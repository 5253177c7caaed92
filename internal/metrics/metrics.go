// Package metrics implements the fixed counter/histogram registry from
// spec.md §4.8: a bounded-cardinality label set emitted on every
// request-path branch, built on promauto the way the teacher's
// middleware.MetricsMiddleware registers its own HTTP metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TransactionPhase is the bounded label set for the route a request took.
type TransactionPhase string

const (
	PhaseBegin     TransactionPhase = "BEGIN"
	PhasePrepare   TransactionPhase = "PREPARE"
	PhaseCommit    TransactionPhase = "COMMIT"
	PhaseAbort     TransactionPhase = "ABORT"
	PhaseNotify    TransactionPhase = "NOTIFY"
	PhaseEnd       TransactionPhase = "END"
	PhaseGetStatus TransactionPhase = "GET_STATUS"
)

// OriginClass is the bounded label set for who is calling: an operator
// submitting a consume-budget request, or a peer coordinator.
type OriginClass string

const (
	OriginOperator    OriginClass = "OPERATOR"
	OriginCoordinator OriginClass = "COORDINATOR"
)

// keyBudgetBuckets is the 26-entry geometric series from spec.md §4.8:
// starts at 1.0, ratio ~1.5, capped at 25251.2.
func keyBudgetBuckets() []float64 {
	const (
		start = 1.0
		ratio = 1.5
		count = 26
	)
	buckets := make([]float64, count)
	v := start
	for i := range buckets {
		buckets[i] = v
		v *= ratio
	}
	return buckets
}

// exhaustedBuckets is the powers-of-two series 1..2048 from spec.md §4.8.
func exhaustedBuckets() []float64 {
	buckets := make([]float64, 0, 12)
	for v := 1.0; v <= 2048; v *= 2 {
		buckets = append(buckets, v)
	}
	return buckets
}

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbs_requests_total",
			Help: "Total number of inbound requests, by phase and caller class.",
		},
		[]string{"transaction_phase", "reporting_origin_class", "claimed_identity", "user_agent"},
	)

	clientErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbs_client_errors_total",
			Help: "Total number of requests that failed with a 4xx response.",
		},
		[]string{"transaction_phase", "reporting_origin_class"},
	)

	serverErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbs_server_errors_total",
			Help: "Total number of requests that failed with a 5xx response.",
		},
		[]string{"transaction_phase", "reporting_origin_class"},
	)

	keysPerTransaction = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pbs_keys_per_transaction",
			Help:    "Number of distinct (budget key, day, hour) triples per consume-budget request.",
			Buckets: keyBudgetBuckets(),
		},
	)

	successfulBudgetConsumed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pbs_successful_budget_consumed",
			Help:    "Number of budget hours successfully consumed per transaction.",
			Buckets: keyBudgetBuckets(),
		},
	)

	budgetExhausted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pbs_budget_exhausted",
			Help:    "Number of exhausted budget hours per failed transaction.",
			Buckets: exhaustedBuckets(),
		},
	)
)

// RequestLabels identifies one inbound request for the "requests" counter.
type RequestLabels struct {
	Phase           TransactionPhase
	OriginClass     OriginClass
	ClaimedIdentity string
	UserAgent       string
}

// RecordRequest increments the total-requests counter for one inbound call.
func RecordRequest(l RequestLabels) {
	requestsTotal.WithLabelValues(string(l.Phase), string(l.OriginClass), l.ClaimedIdentity, l.UserAgent).Inc()
}

// RecordClientError increments the 4xx counter for phase/class.
func RecordClientError(phase TransactionPhase, class OriginClass) {
	clientErrorsTotal.WithLabelValues(string(phase), string(class)).Inc()
}

// RecordServerError increments the 5xx counter for phase/class.
func RecordServerError(phase TransactionPhase, class OriginClass) {
	serverErrorsTotal.WithLabelValues(string(phase), string(class)).Inc()
}

// RecordKeysPerTransaction observes how many (budget key, day, hour)
// triples one consume-budget request touched.
func RecordKeysPerTransaction(n int) {
	keysPerTransaction.Observe(float64(n))
}

// RecordSuccessfulBudgetConsumed observes a successful transaction's
// consumed-hour count.
func RecordSuccessfulBudgetConsumed(n int) {
	successfulBudgetConsumed.Observe(float64(n))
}

// RecordBudgetExhausted observes a failed transaction's exhausted-hour
// count.
func RecordBudgetExhausted(n int) {
	budgetExhausted.Observe(float64(n))
}
