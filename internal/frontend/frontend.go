// Package frontend implements the FrontEnd route table from spec.md §4.7:
// the chi-routed HTTP surface, per-request metric emission, and auth
// extraction ahead of ConsumeBudgetService.
package frontend

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/privacysandbox/pbs-go/internal/auth"
	"github.com/privacysandbox/pbs-go/internal/config"
	_ "github.com/privacysandbox/pbs-go/internal/docs"
	"github.com/privacysandbox/pbs-go/internal/idempotency"
	"github.com/privacysandbox/pbs-go/internal/metrics"
	"github.com/privacysandbox/pbs-go/internal/pbserrors"
	"github.com/privacysandbox/pbs-go/internal/ratelimit"
	"github.com/privacysandbox/pbs-go/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

const (
	headerTransactionID     = "x-gscp-transaction-id"
	headerTransactionSecret = "x-gscp-transaction-secret"
	headerClaimedIdentity   = "x-gscp-claimed-identity"
	headerTransactionOrigin = "x-gscp-transaction-origin"
	headerAuthToken         = "x-auth-token"
)

// FrontEnd owns the route table and the per-request metric/origin-class
// bookkeeping around ConsumeBudgetService. Rate limiting and idempotency
// are optional: a FrontEnd built via New runs without them, which keeps
// the unit tests in this package free of a Redis dependency.
type FrontEnd struct {
	svc     *service.Service
	phase   config.MigrationPhase
	logger  *zap.Logger
	limiter ratelimit.Limiter
	idem    *idempotency.Tracker
	rlCfg   config.RateLimitConfig
	opAuth  *auth.OperatorAuthenticator
}

func New(svc *service.Service, phase config.MigrationPhase, logger *zap.Logger) *FrontEnd {
	return &FrontEnd{svc: svc, phase: phase, logger: logger}
}

// WithRateLimit enables per-identity throughput throttling on the
// transaction routes, grounded on the teacher's Redis fixed-window
// limiter middleware.
func (f *FrontEnd) WithRateLimit(limiter ratelimit.Limiter, cfg config.RateLimitConfig) *FrontEnd {
	if cfg.Enabled {
		f.limiter = limiter
		f.rlCfg = cfg
	}
	return f
}

// WithIdempotency enables transaction-id deduplication on consume-budget
// calls, so a client retry after a timeout doesn't re-consume budget that
// already committed.
func (f *FrontEnd) WithIdempotency(tracker *idempotency.Tracker) *FrontEnd {
	f.idem = tracker
	return f
}

// WithOperatorAuth enables bearer-token enforcement on the transaction
// routes for ordinary operator callers (coordinator-to-coordinator calls
// carry x-auth-token instead and skip this check).
func (f *FrontEnd) WithOperatorAuth(authenticator *auth.OperatorAuthenticator) *FrontEnd {
	f.opAuth = authenticator
	return f
}

// Router builds the full HTTP handler: chi base middleware (request ID,
// real IP, panic recovery — same trio the teacher's router installs),
// CORS, the Prometheus scrape endpoint, and the transaction route table.
func (f *FrontEnd) Router(corsCfg config.CORSConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsCfg.AllowedOrigins,
		AllowedMethods: corsCfg.AllowedMethods,
		AllowedHeaders: corsCfg.AllowedHeaders,
	}))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/swagger/*", httpSwagger.WrapHandler)
	r.Get("/v1/service:status", f.serviceStatus)

	r.Group(func(tr chi.Router) {
		if f.opAuth != nil {
			tr.Use(f.opAuth.Middleware(headerAuthToken))
		}
		if f.limiter != nil {
			tr.Use(f.rateLimitMiddleware)
		}
		tr.Post("/v1/transactions:begin", f.noOpPhase(metrics.PhaseBegin))
		tr.Post("/v1/transactions:prepare", f.prepare)
		tr.Post("/v1/transactions:commit", f.noOpPhase(metrics.PhaseCommit))
		tr.Post("/v1/transactions:notify", f.noOpPhase(metrics.PhaseNotify))
		tr.Post("/v1/transactions:abort", f.noOpPhase(metrics.PhaseAbort))
		tr.Post("/v1/transactions:end", f.noOpPhase(metrics.PhaseEnd))
		tr.Get("/v1/transactions:status", f.transactionStatus)
		tr.Post("/v1/transactions:consume-budget", f.prepare)
	})

	return r
}

// rateLimitMiddleware throttles by claimed identity, the same key the
// per-request metrics are bucketed by.
func (f *FrontEnd) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerClaimedIdentity)
		if key == "" {
			key = "unknown"
		}

		allowed, err := f.limiter.Allow(r.Context(), key, f.rlCfg.RequestsPerMinute, time.Minute)
		if err != nil {
			f.logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			metrics.RecordClientError(metrics.PhasePrepare, f.originClass(r))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(errorResponse{Code: "RATE_LIMITED", Message: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FrontEnd) serviceStatus(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// transactionStatus always 404s: transactions are not long-lived in the
// v2 engine (spec.md §4.7).
func (f *FrontEnd) transactionStatus(w http.ResponseWriter, r *http.Request) {
	f.recordRequest(r, metrics.PhaseGetStatus)
	metrics.RecordClientError(metrics.PhaseGetStatus, f.originClass(r))
	w.WriteHeader(http.StatusNotFound)
}

// noOpPhase implements the legacy two-phase-commit verbs that the v2
// engine collapses into a single logical consume at Prepare: they succeed
// without side effects (spec.md §4.7).
func (f *FrontEnd) noOpPhase(phase metrics.TransactionPhase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.recordRequest(r, phase)
		w.WriteHeader(http.StatusNoContent)
	}
}

// prepare is the one route that does real work: it parses and commits a
// consume-budget transaction via ConsumeBudgetService, then encodes the
// result per spec.md §6.
func (f *FrontEnd) prepare(w http.ResponseWriter, r *http.Request) {
	f.recordRequest(r, metrics.PhasePrepare)
	class := f.originClass(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.RecordClientError(metrics.PhasePrepare, class)
		writeError(w, pbserrors.InvalidRequestBody("failed to read request body: %v", err))
		return
	}

	transactionID := r.Header.Get(headerTransactionID)
	if f.idem != nil && transactionID != "" {
		if err := f.idem.Claim(r.Context(), transactionID); err != nil {
			if errors.Is(err, idempotency.ErrAlreadySeen) {
				metrics.RecordClientError(metrics.PhasePrepare, class)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				_ = json.NewEncoder(w).Encode(errorResponse{Code: "ALREADY_PROCESSED", Message: "transaction already processed"})
				return
			}
			f.logger.Warn("idempotency tracker unavailable, proceeding without dedup", zap.Error(err))
		}
	}

	outcome := f.svc.Handle(r.Context(), service.Request{
		AuthorizedDomain: r.Header.Get(headerClaimedIdentity),
		OriginOverride:   r.Header.Get(headerTransactionOrigin),
		Body:             body,
		MigrationPhase:   f.phase,
	})

	if outcome.Err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	pbsErr, ok := outcome.Err.(*pbserrors.Error)
	if ok && pbsErr.HTTPStatus() < 500 {
		metrics.RecordClientError(metrics.PhasePrepare, class)
	} else {
		metrics.RecordServerError(metrics.PhasePrepare, class)
		// A server-side failure didn't durably commit anything, so release
		// the claim and let a retry with the same transaction id through.
		if f.idem != nil && transactionID != "" {
			_ = f.idem.Release(r.Context(), transactionID)
		}
	}

	if ok && pbsErr.Code == pbserrors.CodeBudgetExhausted {
		metrics.RecordBudgetExhausted(len(outcome.ExhaustedIndices))
		writeExhausted(w, outcome.ExhaustedIndices)
		return
	}

	writeError(w, outcome.Err)
}

func (f *FrontEnd) recordRequest(r *http.Request, phase metrics.TransactionPhase) {
	metrics.RecordRequest(metrics.RequestLabels{
		Phase:           phase,
		OriginClass:     f.originClass(r),
		ClaimedIdentity: r.Header.Get(headerClaimedIdentity),
		UserAgent:       r.Header.Get("user-agent"),
	})
}

// originClass classifies the caller as a peer coordinator (carrying
// coordinator-to-coordinator auth) or an ordinary operator, bounding the
// metric label's cardinality per spec.md §4.8.
func (f *FrontEnd) originClass(r *http.Request) metrics.OriginClass {
	if r.Header.Get(headerAuthToken) != "" {
		return metrics.OriginCoordinator
	}
	return metrics.OriginOperator
}

type exhaustedResponse struct {
	Version                string `json:"v"`
	ExhaustedBudgetIndices []int  `json:"f"`
}

func writeExhausted(w http.ResponseWriter, indices []int) {
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(exhaustedResponse{Version: "1.0", ExhaustedBudgetIndices: sorted})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	pbsErr, ok := err.(*pbserrors.Error)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(pbsErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorResponse{Code: string(pbsErr.Code), Message: pbsErr.Message})
}
