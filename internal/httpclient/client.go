// Package httpclient implements the synchronous, retrying HTTP client
// core from spec.md §4.1: bounded retries with exponential backoff, a
// per-host connection pool, and a deadline that classifies transport/4xx/
// 5xx outcomes into a typed Result.
package httpclient

import (
	"bytes"
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome taxonomy from spec.md §4.1.
type Result string

const (
	ResultOk               Result = "OK"
	Result4xx              Result = "4XX"
	ResultRetriesExhausted Result = "RETRIES_EXHAUSTED"
	ResultDeadline         Result = "DEADLINE"
	ResultInvalidURI       Result = "INVALID_URI"
	ResultConnectFailure   Result = "CONNECT_FAILURE"
)

// Request is the caller-facing description of one call.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response carries the outcome; Body/Headers/StatusCode are only
// meaningful when Result is ResultOk or Result4xx.
type Response struct {
	Result     Result
	StatusCode int
	Headers    http.Header
	Body       []byte
	Err        error
	Attempts   int
}

// Config tunes one Client instance. Each coordinator peer gets its own
// Client so its connection pool and retry budget are isolated.
type Config struct {
	MaxRetries            int
	RequestTimeout        time.Duration // total per-request deadline budget
	InitialBackoff        time.Duration
	MaxBackoff            time.Duration
	BackoffMultiplier     float64
	MaxConnectionsPerHost int
	// MinViableSlot is the smallest remaining-time window worth attempting
	// another round trip; below it the client gives up rather than start
	// a request almost certain to be cut off mid-flight.
	MinViableSlot time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:            2,
		RequestTimeout:        5 * time.Second,
		InitialBackoff:        100 * time.Millisecond,
		MaxBackoff:            2 * time.Second,
		BackoffMultiplier:     2.0,
		MaxConnectionsPerHost: 50,
		MinViableSlot:         50 * time.Millisecond,
	}
}

// Client is a blocking HTTP/2 client with bounded retries. It is safe for
// concurrent use; the only shared mutable state is the transport's own
// connection pool.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	transport := &http.Transport{
		MaxConnsPerHost:     cfg.MaxConnectionsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnectionsPerHost,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// Do performs req, retrying 5xx and transport errors up to MaxRetries+1
// attempts total, and never retrying 4xx. ctx supplements (does not
// replace) the client's own per-request deadline budget — whichever
// elapses first wins.
func (c *Client) Do(ctx context.Context, req Request) Response {
	deadline := time.Now().Add(c.cfg.RequestTimeout)

	var lastErr error
	backoff := c.cfg.InitialBackoff

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		remaining := time.Until(deadline)
		if remaining < c.cfg.MinViableSlot {
			return Response{Result: ResultDeadline, Err: lastErr, Attempts: attempt}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, remaining)
		resp, err := c.attempt(attemptCtx, req)
		cancel()

		if err != nil {
			if invalidURI(err) {
				return Response{Result: ResultInvalidURI, Err: err, Attempts: attempt + 1}
			}
			lastErr = err
			c.logger.Debug("http attempt failed, will retry if budget allows",
				zap.Int("attempt", attempt), zap.Error(err))
			if !c.sleepBackoff(ctx, deadline, &backoff) {
				return Response{Result: ResultDeadline, Err: lastErr, Attempts: attempt + 1}
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			resp.Result = ResultOk
			resp.Attempts = attempt + 1
			return *resp
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			resp.Result = Result4xx
			resp.Attempts = attempt + 1
			return *resp
		default: // 5xx and any other non-2xx/4xx status is retriable
			lastErr = &statusError{code: resp.StatusCode}
			if attempt == c.cfg.MaxRetries {
				resp.Result = ResultRetriesExhausted
				resp.Attempts = attempt + 1
				return *resp
			}
			if !c.sleepBackoff(ctx, deadline, &backoff) {
				resp.Result = ResultDeadline
				resp.Attempts = attempt + 1
				return *resp
			}
		}
	}

	return Response{Result: ResultRetriesExhausted, Err: lastErr, Attempts: c.cfg.MaxRetries + 1}
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &invalidURIError{cause: err}
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &connectError{cause: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &connectError{cause: err}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}, nil
}

// sleepBackoff waits out the exponential backoff slot (capped at both
// MaxBackoff and the remaining request deadline) and reports whether the
// caller still has a viable window afterward.
func (c *Client) sleepBackoff(ctx context.Context, deadline time.Time, backoff *time.Duration) bool {
	wait := *backoff
	if wait > c.cfg.MaxBackoff {
		wait = c.cfg.MaxBackoff
	}
	// light jitter to avoid synchronized retries across clients
	wait += time.Duration(rand.Int63n(int64(wait/4 + 1)))

	remaining := time.Until(deadline)
	if remaining < c.cfg.MinViableSlot {
		return false
	}
	if wait > remaining {
		wait = remaining
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return false
	}

	*backoff = time.Duration(math.Min(
		float64(*backoff)*c.cfg.BackoffMultiplier,
		float64(c.cfg.MaxBackoff),
	))

	return time.Until(deadline) >= c.cfg.MinViableSlot
}

type statusError struct{ code int }

func (e *statusError) Error() string { return http.StatusText(e.code) }

type connectError struct{ cause error }

func (e *connectError) Error() string { return e.cause.Error() }
func (e *connectError) Unwrap() error { return e.cause }

type invalidURIError struct{ cause error }

func (e *invalidURIError) Error() string { return e.cause.Error() }
func (e *invalidURIError) Unwrap() error { return e.cause }

func invalidURI(err error) bool {
	_, ok := err.(*invalidURIError)
	return ok
}
