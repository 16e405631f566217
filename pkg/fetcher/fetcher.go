// Package fetcher implements per-account token acquisition: endpoint
// rotation, bounded retry with capped exponential backoff, rate-limit
// coordination, and outcome classification.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/veldtlabs/tokenforge/pkg/endpoint"
	"github.com/veldtlabs/tokenforge/pkg/progress"
	"github.com/veldtlabs/tokenforge/pkg/ratelimit"
)

// Prometheus metrics for issuance attempts.
var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenforge_attempts_total",
		Help: "Total issuance attempts by outcome class",
	}, []string{"outcome"})

	backoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokenforge_backoff_seconds",
		Help:    "Backoff duration slept between attempts",
		Buckets: []float64{1, 5, 10, 30, 60, 120},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenforge_retry_exhausted_total",
		Help: "Total accounts that exhausted all retry attempts",
	})
)

// maxResponseBody bounds how much of an issuance response is read.
const maxResponseBody = 1 << 20

// Config holds the fetcher configuration.
type Config struct {
	// MaxRetries is the maximum number of attempts per account.
	MaxRetries int

	// InitialDelay is the backoff slept after the first failed attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// RequestTimeout bounds each individual issuance request.
	RequestTimeout time.Duration

	// AccountCeiling bounds the cumulative wall clock spent on one account.
	AccountCeiling time.Duration
}

// DefaultConfig returns the fetcher defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     15,
		InitialDelay:   5 * time.Second,
		MaxDelay:       120 * time.Second,
		RequestTimeout: 30 * time.Second,
		AccountCeiling: 180 * time.Second,
	}
}

// Fetcher acquires tokens for individual accounts. Safe for use by many
// concurrent goroutines sharing one instance.
type Fetcher struct {
	httpClient *http.Client
	pool       *endpoint.Pool
	limiter    *ratelimit.Coordinator
	progress   progress.Sink
	config     Config
	logger     zerolog.Logger
}

// New creates a fetcher. The pool and limiter are required; sink may be nil.
func New(pool *endpoint.Pool, limiter *ratelimit.Coordinator, sink progress.Sink, cfg Config, logger zerolog.Logger) (*Fetcher, error) {
	if pool == nil {
		return nil, fmt.Errorf("endpoint pool is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limit coordinator is required")
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("max_retries must be positive (got %d)", cfg.MaxRetries)
	}
	if cfg.InitialDelay <= 0 || cfg.MaxDelay < cfg.InitialDelay {
		return nil, fmt.Errorf("invalid backoff bounds: initial=%v max=%v", cfg.InitialDelay, cfg.MaxDelay)
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		pool:     pool,
		limiter:  limiter,
		progress: sink,
		config:   cfg,
		logger:   logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *Fetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = client
}

// Fetch runs the full retry sequence for one account and returns its
// terminal result. It returns ErrRunCancelled when ctx is cancelled before
// the account resolves; the account then contributes no result.
func (f *Fetcher) Fetch(ctx context.Context, acc Account) (AccountResult, error) {
	start := time.Now()

	// The account ceiling yields a TimedOut result rather than an error,
	// distinct from cancellation of the whole run.
	accountCtx, cancel := context.WithTimeout(ctx, f.config.AccountCeiling)
	defer cancel()

	result := AccountResult{AccountID: acc.UID}
	var prev *endpoint.Endpoint

	for attempt := 1; attempt <= f.config.MaxRetries; attempt++ {
		if err := f.limiter.Wait(accountCtx); err != nil {
			return f.terminate(ctx, result, start)
		}

		ep := f.pool.Select(prev)
		prev = &ep
		result.Attempts = attempt

		outcome := f.attempt(accountCtx, acc, ep)
		attemptsTotal.WithLabelValues(string(outcome.Class)).Inc()

		f.logger.Debug().
			Str("uid", acc.UID).
			Str("endpoint", ep.Name).
			Int("attempt", attempt).
			Str("outcome", string(outcome.Class)).
			Msg("Issuance attempt")

		if outcome.Class == OutcomeSuccess {
			result.State = StateSuccess
			result.Token = outcome.Token
			result.Endpoint = ep.Name
			result.Elapsed = time.Since(start)
			progress.Emit(f.progress, progress.LevelSuccess, "",
				"%s: token acquired for %s (attempt %d)", ep.Name, acc.UID, attempt)
			return result, nil
		}

		if !retryable(outcome.Class) {
			result.State = StateFailed
			result.Elapsed = time.Since(start)
			progress.Emit(f.progress, progress.LevelError, "",
				"%s: %s for %s", ep.Name, outcome.Reason, acc.UID)
			return result, nil
		}

		if outcome.Class == OutcomeRateLimited {
			result.RateLimitedAttempts++
			f.limiter.Trip()
		}
		if attempt == 1 {
			progress.Emit(f.progress, progress.LevelWarning, "",
				"%s: %s for %s - will retry", ep.Name, outcome.Reason, acc.UID)
		}

		if accountCtx.Err() != nil {
			return f.terminate(ctx, result, start)
		}

		if attempt < f.config.MaxRetries {
			delay := jitter(BackoffDelay(attempt, f.config.InitialDelay, f.config.MaxDelay))
			backoffSeconds.Observe(delay.Seconds())

			timer := time.NewTimer(delay)
			select {
			case <-accountCtx.Done():
				timer.Stop()
				return f.terminate(ctx, result, start)
			case <-timer.C:
			}
		}
	}

	retryExhaustedTotal.Inc()
	result.State = StateFailed
	result.Elapsed = time.Since(start)
	progress.Emit(f.progress, progress.LevelError, "",
		"Failed %s after %d attempts", acc.UID, result.Attempts)
	return result, nil
}

// terminate resolves an interrupted sequence: run cancellation discards the
// account, an expired account ceiling records TimedOut.
func (f *Fetcher) terminate(runCtx context.Context, result AccountResult, start time.Time) (AccountResult, error) {
	if runCtx.Err() != nil {
		return AccountResult{}, fmt.Errorf("%w: %v", ErrRunCancelled, runCtx.Err())
	}

	result.State = StateTimedOut
	result.Elapsed = time.Since(start)
	progress.Emit(f.progress, progress.LevelWarning, "",
		"Account %s timed out after %s", result.AccountID, result.Elapsed.Round(time.Second))
	return result, nil
}

// attempt issues one request to one endpoint and classifies the outcome.
func (f *Fetcher) attempt(ctx context.Context, acc Account, ep endpoint.Endpoint) AttemptOutcome {
	f.pool.RecordDispatch(ep)

	reqCtx, cancel := context.WithTimeout(ctx, f.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ep.RequestURL(acc.UID, acc.Password), nil)
	if err != nil {
		return AttemptOutcome{Class: OutcomeTransient, Endpoint: ep.Name, Reason: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return AttemptOutcome{Class: OutcomeTransient, Endpoint: ep.Name, Reason: "connection error"}
	}
	defer resp.Body.Close()

	return classify(resp, ep)
}

// classify maps an issuance response to an attempt outcome.
func classify(resp *http.Response, ep endpoint.Endpoint) AttemptOutcome {
	switch {
	case resp.StatusCode == http.StatusOK:
		var payload struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&payload); err != nil {
			return AttemptOutcome{Class: OutcomeTransient, Endpoint: ep.Name, Reason: "malformed response"}
		}
		if payload.Token == "" {
			return AttemptOutcome{Class: OutcomeTransient, Endpoint: ep.Name, Reason: "token missing from payload"}
		}
		return AttemptOutcome{Class: OutcomeSuccess, Token: payload.Token, Endpoint: ep.Name}

	case resp.StatusCode == http.StatusTooManyRequests:
		return AttemptOutcome{Class: OutcomeRateLimited, Endpoint: ep.Name, Reason: "rate limited"}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return AttemptOutcome{Class: OutcomePermanent, Endpoint: ep.Name,
			Reason: fmt.Sprintf("credential rejected (status %d)", resp.StatusCode)}

	default:
		return AttemptOutcome{Class: OutcomeTransient, Endpoint: ep.Name,
			Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
}
