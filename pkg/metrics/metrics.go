// Package metrics documents the Prometheus metrics exposed by the pipeline.
// Metrics are defined in the packages that own them (endpoint, ratelimit,
// fetcher, region) to maintain modularity and avoid circular dependencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the pipeline.
// All metrics are automatically registered via promauto in their packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Endpoint Metrics (pkg/endpoint):
//   - tokenforge_endpoint_dispatches_total{endpoint} (Counter): request
//     dispatches per issuance endpoint
//
// Rate Limit Metrics (pkg/ratelimit):
//   - tokenforge_rate_limit_cooldowns_total (Counter): cooldown windows
//     opened by rate-limit signals
//   - tokenforge_rate_limit_waits_total (Counter): dispatches that blocked
//     on an active cooldown
//
// Fetcher Metrics (pkg/fetcher):
//   - tokenforge_attempts_total{outcome} (Counter): issuance attempts by
//     outcome class (success, rate_limited, transient, permanent)
//   - tokenforge_backoff_seconds (Histogram): backoff slept between attempts
//   - tokenforge_retry_exhausted_total (Counter): accounts that exhausted
//     all retry attempts
//
// Region Metrics (pkg/region):
//   - tokenforge_accounts_total{state} (Counter): resolved accounts by
//     terminal state (success, failed, timed_out)
//   - tokenforge_region_duration_seconds (Histogram): region wall-clock
//     duration
//
// Example Prometheus Queries:
//
//   # Attempt success rate
//   rate(tokenforge_attempts_total{outcome="success"}[5m]) /
//   sum(rate(tokenforge_attempts_total[5m]))
//
//   # Endpoint load skew
//   tokenforge_endpoint_dispatches_total
//
//   # Rate-limit pressure
//   rate(tokenforge_rate_limit_cooldowns_total[15m])
