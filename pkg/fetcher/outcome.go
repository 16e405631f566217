package fetcher

import "time"

// Account is one credential to acquire a token for. Accounts are immutable
// inputs owned by the caller for the lifetime of a run.
type Account struct {
	UID      string `json:"uid"`
	Password string `json:"password"`
	Label    string `json:"label,omitempty"`
}

// OutcomeClass classifies a single issuance attempt.
type OutcomeClass string

const (
	// OutcomeSuccess means the endpoint returned a token payload.
	OutcomeSuccess OutcomeClass = "success"

	// OutcomeRateLimited means the endpoint signalled a rate limit (HTTP 429).
	// Expected and self-healing via the shared cooldown; never terminal.
	OutcomeRateLimited OutcomeClass = "rate_limited"

	// OutcomeTransient covers timeouts, connection errors, and malformed
	// responses. Retryable.
	OutcomeTransient OutcomeClass = "transient"

	// OutcomePermanent means the endpoint rejected the credential.
	// Retrying a bad credential is pointless, so retries abort immediately.
	OutcomePermanent OutcomeClass = "permanent"
)

// AttemptOutcome is the classified result of one request attempt.
type AttemptOutcome struct {
	Class    OutcomeClass
	Token    string
	Endpoint string
	Reason   string
}

// AccountState is the terminal state of one account's retry sequence.
type AccountState string

const (
	// StateSuccess means a token was acquired.
	StateSuccess AccountState = "success"

	// StateFailed means retries were exhausted or the credential was rejected.
	StateFailed AccountState = "failed"

	// StateTimedOut means the per-account wall-clock ceiling was exceeded.
	// Mutually exclusive with StateFailed.
	StateTimedOut AccountState = "timed_out"
)

// AccountResult is the immutable record produced once an account's retry
// sequence terminates. Every account produces exactly one per run.
type AccountResult struct {
	AccountID string        `json:"uid"`
	State     AccountState  `json:"state"`
	Token     string        `json:"token,omitempty"`
	Endpoint  string        `json:"endpoint,omitempty"`
	Attempts  int           `json:"attempts"`
	Elapsed   time.Duration `json:"elapsed_ns"`

	// RateLimitedAttempts counts attempts that ended in a rate-limit
	// signal, so downstream can tell an account that never stopped being
	// rate-limited apart from a genuinely broken one.
	RateLimitedAttempts int `json:"rate_limited_attempts,omitempty"`
}
