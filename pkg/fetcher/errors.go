package fetcher

import "errors"

// ErrRunCancelled is returned by Fetch when the run-level context is
// cancelled before the account resolves. The account then contributes no
// result: regions cut off by the run deadline report only resolved accounts.
var ErrRunCancelled = errors.New("run cancelled")

// retryable reports whether an attempt with this outcome should consume a
// retry slot and continue, rather than terminate the sequence.
func retryable(class OutcomeClass) bool {
	switch class {
	case OutcomeRateLimited:
		// Self-healing via the shared cooldown.
		return true
	case OutcomeTransient:
		return true
	case OutcomePermanent:
		// Credential rejected - further attempts cannot succeed.
		return false
	default:
		return false
	}
}
