// Package runner sequences region workers across all discovered regions and
// aggregates their results into a run result handed to external sinks.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veldtlabs/tokenforge/pkg/fetcher"
	"github.com/veldtlabs/tokenforge/pkg/progress"
	"github.com/veldtlabs/tokenforge/pkg/region"
)

// Status is the overall state of a run.
type Status string

const (
	// StatusRunning marks a run still in progress.
	StatusRunning Status = "running"

	// StatusCompleted marks a run where every region worker returned normally.
	StatusCompleted Status = "completed"

	// StatusTimeout marks a run cut off by the externally imposed deadline.
	StatusTimeout Status = "timeout"

	// StatusError marks a run aborted by an unrecoverable fault, such as an
	// unreadable account source.
	StatusError Status = "error"
)

// RegionAccounts is one unit of work supplied by the account source.
type RegionAccounts struct {
	Region   string
	Accounts []fetcher.Account
}

// Source supplies the ordered sequence of regions and their accounts.
// An empty account list for a region is valid input; an unreadable source
// is an unrecoverable fault for the whole run.
type Source interface {
	Regions(ctx context.Context) ([]RegionAccounts, error)
}

// Token is one published artifact entry: account identifier plus its token.
type Token struct {
	AccountID string `json:"uid"`
	Token     string `json:"token"`
}

// Publisher commits a region's token artifact to a remote content store.
// Publish failures never affect the run status; they are reported through
// the progress sink only.
type Publisher interface {
	PublishRegion(ctx context.Context, regionCode string, tokens []Token) error
}

// RecordStore persists a finalized run. The store owns its own retry
// policy; the runner reports persistence failures and moves on.
type RecordStore interface {
	SaveRun(ctx context.Context, run *RunResult) error
}

// RunResult is the aggregate outcome of one run. It is mutated only by the
// runner and becomes immutable once Status leaves StatusRunning.
type RunResult struct {
	ID          string          `json:"id"`
	Number      int64           `json:"number"`
	Status      Status          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	Regions     []region.Result `json:"results"`
}

// Runner orchestrates one run. Regions are processed sequentially, so
// progress reporting and rate-limit cooldowns stay attributable to one
// region at a time; concurrency lives inside the region worker.
type Runner struct {
	worker    *region.Worker
	source    Source
	store     RecordStore
	publisher Publisher
	progress  progress.Sink
	logger    zerolog.Logger
}

// New creates a runner. store and publisher may be nil; sink may be nil.
func New(worker *region.Worker, source Source, store RecordStore, publisher Publisher, sink progress.Sink, logger zerolog.Logger) *Runner {
	return &Runner{
		worker:    worker,
		source:    source,
		store:     store,
		publisher: publisher,
		progress:  sink,
		logger:    logger,
	}
}

// Run executes one full run. The run number is assigned once by the caller,
// monotonically increasing from the prior run. ctx carries the external
// wall-clock budget: on expiry, regions not yet started are omitted and the
// in-progress region reports only the accounts resolved before the cutoff.
func (r *Runner) Run(ctx context.Context, number int64) *RunResult {
	run := &RunResult{
		ID:        uuid.NewString(),
		Number:    number,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}

	r.logger.Info().Int64("run", number).Str("run_id", run.ID).Msg("Run started")

	regions, err := r.source.Regions(ctx)
	if err != nil {
		progress.Emit(r.progress, progress.LevelError, "", "Account source unreadable: %v", err)
		r.logger.Error().Err(err).Msg("Account source unreadable - aborting run")
		r.finish(ctx, run, StatusError)
		return run
	}

	progress.Emit(r.progress, progress.LevelInfo, "", "Found %d region(s)", len(regions))

	status := StatusCompleted
	for _, rg := range regions {
		if ctx.Err() != nil {
			// Deadline hit before this region started; omit it entirely.
			status = StatusTimeout
			break
		}

		result := r.worker.Run(ctx, rg.Region, rg.Accounts)
		run.Regions = append(run.Regions, result)

		if ctx.Err() != nil {
			progress.Emit(r.progress, progress.LevelError, rg.Region,
				"Run budget exceeded during %s", rg.Region)
			status = StatusTimeout
			break
		}

		r.publish(ctx, result)
	}

	r.finish(ctx, run, status)
	return run
}

// publish hands a region's token list to the publish sink. Only regions
// with at least one success produce an artifact.
func (r *Runner) publish(ctx context.Context, result region.Result) {
	if r.publisher == nil || result.Success == 0 {
		return
	}

	tokens := make([]Token, 0, result.Success)
	for _, acc := range result.Accounts {
		if acc.State == fetcher.StateSuccess {
			tokens = append(tokens, Token{AccountID: acc.AccountID, Token: acc.Token})
		}
	}

	if err := r.publisher.PublishRegion(ctx, result.Region, tokens); err != nil {
		progress.Emit(r.progress, progress.LevelError, result.Region,
			"Failed to publish %s artifact: %v", result.Region, err)
		r.logger.Error().Err(err).Str("region", result.Region).Msg("Artifact publish failed")
		return
	}

	progress.Emit(r.progress, progress.LevelSuccess, result.Region,
		"Published %d tokens for %s", len(tokens), result.Region)
}

// finish seals the run and hands it to the persistence sink.
func (r *Runner) finish(ctx context.Context, run *RunResult, status Status) {
	run.Status = status
	run.CompletedAt = time.Now()

	progress.Emit(r.progress, progress.LevelInfo, "",
		"Run %d %s in %s", run.Number, status, run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	r.logger.Info().
		Int64("run", run.Number).
		Str("status", string(status)).
		Int("regions", len(run.Regions)).
		Dur("duration", run.CompletedAt.Sub(run.StartedAt)).
		Msg("Run finished")

	if r.store == nil {
		return
	}

	// Persistence must survive an expired run deadline, so it gets its own
	// short grace context detached from ctx's cancellation.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := r.store.SaveRun(saveCtx, run); err != nil {
		progress.Emit(r.progress, progress.LevelWarning, "", "Failed to persist run %d: %v", run.Number, err)
		r.logger.Warn().Err(err).Int64("run", run.Number).Msg("Run persistence failed")
	}
}
