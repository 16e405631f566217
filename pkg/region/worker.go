// Package region drives concurrent account fetches for one region through a
// bounded worker pool and aggregates outcomes into a region result.
package region

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/veldtlabs/tokenforge/pkg/fetcher"
	"github.com/veldtlabs/tokenforge/pkg/progress"
)

var (
	accountsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenforge_accounts_total",
		Help: "Total resolved accounts by terminal state",
	}, []string{"state"})

	regionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokenforge_region_duration_seconds",
		Help:    "Wall-clock duration of region processing",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
	})
)

// DefaultConcurrency bounds in-flight fetches within a region.
const DefaultConcurrency = 100

// defaultSnapshotInterval is the cadence of coalesced progress snapshots.
const defaultSnapshotInterval = 1 * time.Second

// Result aggregates the terminal account results of one region.
// Success + Failed + TimedOut always equals TotalAccounts.
type Result struct {
	Region        string                  `json:"region"`
	TotalAccounts int                     `json:"total"`
	Success       int                     `json:"success"`
	Failed        int                     `json:"failed"`
	TimedOut      int                     `json:"timed_out"`
	SuccessRate   float64                 `json:"success_rate"`
	Duration      time.Duration           `json:"duration_ns"`
	Accounts      []fetcher.AccountResult `json:"accounts"`
}

// Worker processes all accounts of one region.
type Worker struct {
	fetcher     *fetcher.Fetcher
	progress    progress.Sink
	concurrency int
	snapshot    time.Duration
	logger      zerolog.Logger
}

// NewWorker creates a region worker. concurrency <= 0 selects the default.
func NewWorker(f *fetcher.Fetcher, sink progress.Sink, concurrency int, logger zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Worker{
		fetcher:     f,
		progress:    sink,
		concurrency: concurrency,
		snapshot:    defaultSnapshotInterval,
		logger:      logger,
	}
}

// SetSnapshotInterval overrides the progress snapshot cadence (for testing).
func (w *Worker) SetSnapshotInterval(d time.Duration) {
	if d > 0 {
		w.snapshot = d
	}
}

// Run fetches tokens for all accounts in the region, at most w.concurrency
// in flight at once, and aggregates their results. When ctx is cancelled
// mid-region the returned result covers only the accounts resolved before
// the cutoff. An empty account list yields a zero-stat result, not an error.
func (w *Worker) Run(ctx context.Context, regionCode string, accounts []fetcher.Account) Result {
	start := time.Now()
	total := len(accounts)
	result := Result{Region: regionCode}

	if total == 0 {
		w.logger.Info().Str("region", regionCode).Msg("Region has no accounts")
		return result
	}

	progress.Emit(w.progress, progress.LevelInfo, regionCode,
		"Starting %s - %d accounts", regionCode, total)

	queue := make(chan fetcher.Account, total)
	for _, acc := range accounts {
		queue <- acc
	}
	close(queue)

	results := make(chan fetcher.AccountResult, total)

	workers := w.concurrency
	if workers > total {
		workers = total
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for acc := range queue {
				if ctx.Err() != nil {
					return
				}
				res, err := w.fetcher.Fetch(ctx, acc)
				if err != nil {
					// Run cancelled: the unresolved account contributes
					// nothing to the region result.
					return
				}
				results <- res
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Snapshots are coalesced on a ticker so a burst of completions does not
	// flood the presentation channel.
	ticker := time.NewTicker(w.snapshot)
	defer ticker.Stop()

	completed := 0
	for open := true; open; {
		select {
		case res, ok := <-results:
			if !ok {
				open = false
				break
			}
			completed++
			w.tally(&result, res)
		case <-ticker.C:
			progress.Emit(w.progress, progress.LevelInfo, regionCode,
				"PROGRESS:%s:%d/%d:%s", regionCode, completed, total, formatElapsed(time.Since(start)))
		}
	}

	w.finalize(&result, start)

	progress.Emit(w.progress, progress.LevelInfo, regionCode,
		"PROGRESS:%s:%d/%d:%s", regionCode, result.TotalAccounts, total, formatElapsed(result.Duration))

	summaryLevel := progress.LevelSuccess
	if ctx.Err() != nil {
		summaryLevel = progress.LevelWarning
	}
	progress.Emit(w.progress, summaryLevel, regionCode,
		"%s complete: %d/%d tokens (%d failed, %d timed out)",
		regionCode, result.Success, result.TotalAccounts, result.Failed, result.TimedOut)

	w.logger.Info().
		Str("region", regionCode).
		Int("total", result.TotalAccounts).
		Int("success", result.Success).
		Int("failed", result.Failed).
		Int("timed_out", result.TimedOut).
		Float64("success_rate", result.SuccessRate).
		Dur("duration", result.Duration).
		Msg("Region complete")

	return result
}

// tally folds one account result into the aggregate. Aggregation is
// commutative: final counts are identical regardless of completion order.
func (w *Worker) tally(result *Result, res fetcher.AccountResult) {
	switch res.State {
	case fetcher.StateSuccess:
		result.Success++
	case fetcher.StateTimedOut:
		result.TimedOut++
	default:
		result.Failed++
	}
	accountsTotal.WithLabelValues(string(res.State)).Inc()
	result.Accounts = append(result.Accounts, res)
}

func (w *Worker) finalize(result *Result, start time.Time) {
	result.TotalAccounts = result.Success + result.Failed + result.TimedOut
	if result.TotalAccounts > 0 {
		result.SuccessRate = 100.0 * float64(result.Success) / float64(result.TotalAccounts)
	}
	result.Duration = time.Since(start)
	regionDurationSeconds.Observe(result.Duration.Seconds())
}

// formatElapsed renders "3m 41s" style timers for progress snapshots.
func formatElapsed(d time.Duration) string {
	s := int(d.Seconds())
	return fmt.Sprintf("%dm %ds", s/60, s%60)
}
