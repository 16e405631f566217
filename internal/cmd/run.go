package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veldtlabs/tokenforge/internal/sink/github"
	"github.com/veldtlabs/tokenforge/internal/sink/redisstore"
	"github.com/veldtlabs/tokenforge/internal/source"
	"github.com/veldtlabs/tokenforge/pkg/endpoint"
	"github.com/veldtlabs/tokenforge/pkg/fetcher"
	"github.com/veldtlabs/tokenforge/pkg/logging"
	"github.com/veldtlabs/tokenforge/pkg/progress"
	"github.com/veldtlabs/tokenforge/pkg/ratelimit"
	"github.com/veldtlabs/tokenforge/pkg/region"
	"github.com/veldtlabs/tokenforge/pkg/runner"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full acquisition run",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringSlice("endpoint", nil, "issuance endpoint as name=url (repeatable, required)")
	f.String("accounts-dir", "accounts", "directory holding accounts_<region>.json files")
	f.Int("concurrency", region.DefaultConcurrency, "max in-flight fetches per region")
	f.Int("max-retries", 15, "max attempts per account")
	f.Duration("initial-delay", 5*time.Second, "initial retry backoff")
	f.Duration("max-delay", 120*time.Second, "backoff cap")
	f.Duration("request-timeout", 30*time.Second, "per-request timeout")
	f.Duration("account-ceiling", 180*time.Second, "per-account wall-clock ceiling")
	f.Duration("cooldown", ratelimit.DefaultCooldown, "pause after a rate-limit signal")
	f.Duration("run-timeout", 0, "wall-clock budget for the whole run (0 = none)")
	f.Int64("run-number", 0, "run number override (0 = from redis counter, or 1)")
	f.String("redis-addr", "", "redis address for run statistics (optional)")
	f.String("github-token", "", "token for artifact publishing (optional)")
	f.String("github-owner", "", "artifact repository owner")
	f.String("github-repo", "", "artifact repository name")
	f.String("github-branch", "main", "artifact repository branch")
	f.String("github-path", "tokens", "artifact base path within the repository")

	_ = viper.BindPFlags(f)
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	level := "info"
	if viper.GetBool("verbose") {
		level = "debug"
	}
	logging.Setup(logging.Config{Level: level, Pretty: viper.GetBool("pretty")})
	logger := logging.NewLogger("cli")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := buildPool(viper.GetStringSlice("endpoint"))
	if err != nil {
		return err
	}

	limiter := ratelimit.NewCoordinator(viper.GetDuration("cooldown"), logging.NewLogger("ratelimit"))

	collector := progress.NewCollector(progress.DefaultCollectorSize)
	sink := progress.Fanout{collector, progress.NewLoggerSink(logging.NewLogger("progress"))}

	fetchCfg := fetcher.Config{
		MaxRetries:     viper.GetInt("max-retries"),
		InitialDelay:   viper.GetDuration("initial-delay"),
		MaxDelay:       viper.GetDuration("max-delay"),
		RequestTimeout: viper.GetDuration("request-timeout"),
		AccountCeiling: viper.GetDuration("account-ceiling"),
	}
	fetch, err := fetcher.New(pool, limiter, sink, fetchCfg, logging.NewLogger("fetcher"))
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}

	worker := region.NewWorker(fetch, sink, viper.GetInt("concurrency"), logging.NewLogger("region"))
	accounts := source.NewDir(viper.GetString("accounts-dir"), logging.NewLogger("source"))

	number := viper.GetInt64("run-number")

	var store runner.RecordStore
	if addr := viper.GetString("redis-addr"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", addr, err)
		}
		defer client.Close()

		redisStore := redisstore.New(client, 0, logging.NewLogger("redisstore"))
		store = redisStore

		if number == 0 {
			if number, err = redisStore.NextRunNumber(ctx); err != nil {
				return fmt.Errorf("assign run number: %w", err)
			}
		}
	}
	if number == 0 {
		number = 1
	}

	var publisher runner.Publisher
	if token := viper.GetString("github-token"); token != "" {
		cfg := github.DefaultConfig(token, viper.GetString("github-owner"), viper.GetString("github-repo"))
		cfg.Branch = viper.GetString("github-branch")
		cfg.BasePath = viper.GetString("github-path")

		pub, err := github.NewPublisher(cfg, logging.NewLogger("publisher"))
		if err != nil {
			return fmt.Errorf("create publisher: %w", err)
		}
		publisher = pub
	}

	if budget := viper.GetDuration("run-timeout"); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	run := runner.New(worker, accounts, store, publisher, sink, logging.NewLogger("runner"))
	result := run.Run(ctx, number)

	logger.Info().
		Int64("run", result.Number).
		Str("status", string(result.Status)).
		Interface("endpoint_dispatches", pool.Dispatches()).
		Msg("Run summary")

	if result.Status == runner.StatusError {
		return fmt.Errorf("run %d failed", result.Number)
	}
	return nil
}

// buildPool parses --endpoint entries. "name=url" sets an explicit identity
// label; a bare URL gets a positional one.
func buildPool(entries []string) (*endpoint.Pool, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("at least one --endpoint is required")
	}

	endpoints := make([]endpoint.Endpoint, 0, len(entries))
	for i, entry := range entries {
		name, url, found := strings.Cut(entry, "=")
		if !found || strings.HasPrefix(entry, "http") {
			name, url = fmt.Sprintf("API_%d", i+1), entry
		}
		endpoints = append(endpoints, endpoint.Endpoint{Name: name, BaseURL: url})
	}
	return endpoint.NewPool(endpoints)
}
