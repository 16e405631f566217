// Package redisstore persists run and region statistics in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/veldtlabs/tokenforge/pkg/runner"
)

// Redis keys for run statistics.
const (
	KeyRunCounter = "tokenforge:runs:counter"
	KeyLatestRun  = "tokenforge:runs:latest"
	KeyRunHistory = "tokenforge:runs:history"

	keyRegionPrefix = "tokenforge:regions:"
)

// ErrNotFound indicates no run has been persisted yet.
var ErrNotFound = errors.New("run not found")

// DefaultHistoryLimit bounds the retained run history list.
const DefaultHistoryLimit = 50

// Store implements runner.RecordStore on Redis.
type Store struct {
	redis        *redis.Client
	historyLimit int64
	ttl          time.Duration
	logger       zerolog.Logger
}

// New creates a store. A zero ttl keeps entries indefinitely.
func New(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Store {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Store{
		redis:        client,
		historyLimit: DefaultHistoryLimit,
		ttl:          ttl,
		logger:       logger,
	}
}

// NextRunNumber atomically increments and returns the run counter, giving
// callers the monotonic run number seed.
func (s *Store) NextRunNumber(ctx context.Context) (int64, error) {
	n, err := s.redis.Incr(ctx, KeyRunCounter).Result()
	if err != nil {
		return 0, fmt.Errorf("increment run counter: %w", err)
	}
	return n, nil
}

// SaveRun stores the finalized run as the latest entry, appends it to the
// bounded history list, and refreshes per-region statistics.
func (s *Store) SaveRun(ctx context.Context, run *runner.RunResult) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, KeyLatestRun, data, s.ttl)
	pipe.LPush(ctx, KeyRunHistory, data)
	pipe.LTrim(ctx, KeyRunHistory, 0, s.historyLimit-1)

	for _, region := range run.Regions {
		stats, err := json.Marshal(region)
		if err != nil {
			return fmt.Errorf("marshal region %s: %w", region.Region, err)
		}
		pipe.Set(ctx, keyRegionPrefix+region.Region, stats, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store run in redis: %w", err)
	}

	s.logger.Debug().
		Int64("run", run.Number).
		Str("status", string(run.Status)).
		Int("regions", len(run.Regions)).
		Msg("Run persisted")
	return nil
}

// LatestRun retrieves the most recently persisted run.
func (s *Store) LatestRun(ctx context.Context) (*runner.RunResult, error) {
	data, err := s.redis.Get(ctx, KeyLatestRun).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var run runner.RunResult
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parse run: %w", err)
	}
	return &run, nil
}

// RunHistory returns up to n recent runs, newest first.
func (s *Store) RunHistory(ctx context.Context, n int64) ([]runner.RunResult, error) {
	if n <= 0 || n > s.historyLimit {
		n = s.historyLimit
	}

	entries, err := s.redis.LRange(ctx, KeyRunHistory, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	runs := make([]runner.RunResult, 0, len(entries))
	for _, entry := range entries {
		var run runner.RunResult
		if err := json.Unmarshal([]byte(entry), &run); err != nil {
			return nil, fmt.Errorf("parse history entry: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
