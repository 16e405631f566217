package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/veldtlabs/tokenforge/internal/sink/redisstore"
	"github.com/veldtlabs/tokenforge/pkg/fetcher"
	"github.com/veldtlabs/tokenforge/pkg/region"
	"github.com/veldtlabs/tokenforge/pkg/runner"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func sampleRun(number int64) *runner.RunResult {
	now := time.Now().UTC().Truncate(time.Second)
	return &runner.RunResult{
		ID:          "run-id",
		Number:      number,
		Status:      runner.StatusCompleted,
		StartedAt:   now.Add(-time.Minute),
		CompletedAt: now,
		Regions: []region.Result{
			{
				Region:        "EU",
				TotalAccounts: 2,
				Success:       1,
				Failed:        1,
				SuccessRate:   50.0,
				Duration:      30 * time.Second,
				Accounts: []fetcher.AccountResult{
					{AccountID: "1", State: fetcher.StateSuccess, Token: "tok-1", Endpoint: "A", Attempts: 1},
					{AccountID: "2", State: fetcher.StateFailed, Attempts: 3},
				},
			},
		},
	}
}

func TestStore_SaveAndLoadRun(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := redisstore.New(redisClient, 0, zerolog.Nop())

	run := sampleRun(3)
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	loaded, err := store.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun() error = %v", err)
	}

	if loaded.Number != 3 || loaded.Status != runner.StatusCompleted {
		t.Errorf("loaded run = %+v, want number=3 completed", loaded)
	}
	if len(loaded.Regions) != 1 {
		t.Fatalf("len(Regions) = %d, want 1", len(loaded.Regions))
	}
	rg := loaded.Regions[0]
	if rg.Region != "EU" || rg.Success != 1 || rg.Failed != 1 {
		t.Errorf("region = %+v, want EU 1/1", rg)
	}
	if len(rg.Accounts) != 2 || rg.Accounts[0].Token != "tok-1" {
		t.Errorf("accounts = %+v, want 2 entries with token preserved", rg.Accounts)
	}
}

func TestStore_LatestRunNotFound(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := redisstore.New(redisClient, 0, zerolog.Nop())

	_, err := store.LatestRun(context.Background())
	if !errors.Is(err, redisstore.ErrNotFound) {
		t.Errorf("LatestRun() error = %v, want ErrNotFound", err)
	}
}

func TestStore_RunHistoryNewestFirst(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := redisstore.New(redisClient, 0, zerolog.Nop())

	for n := int64(1); n <= 3; n++ {
		if err := store.SaveRun(ctx, sampleRun(n)); err != nil {
			t.Fatalf("SaveRun(%d) error = %v", n, err)
		}
	}

	history, err := store.RunHistory(ctx, 2)
	if err != nil {
		t.Fatalf("RunHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].Number != 3 || history[1].Number != 2 {
		t.Errorf("history order = [%d, %d], want [3, 2]", history[0].Number, history[1].Number)
	}
}

func TestStore_NextRunNumberMonotonic(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := redisstore.New(redisClient, 0, zerolog.Nop())

	var prev int64
	for i := 0; i < 3; i++ {
		n, err := store.NextRunNumber(ctx)
		if err != nil {
			t.Fatalf("NextRunNumber() error = %v", err)
		}
		if n <= prev {
			t.Errorf("NextRunNumber() = %d, want > %d", n, prev)
		}
		prev = n
	}
}
