// Package github publishes region token artifacts to a GitHub-contents
// content store.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/veldtlabs/tokenforge/pkg/fetcher"
	"github.com/veldtlabs/tokenforge/pkg/runner"
)

// DefaultAPIBase is the production GitHub API endpoint.
const DefaultAPIBase = "https://api.github.com"

// Config holds the publisher configuration.
type Config struct {
	Token    string
	Owner    string
	Repo     string
	Branch   string
	BasePath string

	// APIBase overrides the API endpoint (for testing).
	APIBase string

	// Retry bounds for commit attempts.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig returns publisher defaults for the given repository.
func DefaultConfig(token, owner, repo string) Config {
	return Config{
		Token:        token,
		Owner:        owner,
		Repo:         repo,
		Branch:       "main",
		BasePath:     "tokens",
		APIBase:      DefaultAPIBase,
		MaxRetries:   15,
		InitialDelay: 5 * time.Second,
		MaxDelay:     120 * time.Second,
	}
}

// Publisher implements runner.Publisher against the GitHub contents API:
// look up the existing file SHA, then PUT the base64 artifact.
type Publisher struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 15
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}

	return &Publisher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     cfg,
		logger:     logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (p *Publisher) SetHTTPClient(client *http.Client) {
	p.httpClient = client
}

// PublishRegion commits token_<region>.json with the region's ordered token
// list, retrying with capped exponential backoff.
func (p *Publisher) PublishRegion(ctx context.Context, regionCode string, tokens []runner.Token) error {
	filename := fmt.Sprintf("token_%s.json", strings.ToLower(regionCode))

	content, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := fetcher.BackoffDelay(attempt-1, p.config.InitialDelay, p.config.MaxDelay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := p.commit(ctx, filename, content); err != nil {
			lastErr = err
			p.logger.Warn().
				Err(err).
				Str("file", filename).
				Int("attempt", attempt).
				Msg("Artifact commit failed")
			continue
		}

		p.logger.Info().
			Str("file", filename).
			Str("region", regionCode).
			Int("tokens", len(tokens)).
			Msg("Artifact published")
		return nil
	}

	return fmt.Errorf("publish %s after %d attempts: %w", filename, p.config.MaxRetries, lastErr)
}

// commit performs one SHA lookup + contents PUT cycle.
func (p *Publisher) commit(ctx context.Context, filename string, content []byte) error {
	sha, err := p.fileSHA(ctx, filename)
	if err != nil {
		return err
	}

	payload := map[string]string{
		"message": fmt.Sprintf("Auto-update %s - %s", filename, time.Now().UTC().Format("2006-01-02 15:04:05 UTC")),
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  p.config.Branch,
	}
	if sha != "" {
		payload["sha"] = sha
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal commit payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.contentsURL(filename), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create commit request: %w", err)
	}
	p.setHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("commit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("commit %s: unexpected status %d", filename, resp.StatusCode)
	}
	return nil
}

// fileSHA returns the current blob SHA for filename, or "" when the file
// does not exist yet.
func (p *Publisher) fileSHA(ctx context.Context, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.contentsURL(filename), nil)
	if err != nil {
		return "", fmt.Errorf("create sha request: %w", err)
	}
	p.setHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sha request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sha lookup %s: unexpected status %d", filename, resp.StatusCode)
	}

	var meta struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&meta); err != nil {
		return "", fmt.Errorf("parse sha response: %w", err)
	}
	return meta.SHA, nil
}

func (p *Publisher) contentsURL(filename string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s/%s",
		p.config.APIBase, p.config.Owner, p.config.Repo, p.config.BasePath, filename)
}

func (p *Publisher) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "token "+p.config.Token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
}
