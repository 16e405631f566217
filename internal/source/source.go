// Package source loads region account files for a run.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/veldtlabs/tokenforge/pkg/fetcher"
	"github.com/veldtlabs/tokenforge/pkg/runner"
)

// ErrNoAccountFiles indicates the accounts directory holds no region files.
// The runner treats this as an unrecoverable fault for the whole run.
var ErrNoAccountFiles = errors.New("no account files found")

// filePattern matches region account files, e.g. accounts_eu.json.
const filePattern = "accounts_*.json"

// Dir reads accounts_<region>.json files from a directory. The region code
// is derived from the filename; files sort lexically, which fixes the
// region processing order.
type Dir struct {
	path   string
	logger zerolog.Logger
}

// NewDir creates a directory-backed account source.
func NewDir(path string, logger zerolog.Logger) *Dir {
	return &Dir{path: path, logger: logger}
}

// Regions implements runner.Source. Entries without uid or password are
// filtered out; a file that fails to parse yields a zero-account region so
// one corrupt file does not abort the run.
func (d *Dir) Regions(ctx context.Context) ([]runner.RegionAccounts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(d.path, filePattern))
	if err != nil {
		return nil, fmt.Errorf("scan accounts dir: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoAccountFiles, d.path)
	}
	sort.Strings(files)

	regions := make([]runner.RegionAccounts, 0, len(files))
	for _, file := range files {
		code := regionCode(file)

		accounts, err := d.loadFile(file)
		if err != nil {
			d.logger.Error().Err(err).Str("file", filepath.Base(file)).Msg("Account file unreadable")
			regions = append(regions, runner.RegionAccounts{Region: code})
			continue
		}

		regions = append(regions, runner.RegionAccounts{Region: code, Accounts: accounts})
	}

	return regions, nil
}

func (d *Dir) loadFile(file string) ([]fetcher.Account, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var raw []fetcher.Account
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	accounts := make([]fetcher.Account, 0, len(raw))
	for _, acc := range raw {
		if acc.UID == "" || acc.Password == "" {
			d.logger.Warn().Str("file", filepath.Base(file)).Msg("Skipping account entry without uid or password")
			continue
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// regionCode derives the region from a filename: accounts_eu.json -> EU.
func regionCode(file string) string {
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	if i := strings.LastIndex(base, "_"); i >= 0 {
		base = base[i+1:]
	}
	return strings.ToUpper(base)
}
