package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDir_Regions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "accounts_eu.json", `[
		{"uid":"1","password":"a"},
		{"uid":"2","password":"b"}
	]`)
	writeFile(t, dir, "accounts_na.json", `[
		{"uid":"3","password":"c"},
		{"uid":"","password":"d"},
		{"uid":"4"}
	]`)
	writeFile(t, dir, "notes.txt", "ignored")

	src := NewDir(dir, zerolog.Nop())
	regions, err := src.Regions(context.Background())
	require.NoError(t, err)
	require.Len(t, regions, 2)

	// Files sort lexically, fixing the region order.
	assert.Equal(t, "EU", regions[0].Region)
	assert.Len(t, regions[0].Accounts, 2)

	// Entries without uid or password are filtered out.
	assert.Equal(t, "NA", regions[1].Region)
	require.Len(t, regions[1].Accounts, 1)
	assert.Equal(t, "3", regions[1].Accounts[0].UID)
}

func TestDir_EmptyRegionFileIsValid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "accounts_sa.json", `[]`)

	src := NewDir(dir, zerolog.Nop())
	regions, err := src.Regions(context.Background())
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Empty(t, regions[0].Accounts)
}

func TestDir_CorruptFileYieldsZeroAccountRegion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "accounts_eu.json", `{not json`)
	writeFile(t, dir, "accounts_na.json", `[{"uid":"1","password":"a"}]`)

	src := NewDir(dir, zerolog.Nop())
	regions, err := src.Regions(context.Background())
	require.NoError(t, err)
	require.Len(t, regions, 2)

	assert.Empty(t, regions[0].Accounts, "corrupt file should not abort the run")
	assert.Len(t, regions[1].Accounts, 1)
}

func TestDir_NoFilesIsUnrecoverable(t *testing.T) {
	src := NewDir(t.TempDir(), zerolog.Nop())

	_, err := src.Regions(context.Background())
	assert.True(t, errors.Is(err, ErrNoAccountFiles), "err = %v", err)
}

func TestDir_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewDir(t.TempDir(), zerolog.Nop())
	_, err := src.Regions(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegionCode(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"accounts_eu.json", "EU"},
		{"/data/accounts_na.json", "NA"},
		{"accounts_ind.json", "IND"},
		{"regions.json", "REGIONS"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, regionCode(tt.file), "regionCode(%s)", tt.file)
	}
}
