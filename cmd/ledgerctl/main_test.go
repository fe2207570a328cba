package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"referral-gate/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleJSON = `{
  "1": {"points": 10, "invites": ["2"], "daily": {}},
  "2": {"points": 0, "invites": [], "daily": {}}
}`

func TestImportExportCheck(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := zap.NewNop()

	src := filepath.Join(dir, "src.json")
	require.NoError(t, os.WriteFile(src, []byte(sampleJSON), 0o644))

	st, err := store.OpenSQLiteStore(ctx, filepath.Join(dir, "ledger.db"), logger)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, importLedger(ctx, st, src, false, logger))
	require.NoError(t, checkLedger(ctx, st, logger))

	var out bytes.Buffer
	require.NoError(t, exportLedger(ctx, st, "-", &out, logger))
	exported, err := store.DecodeLedger(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, exported.IDs())
	assert.Equal(t, int64(10), exported.Users["1"].Points)

	dst := filepath.Join(dir, "out", "users.json")
	require.NoError(t, exportLedger(ctx, st, dst, &out, logger))
	_, err = os.Stat(dst)
	assert.NoError(t, err)
}

func TestImportDryRunDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := zap.NewNop()

	src := filepath.Join(dir, "src.json")
	require.NoError(t, os.WriteFile(src, []byte(sampleJSON), 0o644))

	st := store.NewFileStore(filepath.Join(dir, "users.json"), logger)
	require.NoError(t, importLedger(ctx, st, src, true, logger))

	ledger, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, ledger.Len())
}

func TestImportRejectsCorruptFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := zap.NewNop()

	src := filepath.Join(dir, "src.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"1": {"invites": []}}`), 0o644))

	st := store.NewFileStore(filepath.Join(dir, "users.json"), logger)
	assert.ErrorIs(t, importLedger(ctx, st, src, false, logger), store.ErrCorrupt)
}

func TestCheckReportsInvariantViolations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := zap.NewNop()

	path := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"1": {"points": 10, "invites": ["1"], "daily": {}}}`), 0o644))

	assert.Error(t, checkLedger(ctx, store.NewFileStore(path, logger), logger))
}
