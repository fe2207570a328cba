package store

import (
	"context"
	"path/filepath"
	"testing"

	"referral-gate/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	empty, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	original := sampleLedger()
	require.NoError(t, s.Save(ctx, original))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, original.IDs(), loaded.IDs())
	assert.Equal(t, int64(20), loaded.Users["A"].Points)
	assert.Equal(t, []string{"B", "C"}, loaded.Users["A"].Invitees.Sorted())
	assert.JSONEq(t, `{"claimed":true}`, string(loaded.Users["A"].Daily["2024-05-01"]))
}

func TestSQLiteStoreSaveOverwrites(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleLedger()))

	smaller := sampleLedger()
	delete(smaller.Users, "C")
	smaller.Users["A"].Invitees.Remove("C")
	smaller.Users["A"].Points = 10
	require.NoError(t, s.Save(ctx, smaller))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, loaded.IDs())
	assert.Equal(t, int64(10), loaded.Users["A"].Points)
	assert.NoError(t, loaded.Validate())
}

func TestSQLiteStoreCorruptRowFallsBackToEmpty(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleLedger()))
	_, err := s.db.ExecContext(ctx, `UPDATE ledger_users SET invites = 'oops' WHERE user_id = 'B'`)
	require.NoError(t, err)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
}

func TestNewStoreDrivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := &config.Config{Storage: config.StorageConfig{Driver: "file", LedgerFile: filepath.Join(dir, "users.json")}}
	s, err := NewStore(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	cfg.Storage = config.StorageConfig{Driver: "sqlite", SQLitePath: filepath.Join(dir, "ledger.db")}
	s, err = NewStore(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	cfg.Storage = config.StorageConfig{Driver: "etcd"}
	_, err = NewStore(ctx, cfg, zap.NewNop())
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
