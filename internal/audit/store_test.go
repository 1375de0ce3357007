package audit_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/applimit/internal/audit"
)

func newTestStore(t *testing.T) *audit.Store {
	t.Helper()
	ctx := context.Background()
	dbPath := t.TempDir() + "/audit-test.db"
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s, err := audit.Open(ctx, dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRecordAndListByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Record(ctx, audit.Record{
		Kind:          audit.KindLimitReached,
		UID:           1,
		UserID:        100,
		ObserverID:    7,
		TimeLimitMs:   60_000,
		TimeElapsedMs: 61_000,
		FiredAt:       time.Now(),
	})
	require.NoError(t, err)

	err = s.Record(ctx, audit.Record{
		Kind:          audit.KindSessionEnd,
		UID:           1,
		UserID:        100,
		ObserverID:    8,
		TimeElapsedMs: 12_000,
		FiredAt:       time.Now(),
	})
	require.NoError(t, err)

	records, err := s.ListByUser(ctx, 100, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, audit.KindSessionEnd, records[0].Kind, "newest first")
	assert.NotEmpty(t, records[0].ID, "ID auto-assigned when blank")
}

func TestStoreListByUserFiltersOtherUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, audit.Record{
		Kind: audit.KindLimitReached, UID: 1, UserID: 100, ObserverID: 1, FiredAt: time.Now(),
	}))
	require.NoError(t, s.Record(ctx, audit.Record{
		Kind: audit.KindLimitReached, UID: 1, UserID: 200, ObserverID: 1, FiredAt: time.Now(),
	}))

	records, err := s.ListByUser(ctx, 200, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.EqualValues(t, 200, records[0].UserID)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := t.TempDir() + "/reopen.db"
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s1, err := audit.Open(ctx, dbPath, logger)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := audit.Open(ctx, dbPath, logger)
	require.NoError(t, err)
	defer s2.Close()

	require.NoError(t, s2.Record(ctx, audit.Record{
		Kind: audit.KindLimitReached, UID: 1, UserID: 1, ObserverID: 1, FiredAt: time.Now(),
	}))
}
