package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ontime/internal/model"
)

func openTemp(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, model.Firing{ScheduleID: "a", Rule: "0 0 7 * * 1", FiredAt: base, Took: 1500 * time.Millisecond, Actions: 2}))
	require.NoError(t, s.Record(ctx, model.Firing{ScheduleID: "b", FiredAt: base.Add(time.Hour), Actions: 1, Failures: 1, Error: "boom"}))
	require.NoError(t, s.Record(ctx, model.Firing{ScheduleID: "a", FiredAt: base.Add(24 * time.Hour), Actions: 2}))

	all, err := s.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].FiredAt.Equal(base.Add(24*time.Hour)), "newest first")
	assert.Equal(t, "boom", all[1].Error)
	assert.False(t, all[1].OK())

	onlyA, err := s.Recent(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	last := onlyA[1]
	assert.Equal(t, "0 0 7 * * 1", last.Rule)
	assert.Equal(t, 1500*time.Millisecond, last.Took)
	assert.True(t, last.FiredAt.Equal(base))
	assert.Empty(t, last.Error)
	assert.NotZero(t, last.ID)

	limited, err := s.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecentEmptyIsNotNil(t *testing.T) {
	s := openTemp(t)
	got, err := s.Recent(context.Background(), "none", 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestPrune(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, model.Firing{ScheduleID: "a", FiredAt: base.AddDate(0, 0, i)}))
	}

	n, err := s.Prune(ctx, base.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	left, err := s.Recent(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), model.Firing{ScheduleID: "a"}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Recent(context.Background(), "a", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpenWithoutPathIsNop(t *testing.T) {
	s, err := Open("  ")
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)
	assert.NoError(t, s.Record(context.Background(), model.Firing{}))
	_, err = s.Recent(context.Background(), "", 0)
	assert.True(t, errors.Is(err, ErrDisabled))
}
