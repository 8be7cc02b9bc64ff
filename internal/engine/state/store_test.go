package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", DBName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_EmptyDatabase(t *testing.T) {
	snap, err := openTemp(t).LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Sources)
	assert.Empty(t, snap.URLs)
}

func TestStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	ok := time.Unix(1_700_000_000, 123)
	snap := types.MetricsSnapshot{
		Sources: []types.SourceMetrics{
			{Name: "github", TotalRequests: 10, SuccessfulRequests: 9, FailedRequests: 1,
				AvgResponseTime: 80 * time.Millisecond, AvgSpeed: 4e6, LastSuccess: ok, Reliability: 0.9},
		},
		URLs: []types.URLMetrics{
			{SourceMetrics: types.SourceMetrics{Name: "https://a.example/f", TotalRequests: 3, FailedRequests: 3,
				LastFailure: ok}, ConsecutiveFailures: 3},
		},
	}
	require.NoError(t, s.SaveSnapshot(ctx, snap))

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got.Sources, 1)
	require.Len(t, got.URLs, 1)

	src := got.Sources[0]
	assert.Equal(t, "github", src.Name)
	assert.Equal(t, int64(9), src.SuccessfulRequests)
	assert.Equal(t, 80*time.Millisecond, src.AvgResponseTime)
	assert.True(t, src.LastSuccess.Equal(ok))
	assert.True(t, src.LastFailure.IsZero())
	assert.InDelta(t, 0.9, src.Reliability, 1e-9)

	u := got.URLs[0]
	assert.Equal(t, 3, u.ConsecutiveFailures)
	assert.True(t, u.LastFailure.Equal(ok))
}

func TestStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	first := types.MetricsSnapshot{Sources: []types.SourceMetrics{{Name: "cdn", TotalRequests: 1}}}
	second := types.MetricsSnapshot{Sources: []types.SourceMetrics{{Name: "cdn", TotalRequests: 5}}}
	require.NoError(t, s.SaveSnapshot(ctx, first))
	require.NoError(t, s.SaveSnapshot(ctx, second))

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, int64(5), got.Sources[0].TotalRequests)
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), DBName)

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SaveSnapshot(ctx, types.MetricsSnapshot{
		Sources: []types.SourceMetrics{{Name: "mirror", SuccessfulRequests: 2}},
	}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "mirror", got.Sources[0].Name)
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	now := time.Now()
	require.NoError(t, s.SaveSnapshot(ctx, types.MetricsSnapshot{
		URLs: []types.URLMetrics{
			{SourceMetrics: types.SourceMetrics{Name: "https://old.example/f", LastSuccess: now.Add(-48 * time.Hour)}},
			{SourceMetrics: types.SourceMetrics{Name: "https://new.example/f", LastFailure: now}},
		},
	}))

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got.URLs, 1)
	assert.Equal(t, "https://new.example/f", got.URLs[0].Name)
}
