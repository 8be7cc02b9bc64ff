package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
)

func testRuntime() *types.RuntimeConfig {
	return &types.RuntimeConfig{
		MinChunkSize:       256 * types.KB,
		MaxChunkSize:       8 * types.MB,
		SmallFileThreshold: 512 * types.KB,
	}
}

func assertCovers(t *testing.T, chunks []types.ChunkDescriptor, start, total int64) {
	t.Helper()
	require.NotEmpty(t, chunks)
	assert.Equal(t, start, chunks[0].Start, "first chunk must begin at the offset")
	assert.Equal(t, total-1, chunks[len(chunks)-1].End, "last chunk must end at total-1")

	var sum int64
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, c.Start, c.End)
		if i > 0 {
			assert.Equal(t, chunks[i-1].End+1, c.Start, "chunks must be contiguous")
		}
		sum += c.Length()
	}
	assert.Equal(t, total-start, sum)
}

func TestPlan_TenMegabytesFourWorkers(t *testing.T) {
	params := types.AdaptiveParams{Concurrency: 4}
	chunks := Plan(0, 10*types.MB, params, Input{SupportsRanges: true, Runtime: testRuntime()})

	require.Len(t, chunks, 4)
	assertCovers(t, chunks, 0, 10*types.MB)
	for _, c := range chunks[:3] {
		assert.Equal(t, int64(10*types.MB/4), c.Length())
	}
}

func TestPlan_CoverageProperty(t *testing.T) {
	sizes := []int64{
		513 * types.KB, 1*types.MB + 7, 10 * types.MB, 17*types.MB - 3,
		300 * types.MB, 2 * types.GB, 3*types.GB + 12345,
	}
	offsets := []int64{0, 1, 4096, 600 * types.KB}
	concurrencies := []int{1, 2, 3, 4, 7, 16}

	for _, total := range sizes {
		for _, off := range offsets {
			for _, conc := range concurrencies {
				params := types.AdaptiveParams{Concurrency: conc}
				chunks := Plan(off, total, params, Input{SupportsRanges: true, Runtime: testRuntime()})
				if off >= total {
					assert.Empty(t, chunks)
					continue
				}
				assertCovers(t, chunks, off, total)
				assert.LessOrEqual(t, len(chunks), conc)
			}
		}
	}
}

func TestPlan_SingleChunk(t *testing.T) {
	t.Run("no range support", func(t *testing.T) {
		chunks := Plan(0, 100*types.MB, types.AdaptiveParams{Concurrency: 8}, Input{Runtime: testRuntime()})
		require.Len(t, chunks, 1)
		assertCovers(t, chunks, 0, 100*types.MB)
	})

	t.Run("small remainder", func(t *testing.T) {
		total := int64(100 * types.MB)
		off := total - 512*types.KB
		chunks := Plan(off, total, types.AdaptiveParams{Concurrency: 8}, Input{SupportsRanges: true, Runtime: testRuntime()})
		require.Len(t, chunks, 1)
		assertCovers(t, chunks, off, total)
	})
}

func TestPlan_EmptyWhenNothingRemains(t *testing.T) {
	params := types.AdaptiveParams{Concurrency: 4}
	in := Input{SupportsRanges: true, Runtime: testRuntime()}

	assert.Empty(t, Plan(0, 0, params, in))
	assert.Empty(t, Plan(1024, 1024, params, in))
	assert.Empty(t, Plan(2048, 1024, params, in))
}

func TestPlan_ZeroConcurrencyStillPlans(t *testing.T) {
	chunks := Plan(0, 4*types.MB, types.AdaptiveParams{}, Input{SupportsRanges: true, Runtime: testRuntime()})
	assertCovers(t, chunks, 0, 4*types.MB)
}

func TestChunkSize_Precedence(t *testing.T) {
	rt := testRuntime()
	in := Input{SupportsRanges: true, Runtime: rt}

	tests := []struct {
		name   string
		total  int64
		params types.AdaptiveParams
		fixed  int64
		want   int64
	}{
		{"small class", 10 * types.MB, types.AdaptiveParams{}, 0, 512 * types.KB},
		{"medium class", 100 * types.MB, types.AdaptiveParams{}, 0, 2 * types.MB},
		{"large class", 512 * types.MB, types.AdaptiveParams{}, 0, 4 * types.MB},
		{"huge class", 4 * types.GB, types.AdaptiveParams{}, 0, 8 * types.MB},
		{"slow halves", 100 * types.MB, types.AdaptiveParams{ObservedSpeed: 100 * types.KB}, 0, 1 * types.MB},
		{"fast grows", 100 * types.MB, types.AdaptiveParams{ObservedSpeed: 20 * types.MB}, 0, 3 * types.MB},
		{"fast clamps at max", 4 * types.GB, types.AdaptiveParams{ObservedSpeed: 20 * types.MB}, 0, 8 * types.MB},
		{"slow clamps at min", 10 * types.MB, types.AdaptiveParams{ObservedSpeed: 1}, 0, 256 * types.KB},
		{"blend with adapted", 100 * types.MB, types.AdaptiveParams{ChunkSize: 4 * types.MB, Tuned: true}, 0, 3 * types.MB},
		{"untuned size ignored", 100 * types.MB, types.AdaptiveParams{ChunkSize: 8 * types.MB}, 0, 2 * types.MB},
		{"fixed overrides", 4 * types.GB, types.AdaptiveParams{ObservedSpeed: 1}, 1 * types.MB, 1 * types.MB},
		{"fixed still clamped", 4 * types.GB, types.AdaptiveParams{}, 64 * types.MB, 8 * types.MB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in.FixedChunkSize = tt.fixed
			assert.Equal(t, tt.want, ChunkSize(tt.total, tt.params, in))
		})
	}
}

func TestChunkSize_NilRuntimeUsesDefaults(t *testing.T) {
	got := ChunkSize(100*types.MB, types.AdaptiveParams{}, Input{})
	assert.GreaterOrEqual(t, got, int64(types.MinChunk))
	assert.LessOrEqual(t, got, int64(types.MaxChunk))
}
