// Package planner partitions the remaining bytes of a file into chunk descriptors.
package planner

import (
	"github.com/surge-downloader/surgemirror/internal/engine/types"
)

// Input carries what the planner needs besides the adaptive parameters
type Input struct {
	SupportsRanges bool
	Runtime        *types.RuntimeConfig
	FixedChunkSize int64 // caller override; replaces the adaptive heuristics when > 0
}

// Plan splits [startOffset, totalSize) into at most params.Concurrency chunks.
// The returned chunks are contiguous, disjoint and cover the range exactly.
func Plan(startOffset, totalSize int64, params types.AdaptiveParams, in Input) []types.ChunkDescriptor {
	remaining := totalSize - startOffset
	if remaining <= 0 || startOffset < 0 {
		return nil
	}

	if remaining <= in.Runtime.GetSmallFileThreshold() || !in.SupportsRanges {
		return []types.ChunkDescriptor{{Index: 0, Start: startOffset, End: totalSize - 1}}
	}

	chunkSize := ChunkSize(totalSize, params, in)

	count := ceilDiv(remaining, chunkSize)
	if limit := int64(params.Concurrency); limit > 0 && count > limit {
		count = limit
	}
	if count < 1 {
		count = 1
	}

	return split(startOffset, totalSize, count)
}

// ChunkSize resolves the target chunk size. Precedence, each step clamped to the
// configured bounds: size-class baseline, speed multiplier, blend with the
// controller's adapted size. A fixed caller size replaces all three.
func ChunkSize(totalSize int64, params types.AdaptiveParams, in Input) int64 {
	lo, hi := in.Runtime.GetMinChunkSize(), in.Runtime.GetMaxChunkSize()

	if in.FixedChunkSize > 0 {
		return clamp(in.FixedChunkSize, lo, hi)
	}

	size := clamp(baseline(totalSize), lo, hi)

	switch speed := params.ObservedSpeed; {
	case speed <= 0:
	case speed < in.Runtime.GetSlowSpeedThreshold():
		size = clamp(size/2, lo, hi)
	case speed > in.Runtime.GetFastSpeedThreshold():
		size = clamp(size+size/2, lo, hi)
	}

	if params.Tuned && params.ChunkSize > 0 {
		size = clamp((size+params.ChunkSize)/2, lo, hi)
	}
	return size
}

func baseline(totalSize int64) int64 {
	switch {
	case totalSize < types.SmallClassLimit:
		return types.SmallClassChunk
	case totalSize < types.MediumClassLimit:
		return types.MediumClassChunk
	case totalSize < types.LargeClassLimit:
		return types.LargeClassChunk
	default:
		return types.HugeClassChunk
	}
}

// split divides [start, total) into count even chunks; the last takes the remainder.
func split(start, total, count int64) []types.ChunkDescriptor {
	remaining := total - start
	each := remaining / count
	chunks := make([]types.ChunkDescriptor, 0, count)

	offset := start
	for i := int64(0); i < count; i++ {
		end := offset + each - 1
		if i == count-1 {
			end = total - 1
		}
		chunks = append(chunks, types.ChunkDescriptor{Index: int(i), Start: offset, End: end})
		offset = end + 1
	}
	return chunks
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 1
	}
	return (a + b - 1) / b
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
