package engine

import "github.com/surge-downloader/fetchd/internal/engine/types"

// PlanChunks splits [0, total) into at most maxChunks contiguous ranges of
// roughly equal size, none smaller than minChunk unless the whole resource
// is. The last range absorbs the remainder. A zero-length resource yields no
// chunks and an unknown length yields one open-ended chunk.
func PlanChunks(total int64, maxChunks int, minChunk int64) []types.Chunk {
	if total == types.UnknownSize {
		return []types.Chunk{{Start: 0, End: types.UnknownSize, State: types.WorkerPending}}
	}
	if total <= 0 {
		return nil
	}
	if maxChunks < 1 {
		maxChunks = 1
	}
	if minChunk < 1 {
		minChunk = 1
	}

	n := total / minChunk
	if n > int64(maxChunks) {
		n = int64(maxChunks)
	}
	if n < 1 {
		n = 1
	}

	size := total / n
	chunks := make([]types.Chunk, n)
	for i := int64(0); i < n; i++ {
		chunks[i] = types.Chunk{
			Start: i * size,
			End:   (i + 1) * size,
			State: types.WorkerPending,
		}
	}
	chunks[n-1].End = total
	return chunks
}

// PlanForProbe chooses the chunk layout for a probed resource. Servers
// without range support and resources of unknown length get one stream.
func PlanForProbe(p *ProbeResult, runtime *types.RuntimeConfig) []types.Chunk {
	if !p.SupportsRange || p.FileSize == types.UnknownSize {
		return PlanChunks(p.FileSize, 1, 1)
	}
	return PlanChunks(p.FileSize, runtime.GetMaxChunks(), runtime.GetMinChunkSize())
}
