// Package concurrent fetches a chunk plan in parallel into a shared working file.
package concurrent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/surge-downloader/surgemirror/internal/engine/transport"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// Buffer pool to reduce GC pressure
var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, types.WorkerBuffer)
		return &buf
	},
}

// Executor runs one attempt: every chunk of a plan against one URL.
type Executor struct {
	Transport transport.Transport
	Runtime   *types.RuntimeConfig
	Headers   map[string]string // Custom HTTP headers (cookies, auth, etc.)

	// Progress receives (n, total) after every write. Optional.
	Progress types.ProgressSink
	// OnOutcome receives one outcome per started chunk, from the chunk's goroutine. Optional.
	OnOutcome func(types.ChunkOutcome)
}

// NewExecutor creates an executor on the given transport
func NewExecutor(tr transport.Transport, runtime *types.RuntimeConfig) *Executor {
	return &Executor{Transport: tr, Runtime: runtime}
}

// Execute fetches every chunk of plan from url into dest with at most
// concurrency requests in flight. The first chunk failure cancels the rest and
// fails the attempt; the working file is then cut back to its watermark.
// Outcomes are returned for every chunk that was started.
func (e *Executor) Execute(ctx context.Context, url string, plan []types.ChunkDescriptor, dest *Destination, concurrency int, timeout time.Duration) ([]types.ChunkOutcome, error) {
	if len(plan) == 0 {
		return nil, nil
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = e.Runtime.GetChunkTimeout()
	}

	utils.Debug("executor: %s, %d chunks, concurrency %d", url, len(plan), concurrency)

	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	outcomes := make([]types.ChunkOutcome, len(plan))
	started := make([]bool, len(plan))

	launched := 0
	for i, chunk := range plan {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		started[i] = true
		launched++
		g.Go(func() error {
			defer sem.Release(1)
			o, err := e.fetchChunk(gctx, url, chunk, dest, timeout)
			o.Concurrency = concurrency
			outcomes[i] = o
			if e.OnOutcome != nil {
				e.OnOutcome(o)
			}
			return err
		})
	}

	err := g.Wait()
	if err == nil && launched < len(plan) {
		err = ctx.Err()
	}

	var result []types.ChunkOutcome
	for i, ok := range started {
		if ok {
			result = append(result, outcomes[i])
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		if rbErr := dest.Rollback(); rbErr != nil {
			utils.Debug("executor: rollback failed: %v", rbErr)
		}
		return result, types.Classify(err, url)
	}
	return result, nil
}

func (e *Executor) fetchChunk(ctx context.Context, url string, chunk types.ChunkDescriptor, dest *Destination, timeout time.Duration) (types.ChunkOutcome, error) {
	outcome := types.ChunkOutcome{Index: chunk.Index, ChunkSize: chunk.Length()}
	start := time.Now()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fail := func(err error) (types.ChunkOutcome, error) {
		switch {
		case ctx.Err() != nil:
			// Attempt aborted elsewhere; not this chunk's fault
			err = ctx.Err()
		case errors.Is(cctx.Err(), context.DeadlineExceeded) && types.KindOf(err) == types.KindNetwork:
			err = types.NewError(types.KindTimeout, url, fmt.Errorf("chunk %d: %w", chunk.Index, err))
		}
		de := types.Classify(err, url)
		outcome.Duration = time.Since(start)
		outcome.ErrorKind = de.Kind
		return outcome, de
	}

	resp, err := e.Transport.Do(cctx, transport.Request{
		URL:     url,
		Range:   &transport.ByteRange{Start: chunk.Start, End: chunk.End},
		Headers: e.Headers,
	})
	if err != nil {
		return fail(err)
	}
	defer func() { _ = resp.Body.Close() }()
	outcome.Latency = time.Since(start)

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if got, _, _, err := transport.ParseContentRange(cr); err == nil && got != chunk.Start {
				return fail(types.NewError(types.KindHTTPStatus, url,
					fmt.Errorf("server returned range starting at %d, want %d", got, chunk.Start)))
			}
		}
	case http.StatusOK:
		// Server ignored the Range header; skip to the chunk start
		if chunk.Start > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, chunk.Start); err != nil {
				return fail(err)
			}
		}
	default:
		return fail(types.NewStatusError(url, resp.StatusCode, resp.RetryAfter()))
	}

	bufPtr := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufPtr)
	buf := *bufPtr
	if size := e.Runtime.GetWorkerBufferSize(); size < len(buf) {
		buf = buf[:size]
	}

	offset := chunk.Start
	remaining := chunk.Length()
	for remaining > 0 {
		want := min(int64(len(buf)), remaining)
		n, readErr := io.ReadFull(resp.Body, buf[:want])
		if n > 0 {
			if _, err := dest.WriteAt(buf[:n], offset); err != nil {
				return fail(types.NewError(types.KindIO, url, fmt.Errorf("write error: %w", err)))
			}
			offset += int64(n)
			remaining -= int64(n)
			outcome.BytesWritten += int64(n)
			if e.Progress != nil {
				e.Progress.Add(int64(n), dest.ExpectedSize)
			}
		}
		if readErr != nil && remaining > 0 {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				readErr = types.NewError(types.KindNetwork, url, types.ErrShortBody)
			}
			return fail(readErr)
		}
	}

	outcome.Duration = time.Since(start)
	outcome.Success = true
	return outcome, nil
}
