// Package single streams a whole entity over one connection. It serves sources
// that ignore Range requests and downloads whose size is not known up front.
package single

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/surge-downloader/surgemirror/internal/engine/concurrent"
	"github.com/surge-downloader/surgemirror/internal/engine/transport"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// Downloader handles single-connection downloads.
// Interrupted streams cannot resume: without Range support the next attempt
// starts again from byte 0.
type Downloader struct {
	Transport transport.Transport
	Runtime   *types.RuntimeConfig
	Headers   map[string]string // Custom HTTP headers (cookies, auth, etc.)
	Progress  types.ProgressSink
}

// New creates a single-stream downloader on the given transport
func New(tr transport.Transport, runtime *types.RuntimeConfig) *Downloader {
	return &Downloader{Transport: tr, Runtime: runtime}
}

// Download streams rawurl into dest from the first byte. The returned outcome
// describes the stream as one chunk; BytesWritten is the entity length on success.
// The caller finalizes dest.
func (d *Downloader) Download(ctx context.Context, rawurl string, dest *concurrent.Destination) (types.ChunkOutcome, error) {
	outcome := types.ChunkOutcome{Concurrency: 1, ChunkSize: dest.ExpectedSize}
	start := time.Now()

	fail := func(err error) (types.ChunkOutcome, error) {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		de := types.Classify(err, rawurl)
		outcome.Duration = time.Since(start)
		outcome.ErrorKind = de.Kind
		if rbErr := dest.Rollback(); rbErr != nil {
			utils.Debug("single: rollback failed: %v", rbErr)
		}
		return outcome, de
	}

	if dest.Watermark() > 0 {
		if err := dest.Reset(); err != nil {
			return fail(err)
		}
	}

	resp, err := d.Transport.Do(ctx, transport.Request{URL: rawurl, Headers: d.Headers})
	if err != nil {
		return fail(err)
	}
	defer func() { _ = resp.Body.Close() }()
	outcome.Latency = time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return fail(types.NewStatusError(rawurl, resp.StatusCode, resp.RetryAfter()))
	}

	buf := make([]byte, d.Runtime.GetWorkerBufferSize())
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		nr, readErr := resp.Body.Read(buf)
		if nr > 0 {
			nw, writeErr := dest.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
				outcome.BytesWritten = written
				if d.Progress != nil {
					d.Progress.Add(int64(nw), dest.ExpectedSize)
				}
			}
			if writeErr != nil {
				return fail(types.NewError(types.KindIO, rawurl, fmt.Errorf("write error: %w", writeErr)))
			}
			if nr != nw {
				return fail(types.NewError(types.KindIO, rawurl, io.ErrShortWrite))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if errors.Is(readErr, io.ErrUnexpectedEOF) {
				readErr = types.NewError(types.KindNetwork, rawurl, types.ErrShortBody)
			}
			return fail(readErr)
		}
	}

	if dest.ExpectedSize > 0 && written != dest.ExpectedSize {
		return fail(types.NewError(types.KindNetwork, rawurl,
			fmt.Errorf("%w: got %d of %d bytes", types.ErrShortBody, written, dest.ExpectedSize)))
	}

	outcome.Duration = time.Since(start)
	outcome.Success = true
	outcome.ChunkSize = written

	elapsed := outcome.Duration
	utils.Debug("single: %s streamed %s in %s (%s)",
		rawurl,
		utils.ConvertBytesToHumanReadable(written),
		elapsed.Round(time.Millisecond),
		utils.FormatSpeed(outcome.Speed()),
	)
	return outcome, nil
}
