package concurrent

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/surge-downloader/surgemirror/internal/engine/transport"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/testutil"
)

type countingSink struct{ n atomic.Int64 }

func (c *countingSink) Add(n, _ int64) { c.n.Add(n) }

// evenPlan splits [start, total) into n chunks; the last takes the remainder
func evenPlan(start, total int64, n int) []types.ChunkDescriptor {
	size := (total - start) / int64(n)
	out := make([]types.ChunkDescriptor, 0, n)
	for i := range n {
		s := start + int64(i)*size
		e := s + size - 1
		if i == n-1 {
			e = total - 1
		}
		out = append(out, types.ChunkDescriptor{Index: i, Start: s, End: e})
	}
	return out
}

func newTestExecutor() *Executor {
	return NewExecutor(transport.NewHTTPTransport(nil), nil)
}

func prepare(t *testing.T, size int64) *Destination {
	t.Helper()
	dir := t.TempDir()
	final := filepath.Join(dir, "out.bin")
	dest, err := Prepare(final+types.IncompleteSuffix, final, size)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	t.Cleanup(func() { _ = dest.Close() })
	return dest
}

func TestExecutor_Download(t *testing.T) {
	fileSize := int64(1 * types.MB)
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(fileSize),
		testutil.WithRandomData(true),
	)
	defer server.Close()

	dest := prepare(t, fileSize)
	chunks := evenPlan(0, fileSize, 4)

	var mu sync.Mutex
	var observed []types.ChunkOutcome
	exec := newTestExecutor()
	exec.OnOutcome = func(o types.ChunkOutcome) {
		mu.Lock()
		observed = append(observed, o)
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	outcomes, err := exec.Execute(ctx, server.URL(), chunks, dest, 4, 10*time.Second)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(outcomes) != len(chunks) || len(observed) != len(chunks) {
		t.Fatalf("expected %d outcomes, got %d returned / %d observed", len(chunks), len(outcomes), len(observed))
	}
	for _, o := range outcomes {
		if !o.Success || o.BytesWritten != chunks[o.Index].Length() {
			t.Errorf("chunk %d: success=%v bytes=%d", o.Index, o.Success, o.BytesWritten)
		}
		if o.Concurrency != 4 {
			t.Errorf("chunk %d: concurrency recorded as %d", o.Index, o.Concurrency)
		}
	}
	if w := dest.Watermark(); w != fileSize {
		t.Errorf("watermark = %d, want %d", w, fileSize)
	}

	if err := dest.Finalize(fileSize); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := testutil.VerifyFileContent(dest.FinalPath, server.Data()); err != nil {
		t.Error(err)
	}
	if testutil.FileExists(dest.WorkPath) {
		t.Error("working file should be gone after Finalize")
	}
}

func TestExecutor_BoundedConcurrency(t *testing.T) {
	fileSize := int64(512 * types.KB)
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(fileSize),
		testutil.WithLatency(30*time.Millisecond),
	)
	defer server.Close()

	for _, limit := range []int{1, 3, 5} {
		server.Reset()
		dest := prepare(t, fileSize)
		chunks := evenPlan(0, fileSize, 32)

		if _, err := newTestExecutor().Execute(context.Background(), server.URL(), chunks, dest, limit, 10*time.Second); err != nil {
			t.Fatalf("limit %d: Execute failed: %v", limit, err)
		}
		if peak := server.Stats().PeakActive; peak > int64(limit) {
			t.Errorf("limit %d: peak in-flight requests %d", limit, peak)
		}
		if got := server.Stats().RangeRequests; got != int64(len(chunks)) {
			t.Errorf("limit %d: %d range requests, want %d", limit, got, len(chunks))
		}
	}
}

func TestExecutor_ServerIgnoresRange(t *testing.T) {
	fileSize := int64(200 * types.KB)
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(fileSize),
		testutil.WithRangeSupport(false),
		testutil.WithRandomData(true),
	)
	defer server.Close()

	dest := prepare(t, fileSize)
	chunks := evenPlan(0, fileSize, 3)

	if _, err := newTestExecutor().Execute(context.Background(), server.URL(), chunks, dest, 3, 10*time.Second); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if err := dest.Finalize(fileSize); err != nil {
		t.Fatal(err)
	}
	if err := testutil.VerifyFileContent(dest.FinalPath, server.Data()); err != nil {
		t.Error(err)
	}
	if got := server.Stats().FullRequests; got != int64(len(chunks)) {
		t.Errorf("expected %d full-body responses, got %d", len(chunks), got)
	}
}

func TestExecutor_ChunkFailureFailsAttempt(t *testing.T) {
	fileSize := int64(256 * types.KB)
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(fileSize),
		testutil.WithFailOnNthRequest(3),
	)
	defer server.Close()

	dest := prepare(t, fileSize)
	chunks := evenPlan(0, fileSize, 8) // sequential, so request 3 is chunk 2

	outcomes, err := newTestExecutor().Execute(context.Background(), server.URL(), chunks, dest, 1, 10*time.Second)
	if err == nil {
		t.Fatal("expected attempt to fail")
	}

	var de *types.DownloadError
	if !errors.As(err, &de) || de.StatusCode != http.StatusInternalServerError || !de.Retryable() {
		t.Fatalf("expected retryable 500 error, got %v", err)
	}
	if len(outcomes) < 3 || outcomes[2].Success || outcomes[2].ErrorKind != types.KindHTTPStatus {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}

	wantWatermark := chunks[1].End + 1
	if w := dest.Watermark(); w != wantWatermark {
		t.Errorf("watermark = %d, want %d", w, wantWatermark)
	}
	if err := testutil.VerifyFileSize(dest.WorkPath, wantWatermark); err != nil {
		t.Errorf("working file not rolled back: %v", err)
	}
}

func TestExecutor_ShortBody(t *testing.T) {
	fileSize := int64(128 * types.KB)
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(fileSize),
		testutil.WithFailAfterBytes(10*1024),
	)
	defer server.Close()

	dest := prepare(t, fileSize)
	_, err := newTestExecutor().Execute(context.Background(), server.URL(), evenPlan(0, fileSize, 1), dest, 1, 10*time.Second)
	if err == nil {
		t.Fatal("expected failure on truncated body")
	}
	if kind := types.KindOf(err); kind != types.KindNetwork {
		t.Errorf("kind = %v, want network", kind)
	}
	if w := dest.Watermark(); w > 10*1024 {
		t.Errorf("watermark %d beyond bytes actually served", w)
	}
}

func TestExecutor_ChunkTimeout(t *testing.T) {
	fileSize := int64(64 * types.KB)
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(fileSize),
		testutil.WithLatency(500*time.Millisecond),
	)
	defer server.Close()

	dest := prepare(t, fileSize)
	outcomes, err := newTestExecutor().Execute(context.Background(), server.URL(), evenPlan(0, fileSize, 1), dest, 1, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if kind := types.KindOf(err); kind != types.KindTimeout {
		t.Errorf("kind = %v, want timeout", kind)
	}
	if len(outcomes) != 1 || outcomes[0].ErrorKind != types.KindTimeout {
		t.Errorf("unexpected outcomes: %+v", outcomes)
	}
}

func TestExecutor_CancellationTruncatesToWatermark(t *testing.T) {
	fileSize := int64(1 * types.MB)
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(fileSize),
		testutil.WithByteLatency(50*time.Millisecond),
	)
	defer server.Close()

	dest := prepare(t, fileSize)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	_, err := newTestExecutor().Execute(ctx, server.URL(), evenPlan(0, fileSize, 64), dest, 4, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if types.KindOf(err) != types.KindCanceled {
		t.Errorf("kind = %v, want canceled", types.KindOf(err))
	}

	info, statErr := os.Stat(dest.WorkPath)
	if statErr != nil {
		t.Fatal(statErr)
	}
	if info.Size() != dest.Watermark() {
		t.Errorf("working file size %d != watermark %d", info.Size(), dest.Watermark())
	}
	if info.Size() >= fileSize {
		t.Errorf("working file should have been truncated, size %d", info.Size())
	}
}

func TestExecutor_ResumeSkipsConfirmedBytes(t *testing.T) {
	fileSize := int64(512 * types.KB)
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(fileSize),
		testutil.WithRandomData(true),
	)
	defer server.Close()

	dir := t.TempDir()
	final := filepath.Join(dir, "resume.bin")
	work := final + types.IncompleteSuffix

	have := int64(200 * types.KB)
	if err := os.WriteFile(work, server.Data()[:have], 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := Prepare(work, final, fileSize)
	if err != nil {
		t.Fatal(err)
	}
	defer dest.Close()
	if dest.StartOffset != have || !dest.Resumed {
		t.Fatalf("StartOffset = %d resumed=%v, want %d", dest.StartOffset, dest.Resumed, have)
	}

	sink := &countingSink{}
	exec := newTestExecutor()
	exec.Progress = sink
	if _, err := exec.Execute(context.Background(), server.URL(), evenPlan(dest.StartOffset, fileSize, 4), dest, 4, 10*time.Second); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if lowest := server.MinRangeStart(); lowest < have {
		t.Errorf("re-requested confirmed bytes: lowest range start %d < %d", lowest, have)
	}
	if got := sink.n.Load(); got != fileSize-have {
		t.Errorf("progress reported %d bytes, want %d", got, fileSize-have)
	}

	if err := dest.Finalize(fileSize); err != nil {
		t.Fatal(err)
	}
	if err := testutil.VerifyFileContent(final, server.Data()); err != nil {
		t.Error(err)
	}
}

func TestExecutor_CustomHeaders(t *testing.T) {
	fileSize := int64(64 * types.KB)
	data := make([]byte, fileSize)

	var mu sync.Mutex
	var cookies, ranges []string
	server := testutil.NewMockServerT(t, testutil.WithFileSize(fileSize), testutil.WithHandler(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		cookies = append(cookies, r.Header.Get("Cookie"))
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()
		http.ServeContent(w, r, "f.bin", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()

	dest := prepare(t, fileSize)
	exec := newTestExecutor()
	exec.Headers = map[string]string{"Cookie": "session=abc", "Range": "bytes=0-1"}

	chunks := evenPlan(0, fileSize, 2)
	if _, err := exec.Execute(context.Background(), server.URL(), chunks, dest, 2, 10*time.Second); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, c := range cookies {
		if c != "session=abc" {
			t.Errorf("request %d: cookie %q not forwarded", i, c)
		}
		if ranges[i] == "bytes=0-1" {
			t.Errorf("request %d: caller Range header overrode the chunk range", i)
		}
	}
}

func TestExecutor_EmptyPlan(t *testing.T) {
	outcomes, err := newTestExecutor().Execute(context.Background(), "http://unused.invalid", nil, nil, 4, time.Second)
	if err != nil || outcomes != nil {
		t.Fatalf("empty plan should be a no-op, got %v %v", outcomes, err)
	}
}
