package testutil

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url, rangeHeader string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func TestMockServer_FullAndRanged(t *testing.T) {
	srv := NewMockServerT(t, WithFileSize(1<<20), WithRandomData(true))

	resp, body := get(t, srv.URL(), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Equal(t, srv.Data(), body)

	// Chunked reads reassemble to the same bytes
	const chunk = 256 * 1024
	var joined []byte
	for off := int64(0); off < 1<<20; off += chunk {
		resp, part := get(t, srv.URL(), fmt.Sprintf("bytes=%d-%d", off, off+chunk-1))
		require.Equal(t, http.StatusPartialContent, resp.StatusCode)
		assert.Equal(t, fmt.Sprintf("bytes %d-%d/%d", off, off+chunk-1, 1<<20), resp.Header.Get("Content-Range"))
		joined = append(joined, part...)
	}
	assert.Equal(t, srv.Data(), joined)

	stats := srv.Stats()
	assert.Equal(t, int64(5), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.FullRequests)
	assert.Equal(t, int64(4), stats.RangeRequests)
	assert.Equal(t, int64(2<<20), stats.BytesServed)
}

func TestMockServer_Head(t *testing.T) {
	srv := NewMockServerT(t, WithFileSize(5<<20), WithFilename("tool.zip"), WithContentType("application/zip"))

	resp, err := http.Head(srv.URL())
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5242880", resp.Header.Get("Content-Length"))
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="tool.zip"`)
	assert.Equal(t, int64(1), srv.Stats().HeadRequests)
}

func TestMockServer_NoRangesServesWholeFile(t *testing.T) {
	srv := NewMockServerT(t, WithFileSize(1024), WithRangeSupport(false))

	resp, body := get(t, srv.URL(), "bytes=0-511")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Accept-Ranges"))
	assert.Len(t, body, 1024)
}

func TestMockServer_HiddenSize(t *testing.T) {
	srv := NewMockServerT(t, WithFileSize(64*1024), WithRangeSupport(false), WithHiddenSize(true))

	resp, body := get(t, srv.URL(), "")
	assert.Equal(t, int64(-1), resp.ContentLength)
	assert.Len(t, body, 64*1024)

	ranged := NewMockServerT(t, WithFileSize(4096), WithHiddenSize(true))
	resp, _ = get(t, ranged.URL(), "bytes=0-99")
	assert.Equal(t, "bytes 0-99/*", resp.Header.Get("Content-Range"))
}

func TestMockServer_Failures(t *testing.T) {
	t.Run("nth request", func(t *testing.T) {
		srv := NewMockServerT(t, WithFileSize(1024), WithFailOnNthRequest(2))
		var codes []int
		for range 3 {
			resp, _ := get(t, srv.URL(), "")
			codes = append(codes, resp.StatusCode)
		}
		assert.Equal(t, []int{200, 500, 200}, codes)
		assert.Equal(t, int64(1), srv.Stats().FailedRequests)
	})

	t.Run("reset keeps the failure schedule", func(t *testing.T) {
		srv := NewMockServerT(t, WithFileSize(1024), WithFailOnNthRequest(2))
		resp, _ := get(t, srv.URL(), "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		srv.Reset()
		resp, _ = get(t, srv.URL(), "")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		srv.Reset()
		resp, _ = get(t, srv.URL(), "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int64(1), srv.Stats().TotalRequests)
	})

	t.Run("first n with retry-after", func(t *testing.T) {
		srv := NewMockServerT(t, WithFileSize(1024), WithFailFirstN(2, http.StatusTooManyRequests), WithRetryAfter("3"))
		for i, want := range []int{429, 429, 200} {
			resp, _ := get(t, srv.URL(), "")
			assert.Equal(t, want, resp.StatusCode, "request %d", i)
			if want != http.StatusOK {
				assert.Equal(t, "3", resp.Header.Get("Retry-After"))
			}
		}
	})

	t.Run("fixed status", func(t *testing.T) {
		srv := NewMockServerT(t, WithStatusCode(http.StatusNotFound))
		resp, _ := get(t, srv.URL(), "bytes=0-1")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("cut after bytes", func(t *testing.T) {
		srv := NewMockServerT(t, WithFileSize(256*1024), WithFailAfterBytes(64*1024))
		resp, err := http.Get(srv.URL())
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		assert.Error(t, err)
		assert.LessOrEqual(t, len(body), 64*1024)
	})
}

func TestMockServer_CustomHandler(t *testing.T) {
	srv := NewMockServerT(t, WithHandler(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	resp, _ := get(t, srv.URL(), "")
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	// Custom handlers bypass tracking
	assert.Zero(t, srv.Stats().TotalRequests)
}

func TestMockServer_Latency(t *testing.T) {
	srv := NewMockServerT(t, WithFileSize(1024), WithLatency(100*time.Millisecond))
	start := time.Now()
	get(t, srv.URL(), "")
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestMockServer_RangeLogAndPeak(t *testing.T) {
	srv := NewMockServerT(t, WithFileSize(4096), WithLatency(50*time.Millisecond))

	var wg sync.WaitGroup
	for _, r := range []string{"bytes=2048-4095", "bytes=1024-2047"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, srv.URL(), nil)
			req.Header.Set("Range", r)
			if resp, err := http.DefaultClient.Do(req); err == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"bytes=1024-2047", "bytes=2048-4095"}, srv.Ranges())
	assert.Equal(t, int64(1024), srv.MinRangeStart())
	peak := srv.Stats().PeakActive
	assert.True(t, peak >= 1 && peak <= 2, "peak %d", peak)

	srv.Reset()
	assert.Empty(t, srv.Ranges())
	assert.Equal(t, int64(-1), srv.MinRangeStart())
	assert.Zero(t, srv.Stats().TotalRequests)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		header     string
		start, end int64
		wantErr    bool
	}{
		{"bytes=0-99", 0, 99, false},
		{"bytes=100-", 100, 999, false},
		{"bytes=-100", 900, 999, false},
		{"bytes=900-5000", 900, 999, false},
		{"bytes=500-400", 0, 0, true},
		{"bytes=1000-", 0, 0, true},
		{"items=0-1", 0, 0, true},
		{"bytes=0-1,5-6", 0, 0, true},
		{"bytes=x-1", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			start, end, err := parseRange(tt.header, 1000)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestFileHelpers(t *testing.T) {
	dir, cleanup, err := TempDir("surgemirror-test")
	require.NoError(t, err)
	assert.True(t, FileExists(dir))

	path, err := CreateTestFile(dir, "test.bin", 2048, false)
	require.NoError(t, err)
	assert.NoError(t, VerifyFileSize(path, 2048))
	assert.Error(t, VerifyFileSize(path, 1024))
	assert.NoError(t, VerifyFileContent(path, make([]byte, 2048)))
	assert.Error(t, VerifyFileContent(path, make([]byte, 10)))

	cleanup()
	assert.False(t, FileExists(dir))
}
