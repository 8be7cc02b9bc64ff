// Package testutil provides test doubles and helpers for the download engine.
package testutil

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// MockServer is a configurable HTTP test server for download testing.
type MockServer struct {
	Server *httptest.Server

	// Configuration
	FileSize         int64         // Size of the served file
	SupportsRanges   bool          // Whether to support HTTP Range requests
	HideSize         bool          // Omit Content-Length/Content-Range totals (unknown size)
	ContentType      string        // Content-Type header value
	Filename         string        // Filename in Content-Disposition header
	RandomData       bool          // If true, serve random data; otherwise serve zeros
	Latency          time.Duration // Artificial latency per request
	ByteLatency      time.Duration // Latency per 32KB block written
	FailAfterBytes   int64         // Cut every response after this many bytes (0 = no fail)
	FailOnNthRequest int           // Fail on Nth request (0 = don't fail)
	FailFirstN       int           // Fail the first N GET requests with FailStatus
	FailStatus       int           // Status used by FailFirstN / FailOnNthRequest (default 500)
	StatusCode       int           // Answer every request with this status (0 = serve normally)
	RetryAfter       string        // Retry-After header sent with error statuses

	// Tracking
	RequestCount   atomic.Int64
	BytesServed    atomic.Int64
	ActiveRequests atomic.Int64
	PeakActive     atomic.Int64
	RangeRequests  atomic.Int64
	FullRequests   atomic.Int64
	HeadRequests   atomic.Int64
	FailedRequests atomic.Int64
	requestCountMu sync.Mutex
	internalReqNum int
	getReqNum      int
	rangeLog       []string

	// Internal
	data          []byte
	CustomHandler http.HandlerFunc
}

// MockServerOption is a function that configures a MockServer.
type MockServerOption func(*MockServer)

// WithHandler sets a custom request handler.
func WithHandler(h http.HandlerFunc) MockServerOption {
	return func(m *MockServer) {
		m.CustomHandler = h
	}
}

// WithFileSize sets the file size to serve.
func WithFileSize(size int64) MockServerOption {
	return func(m *MockServer) {
		m.FileSize = size
	}
}

// WithRangeSupport enables or disables Range request support.
func WithRangeSupport(enabled bool) MockServerOption {
	return func(m *MockServer) {
		m.SupportsRanges = enabled
	}
}

// WithHiddenSize makes the server stream without announcing the total size.
func WithHiddenSize(hidden bool) MockServerOption {
	return func(m *MockServer) {
		m.HideSize = hidden
	}
}

// WithContentType sets the Content-Type header.
func WithContentType(ct string) MockServerOption {
	return func(m *MockServer) {
		m.ContentType = ct
	}
}

// WithFilename sets the filename in Content-Disposition header.
func WithFilename(name string) MockServerOption {
	return func(m *MockServer) {
		m.Filename = name
	}
}

// WithRandomData enables serving random bytes instead of zeros.
func WithRandomData(random bool) MockServerOption {
	return func(m *MockServer) {
		m.RandomData = random
	}
}

// WithData serves the given bytes (sets FileSize accordingly).
func WithData(data []byte) MockServerOption {
	return func(m *MockServer) {
		m.data = append([]byte(nil), data...)
		m.FileSize = int64(len(data))
	}
}

// WithLatency adds artificial latency per request.
func WithLatency(d time.Duration) MockServerOption {
	return func(m *MockServer) {
		m.Latency = d
	}
}

// WithByteLatency adds artificial latency per 32KB block served.
func WithByteLatency(d time.Duration) MockServerOption {
	return func(m *MockServer) {
		m.ByteLatency = d
	}
}

// WithFailAfterBytes cuts each response after N bytes.
func WithFailAfterBytes(n int64) MockServerOption {
	return func(m *MockServer) {
		m.FailAfterBytes = n
	}
}

// WithFailOnNthRequest causes the Nth request to fail.
func WithFailOnNthRequest(n int) MockServerOption {
	return func(m *MockServer) {
		m.FailOnNthRequest = n
	}
}

// WithFailFirstN makes the first n GET requests fail with status.
func WithFailFirstN(n, status int) MockServerOption {
	return func(m *MockServer) {
		m.FailFirstN = n
		m.FailStatus = status
	}
}

// WithStatusCode answers every request with the given status.
func WithStatusCode(code int) MockServerOption {
	return func(m *MockServer) {
		m.StatusCode = code
	}
}

// WithRetryAfter sets the Retry-After header on error responses.
func WithRetryAfter(v string) MockServerOption {
	return func(m *MockServer) {
		m.RetryAfter = v
	}
}

func newMockServer(opts []MockServerOption) *MockServer {
	m := &MockServer{
		FileSize:       1024 * 1024, // 1MB default
		SupportsRanges: true,
		ContentType:    "application/octet-stream",
		Filename:       "testfile.bin",
		FailStatus:     http.StatusInternalServerError,
	}

	for _, opt := range opts {
		opt(m)
	}

	if int64(len(m.data)) != m.FileSize {
		m.data = make([]byte, m.FileSize)
		if m.RandomData {
			_, _ = rand.Read(m.data)
		}
	}
	return m
}

// NewMockServer creates a new mock HTTP server with the given options.
func NewMockServer(opts ...MockServerOption) *MockServer {
	m := newMockServer(opts)
	m.Server = NewHTTPServer(http.HandlerFunc(m.handleRequest))
	return m
}

// NewMockServerT creates a new mock HTTP server and skips the test if binding fails.
func NewMockServerT(t *testing.T, opts ...MockServerOption) *MockServer {
	t.Helper()
	m := newMockServer(opts)
	m.Server = NewHTTPServerT(t, http.HandlerFunc(m.handleRequest))
	return m
}

// URL returns the server's URL.
func (m *MockServer) URL() string {
	return m.Server.URL
}

// Data returns the bytes the server serves.
func (m *MockServer) Data() []byte {
	return m.data
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	if m.Server != nil {
		m.Server.Close()
	}
}

// Reset clears the tracking counters and range log. Failure injection keeps
// counting requests from server start, so a fail-on-nth schedule fires once.
func (m *MockServer) Reset() {
	m.RequestCount.Store(0)
	m.BytesServed.Store(0)
	m.PeakActive.Store(m.ActiveRequests.Load())
	m.RangeRequests.Store(0)
	m.FullRequests.Store(0)
	m.HeadRequests.Store(0)
	m.FailedRequests.Store(0)
	m.requestCountMu.Lock()
	m.rangeLog = nil
	m.requestCountMu.Unlock()
}

// Ranges returns the Range headers received, sorted.
func (m *MockServer) Ranges() []string {
	m.requestCountMu.Lock()
	defer m.requestCountMu.Unlock()
	out := append([]string(nil), m.rangeLog...)
	sort.Strings(out)
	return out
}

// MinRangeStart returns the lowest start offset requested by a ranged GET, or -1.
func (m *MockServer) MinRangeStart() int64 {
	lowest := int64(-1)
	for _, r := range m.Ranges() {
		start, _, err := parseRange(r, m.FileSize)
		if err != nil {
			continue
		}
		if lowest < 0 || start < lowest {
			lowest = start
		}
	}
	return lowest
}

// Stats returns a summary of server statistics.
func (m *MockServer) Stats() MockServerStats {
	return MockServerStats{
		TotalRequests:  m.RequestCount.Load(),
		BytesServed:    m.BytesServed.Load(),
		PeakActive:     m.PeakActive.Load(),
		RangeRequests:  m.RangeRequests.Load(),
		FullRequests:   m.FullRequests.Load(),
		HeadRequests:   m.HeadRequests.Load(),
		FailedRequests: m.FailedRequests.Load(),
	}
}

// MockServerStats contains server statistics.
type MockServerStats struct {
	TotalRequests  int64
	BytesServed    int64
	PeakActive     int64
	RangeRequests  int64
	FullRequests   int64
	HeadRequests   int64
	FailedRequests int64
}

func (m *MockServer) trackActive() func() {
	n := m.ActiveRequests.Add(1)
	for {
		peak := m.PeakActive.Load()
		if n <= peak || m.PeakActive.CompareAndSwap(peak, n) {
			break
		}
	}
	return func() { m.ActiveRequests.Add(-1) }
}

func (m *MockServer) fail(w http.ResponseWriter, status int) {
	m.FailedRequests.Add(1)
	if m.RetryAfter != "" {
		w.Header().Set("Retry-After", m.RetryAfter)
	}
	http.Error(w, http.StatusText(status), status)
}

func (m *MockServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	if m.CustomHandler != nil {
		m.CustomHandler(w, r)
		return
	}

	m.RequestCount.Add(1)
	defer m.trackActive()()

	m.requestCountMu.Lock()
	m.internalReqNum++
	reqNum := m.internalReqNum
	getNum := 0
	if r.Method == http.MethodGet {
		m.getReqNum++
		getNum = m.getReqNum
	}
	m.requestCountMu.Unlock()

	if m.StatusCode != 0 {
		m.fail(w, m.StatusCode)
		return
	}

	if m.FailOnNthRequest > 0 && reqNum == m.FailOnNthRequest {
		m.fail(w, m.FailStatus)
		return
	}

	if m.FailFirstN > 0 && getNum > 0 && getNum <= m.FailFirstN {
		m.fail(w, m.FailStatus)
		return
	}

	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}

	if r.Method == http.MethodHead {
		m.HeadRequests.Add(1)
		m.setCommonHeaders(w, 0, m.FileSize-1)
		if m.SupportsRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	rangeHeader := r.Header.Get("Range")
	start := int64(0)
	end := m.FileSize - 1

	if rangeHeader != "" && m.SupportsRanges {
		m.RangeRequests.Add(1)

		var err error
		start, end, err = parseRange(rangeHeader, m.FileSize)
		if err != nil {
			http.Error(w, "Invalid range", http.StatusRequestedRangeNotSatisfiable)
			return
		}

		m.requestCountMu.Lock()
		m.rangeLog = append(m.rangeLog, rangeHeader)
		m.requestCountMu.Unlock()

		m.setCommonHeaders(w, start, end)
		total := strconv.FormatInt(m.FileSize, 10)
		if m.HideSize {
			total = "*"
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", start, end, total))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		m.FullRequests.Add(1)
		m.setCommonHeaders(w, 0, m.FileSize-1)
		if m.SupportsRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.WriteHeader(http.StatusOK)
	}

	m.serveBody(w, start, end)
}

func (m *MockServer) serveBody(w http.ResponseWriter, start, end int64) {
	length := end - start + 1
	bytesWritten := int64(0)
	flusher, _ := w.(http.Flusher)

	chunkSize := int64(32 * 1024)
	for bytesWritten < length {
		if m.FailAfterBytes > 0 && bytesWritten >= m.FailAfterBytes {
			m.FailedRequests.Add(1)
			// Abruptly end the response short of its Content-Length
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
				}
			}
			return
		}

		remaining := length - bytesWritten
		if remaining < chunkSize {
			chunkSize = remaining
		}
		if m.FailAfterBytes > 0 && bytesWritten+chunkSize > m.FailAfterBytes {
			chunkSize = m.FailAfterBytes - bytesWritten
		}

		dataStart := start + bytesWritten
		n, err := w.Write(m.data[dataStart : dataStart+chunkSize])
		if err != nil {
			return // Client disconnected
		}

		bytesWritten += int64(n)
		m.BytesServed.Add(int64(n))

		if m.ByteLatency > 0 {
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(m.ByteLatency)
		}
	}
}

func (m *MockServer) setCommonHeaders(w http.ResponseWriter, start, end int64) {
	w.Header().Set("Content-Type", m.ContentType)
	if !m.HideSize {
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	}
	if m.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, m.Filename))
	}
}

// parseRange resolves a single "bytes=" range against fileSize. It accepts
// "a-b", open-ended "a-" and suffix "-n" forms; b is clamped to the last byte.
func parseRange(header string, fileSize int64) (start, end int64, err error) {
	byteRange, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range unit in %q", header)
	}
	first, last, ok := strings.Cut(byteRange, "-")
	if !ok || strings.Contains(last, "-") || strings.Contains(byteRange, ",") {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}

	end = fileSize - 1
	switch {
	case first == "":
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil {
			return 0, 0, err
		}
		start = fileSize - n
	default:
		if start, err = strconv.ParseInt(first, 10, 64); err != nil {
			return 0, 0, err
		}
		if last != "" {
			b, err := strconv.ParseInt(last, 10, 64)
			if err != nil {
				return 0, 0, err
			}
			end = min(b, fileSize-1)
		}
	}

	if start < 0 || start > end {
		return 0, 0, fmt.Errorf("range %q outside 0-%d", header, fileSize-1)
	}
	return start, end, nil
}
