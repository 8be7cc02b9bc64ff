package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// listen4 binds an ephemeral IPv4 loopback port. Some sandboxes have no IPv6
// loopback, which httptest.NewServer would otherwise try first.
func listen4() (net.Listener, error) {
	return net.Listen("tcp4", "127.0.0.1:0")
}

func startOn(ln net.Listener, handler http.Handler) *httptest.Server {
	srv := &httptest.Server{Listener: ln, Config: &http.Server{Handler: handler}}
	srv.Start()
	return srv
}

// NewHTTPServer starts a test server on 127.0.0.1, falling back to httptest's default listener.
func NewHTTPServer(handler http.Handler) *httptest.Server {
	ln, err := listen4()
	if err != nil {
		return httptest.NewServer(handler)
	}
	return startOn(ln, handler)
}

// NewHTTPServerT is NewHTTPServer for tests: it skips t when no port can be bound
// and closes the server on cleanup.
func NewHTTPServerT(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	ln, err := listen4()
	if err != nil {
		t.Skipf("tcp4 listener unavailable: %v", err)
		return nil
	}
	srv := startOn(ln, handler)
	t.Cleanup(srv.Close)
	return srv
}
