// Package transport is the engine's only view of HTTP: issue GET/HEAD with an
// optional byte range and get back status, headers and a body stream.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vfaronov/httpheader"
	"golang.org/x/net/proxy"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// ByteRange is an inclusive byte range. End < 0 means "to the end of the entity".
type ByteRange struct {
	Start int64
	End   int64
}

// Request is a single GET or HEAD
type Request struct {
	Method  string // defaults to GET
	URL     string
	Range   *ByteRange // nil for a plain request
	Headers map[string]string
}

// Response is what the engine needs from an HTTP response
type Response struct {
	StatusCode    int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// RetryAfter returns the server's Retry-After hint, or 0
func (r *Response) RetryAfter() time.Duration {
	if r == nil || r.Header == nil {
		return 0
	}
	at := httpheader.RetryAfter(r.Header)
	if at.IsZero() {
		return 0
	}
	if d := time.Until(at); d > 0 {
		return d
	}
	return 0
}

// Transport is the capability set the engine depends on
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Func adapts a function to Transport
type Func func(ctx context.Context, req Request) (*Response, error)

func (f Func) Do(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }

// HTTPTransport implements Transport on net/http with a tuned connection pool
type HTTPTransport struct {
	Client  *http.Client
	Runtime *types.RuntimeConfig
}

// NewHTTPTransport builds a transport sized for maxConns parallel range requests per host
func NewHTTPTransport(runtime *types.RuntimeConfig) *HTTPTransport {
	maxConns := runtime.GetMaxConcurrency()
	if maxConns > types.PerHostMax {
		maxConns = types.PerHostMax
	}

	transport := &http.Transport{
		MaxIdleConns:        types.DefaultMaxIdleConns,
		MaxIdleConnsPerHost: maxConns + 2, // Slightly more than max to handle bursts

		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: types.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,

		DisableCompression: true,  // Byte ranges must address the raw entity
		ForceAttemptHTTP2:  false, // HTTP/1.1 so each chunk gets its own TCP connection
		TLSNextProto:       make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),

		DialContext: (&net.Dialer{
			Timeout:   types.DialTimeout,
			KeepAlive: types.KeepAliveDuration,
		}).DialContext,
	}

	configureProxy(transport, runtime)

	if runtime != nil && runtime.SkipTLSVerification {
		utils.Debug("transport: TLS verification disabled")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTPTransport{
		Client:  &http.Client{Transport: transport},
		Runtime: runtime,
	}
}

func configureProxy(transport *http.Transport, runtime *types.RuntimeConfig) {
	if runtime == nil || runtime.ProxyURL == "" {
		transport.Proxy = http.ProxyFromEnvironment
		return
	}

	parsedURL, err := url.Parse(runtime.ProxyURL)
	if err != nil {
		utils.Debug("transport: invalid proxy URL %s: %v", runtime.ProxyURL, err)
		transport.Proxy = http.ProxyFromEnvironment
		return
	}

	if !strings.HasPrefix(parsedURL.Scheme, "socks5") {
		transport.Proxy = http.ProxyURL(parsedURL)
		return
	}

	var auth *proxy.Auth
	if parsedURL.User != nil {
		pass, _ := parsedURL.User.Password()
		auth = &proxy.Auth{User: parsedURL.User.Username(), Password: pass}
	}
	dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
	if err != nil {
		utils.Debug("transport: failed to create SOCKS5 dialer: %v", err)
		transport.Proxy = http.ProxyFromEnvironment
		return
	}
	utils.Debug("transport: using SOCKS5 proxy %s", parsedURL.Host)
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
		return
	}
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}
}

// Do issues the request. Non-2xx responses are returned, not turned into errors.
func (t *HTTPTransport) Do(ctx context.Context, r Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, nil)
	if err != nil {
		return nil, types.NewError(types.KindHTTPStatus, r.URL, fmt.Errorf("building request: %w", err))
	}

	for key, val := range r.Headers {
		if !strings.EqualFold(key, "Range") {
			req.Header.Set(key, val)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.Runtime.GetUserAgent())
	}
	if h := RangeHeader(r.Range); h != "" {
		req.Header.Set("Range", h)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
	}, nil
}

// RangeHeader formats a Range header value, or "" for a nil range
func RangeHeader(r *ByteRange) string {
	if r == nil || r.Start < 0 {
		return ""
	}
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// DrainAndClose discards up to 64KB of the body so the connection can be reused
func DrainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, body, 64*1024)
	_ = body.Close()
}
