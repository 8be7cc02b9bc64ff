package types

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"
)

// ErrorKind is the failure taxonomy used to drive retry and failover
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNetwork
	KindTimeout
	KindHTTPStatus
	KindRateLimit
	KindChecksumMismatch
	KindIO
	KindAllSourcesExhausted
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http-status"
	case KindRateLimit:
		return "rate-limit"
	case KindChecksumMismatch:
		return "checksum-mismatch"
	case KindIO:
		return "io"
	case KindAllSourcesExhausted:
		return "all-sources-exhausted"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseErrorKind is the inverse of ErrorKind.String. Unknown names map to KindNone.
func ParseErrorKind(s string) ErrorKind {
	for k := KindNone; k <= KindCanceled; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindNone
}

var (
	ErrAllSourcesExhausted = errors.New("all sources exhausted")
	ErrNoCandidates        = errors.New("no candidate urls")
	ErrDestinationLocked   = errors.New("destination is locked by another download")
	ErrShortBody           = errors.New("response body ended before chunk was complete")
)

// DownloadError carries a classified failure
type DownloadError struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	RetryAfter time.Duration
	Err        error
}

func (e *DownloadError) Error() string {
	msg := e.Kind.String()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s %d", msg, e.StatusCode)
	}
	if e.URL != "" {
		msg += " from " + e.URL
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrAllSourcesExhausted) match exhausted errors
func (e *DownloadError) Is(target error) bool {
	return target == ErrAllSourcesExhausted && e.Kind == KindAllSourcesExhausted
}

// Retryable reports whether the same URL may be tried again
func (e *DownloadError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindRateLimit, KindIO:
		return true
	case KindHTTPStatus:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout
	default:
		return false
	}
}

// NewStatusError classifies an unexpected HTTP status
func NewStatusError(url string, status int, retryAfter time.Duration) *DownloadError {
	kind := KindHTTPStatus
	if status == http.StatusTooManyRequests {
		kind = KindRateLimit
	}
	return &DownloadError{
		Kind:       kind,
		StatusCode: status,
		URL:        url,
		RetryAfter: retryAfter,
		Err:        errors.New(http.StatusText(status)),
	}
}

// NewError wraps err with an explicit kind
func NewError(kind ErrorKind, url string, err error) *DownloadError {
	return &DownloadError{Kind: kind, URL: url, Err: err}
}

// Classify maps any error onto a *DownloadError. Already classified errors pass through.
func Classify(err error, url string) *DownloadError {
	if err == nil {
		return nil
	}
	var de *DownloadError
	if errors.As(err, &de) {
		if de.URL == "" {
			de.URL = url
		}
		return de
	}
	return &DownloadError{Kind: KindOf(err), URL: url, Err: err}
}

// KindOf returns the taxonomy kind for a raw error
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, syscall.ENOSPC) || errors.Is(err, io.ErrShortWrite) {
		return KindIO
	}
	return KindNetwork
}

// IsRetryable reports whether err allows another attempt at the same URL
func IsRetryable(err error) bool {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Retryable()
	}
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindIO:
		return true
	}
	return false
}
