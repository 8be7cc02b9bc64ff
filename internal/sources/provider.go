// Package sources turns a file identity into candidate URLs. Each mirror or
// CDN is a Provider; a Registry queries all of them and merges the answers.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
)

// Provider produces candidate URLs for one mirror or CDN
type Provider interface {
	// Name is the source name used for ranking (router metrics are keyed by it)
	Name() string
	// DownloadURLs returns zero or more candidates for id. Zero candidates and
	// a nil error means the source does not carry the file.
	DownloadURLs(ctx context.Context, id types.FileIdentity) ([]types.CandidateURL, error)
	// HealthCheck reports whether the source is reachable
	HealthCheck(ctx context.Context) error
}

// ErrNotFound is returned by API lookups when the release or file does not exist
var ErrNotFound = errors.New("not found")

const (
	// apiTimeout bounds one metadata request
	apiTimeout = 15 * time.Second

	// Default priorities; lower ranks first
	PriorityOrigin   = 0
	PriorityCDN      = 1
	PriorityTemplate = 2
	PriorityStatic   = 3
)

// defaultClient is used by providers constructed without a client
var defaultClient = &http.Client{Timeout: apiTimeout}

func clientOr(c *http.Client) *http.Client {
	if c == nil {
		return defaultClient
	}
	return c
}

// statusError maps an API status to ErrNotFound or a descriptive error
func statusError(what string, resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: unexpected status %d", what, resp.StatusCode)
}

// headCheck is a HealthCheck that HEADs url and accepts anything below 500
func headCheck(ctx context.Context, client *http.Client, url string) error {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := clientOr(client).Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return nil
}
