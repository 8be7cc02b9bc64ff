package engine

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/surge-downloader/surgemirror/internal/engine/transport"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// probeParallelism bounds ProbeCandidates fan-out
const probeParallelism = 8

// ProbeResult contains all metadata from server probe
type ProbeResult struct {
	FileSize      int64 // 0 when the server does not say
	SupportsRange bool
	Filename      string
	ContentType   string
}

// Probe resolves size and range support for one URL. HEAD is tried first;
// when it fails or omits the size, a GET with Range: bytes=0-0 follows.
func Probe(ctx context.Context, tr transport.Transport, rawurl string, headers map[string]string) (*ProbeResult, error) {
	utils.Debug("Probing server: %s", rawurl)

	ctx, cancel := context.WithTimeout(ctx, types.ProbeTimeout)
	defer cancel()

	if result, err := probeHead(ctx, tr, rawurl, headers); err == nil && result.FileSize > 0 {
		utils.Debug("HEAD probe: size %d, range %v", result.FileSize, result.SupportsRange)
		return result, nil
	} else if err != nil {
		if ctx.Err() != nil {
			return nil, types.Classify(err, rawurl)
		}
		utils.Debug("HEAD probe failed for %s: %v", rawurl, err)
	}

	resp, err := tr.Do(ctx, transport.Request{
		URL:     rawurl,
		Range:   &transport.ByteRange{Start: 0, End: 0},
		Headers: headers,
	})
	if err != nil {
		return nil, types.Classify(err, rawurl)
	}
	defer transport.DrainAndClose(resp.Body)

	utils.Debug("Probe response status: %d", resp.StatusCode)

	result := &ProbeResult{
		Filename:    utils.DetermineFilename(rawurl, resp.Header),
		ContentType: resp.Header.Get("Content-Type"),
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		result.SupportsRange = true
		if _, _, total, err := transport.ParseContentRange(resp.Header.Get("Content-Range")); err == nil && total > 0 {
			result.FileSize = total
		}
	case http.StatusOK:
		// Server ignored the Range header
		result.FileSize = max(resp.ContentLength, 0)
	default:
		return nil, types.NewStatusError(rawurl, resp.StatusCode, resp.RetryAfter())
	}

	utils.Debug("Probe complete - filename: %s, size: %d, range: %v",
		result.Filename, result.FileSize, result.SupportsRange)
	return result, nil
}

func probeHead(ctx context.Context, tr transport.Transport, rawurl string, headers map[string]string) (*ProbeResult, error) {
	resp, err := tr.Do(ctx, transport.Request{Method: http.MethodHead, URL: rawurl, Headers: headers})
	if err != nil {
		return nil, err
	}
	defer transport.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewStatusError(rawurl, resp.StatusCode, resp.RetryAfter())
	}

	result := &ProbeResult{
		SupportsRange: strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes"),
		Filename:      utils.DetermineFilename(rawurl, resp.Header),
		ContentType:   resp.Header.Get("Content-Type"),
	}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil && n > 0 {
		result.FileSize = n
	} else if resp.ContentLength > 0 {
		result.FileSize = resp.ContentLength
	}
	return result, nil
}

// ProbeCandidates probes every candidate concurrently. Results and errors are keyed by URL.
func ProbeCandidates(ctx context.Context, tr transport.Transport, candidates []types.CandidateURL) (map[string]*ProbeResult, map[string]error) {
	unique := make(map[string]bool, len(candidates))
	var targets []string
	for _, c := range candidates {
		if !unique[c.URL] {
			unique[c.URL] = true
			targets = append(targets, c.URL)
		}
	}

	utils.Debug("Probing %d candidates...", len(targets))

	results := make([]*ProbeResult, len(targets))
	errs := make([]error, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeParallelism)
	for i, target := range targets {
		g.Go(func() error {
			results[i], errs[i] = Probe(gctx, tr, target, nil)
			return nil
		})
	}
	_ = g.Wait()

	valid := make(map[string]*ProbeResult)
	failed := make(map[string]error)
	for i, target := range targets {
		if errs[i] != nil {
			failed[target] = errs[i]
			continue
		}
		valid[target] = results[i]
	}
	utils.Debug("Candidate probing complete: %d valid, %d failed", len(valid), len(failed))
	return valid, failed
}
