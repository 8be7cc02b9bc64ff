package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
)

const (
	DefaultJSDelivrCDN  = "https://cdn.jsdelivr.net"
	DefaultJSDelivrData = "https://data.jsdelivr.com"
)

// JSDelivr serves files of a GitHub repository at a tag through the jsDelivr
// CDN. The data API is asked first so only files that exist are offered.
type JSDelivr struct {
	CDNBase  string
	DataBase string
	Priority int
	client   *http.Client
}

func NewJSDelivr(client *http.Client) *JSDelivr {
	return &JSDelivr{
		CDNBase:  DefaultJSDelivrCDN,
		DataBase: DefaultJSDelivrData,
		Priority: PriorityCDN,
		client:   clientOr(client),
	}
}

func (j *JSDelivr) Name() string { return "jsdelivr" }

type jsdelivrFiles struct {
	Files []struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"files"`
}

func (j *JSDelivr) DownloadURLs(ctx context.Context, id types.FileIdentity) ([]types.CandidateURL, error) {
	version := id.Version
	if id.Latest() {
		v, err := j.resolveLatest(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		version = v
	}

	var listing jsdelivrFiles
	listURL := fmt.Sprintf("%s/v1/packages/gh/%s/%s@%s?structure=flat", strings.TrimSuffix(j.DataBase, "/"),
		url.PathEscape(id.Owner()), url.PathEscape(id.Name()), url.PathEscape(version))
	if err := j.getJSON(ctx, listURL, &listing); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// Prefer the file at the repository root, then the shallowest match
	best, depth := "", -1
	var size int64
	for _, f := range listing.Files {
		if path.Base(f.Name) != id.File {
			continue
		}
		d := strings.Count(strings.Trim(f.Name, "/"), "/")
		if depth < 0 || d < depth {
			best, depth, size = f.Name, d, f.Size
		}
	}
	if best == "" {
		return nil, nil
	}

	return []types.CandidateURL{{
		URL: fmt.Sprintf("%s/gh/%s/%s@%s/%s", strings.TrimSuffix(j.CDNBase, "/"),
			id.Owner(), id.Name(), version, strings.TrimPrefix(best, "/")),
		SourceName:     j.Name(),
		Priority:       j.Priority,
		KnownSize:      size,
		SupportsRanges: true,
	}}, nil
}

func (j *JSDelivr) HealthCheck(ctx context.Context) error {
	return headCheck(ctx, j.client, strings.TrimSuffix(j.CDNBase, "/")+"/")
}

func (j *JSDelivr) resolveLatest(ctx context.Context, id types.FileIdentity) (string, error) {
	var resolved struct {
		Version string `json:"version"`
	}
	u := fmt.Sprintf("%s/v1/packages/gh/%s/%s/resolved?specifier=latest", strings.TrimSuffix(j.DataBase, "/"),
		url.PathEscape(id.Owner()), url.PathEscape(id.Name()))
	if err := j.getJSON(ctx, u, &resolved); err != nil {
		return "", err
	}
	if resolved.Version == "" {
		return "", fmt.Errorf("jsdelivr latest %s: %w", id.Repository, ErrNotFound)
	}
	return resolved.Version, nil
}

func (j *JSDelivr) getJSON(ctx context.Context, u string, into any) error {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("jsdelivr api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("jsdelivr "+u, resp)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}
