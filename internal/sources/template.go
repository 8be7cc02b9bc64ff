package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// Template expands a URL pattern into a candidate, e.g. a ghproxy-style
// mirror: https://ghproxy.example/https://github.com/{repo}/releases/download/{version}/{file}
//
// Placeholders: {repo} {owner} {name} {version} {file}. Templates cannot
// resolve "latest", so they contribute nothing unless a version is given.
type Template struct {
	Pattern  string
	Source   string
	Priority int
	client   *http.Client
}

// NewTemplate returns a template provider. The source name defaults to the
// pattern's host.
func NewTemplate(pattern string, priority int, client *http.Client) (*Template, error) {
	if !strings.Contains(pattern, "{file}") {
		return nil, fmt.Errorf("mirror template %q has no {file} placeholder", pattern)
	}
	probe := expand(pattern, types.FileIdentity{Repository: "o/r", Version: "v", File: "f"})
	u, err := url.Parse(probe)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("mirror template %q is not an absolute URL", pattern)
	}
	return &Template{
		Pattern:  pattern,
		Source:   utils.SourceNameFromURL(probe),
		Priority: priority,
		client:   clientOr(client),
	}, nil
}

func (t *Template) Name() string { return t.Source }

func (t *Template) DownloadURLs(_ context.Context, id types.FileIdentity) ([]types.CandidateURL, error) {
	if id.Latest() && strings.Contains(t.Pattern, "{version}") {
		return nil, nil
	}
	return []types.CandidateURL{{
		URL:            expand(t.Pattern, id),
		SourceName:     t.Source,
		Priority:       t.Priority,
		SupportsRanges: true,
	}}, nil
}

func (t *Template) HealthCheck(ctx context.Context) error {
	u, err := url.Parse(expand(t.Pattern, types.FileIdentity{}))
	if err != nil {
		return err
	}
	return headCheck(ctx, t.client, u.Scheme+"://"+u.Host+"/")
}

func expand(pattern string, id types.FileIdentity) string {
	return strings.NewReplacer(
		"{repo}", id.Repository,
		"{owner}", url.PathEscape(id.Owner()),
		"{name}", url.PathEscape(id.Name()),
		"{version}", url.PathEscape(id.Version),
		"{file}", url.PathEscape(id.File),
	).Replace(pattern)
}
