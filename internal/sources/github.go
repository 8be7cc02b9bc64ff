package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// DefaultGitHubAPI is the public GitHub REST endpoint
const DefaultGitHubAPI = "https://api.github.com"

// GitHub resolves release assets through the GitHub releases API
type GitHub struct {
	APIBase  string
	Priority int
	client   *http.Client
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// NewGitHub returns a GitHub provider. A non-empty token authenticates API
// calls (higher rate limits, private repositories). base may be nil.
func NewGitHub(token string, base *http.Client) *GitHub {
	client := clientOr(base)
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
		client.Timeout = apiTimeout
	}
	return &GitHub{APIBase: DefaultGitHubAPI, Priority: PriorityOrigin, client: client}
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) DownloadURLs(ctx context.Context, id types.FileIdentity) ([]types.CandidateURL, error) {
	release, err := g.release(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	for _, a := range release.Assets {
		if a.Name != id.File || a.BrowserDownloadURL == "" {
			continue
		}
		utils.Debug("github: %s found in %s (%d bytes)", a.Name, release.TagName, a.Size)
		return []types.CandidateURL{{
			URL:            a.BrowserDownloadURL,
			SourceName:     g.Name(),
			Priority:       g.Priority,
			KnownSize:      a.Size,
			SupportsRanges: true,
		}}, nil
	}
	return nil, nil
}

func (g *GitHub) HealthCheck(ctx context.Context) error {
	return headCheck(ctx, g.client, strings.TrimSuffix(g.APIBase, "/")+"/rate_limit")
}

func (g *GitHub) release(ctx context.Context, id types.FileIdentity) (*githubRelease, error) {
	path := "releases/latest"
	if !id.Latest() {
		path = "releases/tags/" + url.PathEscape(id.Version)
	}
	apiURL := fmt.Sprintf("%s/repos/%s/%s/%s", strings.TrimSuffix(g.APIBase, "/"),
		url.PathEscape(id.Owner()), url.PathEscape(id.Name()), path)

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("github release "+id.String(), resp)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decoding github release: %w", err)
	}
	return &release, nil
}
