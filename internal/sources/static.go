package sources

import (
	"context"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// Static offers a fixed candidate list, typically read from a YAML file or
// given on the command line.
type Static struct {
	Source     string
	Candidates []types.CandidateURL
	// MatchFile restricts answers to URLs whose last path segment is the requested file
	MatchFile bool
}

func NewStatic(name string, candidates []types.CandidateURL) *Static {
	return &Static{Source: name, Candidates: candidates}
}

func (s *Static) Name() string { return s.Source }

func (s *Static) DownloadURLs(_ context.Context, id types.FileIdentity) ([]types.CandidateURL, error) {
	var out []types.CandidateURL
	for _, c := range s.Candidates {
		if s.MatchFile && utils.FilenameFromURL(c.URL) != id.File {
			continue
		}
		if c.SourceName == "" {
			c.SourceName = utils.SourceNameFromURL(c.URL)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Static) HealthCheck(context.Context) error { return nil }
