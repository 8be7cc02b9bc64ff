package sources

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// maxParallelQueries bounds concurrent provider lookups
const maxParallelQueries = 8

// Registry fans a lookup out to every registered provider
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewRegistry returns a registry holding providers in lookup order
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p. A provider with the same name replaces the old one.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.providers {
		if existing.Name() == p.Name() {
			r.providers[i] = p
			return
		}
	}
	r.providers = append(r.providers, p)
}

// Providers returns the registered providers in registration order
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.providers)
}

// Candidates queries all providers concurrently and merges their answers.
// Duplicate URLs keep the entry with the best (lowest) priority, and known
// sizes fill in from any duplicate. Provider errors are only returned when
// no provider produced a candidate.
func (r *Registry) Candidates(ctx context.Context, id types.FileIdentity) ([]types.CandidateURL, error) {
	providers := r.Providers()
	if len(providers) == 0 {
		return nil, types.ErrNoCandidates
	}

	results := make([][]types.CandidateURL, len(providers))
	errs := make([]error, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelQueries)
	for i, p := range providers {
		g.Go(func() error {
			cands, err := p.DownloadURLs(gctx, id)
			if err != nil {
				utils.Debug("sources: %s failed for %s: %v", p.Name(), id, err)
				errs[i] = fmt.Errorf("%s: %w", p.Name(), err)
				return nil
			}
			for j := range cands {
				if cands[j].SourceName == "" {
					cands[j].SourceName = p.Name()
				}
			}
			results[i] = cands
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := merge(results)
	utils.Debug("sources: %d candidates for %s", len(merged), id)
	if len(merged) == 0 {
		if err := errors.Join(errs...); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrNoCandidates, err)
		}
		return nil, types.ErrNoCandidates
	}
	return merged, nil
}

// Health runs every provider's HealthCheck concurrently. The map holds one
// entry per provider; nil means healthy.
func (r *Registry) Health(ctx context.Context) map[string]error {
	providers := r.Providers()
	out := make(map[string]error, len(providers))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(maxParallelQueries)
	for _, p := range providers {
		g.Go(func() error {
			err := p.HealthCheck(ctx)
			mu.Lock()
			out[p.Name()] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// merge flattens per-provider results in provider order, de-duplicating by URL
func merge(results [][]types.CandidateURL) []types.CandidateURL {
	index := make(map[string]int)
	var out []types.CandidateURL
	for _, cands := range results {
		for _, c := range cands {
			if c.URL == "" {
				continue
			}
			i, seen := index[c.URL]
			if !seen {
				index[c.URL] = len(out)
				out = append(out, c)
				continue
			}
			prev := &out[i]
			if c.Priority < prev.Priority {
				size := prev.KnownSize
				*prev = c
				if prev.KnownSize == 0 {
					prev.KnownSize = size
				}
			} else if prev.KnownSize == 0 {
				prev.KnownSize = c.KnownSize
			}
			prev.SupportsRanges = prev.SupportsRanges || c.SupportsRanges
		}
	}
	slices.SortStableFunc(out, func(a, b types.CandidateURL) int { return a.Priority - b.Priority })
	return out
}
