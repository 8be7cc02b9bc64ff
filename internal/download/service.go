package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/surge-downloader/surgemirror/internal/compliance"
	"github.com/surge-downloader/surgemirror/internal/engine/events"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// metricsRetention is how long an unused URL keeps its persisted score
const metricsRetention = 30 * 24 * time.Hour

// CandidateSource resolves a file identity to candidate URLs
type CandidateSource interface {
	Candidates(ctx context.Context, id types.FileIdentity) ([]types.CandidateURL, error)
}

// Cache stores finished files by identity
type Cache interface {
	Get(ctx context.Context, id types.FileIdentity, path string) (int64, bool, error)
	Put(ctx context.Context, id types.FileIdentity, path string) error
}

// Compliance vets a request before any network call and filters candidate hosts
type Compliance interface {
	CheckRequest(id types.FileIdentity, dest string) error
	FilterCandidates(candidates []types.CandidateURL) (kept, rejected []types.CandidateURL)
}

// MetricsStore persists router metrics between runs
type MetricsStore interface {
	LoadSnapshot(ctx context.Context) (types.MetricsSnapshot, error)
	SaveSnapshot(ctx context.Context, snap types.MetricsSnapshot) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// cacheObserver is implemented by observers that count cache lookups
type cacheObserver interface {
	ObserveCache(hit bool)
}

// Service fetches files by identity: compliance, cache, providers, then the Manager.
// Every collaborator except Manager is optional.
type Service struct {
	Manager    *Manager
	Sources    CandidateSource
	Cache      Cache
	Compliance Compliance
	Store      MetricsStore
}

// Restore loads persisted router metrics so ranking starts from the last run's scores
func (s *Service) Restore(ctx context.Context) error {
	if s.Store == nil {
		return nil
	}
	if n, err := s.Store.Prune(ctx, time.Now().Add(-metricsRetention)); err != nil {
		utils.Debug("service: pruning metrics failed: %v", err)
	} else if n > 0 {
		utils.Debug("service: pruned %d stale url metrics", n)
	}
	snap, err := s.Store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("loading metrics snapshot: %w", err)
	}
	s.Manager.Router.Restore(snap)
	utils.Debug("service: restored %d sources, %d urls", len(snap.Sources), len(snap.URLs))
	return nil
}

// Persist saves the router's current metrics
func (s *Service) Persist(ctx context.Context) error {
	if s.Store == nil {
		return nil
	}
	return s.Store.SaveSnapshot(ctx, s.Manager.Router.Snapshot())
}

// Fetch downloads the file named by id to dest (a file path or a directory).
func (s *Service) Fetch(ctx context.Context, id types.FileIdentity, dest string, opts types.Options) (*types.DownloadResult, error) {
	if s.Compliance != nil {
		if err := s.Compliance.CheckRequest(id, dest); err != nil {
			return nil, err
		}
	}

	target := dest
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		target = filepath.Join(dest, id.File)
	}

	if s.Cache != nil {
		if res, ok := s.fromCache(ctx, id, target); ok {
			return res, nil
		}
	}

	if s.Sources == nil {
		return nil, types.ErrNoCandidates
	}
	candidates, err := s.Sources.Candidates(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Compliance != nil {
		kept, rejected := s.Compliance.FilterCandidates(candidates)
		if len(kept) == 0 {
			return nil, fmt.Errorf("%w: all %d candidates for %s", compliance.ErrRejected, len(rejected), id)
		}
		candidates = kept
	}
	utils.Debug("service: %s -> %d candidates", id, len(candidates))

	result, err := s.Manager.Download(ctx, candidates, target, opts)

	// Failures teach the router as much as successes
	if perr := s.Persist(context.WithoutCancel(ctx)); perr != nil {
		utils.Debug("service: saving metrics failed: %v", perr)
	}
	if err != nil {
		return nil, err
	}

	if s.Cache != nil {
		if cerr := s.Cache.Put(ctx, id, result.Path); cerr != nil {
			utils.Debug("service: caching %s failed: %v", id, cerr)
		}
	}
	return result, nil
}

// fromCache serves id from the cache. A file already at target is left for
// the Manager, which recognises a complete file without a request.
func (s *Service) fromCache(ctx context.Context, id types.FileIdentity, target string) (*types.DownloadResult, bool) {
	if _, err := os.Stat(target); err == nil {
		return nil, false
	}

	start := time.Now()
	size, hit, err := s.Cache.Get(ctx, id, target)
	if err != nil {
		utils.Debug("service: cache lookup for %s failed: %v", id, err)
	}
	if co, ok := s.Manager.Observer.(cacheObserver); ok {
		co.ObserveCache(hit)
	}
	if !hit {
		return nil, false
	}

	result := &types.DownloadResult{
		ID:         uuid.NewString(),
		Path:       target,
		Size:       size,
		Duration:   time.Since(start),
		SourceName: "cache",
		FromCache:  true,
	}
	events.MustEmit(s.Manager.Events, events.DownloadCompleteMsg{
		DownloadID: result.ID,
		Filename:   filepath.Base(target),
		Elapsed:    result.Duration,
		Total:      size,
		Result:     result,
	}, ctx.Done())
	if s.Manager.Observer != nil {
		s.Manager.Observer.ObserveDownload(result, nil)
	}
	return result, true
}
