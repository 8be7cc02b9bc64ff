package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/surge-downloader/surgemirror/internal/cache"
	"github.com/surge-downloader/surgemirror/internal/compliance"
	"github.com/surge-downloader/surgemirror/internal/config"
	"github.com/surge-downloader/surgemirror/internal/download"
	"github.com/surge-downloader/surgemirror/internal/engine/state"
	"github.com/surge-downloader/surgemirror/internal/engine/transport"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/metrics"
	"github.com/surge-downloader/surgemirror/internal/sources"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// DefaultEventBuffer is the capacity of the engine event channel
const DefaultEventBuffer = 256

// app is the engine wired from settings: one Manager, its providers and adapters
type app struct {
	settings  *config.Settings
	runtime   *types.RuntimeConfig
	service   *download.Service
	registry  *sources.Registry
	validator *compliance.Validator
	recorder  *metrics.Recorder
	gatherer  prometheus.Gatherer
	events    chan any

	closers []func() error
}

type appOptions struct {
	// Extra candidates from --url, --candidates and --clipboard
	Static []types.CandidateURL
	// AllowPrivate lets candidates point at loopback or LAN hosts
	AllowPrivate bool
	// NoCache skips the download cache even when one is configured
	NoCache bool
}

// newApp builds the engine. The caller must call close.
func newApp(ctx context.Context, s *config.Settings, opts appOptions) (*app, error) {
	runtime := types.ConvertRuntimeConfig(s.ToRuntimeConfig())

	httpTransport := transport.NewHTTPTransport(runtime)
	manager := download.NewManager(runtime)
	manager.Transport = httpTransport

	a := &app{
		settings: s,
		runtime:  runtime,
		recorder: metrics.NewRecorder(),
		events:   make(chan any, DefaultEventBuffer),
	}
	manager.Events = a.events
	manager.Observer = a.recorder

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := a.recorder.Register(reg); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	a.gatherer = reg

	registry, err := buildRegistry(ctx, s, httpTransport.Client, opts.Static)
	if err != nil {
		return nil, err
	}
	a.registry = registry

	a.validator = compliance.New(s.Sources.AllowedDomains)
	a.validator.AllowPrivate = opts.AllowPrivate

	a.service = &download.Service{
		Manager:    manager,
		Sources:    registry,
		Compliance: a.validator,
	}

	if s.General.CacheURL != "" && !opts.NoCache {
		c, err := cache.Open(ctx, s.General.CacheURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.service.Cache = c
		a.closers = append(a.closers, c.Close)
	}

	if s.General.MetricsDB != "" {
		store, err := state.Open(ctx, s.General.MetricsDB)
		if err != nil {
			a.close()
			return nil, err
		}
		a.service.Store = store
		a.closers = append(a.closers, store.Close)
		if err := a.service.Restore(ctx); err != nil {
			utils.Debug("app: warm start skipped: %v", err)
		}
	}
	return a, nil
}

// buildRegistry registers every provider the settings enable
func buildRegistry(ctx context.Context, s *config.Settings, client *http.Client, static []types.CandidateURL) (*sources.Registry, error) {
	registry := sources.NewRegistry(
		sources.NewGitHub(s.Sources.GitHubToken, client),
		sources.NewJSDelivr(client),
	)

	for i, pattern := range s.Sources.MirrorTemplates {
		tpl, err := sources.NewTemplate(pattern, sources.PriorityTemplate, client)
		if err != nil {
			return nil, fmt.Errorf("mirror template %d: %w", i+1, err)
		}
		registry.Register(tpl)
	}

	if s.Sources.S3Bucket != "" {
		p, err := sources.NewS3(ctx, s.Sources.S3Bucket, s.Sources.S3Prefix)
		if err != nil {
			// A broken S3 config should not block the other mirrors
			utils.Debug("app: s3 provider disabled: %v", err)
		} else {
			registry.Register(p)
		}
	}

	if len(static) > 0 {
		registry.Register(sources.NewStatic("cli", static))
	}
	return registry, nil
}

// fetch runs one identity through the full pipeline
func (a *app) fetch(ctx context.Context, id types.FileIdentity, dest string, opts types.Options) (*types.DownloadResult, error) {
	return a.service.Fetch(ctx, id, dest, opts)
}

// downloadURLs skips providers and the cache: the candidates are all there is
func (a *app) downloadURLs(ctx context.Context, candidates []types.CandidateURL, dest string, opts types.Options) (*types.DownloadResult, error) {
	kept, rejected := a.validator.FilterCandidates(candidates)
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: all %d urls", compliance.ErrRejected, len(rejected))
	}
	res, err := a.service.Manager.Download(ctx, kept, dest, opts)
	if perr := a.service.Persist(context.WithoutCancel(ctx)); perr != nil {
		utils.Debug("app: saving metrics failed: %v", perr)
	}
	return res, err
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
