// Package download drives whole downloads: it ranks the candidate URLs, runs
// attempts through the planner and executor, and fails over between mirrors.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/surge-downloader/surgemirror/internal/engine"
	"github.com/surge-downloader/surgemirror/internal/engine/adaptive"
	"github.com/surge-downloader/surgemirror/internal/engine/concurrent"
	"github.com/surge-downloader/surgemirror/internal/engine/events"
	"github.com/surge-downloader/surgemirror/internal/engine/planner"
	"github.com/surge-downloader/surgemirror/internal/engine/router"
	"github.com/surge-downloader/surgemirror/internal/engine/single"
	"github.com/surge-downloader/surgemirror/internal/engine/transport"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// progressInterval is how often ProgressMsg is published while a download runs
const progressInterval = 250 * time.Millisecond

// Observer receives engine measurements. All methods must be safe for concurrent use.
type Observer interface {
	ObserveChunk(source string, o types.ChunkOutcome)
	ObserveParams(p types.AdaptiveParams, congestion float64)
	ObserveFailover(source string, kind types.ErrorKind)
	ObserveDownload(r *types.DownloadResult, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveChunk(string, types.ChunkOutcome)      {}
func (nopObserver) ObserveParams(types.AdaptiveParams, float64)  {}
func (nopObserver) ObserveFailover(string, types.ErrorKind)      {}
func (nopObserver) ObserveDownload(*types.DownloadResult, error) {}

// Manager runs downloads. One Manager is shared by every download of a process
// so router metrics and adaptive parameters accumulate across them.
type Manager struct {
	Transport transport.Transport
	Runtime   *types.RuntimeConfig
	Router    *router.Router
	Headers   map[string]string // Custom HTTP headers (cookies, auth, etc.)

	// Events receives events.* messages. Optional; progress is dropped when full.
	Events chan<- any
	// Observer receives measurements for metrics export. Optional.
	Observer Observer
	// State, when set, is updated in place with progress of the next download.
	State *types.ProgressState

	// Controller holds the adaptive parameters. Every download plans from its
	// current values and feeds its chunk outcomes back.
	Controller *adaptive.Controller

	mu     sync.Mutex
	active map[string]*run
}

// NewManager creates a manager with a fresh router and controller on an HTTP transport.
// opts configure the controller.
func NewManager(runtime *types.RuntimeConfig, opts ...adaptive.Option) *Manager {
	m := &Manager{
		Transport: transport.NewHTTPTransport(runtime),
		Runtime:   runtime,
		Router:    router.New(runtime),
		active:    make(map[string]*run),
	}
	opts = append(opts[:len(opts):len(opts)], adaptive.WithChangeFunc(m.paramsChanged))
	m.Controller = adaptive.New(runtime, opts...)
	return m
}

// run is the state of one Download call
type run struct {
	m    *Manager
	id   string
	opts types.Options
	ctrl *adaptive.Controller
	obs  Observer

	dest     *concurrent.Destination
	lock     *flock.Flock
	state    *types.ProgressState
	size     int64
	filename string
	mime     string

	attempts   int
	ioFailures int
}

// Download fetches the file behind candidates into dest. dest may be a file
// path or an existing directory, in which case the server's filename is used.
//
// Candidates are tried in router order: the primary list, then the fallback.
// Retryable failures back off and re-plan at the same URL; permanent ones
// move on. When every URL has failed the error wraps ErrAllSourcesExhausted.
func (m *Manager) Download(ctx context.Context, candidates []types.CandidateURL, dest string, opts types.Options) (*types.DownloadResult, error) {
	if len(candidates) == 0 {
		return nil, types.ErrNoCandidates
	}

	r := &run{m: m, id: uuid.NewString(), opts: opts, ctrl: m.Controller, obs: m.observer()}
	r.state = m.State
	if r.state == nil {
		r.state = types.NewProgressState(r.id, 0)
	}

	m.track(r)
	start := time.Now()
	result, err := r.download(ctx, normalize(candidates), dest)
	r.release()
	m.untrack(r)

	if err != nil {
		utils.Debug("download %s failed: %v", r.id, err)
		events.MustEmit(m.Events, events.DownloadErrorMsg{DownloadID: r.id, Filename: r.filename, Err: err}, ctx.Done())
		r.obs.ObserveDownload(nil, err)
		return nil, err
	}

	result.ID = r.id
	result.Duration = time.Since(start)
	if secs := result.Duration.Seconds(); secs > 0 && !result.FromCache {
		result.Speed = float64(result.Size) / secs
	}
	log := utils.Logger("download")
	log.Info().Str("id", r.id).Str("url", result.URLUsed).Str("source", result.SourceName).
		Int64("size", result.Size).Dur("took", result.Duration).Msg("download complete")

	events.MustEmit(m.Events, events.DownloadCompleteMsg{
		DownloadID: r.id,
		Filename:   r.filename,
		Elapsed:    result.Duration,
		Total:      result.Size,
		Result:     result,
	}, ctx.Done())
	r.obs.ObserveDownload(result, nil)
	return result, nil
}

func (m *Manager) observer() Observer {
	if m.Observer == nil {
		return nopObserver{}
	}
	return m.Observer
}

func (m *Manager) track(r *run) {
	m.mu.Lock()
	if m.active == nil {
		m.active = make(map[string]*run)
	}
	m.active[r.id] = r
	m.mu.Unlock()
}

func (m *Manager) untrack(r *run) {
	m.mu.Lock()
	delete(m.active, r.id)
	m.mu.Unlock()
}

// paramsChanged reports a controller change once to the observer and once
// per running download on the event channel.
func (m *Manager) paramsChanged(old, updated types.AdaptiveParams, reason string) {
	utils.Debug("params %d/%d -> %d/%d (%s)",
		old.Concurrency, old.ChunkSize, updated.Concurrency, updated.ChunkSize, reason)
	m.observer().ObserveParams(updated, m.Controller.CongestionScore())

	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		events.Emit(m.Events, events.ParamsChangedMsg{DownloadID: id, Old: old, New: updated, Reason: reason})
	}
}

// normalize fills in missing source names
func normalize(candidates []types.CandidateURL) []types.CandidateURL {
	out := make([]types.CandidateURL, len(candidates))
	for i, c := range candidates {
		if c.SourceName == "" {
			c.SourceName = utils.SourceNameFromURL(c.URL)
		}
		out[i] = c
	}
	return out
}

func (r *run) download(ctx context.Context, candidates []types.CandidateURL, dest string) (*types.DownloadResult, error) {
	m := r.m
	routes := m.Router.Route(candidates)
	ordered := routes.All()
	utils.Debug("download %s: %d primary, %d fallback", r.id, len(routes.Primary), len(routes.Fallback))

	r.size = r.opts.TotalSize
	for _, c := range ordered {
		if r.size > 0 {
			break
		}
		r.size = c.KnownSize
	}
	needProbe := r.size <= 0

	var lastErr error
	var lastURL string
	for _, cand := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, types.Classify(err, cand.URL)
		}

		ranges := cand.SupportsRanges
		size := r.size
		filename := ""
		var probeTook time.Duration
		if needProbe {
			probeStart := time.Now()
			pr, err := engine.Probe(ctx, m.Transport, cand.URL, m.Headers)
			if err != nil {
				if types.KindOf(err) == types.KindCanceled || ctx.Err() != nil {
					return nil, types.Classify(ctx.Err(), cand.URL)
				}
				m.Router.RecordPerformance(cand.URL, cand.SourceName, false, time.Since(probeStart), 0)
				r.mirrorFailed(cand, err, 0, false)
				lastErr, lastURL = err, cand.URL
				continue
			}
			probeTook = time.Since(probeStart)
			ranges = pr.SupportsRange
			size = pr.FileSize
			filename = pr.Filename
			if r.mime == "" {
				r.mime = pr.ContentType
			}
		}

		if r.dest == nil {
			if err := r.setup(ctx, dest, cand, size, filename); err != nil {
				return nil, err
			}
			if r.dest.Complete {
				utils.Debug("download %s: %s already complete", r.id, r.dest.FinalPath)
				return &types.DownloadResult{
					Path:        r.dest.FinalPath,
					Size:        r.dest.ExpectedSize,
					ContentType: r.mime,
				}, nil
			}
		} else if r.dest.ExpectedSize > 0 && size > 0 && size != r.dest.ExpectedSize {
			err := types.NewError(types.KindHTTPStatus, cand.URL,
				fmt.Errorf("mirror reports %d bytes, expected %d", size, r.dest.ExpectedSize))
			m.Router.RecordPerformance(cand.URL, cand.SourceName, false, probeTook, 0)
			r.mirrorFailed(cand, err, 0, false)
			lastErr, lastURL = err, cand.URL
			continue
		}

		result, err := r.tryURL(ctx, cand, ranges)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, types.Classify(ctx.Err(), cand.URL)
		}
		kind := types.KindOf(err)
		if kind == types.KindCanceled || (kind == types.KindIO && r.ioFailures > types.MaxIOFailures) {
			return nil, err
		}
		lastErr, lastURL = err, cand.URL
	}

	if lastErr == nil {
		lastErr = types.ErrNoCandidates
	}
	return nil, &types.DownloadError{
		Kind: types.KindAllSourcesExhausted,
		URL:  lastURL,
		Err:  lastErr,
	}
}

// setup resolves the final path, takes the destination lock and opens the working file
func (r *run) setup(ctx context.Context, dest string, cand types.CandidateURL, size int64, filename string) error {
	if filename == "" {
		filename = utils.FilenameFromURL(cand.URL)
	}
	path := resolvePath(dest, filename, size)
	r.filename = filepath.Base(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.NewError(types.KindIO, "", fmt.Errorf("create destination directory: %w", err))
	}

	lock := flock.New(path + types.LockSuffix)
	locked, err := lock.TryLock()
	if err != nil {
		return types.NewError(types.KindIO, "", fmt.Errorf("lock destination: %w", err))
	}
	if !locked {
		return fmt.Errorf("%s: %w", path, types.ErrDestinationLocked)
	}
	r.lock = lock

	d, err := concurrent.Prepare(path+types.IncompleteSuffix, path, size)
	if err != nil {
		return err
	}
	r.dest = d
	r.size = size

	r.state.Total.Store(size)
	r.state.Downloaded.Store(d.StartOffset)
	r.state.Resumed.Store(d.Resumed)

	events.MustEmit(r.m.Events, events.DownloadStartedMsg{
		DownloadID: r.id,
		Filename:   r.filename,
		Total:      size,
		DestPath:   path,
		Resumed:    d.Resumed,
		State:      r.state,
	}, ctx.Done())
	return nil
}

// release closes the working file and drops the lock
func (r *run) release() {
	if r.dest != nil {
		_ = r.dest.Close()
	}
	if r.lock != nil {
		_ = r.lock.Unlock()
		_ = os.Remove(r.lock.Path())
	}
}

// tryURL runs attempts against one URL until it succeeds, the failure is
// permanent for the URL, or its retry budget is spent.
func (r *run) tryURL(ctx context.Context, cand types.CandidateURL, ranges bool) (*types.DownloadResult, error) {
	m := r.m
	r.state.SetURL(cand.URL)

	for retry := 0; ; retry++ {
		r.attempts++
		stats, err := r.attempt(ctx, cand, ranges)
		m.Router.RecordPerformance(cand.URL, cand.SourceName, err == nil, stats.latency, stats.speed)

		if err == nil {
			result, verr := r.finish(cand, stats)
			if verr == nil {
				return result, nil
			}
			err = verr
		}
		r.state.Downloaded.Store(r.dest.Watermark())

		de := types.Classify(err, cand.URL)
		switch {
		case de.Kind == types.KindCanceled || ctx.Err() != nil:
			return nil, types.Classify(ctx.Err(), cand.URL)

		case de.Kind == types.KindIO:
			r.ioFailures++
			if r.ioFailures > types.MaxIOFailures {
				return nil, de
			}

		case !de.Retryable():
			// 404, other 4xx, checksum mismatch: this URL will not get better
			r.mirrorFailed(cand, de, r.attempts, false)
			return nil, de
		}

		retries := r.ctrl.Params().RetryAttempts
		if r.opts.RetryAttempts > 0 {
			retries = r.opts.RetryAttempts
		}
		if retry >= retries {
			r.mirrorFailed(cand, de, r.attempts, false)
			return nil, de
		}
		r.mirrorFailed(cand, de, r.attempts, true)

		delay := r.ctrl.Backoff(retry)
		if de.Kind == types.KindRateLimit && de.RetryAfter > delay {
			delay = min(de.RetryAfter, m.Runtime.GetMaxBackoff())
		}
		utils.Debug("download %s: retry %d at %s in %s (%v)", r.id, retry+1, cand.URL, delay, de)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, types.Classify(err, cand.URL)
		}
	}
}

type attemptStats struct {
	chunks  int
	bytes   int64
	latency time.Duration
	speed   float64
}

// attempt is one plan+execute pass at cand starting from the watermark
func (r *run) attempt(ctx context.Context, cand types.CandidateURL, ranges bool) (attemptStats, error) {
	m := r.m
	params := r.ctrl.Params()
	conc := params.Concurrency
	if r.opts.MaxConcurrency > 0 {
		conc = min(conc, r.opts.MaxConcurrency)
	}
	params.Concurrency = conc
	timeout := params.Timeout
	if r.opts.Timeout > 0 {
		timeout = r.opts.Timeout
	}

	stop := r.reportProgress(ctx, cand.URL)
	defer stop()

	start := time.Now()
	if !ranges || r.size <= 0 {
		r.state.Downloaded.Store(0)
		d := single.New(m.Transport, m.Runtime)
		d.Headers = m.Headers
		d.Progress = r.state
		o, err := d.Download(ctx, cand.URL, r.dest)
		r.recordOutcome(cand, o)
		return attemptStats{chunks: 1, bytes: o.BytesWritten, latency: o.Latency, speed: o.Speed()}, err
	}

	plan := planner.Plan(r.dest.Watermark(), r.size, params, planner.Input{
		SupportsRanges: true,
		Runtime:        m.Runtime,
		FixedChunkSize: r.opts.ChunkSize,
	})
	utils.Debug("download %s: %d chunks from %d at concurrency %d", r.id, len(plan), r.dest.Watermark(), conc)

	exec := concurrent.NewExecutor(m.Transport, m.Runtime)
	exec.Headers = m.Headers
	exec.Progress = r.state
	exec.OnOutcome = func(o types.ChunkOutcome) { r.recordOutcome(cand, o) }

	outcomes, err := exec.Execute(ctx, cand.URL, plan, r.dest, conc, timeout)

	stats := attemptStats{chunks: len(plan)}
	var latency time.Duration
	var n int
	for _, o := range outcomes {
		stats.bytes += o.BytesWritten
		if o.Latency > 0 {
			latency += o.Latency
			n++
		}
	}
	if n > 0 {
		stats.latency = latency / time.Duration(n)
	}
	if secs := time.Since(start).Seconds(); secs > 0 {
		stats.speed = float64(stats.bytes) / secs
	}
	return stats, err
}

func (r *run) recordOutcome(cand types.CandidateURL, o types.ChunkOutcome) {
	r.ctrl.RecordOutcome(o)
	r.obs.ObserveChunk(cand.SourceName, o)
}

// finish verifies the working file and moves it into place
func (r *run) finish(cand types.CandidateURL, stats attemptStats) (*types.DownloadResult, error) {
	size := r.dest.Watermark()
	if r.dest.ExpectedSize > 0 {
		size = r.dest.ExpectedSize
	}

	sum, mime, err := r.inspect(size)
	if err != nil {
		return nil, err
	}
	if r.opts.VerifyIntegrity && r.opts.ExpectedSHA256 != "" && !strings.EqualFold(sum, r.opts.ExpectedSHA256) {
		// Contents are wrong from the first byte; nothing on disk is reusable
		if rerr := r.dest.Reset(); rerr != nil {
			return nil, rerr
		}
		return nil, types.NewError(types.KindChecksumMismatch, cand.URL,
			fmt.Errorf("sha256 %s, expected %s", sum, r.opts.ExpectedSHA256))
	}
	if mime != "" {
		r.mime = mime
	}

	if err := r.dest.Finalize(size); err != nil {
		return nil, err
	}
	return &types.DownloadResult{
		Path:        r.dest.FinalPath,
		Size:        size,
		URLUsed:     cand.URL,
		SourceName:  cand.SourceName,
		Resumed:     r.dest.Resumed,
		Chunks:      stats.chunks,
		Attempts:    r.attempts,
		ContentType: r.mime,
		Checksum:    sum,
	}, nil
}

// inspect hashes the working file when verification is on and sniffs its type
func (r *run) inspect(size int64) (sum, mime string, err error) {
	rc, err := r.dest.Reader()
	if err != nil {
		return "", "", types.NewError(types.KindIO, "", err)
	}
	defer func() { _ = rc.Close() }()

	head := make([]byte, 262)
	n, _ := io.ReadFull(rc, head)
	if kind, mErr := filetype.Match(head[:n]); mErr == nil && kind != filetype.Unknown {
		mime = kind.MIME.Value
	}

	if !r.opts.VerifyIntegrity {
		return "", mime, nil
	}
	h := sha256.New()
	h.Write(head[:n])
	if _, err := io.CopyN(h, rc, size-int64(n)); err != nil && !errors.Is(err, io.EOF) {
		return "", "", types.NewError(types.KindIO, "", fmt.Errorf("hash working file: %w", err))
	}
	return hex.EncodeToString(h.Sum(nil)), mime, nil
}

func (r *run) mirrorFailed(cand types.CandidateURL, err error, attempt int, willRetry bool) {
	de := types.Classify(err, cand.URL)
	log := utils.Logger("download")
	log.Warn().Err(err).Str("id", r.id).Str("url", cand.URL).Stringer("kind", de.Kind).
		Bool("retry", willRetry).Msg("mirror failed")
	if !willRetry {
		r.obs.ObserveFailover(cand.SourceName, de.Kind)
	}
	events.Emit(r.m.Events, events.MirrorFailedMsg{
		DownloadID: r.id,
		URL:        cand.URL,
		SourceName: cand.SourceName,
		Kind:       de.Kind,
		StatusCode: de.StatusCode,
		Attempt:    attempt,
		WillRetry:  willRetry,
		Err:        err,
	})
}

// reportProgress publishes ProgressMsg until the returned func is called
func (r *run) reportProgress(ctx context.Context, url string) func() {
	if r.m.Events == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				downloaded, total, elapsed := r.state.GetProgress()
				p := r.ctrl.Params()
				events.Emit(r.m.Events, events.ProgressMsg{
					DownloadID:  r.id,
					Downloaded:  downloaded,
					Total:       total,
					Speed:       r.state.Speed(),
					Elapsed:     elapsed,
					URL:         url,
					Concurrency: p.Concurrency,
					ChunkSize:   p.ChunkSize,
				})
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
