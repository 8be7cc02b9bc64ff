// Package router ranks candidate URLs using per-source and per-URL history.
package router

import (
	"sort"
	"sync"
	"time"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// PrimaryCount is how many top-ranked URLs form the primary list
const PrimaryCount = 3

// Scoring weights
const (
	baseScore          = 100.0
	priorityWeight     = 5.0
	reliabilityWeight  = 50.0
	neutralReliability = 0.5
	recentSuccessBonus = 10.0
	consecutivePenalty = 10.0
	fastSourceBonus    = 15.0
	rangeBonus         = 10.0
	regionStep         = 5.0

	recentFailurePenalty = 30.0
	staleFailurePenalty  = 15.0
)

// Routes is the ranked split of a candidate list
type Routes struct {
	Primary  []types.CandidateURL
	Fallback []types.CandidateURL
}

// All returns primary then fallback
func (r Routes) All() []types.CandidateURL {
	all := make([]types.CandidateURL, 0, len(r.Primary)+len(r.Fallback))
	all = append(all, r.Primary...)
	return append(all, r.Fallback...)
}

type entry struct {
	mu    sync.Mutex
	m     types.URLMetrics
	timed int64 // requests that measured a response time
}

// Router keeps metrics for every source name and URL it has observed.
// Entries are never removed.
type Router struct {
	runtime *types.RuntimeConfig
	sources sync.Map // source name -> *entry
	urls    sync.Map // URL -> *entry
	now     func() time.Time
}

// Option configures a Router
type Option func(*Router)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a Router. The runtime config supplies region preferences.
func New(runtime *types.RuntimeConfig, opts ...Option) *Router {
	r := &Router{runtime: runtime, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route scores every candidate and splits them into primary and fallback lists.
// Candidates with a tripped circuit breaker go to the tail of fallback.
func (r *Router) Route(candidates []types.CandidateURL) Routes {
	type scored struct {
		c     types.CandidateURL
		score float64
	}

	now := r.now()
	healthy := make([]scored, 0, len(candidates))
	var tripped []scored
	for _, c := range candidates {
		s := scored{c: c, score: r.scoreAt(c, now)}
		if r.circuitOpen(c.URL, now) {
			tripped = append(tripped, s)
			continue
		}
		healthy = append(healthy, s)
	}

	byScore := func(list []scored) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })
	}
	byScore(healthy)
	byScore(tripped)

	var routes Routes
	for i, s := range healthy {
		if i < PrimaryCount {
			routes.Primary = append(routes.Primary, s.c)
		} else {
			routes.Fallback = append(routes.Fallback, s.c)
		}
	}
	for _, s := range tripped {
		utils.Debug("router: circuit open for %s", s.c.URL)
		routes.Fallback = append(routes.Fallback, s.c)
	}
	return routes
}

// Score returns the current score of one candidate
func (r *Router) Score(c types.CandidateURL) float64 {
	return r.scoreAt(c, r.now())
}

func (r *Router) scoreAt(c types.CandidateURL, now time.Time) float64 {
	score := baseScore - float64(c.Priority)*priorityWeight

	src, srcSeen := r.SourceMetrics(c.SourceName)
	u, urlSeen := r.URLMetrics(c.URL)

	if srcSeen {
		score += src.Reliability * reliabilityWeight
		if !src.LastSuccess.IsZero() && now.Sub(src.LastSuccess) < 24*time.Hour {
			score += recentSuccessBonus
		}
		score -= failurePenalty(src.LastFailure, now)
	} else {
		score += neutralReliability * reliabilityWeight
	}

	if urlSeen {
		score -= float64(u.ConsecutiveFailures) * consecutivePenalty
	}

	speed := src.AvgSpeed
	if urlSeen && u.SuccessfulRequests > 0 {
		speed = u.AvgSpeed
	}
	if speed > types.FastSourceSpeed {
		score += fastSourceBonus
	}

	latency := c.EstimatedLatency
	if latency <= 0 && urlSeen {
		latency = u.AvgResponseTime
	}
	score -= float64(latency.Milliseconds()) / 10

	if c.SupportsRanges {
		score += rangeBonus
	}

	return score + r.regionBoost(c.SourceName)
}

// failurePenalty is 30 inside the last hour, easing linearly to 15 at six hours, then 0.
func failurePenalty(lastFailure, now time.Time) float64 {
	if lastFailure.IsZero() {
		return 0
	}
	since := now.Sub(lastFailure)
	switch {
	case since < time.Hour:
		return recentFailurePenalty
	case since < 6*time.Hour:
		frac := float64(since-time.Hour) / float64(5*time.Hour)
		return recentFailurePenalty - frac*(recentFailurePenalty-staleFailurePenalty)
	default:
		return 0
	}
}

func (r *Router) regionBoost(source string) float64 {
	prefs := r.runtime.GetRegionPreference()
	for p, name := range prefs {
		if name == source {
			return float64(len(prefs)-p) * regionStep
		}
	}
	return 0
}

func (r *Router) circuitOpen(url string, now time.Time) bool {
	u, ok := r.URLMetrics(url)
	if !ok {
		return false
	}
	return u.ConsecutiveFailures >= types.CircuitBreakerThreshold &&
		now.Sub(u.LastFailure) < types.CircuitBreakerCooldown
}

// RecordPerformance folds one request outcome into the source and URL metrics.
// responseTime is averaged over all requests, speed over successful ones.
func (r *Router) RecordPerformance(url, source string, success bool, responseTime time.Duration, speed float64) {
	now := r.now()
	if source != "" {
		update(load(&r.sources, source), success, responseTime, speed, now)
	}
	if url != "" {
		update(load(&r.urls, url), success, responseTime, speed, now)
	}
}

func load(m *sync.Map, key string) *entry {
	if e, ok := m.Load(key); ok {
		return e.(*entry)
	}
	fresh := &entry{m: types.URLMetrics{SourceMetrics: types.SourceMetrics{Name: key}}}
	e, _ := m.LoadOrStore(key, fresh)
	return e.(*entry)
}

func update(e *entry, success bool, responseTime time.Duration, speed float64, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := &e.m
	m.TotalRequests++
	n := m.TotalRequests
	if responseTime > 0 {
		e.timed++
		m.AvgResponseTime = time.Duration((int64(m.AvgResponseTime)*(e.timed-1) + int64(responseTime)) / e.timed)
	}

	if success {
		m.SuccessfulRequests++
		k := float64(m.SuccessfulRequests)
		m.AvgSpeed = (m.AvgSpeed*(k-1) + speed) / k
		m.LastSuccess = now
		m.ConsecutiveFailures = 0
	} else {
		m.FailedRequests++
		m.LastFailure = now
		m.ConsecutiveFailures++
	}
	m.Reliability = float64(m.SuccessfulRequests) / float64(n)
}

// SourceMetrics returns a copy of the metrics for one source name
func (r *Router) SourceMetrics(name string) (types.SourceMetrics, bool) {
	e, ok := r.sources.Load(name)
	if !ok {
		return types.SourceMetrics{}, false
	}
	ent := e.(*entry)
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.m.SourceMetrics, true
}

// URLMetrics returns a copy of the metrics for one URL
func (r *Router) URLMetrics(url string) (types.URLMetrics, bool) {
	e, ok := r.urls.Load(url)
	if !ok {
		return types.URLMetrics{}, false
	}
	ent := e.(*entry)
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.m, true
}

// Snapshot copies every metrics entry, sorted by name
func (r *Router) Snapshot() types.MetricsSnapshot {
	var snap types.MetricsSnapshot
	r.sources.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		snap.Sources = append(snap.Sources, e.m.SourceMetrics)
		e.mu.Unlock()
		return true
	})
	r.urls.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		snap.URLs = append(snap.URLs, e.m)
		e.mu.Unlock()
		return true
	})
	sort.Slice(snap.Sources, func(i, j int) bool { return snap.Sources[i].Name < snap.Sources[j].Name })
	sort.Slice(snap.URLs, func(i, j int) bool { return snap.URLs[i].Name < snap.URLs[j].Name })
	return snap
}

// Restore replaces the metrics of every entry named in the snapshot
func (r *Router) Restore(snap types.MetricsSnapshot) {
	for _, s := range snap.Sources {
		e := load(&r.sources, s.Name)
		e.mu.Lock()
		e.m.SourceMetrics = s
		e.timed = s.TotalRequests
		e.mu.Unlock()
	}
	for _, u := range snap.URLs {
		e := load(&r.urls, u.Name)
		e.mu.Lock()
		e.m = u
		e.timed = u.TotalRequests
		e.mu.Unlock()
	}
}
