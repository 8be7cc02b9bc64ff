// Package adaptive tunes download concurrency and chunk size from observed
// chunk outcomes.
//
// Two loops run on every RecordOutcome. Congestion control compares an EMA
// congestion score against a threshold and moves concurrency by one, at most
// once per CongestionInterval. Speed-trend adaptation groups recent samples by
// the concurrency and chunk size they were fetched with and nudges the
// parameters toward the best performing group, at most once per
// AdaptationInterval.
package adaptive

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// ChangeFunc observes parameter changes. It runs outside the controller lock.
type ChangeFunc func(old, updated types.AdaptiveParams, reason string)

type sample struct {
	speed       float64
	concurrency int
	chunkSize   int64
}

// Controller owns the AdaptiveParams. All methods are safe for concurrent use.
type Controller struct {
	runtime *types.RuntimeConfig

	mu         sync.RWMutex
	params     types.AdaptiveParams
	congestion types.CongestionMetrics
	seeded     bool     // congestion EMA has a first sample
	peakSpeed  float64  // highest single-chunk speed, for utilization
	recent     []bool   // success flags, last SampleWindow outcomes
	samples    []sample // successful outcomes, last SampleHistory
	trend      types.Trend

	congestionLimit *rate.Limiter
	adaptLimit      *rate.Limiter

	now      func() time.Time
	jitter   func() float64 // uniform in [0,1)
	onChange ChangeFunc
}

// Option configures a Controller
type Option func(*Controller)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithJitter replaces the backoff jitter source. fn must return values in [0,1).
func WithJitter(fn func() float64) Option {
	return func(c *Controller) { c.jitter = fn }
}

// WithChangeFunc registers an observer for parameter changes
func WithChangeFunc(fn ChangeFunc) Option {
	return func(c *Controller) { c.onChange = fn }
}

// New returns a controller seeded with the initial concurrency and a mid-size chunk.
func New(runtime *types.RuntimeConfig, opts ...Option) *Controller {
	c := &Controller{
		runtime: runtime,
		now:     time.Now,
		jitter:  rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.congestionLimit = rate.NewLimiter(rate.Every(runtime.GetCongestionInterval()), 1)
	c.adaptLimit = rate.NewLimiter(rate.Every(runtime.GetAdaptationInterval()), 1)
	// The first speed-trend pass waits a full interval from start.
	c.adaptLimit.AllowN(c.now(), 1)

	c.params = types.AdaptiveParams{
		Concurrency:   c.clampConcurrency(types.InitConcurrency),
		ChunkSize:     c.clampChunk(types.MediumClassChunk),
		Timeout:       runtime.GetChunkTimeout(),
		RetryAttempts: runtime.GetMaxRetriesPerURL(),
		Condition:     types.ConditionUnknown,
	}
	return c
}

// Params returns a snapshot of the current parameters
func (c *Controller) Params() types.AdaptiveParams {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params
}

// CongestionScore is the score computed from the current EMA
func (c *Controller) CongestionScore() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return congestionScore(c.congestion)
}

// Trend reports the direction found by the last speed-trend adaptation
func (c *Controller) Trend() types.Trend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trend
}

// ErrorRate is the failure share over the last SampleWindow outcomes
func (c *Controller) ErrorRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return windowErrorRate(c.recent)
}

// RecordOutcome feeds one completed chunk request into both adaptation loops.
func (c *Controller) RecordOutcome(o types.ChunkOutcome) {
	if o.ErrorKind == types.KindCanceled {
		return
	}

	now := c.now()

	c.mu.Lock()
	before := c.params
	reason := c.record(o, now)
	after := c.params
	c.mu.Unlock()

	if reason != "" && before != after {
		utils.Debug("adaptive: %s: concurrency %d -> %d, chunk %d -> %d",
			reason, before.Concurrency, after.Concurrency, before.ChunkSize, after.ChunkSize)
		if c.onChange != nil {
			c.onChange(before, after, reason)
		}
	}
}

// record must be called with mu held. It returns a reason when params moved.
func (c *Controller) record(o types.ChunkOutcome, now time.Time) string {
	c.recent = append(c.recent, o.Success)
	if len(c.recent) > types.SampleWindow {
		c.recent = c.recent[len(c.recent)-types.SampleWindow:]
	}

	speed := o.Speed()
	if o.Success && speed > 0 {
		conc, chunk := o.Concurrency, o.ChunkSize
		if conc <= 0 {
			conc = c.params.Concurrency
		}
		if chunk <= 0 {
			chunk = c.params.ChunkSize
		}
		c.samples = append(c.samples, sample{speed: speed, concurrency: conc, chunkSize: chunk})
		if len(c.samples) > types.SampleHistory {
			c.samples = c.samples[len(c.samples)-types.SampleHistory:]
		}
		if speed > c.peakSpeed {
			c.peakSpeed = speed
		}
	}

	c.updateCongestion(o, speed)
	c.params.ObservedSpeed = meanSpeed(c.window())

	var reason string

	errRate := windowErrorRate(c.recent)
	if !o.Success && errRate > types.ErrorRateLimit {
		if c.setConcurrency(c.params.Concurrency - 1) {
			reason = "error rate"
		}
	} else if c.congestionLimit.AllowN(now, 1) {
		score := congestionScore(c.congestion)
		threshold := c.runtime.GetCongestionThreshold()
		switch {
		case score > threshold:
			if c.setConcurrency(c.params.Concurrency - 1) {
				reason = "congestion"
			}
		case score < threshold/2:
			if c.setConcurrency(c.params.Concurrency + 1) {
				reason = "headroom"
			}
		}
	}

	if len(c.samples) >= types.MinAdaptSamples && c.adaptLimit.AllowN(now, 1) {
		if c.adaptToTrend() && reason == "" {
			reason = "speed trend"
		}
	}

	return reason
}

func (c *Controller) updateCongestion(o types.ChunkOutcome, speed float64) {
	failed := 0.0
	if !o.Success {
		failed = 1
	}
	util := c.congestion.BandwidthUtilization
	if o.Success && c.peakSpeed > 0 {
		util = math.Min(speed/c.peakSpeed, 1)
	}
	rtt := o.Latency
	if rtt <= 0 {
		rtt = c.congestion.RTT
	}

	if !c.seeded {
		c.congestion = types.CongestionMetrics{RTT: rtt, ErrorRate: failed, BandwidthUtilization: util}
		c.seeded = true
		return
	}

	const a = types.CongestionEMAAlpha
	c.congestion.RTT = time.Duration(a*float64(rtt) + (1-a)*float64(c.congestion.RTT))
	c.congestion.ErrorRate = a*failed + (1-a)*c.congestion.ErrorRate
	c.congestion.BandwidthUtilization = a*util + (1-a)*c.congestion.BandwidthUtilization
}

func congestionScore(m types.CongestionMetrics) float64 {
	rtt := math.Min(float64(m.RTT.Milliseconds())/500, 1)
	return 0.4*rtt + 0.4*m.ErrorRate + 0.2*(1-m.BandwidthUtilization)
}

// adaptToTrend must be called with mu held. Reports whether concurrency or chunk size moved.
func (c *Controller) adaptToTrend() bool {
	window := c.window()
	avg := meanSpeed(window)

	c.params.Condition = classify(avg)
	c.params.Confidence = confidence(window, avg)
	c.params.Timeout, c.params.RetryAttempts = c.limitsFor(c.params.Condition)
	c.trend = trendOf(window)

	bestConc, bestChunk := bestGroups(c.samples)

	var conc int
	var chunk int64
	switch c.trend {
	case types.TrendImproving:
		conc = int(math.Ceil(float64(bestConc) * 1.2))
		chunk = int64(math.Ceil(float64(bestChunk) * 1.2))
	case types.TrendDeclining:
		conc = int(math.Floor(float64(bestConc) * 0.8))
		chunk = int64(math.Floor(float64(bestChunk) * 0.8))
	default:
		return false
	}

	moved := c.setConcurrency(conc)
	chunk = c.clampChunk(chunk)
	if chunk != c.params.ChunkSize {
		c.params.ChunkSize = chunk
		moved = true
	}
	c.params.Tuned = true
	return moved
}

// limitsFor scales the configured chunk timeout and retry budget by condition.
func (c *Controller) limitsFor(cond types.NetworkCondition) (time.Duration, int) {
	timeout := c.runtime.GetChunkTimeout()
	retries := c.runtime.GetMaxRetriesPerURL()

	switch cond {
	case types.ConditionExcellent:
		return timeout / 2, max(retries-1, 1)
	case types.ConditionGood:
		return timeout * 3 / 4, retries
	case types.ConditionPoor:
		return timeout * 3 / 2, retries + 1
	case types.ConditionVeryPoor:
		return timeout * 2, retries + 2
	default:
		return timeout, retries
	}
}

// Backoff returns the delay before retry number attempt (0-based).
func (c *Controller) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	c.mu.RLock()
	errRate := windowErrorRate(c.recent)
	c.mu.RUnlock()

	shift := min(attempt, types.MaxBackoffShift)
	base := float64(c.runtime.GetRetryBaseDelay()) * float64(int64(1)<<shift)
	delay := base * (1 + errRate*2) * (0.75 + 0.5*c.jitter())

	limit := c.runtime.GetMaxBackoff()
	if delay >= float64(limit) {
		return limit
	}
	return time.Duration(delay)
}

func (c *Controller) setConcurrency(n int) bool {
	n = c.clampConcurrency(n)
	if n == c.params.Concurrency {
		return false
	}
	c.params.Concurrency = n
	return true
}

func (c *Controller) clampConcurrency(n int) int {
	return min(max(n, c.runtime.GetMinConcurrency()), c.runtime.GetMaxConcurrency())
}

func (c *Controller) clampChunk(n int64) int64 {
	return min(max(n, c.runtime.GetMinChunkSize()), c.runtime.GetMaxChunkSize())
}

// window returns the last SampleWindow samples
func (c *Controller) window() []sample {
	if len(c.samples) > types.SampleWindow {
		return c.samples[len(c.samples)-types.SampleWindow:]
	}
	return c.samples
}

func windowErrorRate(recent []bool) float64 {
	if len(recent) == 0 {
		return 0
	}
	failed := 0
	for _, ok := range recent {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(len(recent))
}

func meanSpeed(s []sample) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, x := range s {
		sum += x.speed
	}
	return sum / float64(len(s))
}

func classify(speed float64) types.NetworkCondition {
	switch {
	case speed >= 10*types.Megabyte:
		return types.ConditionExcellent
	case speed >= 5*types.Megabyte:
		return types.ConditionGood
	case speed >= 1*types.Megabyte:
		return types.ConditionFair
	case speed >= 0.25*types.Megabyte:
		return types.ConditionPoor
	default:
		return types.ConditionVeryPoor
	}
}

func confidence(s []sample, mean float64) float64 {
	if len(s) < 2 || mean <= 0 {
		return 0
	}
	var sq float64
	for _, x := range s {
		d := x.speed - mean
		sq += d * d
	}
	cv := math.Sqrt(sq/float64(len(s))) / mean
	return 1 - math.Min(cv, 1)
}

func trendOf(s []sample) types.Trend {
	if len(s) < 2 {
		return types.TrendStable
	}
	half := len(s) / 2
	first, second := meanSpeed(s[:half]), meanSpeed(s[half:])
	switch {
	case first <= 0:
		return types.TrendStable
	case second > first*1.1:
		return types.TrendImproving
	case second < first*0.9:
		return types.TrendDeclining
	default:
		return types.TrendStable
	}
}

// bestGroups picks the concurrency with the highest aggregate throughput
// (mean speed times concurrency) and the chunk size with the highest mean speed.
func bestGroups(s []sample) (int, int64) {
	type agg struct {
		sum float64
		n   int
	}
	byConc := map[int]*agg{}
	byChunk := map[int64]*agg{}
	var concOrder []int
	var chunkOrder []int64
	for _, x := range s {
		if byConc[x.concurrency] == nil {
			byConc[x.concurrency] = &agg{}
			concOrder = append(concOrder, x.concurrency)
		}
		byConc[x.concurrency].sum += x.speed
		byConc[x.concurrency].n++

		if byChunk[x.chunkSize] == nil {
			byChunk[x.chunkSize] = &agg{}
			chunkOrder = append(chunkOrder, x.chunkSize)
		}
		byChunk[x.chunkSize].sum += x.speed
		byChunk[x.chunkSize].n++
	}

	bestConc, bestConcScore := 0, -1.0
	for _, k := range concOrder {
		g := byConc[k]
		if score := g.sum / float64(g.n) * float64(k); score > bestConcScore {
			bestConc, bestConcScore = k, score
		}
	}

	bestChunk, bestChunkScore := int64(0), -1.0
	for _, k := range chunkOrder {
		g := byChunk[k]
		if score := g.sum / float64(g.n); score > bestChunkScore {
			bestChunk, bestChunkScore = k, score
		}
	}
	return bestConc, bestChunk
}
