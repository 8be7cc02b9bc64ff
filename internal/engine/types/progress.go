package types

import (
	"sync"
	"sync/atomic"
	"time"
)

// ProgressState is shared between the engine and whoever renders progress
type ProgressState struct {
	ID            string
	Downloaded    atomic.Int64
	Total         atomic.Int64
	ActiveWorkers atomic.Int32
	Resumed       atomic.Bool

	mu        sync.Mutex
	startTime time.Time
	url       string
}

// NewProgressState creates a progress tracker for one download
func NewProgressState(id string, total int64) *ProgressState {
	ps := &ProgressState{ID: id, startTime: time.Now()}
	ps.Total.Store(total)
	return ps
}

// Add records n freshly written bytes. Implements the progress sink contract.
func (ps *ProgressState) Add(n, total int64) {
	if ps == nil {
		return
	}
	ps.Downloaded.Add(n)
	if total > 0 {
		ps.Total.Store(total)
	}
}

// SetURL records the mirror currently in use
func (ps *ProgressState) SetURL(url string) {
	ps.mu.Lock()
	ps.url = url
	ps.mu.Unlock()
}

// URL returns the mirror currently in use
func (ps *ProgressState) URL() string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.url
}

// GetProgress returns downloaded bytes, total bytes and elapsed time
func (ps *ProgressState) GetProgress() (downloaded, total int64, elapsed time.Duration) {
	ps.mu.Lock()
	start := ps.startTime
	ps.mu.Unlock()
	return ps.Downloaded.Load(), ps.Total.Load(), time.Since(start)
}

// Speed returns the average speed since the download started (bytes/s)
func (ps *ProgressState) Speed() float64 {
	downloaded, _, elapsed := ps.GetProgress()
	if elapsed <= 0 {
		return 0
	}
	return float64(downloaded) / elapsed.Seconds()
}

// ProgressSink receives (bytes written, total size) increments after each chunk write
type ProgressSink interface {
	Add(n, total int64)
}
