package covariate

import (
	"sync"
	"time"
)

// Status is a point-in-time view of a pipeline run, served by the
// status API while a long ingestion is in flight.
type Status struct {
	RunID       string    `json:"run_id"`
	State       string    `json:"state"` // idle, running, done, aborted
	Backend     string    `json:"backend,omitempty"`
	Year        int       `json:"year,omitempty"`
	Records     int       `json:"records"`
	UniqueCells int       `json:"unique_cells"`
	DoneCells   int       `json:"done_cells"`
	CacheHits   int       `json:"cache_hits"`
	Fetched     int       `json:"fetched"`
	StartedAt   time.Time `json:"started_at,omitempty"`
}

// Progress is a concurrency-safe holder for the current run status.
type Progress struct {
	mu sync.Mutex
	s  Status
}

func NewProgress(runID string) *Progress {
	return &Progress{s: Status{RunID: runID, State: "idle"}}
}

// Update applies fn to the status under the lock.
func (p *Progress) Update(fn func(*Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.s)
}

// Snapshot returns a copy of the current status.
func (p *Progress) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.s
}
