// Package dashboard folds job updates into the per-owner view a client
// renders. Delivery is at-least-once and unordered across sources, so Apply
// only ever moves a job forward.
package dashboard

import (
	"sync"

	"thumbnail-service/internal/domain/model"
)

type Entry struct {
	JobID        string
	Status       model.JobStatus
	Progress     int
	ThumbnailURL string
	Error        string
	UpdatedAt    string
}

type Stats struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

type Board struct {
	mu    sync.RWMutex
	jobs  map[string]*Entry
	order []string // first seen first
}

func NewBoard() *Board {
	return &Board{jobs: make(map[string]*Entry)}
}

// Seed loads the current state of jobs, e.g. from a list call. Seeded entries
// go through the same forward-only rule as updates.
func (b *Board) Seed(updates ...model.JobUpdate) {
	for _, u := range updates {
		b.Apply(u)
	}
}

// Apply folds u into the board and reports whether anything changed.
// Duplicates and updates that would move a job backwards are discarded.
func (b *Board) Apply(u model.JobUpdate) bool {
	if u.JobID == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.jobs[u.JobID]
	if !ok {
		e = &Entry{JobID: u.JobID}
		b.jobs[u.JobID] = e
		b.order = append(b.order, u.JobID)
		fill(e, u)
		return true
	}
	if !advances(e, u) {
		return false
	}
	fill(e, u)
	return true
}

func advances(e *Entry, u model.JobUpdate) bool {
	if e.Status.Terminal() {
		return false
	}
	from, to := e.Status.Rank(), u.Status.Rank()
	if to < 0 {
		return false
	}
	if to != from {
		return to > from
	}
	return u.Status == model.JobStatusProcessing && u.Progress > e.Progress
}

func fill(e *Entry, u model.JobUpdate) {
	e.Status = u.Status
	e.Progress = u.Progress
	e.Error = u.Error
	e.UpdatedAt = u.Timestamp
	if u.Result != nil {
		e.ThumbnailURL = u.Result.ThumbnailURL
	}
}

func (b *Board) Get(jobID string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.jobs[jobID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns the jobs newest first.
func (b *Board) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, 0, len(b.order))
	for i := len(b.order) - 1; i >= 0; i-- {
		out = append(out, *b.jobs[b.order[i]])
	}
	return out
}

func (b *Board) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Stats{Total: len(b.jobs)}
	for _, e := range b.jobs {
		switch e.Status {
		case model.JobStatusQueued:
			s.Queued++
		case model.JobStatusProcessing:
			s.Processing++
		case model.JobStatusCompleted:
			s.Completed++
		case model.JobStatusFailed:
			s.Failed++
		}
	}
	return s
}
