package pipeline

import (
	"sort"
	"sync"
	"time"
)

// TrackerStats summarizes the runs seen by a Tracker.
type TrackerStats struct {
	Active    int            `json:"active"`
	Total     uint64         `json:"total"`
	Done      uint64         `json:"done"`
	Delivered uint64         `json:"delivered"`
	Skipped   uint64         `json:"skipped"`
	Failed    uint64         `json:"failed"`
	ByReason  map[string]int `json:"failures_by_reason"`
	StartedAt time.Time      `json:"started_at"`
}

// Tracker keeps in-flight runs and a bounded history of finished ones.
// All run mutation goes through the tracker so readers see consistent copies.
type Tracker struct {
	mu      sync.RWMutex
	active  map[string]*Outcome
	history []Outcome
	size    int
	next    int
	full    bool

	total     uint64
	done      uint64
	delivered uint64
	skipped   uint64
	failed    uint64
	byReason  map[Reason]int
	startedAt time.Time
}

// NewTracker creates a tracker keeping the last size finished runs.
func NewTracker(size int) *Tracker {
	if size <= 0 {
		size = 1
	}
	return &Tracker{
		active:    make(map[string]*Outcome),
		history:   make([]Outcome, size),
		size:      size,
		byReason:  make(map[Reason]int),
		startedAt: time.Now(),
	}
}

func (t *Tracker) start(run *Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[run.EventID] = run
	t.total++
}

func (t *Tracker) update(run *Outcome, next State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run.advance(next)
}

func (t *Tracker) skip(run *Outcome, reason Reason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if run.advance(StateSkipped) {
		run.Reason = reason
	}
}

func (t *Tracker) fail(run *Outcome, reason Reason, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run.fail(reason, err)
}

// abort fails run with the reason of the stage it was in.
func (t *Tracker) abort(run *Outcome, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run.fail(stageReason(run.State), err)
}

func (t *Tracker) setAttempts(run *Outcome, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run.Attempts = n
}

func (t *Tracker) setPath(run *Outcome, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run.Path = path
}

func (t *Tracker) setText(run *Outcome, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run.Text = text
}

func (t *Tracker) setDelivered(run *Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run.Delivered = true
}

func (t *Tracker) finish(run *Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.active, run.EventID)
	run.Duration = time.Since(run.Started)
	switch run.State {
	case StateDone:
		t.done++
		if run.Delivered {
			t.delivered++
		}
	case StateSkipped:
		t.skipped++
	case StateFailed:
		t.failed++
		t.byReason[run.Reason]++
	}

	t.history[t.next] = run.clone()
	t.next = (t.next + 1) % t.size
	if t.next == 0 {
		t.full = true
	}
}

// Get returns the run with the given event id, active or recent.
func (t *Tracker) Get(eventID string) (Outcome, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if run, ok := t.active[eventID]; ok {
		return run.clone(), true
	}
	for _, run := range t.recentLocked() {
		if run.EventID == eventID {
			return run, true
		}
	}
	return Outcome{}, false
}

// Active returns copies of in-flight runs, oldest first.
func (t *Tracker) Active() []Outcome {
	t.mu.RLock()
	defer t.mu.RUnlock()

	runs := make([]Outcome, 0, len(t.active))
	for _, run := range t.active {
		runs = append(runs, run.clone())
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Started.Before(runs[j].Started)
	})
	return runs
}

// Recent returns finished runs, newest first.
func (t *Tracker) Recent() []Outcome {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.recentLocked()
}

func (t *Tracker) recentLocked() []Outcome {
	n := t.next
	if t.full {
		n = t.size
	}
	runs := make([]Outcome, 0, n)
	for i := 1; i <= n; i++ {
		idx := (t.next - i + t.size) % t.size
		runs = append(runs, t.history[idx])
	}
	return runs
}

// Stats returns a snapshot of run counters.
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byReason := make(map[string]int, len(t.byReason))
	for reason, n := range t.byReason {
		byReason[string(reason)] = n
	}
	return TrackerStats{
		Active:    len(t.active),
		Total:     t.total,
		Done:      t.done,
		Delivered: t.delivered,
		Skipped:   t.skipped,
		Failed:    t.failed,
		ByReason:  byReason,
		StartedAt: t.startedAt,
	}
}
