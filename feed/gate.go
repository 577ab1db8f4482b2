package feed

import "sync"

// Gate enforces per-job delivery ordering on the consumer side. Events
// arrive over an unordered transport; Admit accepts each job's versions
// strictly ascending and discards duplicates and late arrivals, so a view
// applying admitted events never renders a newer state and then an older
// one.
type Gate struct {
	mu      sync.Mutex
	applied map[string]int64 // jobID → last admitted version
}

// NewGate returns an empty gate.
func NewGate() *Gate {
	return &Gate{applied: make(map[string]int64)}
}

// Admit reports whether the event advances its job's version. Events with
// no job ID (none today, but the envelope allows them) always pass.
func (g *Gate) Admit(evt *Event) bool {
	if evt.JobID == "" {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if evt.Version <= g.applied[evt.JobID] {
		return false
	}
	g.applied[evt.JobID] = evt.Version
	return true
}

// Observe records a version seen out of band (an initial list fetch), so
// feed events older than the fetched snapshot are discarded.
func (g *Gate) Observe(jobID string, version int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if version > g.applied[jobID] {
		g.applied[jobID] = version
	}
}

// Forget drops tracking for a job. Only safe once the job can produce
// no further events: on an unordered transport, forgetting a live job
// lets a late older delivery pass Admit again.
func (g *Gate) Forget(jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.applied, jobID)
}
