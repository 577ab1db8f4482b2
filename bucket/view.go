package bucket

import (
	"encoding/json"
	"sync"

	"github.com/propagentic/dispatch/feed"
	"github.com/propagentic/dispatch/job"
)

// Summary is the live view's per-job record, decoded from feed payloads.
type Summary struct {
	JobID        string
	Title        string
	Status       job.Status
	Priority     string
	ContractorID string
	Version      int64
}

// View maintains a live bucket partition for one viewer from feed events.
// A feed.Gate discards duplicate and out-of-order deliveries, so applying
// events in any arrival order converges on the latest committed state:
// a job is always in exactly the bucket of its newest admitted version.
type View struct {
	viewer Viewer
	gate   *feed.Gate

	mu      sync.RWMutex
	buckets map[Bucket]map[string]Summary // bucket → jobID → summary
}

// NewView builds an empty live view for the viewer.
func NewView(v Viewer) *View {
	buckets := make(map[Bucket]map[string]Summary, len(Buckets))
	for _, b := range Buckets {
		buckets[b] = make(map[string]Summary)
	}
	return &View{viewer: v, gate: feed.NewGate(), buckets: buckets}
}

// Seed installs jobs fetched out of band (an initial listing), recording
// their versions so older feed deliveries are discarded.
func (v *View) Seed(jobs []*job.Job) {
	for _, j := range jobs {
		if !v.viewer.Visible(j) {
			continue
		}
		v.gate.Observe(j.ID.String(), j.Version)
		v.place(Summary{
			JobID:        j.ID.String(),
			Title:        j.Title,
			Status:       j.Status,
			Priority:     string(j.Priority),
			ContractorID: j.ContractorID.String(),
			Version:      j.Version,
		})
	}
}

// Apply feeds one delivery into the view. Progress events refresh nothing
// here (the log lives on the job detail view); lifecycle events re-bucket.
// Returns true when the view changed.
func (v *View) Apply(evt *feed.Event) bool {
	if evt.Type == feed.EventProgressAppended {
		return false
	}
	if !v.gate.Admit(evt) {
		return false
	}

	var data feed.JobEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return false
	}

	s := Summary{
		JobID:        data.JobID,
		Title:        data.Title,
		Status:       job.Status(data.Status),
		Priority:     data.Priority,
		ContractorID: data.ContractorID,
		Version:      evt.Version,
	}

	if v.hidden(evt.Type, data) {
		// Keep the gate entry: a late older delivery must not
		// resurrect the job after removal.
		v.remove(s.JobID)
		return true
	}

	v.place(s)
	return true
}

// hidden reports whether this event takes the job out of the viewer's
// buckets. Contractors only bucket jobs they currently hold: declining
// or releasing drops the job, and so does any event showing the job
// unassigned or held by someone else. Landlords and tenants keep every
// job they are linked to.
func (v *View) hidden(t feed.EventType, data feed.JobEventData) bool {
	if v.viewer.Role != RoleContractor {
		return false
	}
	me := v.viewer.ID.String()
	if t == feed.EventJobDeclined && data.ActorID == me {
		return true
	}
	return data.ContractorID != me
}

// Bucket returns a snapshot of one bucket's summaries.
func (v *View) Bucket(b Bucket) []Summary {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]Summary, 0, len(v.buckets[b]))
	for _, s := range v.buckets[b] {
		out = append(out, s)
	}
	return out
}

// Find returns the job's summary and its current bucket.
func (v *View) Find(jobID string) (Summary, Bucket, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	for _, b := range Buckets {
		if s, ok := v.buckets[b][jobID]; ok {
			return s, b, true
		}
	}
	return Summary{}, "", false
}

func (v *View) place(s Summary) {
	target := For(s.Status)

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, b := range Buckets {
		if b != target {
			delete(v.buckets[b], s.JobID)
		}
	}
	v.buckets[target][s.JobID] = s
}

func (v *View) remove(jobID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, b := range Buckets {
		delete(v.buckets[b], jobID)
	}
}
