package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"
)

// runningJob is the running table entry for one executing job. The cancel func
// is the job's cancellation signal; it exists only while the job runs.
type runningJob struct {
	job       types.Job
	cancel    context.CancelFunc
	startedAt time.Time
}

// runningTable maps job identity to its entry. Like jobQueue it is guarded by
// the dispatcher's mutex.
type runningTable struct {
	jobs map[string]*runningJob
}

func newRunningTable() *runningTable {
	return &runningTable{jobs: make(map[string]*runningJob)}
}

func (r *runningTable) insert(entry *runningJob) {
	r.jobs[entry.job.ID] = entry
}

func (r *runningTable) get(id string) (*runningJob, bool) {
	entry, ok := r.jobs[id]
	return entry, ok
}

func (r *runningTable) remove(id string) {
	delete(r.jobs, id)
}

// cancelAll signals every running job and returns their ids
func (r *runningTable) cancelAll() []string {
	ids := make([]string, 0, len(r.jobs))
	for id, entry := range r.jobs {
		entry.cancel()
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *runningTable) ids() []string {
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *runningTable) len() int {
	return len(r.jobs)
}
