package pipeline

import "github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"

// jobQueue is the FIFO of jobs waiting for a permit. It carries no lock of its
// own; the dispatcher guards it together with the running table so a job can
// move between the two atomically.
type jobQueue struct {
	items []types.Job
}

func newJobQueue() *jobQueue {
	return &jobQueue{items: make([]types.Job, 0, 16)}
}

func (q *jobQueue) push(jobs ...types.Job) {
	q.items = append(q.items, jobs...)
}

// pop removes and returns the head of the queue
func (q *jobQueue) pop() (types.Job, bool) {
	if len(q.items) == 0 {
		return types.Job{}, false
	}
	job := q.items[0]
	q.items[0] = types.Job{}
	q.items = q.items[1:]
	return job, true
}

// remove deletes the job with the given id, keeping the order of the rest
func (q *jobQueue) remove(id string) (types.Job, bool) {
	for i, job := range q.items {
		if job.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return job, true
		}
	}
	return types.Job{}, false
}

// drain empties the queue and returns what it held, in order
func (q *jobQueue) drain() []types.Job {
	drained := q.items
	q.items = make([]types.Job, 0, 16)
	return drained
}

func (q *jobQueue) contains(id string) bool {
	for _, job := range q.items {
		if job.ID == id {
			return true
		}
	}
	return false
}

func (q *jobQueue) ids() []string {
	ids := make([]string, len(q.items))
	for i, job := range q.items {
		ids[i] = job.ID
	}
	return ids
}

func (q *jobQueue) len() int {
	return len(q.items)
}
