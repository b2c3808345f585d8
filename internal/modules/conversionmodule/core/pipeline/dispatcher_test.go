package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	converr "github.com/mantonx/mediaconv/internal/modules/conversionmodule/errors"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// gatedExecutor blocks each job until the test finishes it or it is cancelled
type gatedExecutor struct {
	mu        sync.Mutex
	gates     map[string]chan error
	active    int
	maxActive int
}

func newGatedExecutor() *gatedExecutor {
	return &gatedExecutor{gates: make(map[string]chan error)}
}

func (g *gatedExecutor) gate(id string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[id]
	if !ok {
		ch = make(chan error, 1)
		g.gates[id] = ch
	}
	return ch
}

func (g *gatedExecutor) Execute(ctx context.Context, job types.Job, progress ProgressFunc) (*types.Result, error) {
	gate := g.gate(job.ID)

	g.mu.Lock()
	g.active++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.active--
		g.mu.Unlock()
	}()

	progress(50)

	select {
	case err := <-gate:
		if err != nil {
			return nil, err
		}
		return &types.Result{OutputPath: job.SourcePath + ".out"}, nil
	case <-ctx.Done():
		return nil, converr.New(converr.ErrorTypeExecution, "execute", converr.ErrCancelled)
	}
}

func (g *gatedExecutor) finish(id string, err error) {
	g.gate(id) <- err
}

func (g *gatedExecutor) max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxActive
}

type recordedEvent struct {
	name    string
	payload map[string]interface{}
}

// recorder captures notifications in emission order
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Notify(name string, payload map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: name, payload: payload})
}

// forJob returns the event names that concern id, including batch
// cancellations that list it
func (r *recorder) forJob(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for _, e := range r.events {
		if e.payload["id"] == id {
			names = append(names, e.name)
			continue
		}
		if ids, ok := e.payload["ids"].([]string); ok {
			for _, listed := range ids {
				if listed == id {
					names = append(names, e.name)
				}
			}
		}
	}
	return names
}

func (r *recorder) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, e := range r.events {
		if e.name == types.EventJobStarted {
			ids = append(ids, e.payload["id"].(string))
		}
	}
	return ids
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.events {
		if e.name == name {
			n++
		}
	}
	return n
}

func (r *recorder) find(name, id string) (recordedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.events {
		if e.name == name && e.payload["id"] == id {
			return e, true
		}
	}
	return recordedEvent{}, false
}

// terminalCount counts the terminal events that concern id
func (r *recorder) terminalCount(id string) int {
	n := 0
	for _, name := range r.forJob(id) {
		if types.IsTerminal(name) || name == types.EventJobsCancelled {
			n++
		}
	}
	return n
}

func newJobs(n int) []types.Job {
	jobs := make([]types.Job, n)
	for i := range jobs {
		jobs[i] = types.Job{
			ID:           uuid.NewString(),
			SourcePath:   "/media/input.mov",
			TargetFormat: "mp4",
			Category:     types.CategoryVideo,
		}
	}
	return jobs
}

func ids(jobs []types.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func setupDispatcher(t *testing.T, limit int) (*Dispatcher, *gatedExecutor, *recorder) {
	exec := newGatedExecutor()
	rec := &recorder{}
	d := NewDispatcher(&Config{MaxConcurrency: limit}, exec, rec, hclog.NewNullLogger())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d, exec, rec
}

func TestDispatcher_RejectsInvalidIdentity(t *testing.T) {
	d, _, rec := setupDispatcher(t, 1)

	err := d.Submit(types.Job{ID: "not-a-uuid", SourcePath: "/a.mov", TargetFormat: "mp4"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, converr.ErrInvalidIdentity))
	assert.Equal(t, converr.ErrorTypeValidation, converr.GetType(err))
	assert.Empty(t, d.Snapshot().Queued)
	assert.Equal(t, 0, rec.count(types.EventJobQueued))
}

func TestDispatcher_RejectsDuplicateIdentity(t *testing.T) {
	d, exec, _ := setupDispatcher(t, 1)
	jobs := newJobs(2)

	require.NoError(t, d.SubmitBatch(jobs))
	require.Eventually(t, func() bool { return len(d.Snapshot().Running) == 1 }, waitFor, tick)

	// One running, one queued: both identities are taken.
	for _, job := range jobs {
		err := d.Submit(job)
		assert.True(t, errors.Is(err, converr.ErrDuplicateJob), "expected duplicate for %s", job.ID)
	}

	// Duplicates inside one batch are rejected before anything is queued.
	fresh := newJobs(1)[0]
	err := d.SubmitBatch([]types.Job{fresh, fresh})
	assert.True(t, errors.Is(err, converr.ErrDuplicateJob))
	assert.NotContains(t, d.Snapshot().Queued, fresh.ID)

	exec.finish(jobs[0].ID, nil)
	exec.finish(jobs[1].ID, nil)
}

func TestDispatcher_EnqueueDoesNotDispatch(t *testing.T) {
	d, exec, rec := setupDispatcher(t, 2)
	jobs := newJobs(2)

	for _, job := range jobs {
		require.NoError(t, d.Enqueue(job))
	}
	assert.Never(t, func() bool { return rec.count(types.EventJobStarted) > 0 }, 50*time.Millisecond, tick)
	assert.Equal(t, 2, rec.count(types.EventJobQueued))

	d.Dispatch()
	require.Eventually(t, func() bool { return rec.count(types.EventJobStarted) == 2 }, waitFor, tick)

	exec.finish(jobs[0].ID, nil)
	exec.finish(jobs[1].ID, nil)
}

func TestDispatcher_FiveJobsLimitTwo(t *testing.T) {
	d, exec, rec := setupDispatcher(t, 2)
	jobs := newJobs(5)
	require.NoError(t, d.SubmitBatch(jobs))

	require.Eventually(t, func() bool { return len(rec.started()) == 2 }, waitFor, tick)
	snap := d.Snapshot()
	assert.Len(t, snap.Running, 2)
	assert.Equal(t, ids(jobs[2:]), snap.Queued)
	assert.Equal(t, ids(jobs[:2]), rec.started())

	for i := 0; i < len(jobs); i++ {
		exec.finish(jobs[i].ID, nil)
		want := min(i+3, len(jobs))
		require.Eventually(t, func() bool { return len(rec.started()) == want }, waitFor, tick)
	}

	require.Eventually(t, func() bool { return rec.count(types.EventAllJobsCompleted) == 1 }, waitFor, tick)
	assert.Equal(t, ids(jobs), rec.started(), "jobs start in submission order")
	assert.LessOrEqual(t, exec.max(), 2)

	for _, job := range jobs {
		assert.Equal(t, []string{
			types.EventJobQueued,
			types.EventJobStarted,
			types.EventJobProgress,
			types.EventJobCompleted,
		}, rec.forJob(job.ID))
	}

	completed, ok := rec.find(types.EventJobCompleted, jobs[0].ID)
	require.True(t, ok)
	assert.Equal(t, "/media/input.mov", completed.payload["input_file"])
	assert.Equal(t, "/media/input.mov.out", completed.payload["new_file_path"])
	assert.Contains(t, completed.payload, "total_time")
}

func TestDispatcher_CancelQueuedJob(t *testing.T) {
	d, exec, rec := setupDispatcher(t, 1)
	jobs := newJobs(3)
	require.NoError(t, d.SubmitBatch(jobs))
	require.Eventually(t, func() bool { return len(rec.started()) == 1 }, waitFor, tick)

	require.NoError(t, d.Cancel(jobs[1].ID))
	assert.Equal(t, []string{jobs[2].ID}, d.Snapshot().Queued)

	exec.finish(jobs[0].ID, nil)
	require.Eventually(t, func() bool { return len(rec.started()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{jobs[0].ID, jobs[2].ID}, rec.started())

	exec.finish(jobs[2].ID, nil)
	require.Eventually(t, func() bool { return rec.count(types.EventJobCompleted) == 2 }, waitFor, tick)

	assert.Equal(t, []string{types.EventJobQueued, types.EventJobCancelled}, rec.forJob(jobs[1].ID))
}

func TestDispatcher_CancelRunningJob(t *testing.T) {
	d, _, rec := setupDispatcher(t, 1)
	job := newJobs(1)[0]
	require.NoError(t, d.Submit(job))
	require.Eventually(t, func() bool { return len(rec.started()) == 1 }, waitFor, tick)

	done := make(chan error, 1)
	go func() { done <- d.Cancel(job.ID) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Cancel blocked on a running job")
	}

	require.Eventually(t, func() bool { return rec.count(types.EventJobCancelled) == 1 }, waitFor, tick)
	assert.Equal(t, 0, rec.count(types.EventJobCompleted))
	assert.Equal(t, 1, rec.terminalCount(job.ID))
	assert.Empty(t, d.Snapshot().Running)

	// Once gone, the identity is unknown.
	err := d.Cancel(job.ID)
	assert.True(t, errors.Is(err, converr.ErrJobNotFound))
}

func TestDispatcher_CancelUnknownJob(t *testing.T) {
	d, _, _ := setupDispatcher(t, 1)

	err := d.Cancel(uuid.NewString())
	require.Error(t, err)
	assert.True(t, errors.Is(err, converr.ErrJobNotFound))
}

func TestDispatcher_CancelAll(t *testing.T) {
	d, exec, rec := setupDispatcher(t, 2)
	jobs := newJobs(6)
	require.NoError(t, d.SubmitBatch(jobs))
	require.Eventually(t, func() bool { return len(rec.started()) == 2 }, waitFor, tick)

	d.CancelAll()

	require.Eventually(t, func() bool { return rec.count(types.EventJobCancelled) == 2 }, waitFor, tick)
	assert.Equal(t, 1, rec.count(types.EventJobsCancelled))
	assert.Equal(t, ids(jobs[:2]), rec.started(), "queued jobs never start")
	assert.Empty(t, d.Snapshot().Queued)

	for _, job := range jobs {
		assert.Equal(t, 1, rec.terminalCount(job.ID), "job %s", job.ID)
	}
	assert.LessOrEqual(t, exec.max(), 2)
}

func TestDispatcher_GrowLimitStartsQueuedWork(t *testing.T) {
	d, exec, rec := setupDispatcher(t, 1)
	jobs := newJobs(4)
	require.NoError(t, d.SubmitBatch(jobs))
	require.Eventually(t, func() bool { return len(rec.started()) == 1 }, waitFor, tick)

	require.NoError(t, d.SetLimit(3))
	assert.Equal(t, 3, d.Limit())

	require.Eventually(t, func() bool { return len(rec.started()) == 3 }, waitFor, tick)
	assert.Equal(t, ids(jobs[:3]), rec.started())
	assert.Equal(t, []string{jobs[3].ID}, d.Snapshot().Queued)

	for _, job := range jobs {
		exec.finish(job.ID, nil)
	}
	require.Eventually(t, func() bool { return rec.count(types.EventJobCompleted) == 4 }, waitFor, tick)
	assert.LessOrEqual(t, exec.max(), 3)
}

func TestDispatcher_ShrinkLimitIsNonPreemptive(t *testing.T) {
	d, exec, rec := setupDispatcher(t, 3)
	jobs := newJobs(5)
	require.NoError(t, d.SubmitBatch(jobs))
	require.Eventually(t, func() bool { return len(rec.started()) == 3 }, waitFor, tick)

	require.NoError(t, d.SetLimit(1))
	assert.Equal(t, 1, d.Limit(), "limit updates immediately")

	snap := d.Snapshot()
	assert.Len(t, snap.Running, 3, "running jobs are not preempted")
	assert.Equal(t, 2, snap.PendingRetire)
	assert.Equal(t, 0, rec.count(types.EventJobCancelled))

	// The first two completions retire permits instead of starting work.
	exec.finish(jobs[0].ID, nil)
	require.Eventually(t, func() bool { return d.Snapshot().PendingRetire == 1 }, waitFor, tick)
	exec.finish(jobs[1].ID, nil)
	require.Eventually(t, func() bool { return d.Snapshot().PendingRetire == 0 }, waitFor, tick)
	assert.Never(t, func() bool { return len(rec.started()) > 3 }, 50*time.Millisecond, tick)

	// Concurrency has settled at one: each completion starts exactly one job.
	exec.finish(jobs[2].ID, nil)
	require.Eventually(t, func() bool { return len(rec.started()) == 4 }, waitFor, tick)
	assert.Len(t, d.Snapshot().Running, 1)

	exec.finish(jobs[3].ID, nil)
	require.Eventually(t, func() bool { return len(rec.started()) == 5 }, waitFor, tick)
	assert.Len(t, d.Snapshot().Running, 1)

	exec.finish(jobs[4].ID, nil)
	require.Eventually(t, func() bool { return rec.count(types.EventJobCompleted) == 5 }, waitFor, tick)
}

func TestDispatcher_SetLimitValidation(t *testing.T) {
	d, _, rec := setupDispatcher(t, 2)

	err := d.SetLimit(-1)
	assert.True(t, errors.Is(err, converr.ErrInvalidLimit))
	assert.Equal(t, 2, d.Limit())

	require.NoError(t, d.SetLimit(2))
	assert.Equal(t, 0, rec.count(types.EventLimitChanged), "equal limit is a no-op")
}

func TestDispatcher_ZeroLimitHoldsQueue(t *testing.T) {
	d, exec, rec := setupDispatcher(t, 0)
	job := newJobs(1)[0]
	require.NoError(t, d.Submit(job))

	assert.Never(t, func() bool { return len(rec.started()) > 0 }, 50*time.Millisecond, tick)

	require.NoError(t, d.SetLimit(1))
	require.Eventually(t, func() bool { return len(rec.started()) == 1 }, waitFor, tick)
	exec.finish(job.ID, nil)
}

func TestDispatcher_FailedJob(t *testing.T) {
	d, exec, rec := setupDispatcher(t, 1)
	job := newJobs(1)[0]
	require.NoError(t, d.Submit(job))
	require.Eventually(t, func() bool { return len(rec.started()) == 1 }, waitFor, tick)

	exec.finish(job.ID, converr.ExecutionError("ffmpeg", "Invalid data found when processing input"))

	require.Eventually(t, func() bool { return rec.count(types.EventJobFailed) == 1 }, waitFor, tick)
	failed, ok := rec.find(types.EventJobFailed, job.ID)
	require.True(t, ok)
	assert.Equal(t, "Invalid data found when processing input", failed.payload["error"])
	assert.Equal(t, 1, rec.terminalCount(job.ID))
}

type panicExecutor struct{}

func (panicExecutor) Execute(context.Context, types.Job, ProgressFunc) (*types.Result, error) {
	panic("decoder exploded")
}

func TestDispatcher_ExecutorPanicFailsJob(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(&Config{MaxConcurrency: 1}, panicExecutor{}, rec, hclog.NewNullLogger())
	defer d.Shutdown(context.Background())

	jobs := newJobs(2)
	require.NoError(t, d.SubmitBatch(jobs))

	require.Eventually(t, func() bool { return rec.count(types.EventJobFailed) == 2 }, waitFor, tick)
	assert.Equal(t, 0, d.Snapshot().PendingRetire)
	available, held, _ := d.permits.stats()
	assert.Equal(t, 1, available, "permit released after panic")
	assert.Equal(t, 0, held)
}

// sleepyExecutor completes every job after a short pause
type sleepyExecutor struct {
	mu        sync.Mutex
	active    int
	maxActive int
	limitFn   func() int
	violation bool
}

func (s *sleepyExecutor) Execute(ctx context.Context, job types.Job, _ ProgressFunc) (*types.Result, error) {
	s.mu.Lock()
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	select {
	case <-time.After(2 * time.Millisecond):
		return &types.Result{OutputPath: job.SourcePath}, nil
	case <-ctx.Done():
		return nil, converr.New(converr.ErrorTypeExecution, "execute", converr.ErrCancelled)
	}
}

func TestDispatcher_ConcurrencyNeverExceedsLimit(t *testing.T) {
	exec := &sleepyExecutor{}
	rec := &recorder{}
	d := NewDispatcher(&Config{MaxConcurrency: 3}, exec, rec, hclog.NewNullLogger())
	defer d.Shutdown(context.Background())

	jobs := newJobs(40)
	for i, job := range jobs {
		if i%4 == 0 {
			require.NoError(t, d.Submit(job))
		} else {
			require.NoError(t, d.SubmitBatch([]types.Job{job}))
		}
	}

	require.Eventually(t, func() bool { return rec.count(types.EventJobCompleted) == len(jobs) }, 5*time.Second, tick)

	exec.mu.Lock()
	maxActive := exec.maxActive
	exec.mu.Unlock()
	assert.LessOrEqual(t, maxActive, 3)

	for _, job := range jobs {
		events := rec.forJob(job.ID)
		assert.Equal(t, []string{types.EventJobQueued, types.EventJobStarted, types.EventJobCompleted}, events)
	}
}

func TestDispatcher_Shutdown(t *testing.T) {
	exec := newGatedExecutor()
	rec := &recorder{}
	d := NewDispatcher(&Config{MaxConcurrency: 1}, exec, rec, hclog.NewNullLogger())

	jobs := newJobs(3)
	require.NoError(t, d.SubmitBatch(jobs))
	require.Eventually(t, func() bool { return len(rec.started()) == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	for _, job := range jobs {
		assert.Equal(t, 1, rec.terminalCount(job.ID), "job %s", job.ID)
	}
	_, ok := rec.find(types.EventJobCancelled, jobs[0].ID)
	assert.True(t, ok, "running job reports cancelled on shutdown")

	err := d.Submit(newJobs(1)[0])
	assert.True(t, errors.Is(err, converr.ErrShuttingDown))

	// Second shutdown is a no-op.
	require.NoError(t, d.Shutdown(ctx))
}
