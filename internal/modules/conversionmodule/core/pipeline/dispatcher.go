// Package pipeline implements the conversion job dispatcher.
//
// Jobs wait in a FIFO queue until the dispatch loop can take an admission
// permit for them. A dispatched job is moved to the running table together with
// a fresh cancellable context, executed on its own goroutine, and holds its
// permit until the executor returns. Every permit release or addition triggers
// another pass of the loop, which is how the backlog drains without polling.
//
// The concurrency limit can be changed at any time. Growing takes effect
// immediately; shrinking retires permits as running jobs finish and never
// interrupts them.
//
// Every job that enters the queue produces exactly one terminal notification:
// job-completed, job-failed or job-cancelled for individual jobs, or a single
// jobs-cancelled batch event for queued jobs dropped by CancelAll/Shutdown.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	converr "github.com/mantonx/mediaconv/internal/modules/conversionmodule/errors"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"
)

// ProgressFunc receives a job's completion percentage (0-100)
type ProgressFunc func(percent int)

// Executor performs one conversion. It must return promptly once ctx is
// cancelled, clean up any partial output, and report errors.ErrCancelled in
// that case. It must not retain ctx after returning.
type Executor interface {
	Execute(ctx context.Context, job types.Job, progress ProgressFunc) (*types.Result, error)
}

// Notifier receives lifecycle events. Implementations must not block: the
// dispatcher calls Notify while holding its state lock for queue events.
type Notifier interface {
	Notify(name string, payload map[string]interface{})
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(name string, payload map[string]interface{})

// Notify calls f(name, payload)
func (f NotifierFunc) Notify(name string, payload map[string]interface{}) {
	f(name, payload)
}

// Config holds configuration for the dispatcher
type Config struct {
	MaxConcurrency int
}

// DefaultConfig returns default dispatcher configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency: 2,
	}
}

// Dispatcher owns the queue, the running table and the admission permits
type Dispatcher struct {
	executor Executor
	notifier Notifier
	logger   hclog.Logger

	// mu guards queue, running, limit, closed and idleNotified
	mu           sync.Mutex
	queue        *jobQueue
	running      *runningTable
	limit        int
	closed       bool
	idleNotified bool

	permits *admission
	trigger chan struct{}

	// Shutdown
	ctx      context.Context
	cancel   context.CancelFunc
	tasks    sync.WaitGroup
	loopDone chan struct{}
}

// NewDispatcher creates a dispatcher and starts its loop
func NewDispatcher(config *Config, executor Executor, notifier Notifier, logger hclog.Logger) *Dispatcher {
	if config == nil {
		config = DefaultConfig()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(string, map[string]interface{}) {})
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	limit := config.MaxConcurrency
	if limit < 0 {
		limit = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		executor:     executor,
		notifier:     notifier,
		logger:       logger.Named("dispatcher"),
		queue:        newJobQueue(),
		running:      newRunningTable(),
		limit:        limit,
		idleNotified: true,
		permits:      newAdmission(limit),
		trigger:      make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		loopDone:     make(chan struct{}),
	}

	go d.run()

	d.logger.Info("Dispatcher started", "max_concurrency", limit)
	return d
}

// Enqueue appends a job to the queue without triggering dispatch
func (d *Dispatcher) Enqueue(job types.Job) error {
	if err := validateIdentity(job.ID); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.admitLocked(job.ID); err != nil {
		return err
	}
	d.pushLocked(job)
	return nil
}

// Submit enqueues a job and triggers dispatch
func (d *Dispatcher) Submit(job types.Job) error {
	if err := d.Enqueue(job); err != nil {
		return err
	}
	d.Dispatch()
	return nil
}

// SubmitBatch enqueues jobs in order and triggers dispatch once. The batch is
// rejected as a whole if any identity is malformed or already present.
func (d *Dispatcher) SubmitBatch(jobs []types.Job) error {
	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if err := validateIdentity(job.ID); err != nil {
			return err
		}
		if _, dup := seen[job.ID]; dup {
			return converr.ValidationError("submit_batch", converr.ErrDuplicateJob).WithJob(job.ID)
		}
		seen[job.ID] = struct{}{}
	}

	d.mu.Lock()
	for _, job := range jobs {
		if err := d.admitLocked(job.ID); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	for _, job := range jobs {
		d.pushLocked(job)
	}
	d.mu.Unlock()

	d.logger.Debug("Batch queued", "jobs", len(jobs))
	d.Dispatch()
	return nil
}

// Dispatch wakes the dispatch loop. Pending wakeups coalesce.
func (d *Dispatcher) Dispatch() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Cancel stops a running job or removes a queued one. For running jobs it only
// signals; the job's task reports job-cancelled once the executor unwinds.
func (d *Dispatcher) Cancel(id string) error {
	d.mu.Lock()
	if entry, ok := d.running.get(id); ok {
		d.mu.Unlock()
		entry.cancel()
		d.logger.Info("Cancellation requested for running job", "job_id", id)
		return nil
	}

	if _, ok := d.queue.remove(id); ok {
		d.mu.Unlock()
		d.logger.Info("Removed queued job", "job_id", id)
		d.notifier.Notify(types.EventJobCancelled, map[string]interface{}{"id": id})
		return nil
	}
	d.mu.Unlock()

	return converr.PipelineError("cancel", converr.ErrJobNotFound).WithJob(id)
}

// CancelAll clears the queue and signals every running job. It does not wait
// for running jobs to stop.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	dropped := d.queue.drain()
	signalled := d.running.cancelAll()
	d.mu.Unlock()

	d.logger.Info("Cancelling all jobs", "queued", len(dropped), "running", len(signalled))
	d.notifyDropped(dropped)
}

// SetLimit changes the concurrency limit. Growing starts queued work right
// away; shrinking waits for running jobs to finish.
func (d *Dispatcher) SetLimit(limit int) error {
	if limit < 0 {
		return converr.ValidationError("set_limit", converr.ErrInvalidLimit).
			WithDetail("limit", limit)
	}

	d.mu.Lock()
	current := d.limit
	if limit == current {
		d.mu.Unlock()
		return nil
	}
	d.limit = limit
	if limit > current {
		d.permits.add(limit - current)
	} else {
		d.permits.retire(current - limit)
	}
	d.mu.Unlock()

	_, _, pending := d.permits.stats()
	d.logger.Info("Concurrency limit changed", "from", current, "to", limit, "pending_retire", pending)
	d.notifier.Notify(types.EventLimitChanged, map[string]interface{}{"limit": limit})

	if limit > current {
		d.Dispatch()
	}
	return nil
}

// Limit returns the intended concurrency limit
func (d *Dispatcher) Limit() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.limit
}

// Snapshot returns the queued and running job ids and permit accounting
func (d *Dispatcher) Snapshot() types.Snapshot {
	d.mu.Lock()
	snap := types.Snapshot{
		Queued:  d.queue.ids(),
		Running: d.running.ids(),
		Limit:   d.limit,
	}
	d.mu.Unlock()

	snap.Available, _, snap.PendingRetire = d.permits.stats()
	return snap
}

// Shutdown stops accepting work, drops the queue, cancels running jobs and
// waits for their tasks to finish or ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	dropped := d.queue.drain()
	d.mu.Unlock()

	d.logger.Info("Shutting down dispatcher", "dropped", len(dropped))
	if len(dropped) > 0 {
		d.notifyDropped(dropped)
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		<-d.loopDone
		d.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher shutdown complete")
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out")
		return ctx.Err()
	}
}

// run is the dispatch loop
func (d *Dispatcher) run() {
	defer close(d.loopDone)

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.trigger:
			d.drain()
		}
	}
}

// drain starts queued jobs until permits or work run out
func (d *Dispatcher) drain() {
	defer d.notifyIfIdle()

	for {
		if d.ctx.Err() != nil {
			return
		}
		if !d.permits.tryAcquire() {
			return
		}

		d.mu.Lock()
		job, ok := d.queue.pop()
		if !ok {
			d.mu.Unlock()
			d.permits.release()
			return
		}

		ctx, cancel := context.WithCancel(d.ctx)
		entry := &runningJob{job: job, cancel: cancel, startedAt: time.Now()}
		d.running.insert(entry)
		d.tasks.Add(1)
		d.mu.Unlock()

		d.logger.Debug("Job started", "job_id", job.ID, "category", job.Category, "format", job.TargetFormat)
		d.notifier.Notify(types.EventJobStarted, map[string]interface{}{"id": job.ID})

		go d.execute(ctx, entry)
	}
}

// execute runs one job and reports its single terminal event
func (d *Dispatcher) execute(ctx context.Context, entry *runningJob) {
	defer d.tasks.Done()

	job := entry.job
	progress := func(percent int) {
		if ctx.Err() != nil {
			return
		}
		d.notifier.Notify(types.EventJobProgress, map[string]interface{}{
			"id":       job.ID,
			"progress": percent,
		})
	}

	result, err := d.safeExecute(ctx, job, progress)
	cancelled := ctx.Err() != nil || converr.IsCancelled(err)

	d.mu.Lock()
	d.running.remove(job.ID)
	d.mu.Unlock()
	entry.cancel()

	if retired := d.permits.release(); retired {
		d.logger.Debug("Permit retired", "job_id", job.ID)
	}

	elapsed := time.Since(entry.startedAt)
	switch {
	case cancelled:
		d.logger.Info("Job cancelled", "job_id", job.ID, "elapsed", elapsed)
		d.notifier.Notify(types.EventJobCancelled, map[string]interface{}{"id": job.ID})

	case err != nil:
		d.logger.Error("Job failed", "job_id", job.ID, "error", err)
		d.notifier.Notify(types.EventJobFailed, map[string]interface{}{
			"id":    job.ID,
			"error": converr.Detail(err),
		})

	default:
		payload := map[string]interface{}{
			"id":         job.ID,
			"total_time": int64(elapsed.Seconds()),
			"input_file": job.SourcePath,
		}
		if result != nil {
			payload["new_file_path"] = result.OutputPath
			for k, v := range result.Metadata {
				if _, taken := payload[k]; !taken {
					payload[k] = v
				}
			}
		}
		d.logger.Info("Job completed", "job_id", job.ID, "elapsed", elapsed)
		d.notifier.Notify(types.EventJobCompleted, payload)
	}

	d.Dispatch()
}

// safeExecute converts an executor panic into a failure so the job still gets
// its terminal event and the permit is released.
func (d *Dispatcher) safeExecute(ctx context.Context, job types.Job, progress ProgressFunc) (result *types.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic in executor", "job_id", job.ID, "panic", r)
			result = nil
			err = converr.ExecutionError("execute", fmt.Sprintf("executor panic: %v", r)).WithJob(job.ID)
		}
	}()

	if d.executor == nil {
		return nil, converr.InternalError("execute", fmt.Errorf("no executor configured")).WithJob(job.ID)
	}
	return d.executor.Execute(ctx, job, progress)
}

// admitLocked rejects ids that would break the one-place-per-identity rule
func (d *Dispatcher) admitLocked(id string) error {
	if d.closed {
		return converr.PipelineError("submit", converr.ErrShuttingDown).WithJob(id)
	}
	if d.queue.contains(id) {
		return converr.ValidationError("submit", converr.ErrDuplicateJob).WithJob(id)
	}
	if _, ok := d.running.get(id); ok {
		return converr.ValidationError("submit", converr.ErrDuplicateJob).WithJob(id)
	}
	return nil
}

func (d *Dispatcher) pushLocked(job types.Job) {
	d.queue.push(job)
	d.idleNotified = false
	d.notifier.Notify(types.EventJobQueued, map[string]interface{}{
		"id":            job.ID,
		"input_file":    job.SourcePath,
		"target_format": job.TargetFormat,
		"category":      string(job.Category),
	})
}

// notifyIfIdle emits all-jobs-completed once per busy-to-idle transition
func (d *Dispatcher) notifyIfIdle() {
	d.mu.Lock()
	idle := !d.idleNotified && d.queue.len() == 0 && d.running.len() == 0
	if idle {
		d.idleNotified = true
	}
	d.mu.Unlock()

	if idle {
		d.logger.Debug("All jobs completed")
		d.notifier.Notify(types.EventAllJobsCompleted, map[string]interface{}{})
	}
}

func (d *Dispatcher) notifyDropped(dropped []types.Job) {
	ids := make([]string, len(dropped))
	for i, job := range dropped {
		ids[i] = job.ID
	}
	d.notifier.Notify(types.EventJobsCancelled, map[string]interface{}{
		"count": len(ids),
		"ids":   ids,
	})
}

func validateIdentity(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return converr.ValidationError("submit", fmt.Errorf("%w: %v", converr.ErrInvalidIdentity, err)).WithJob(id)
	}
	return nil
}
