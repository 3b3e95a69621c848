package scheduler

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ytget/fetchd/internal/model"
	"github.com/ytget/fetchd/internal/progress"
	"github.com/ytget/fetchd/internal/store"
)

// CleanupFunc releases resources tied to a finished job, typically by
// removing a partial artifact from disk
type CleanupFunc func(job model.Job)

// Finalizer is the single choke point for terminal transitions. Every
// path out of running (or out of the queue, for cancellation) funnels
// through Finalize, which transitions the job, emits the terminal event,
// releases capacity, and admits the next waiting item.
type Finalizer struct {
	store   *store.Store
	hub     *progress.Hub
	sched   *Scheduler
	cleanup CleanupFunc
	logger  *slog.Logger
}

// NewFinalizer creates the finalizer and installs it on the scheduler.
// cleanup may be nil when no artifact release is needed.
func NewFinalizer(st *store.Store, hub *progress.Hub, sched *Scheduler, cleanup CleanupFunc, logger *slog.Logger) *Finalizer {
	f := &Finalizer{
		store:   st,
		hub:     hub,
		sched:   sched,
		cleanup: cleanup,
		logger:  logger,
	}
	sched.fin = f
	return f
}

// Finalize transitions the job to the given terminal status. It is
// idempotent: once a job is terminal every later call returns without
// side effects, so racing exit paths (runner exit vs. cancel) are safe.
func (f *Finalizer) Finalize(jobID string, status model.JobStatus, reason string) {
	err := f.store.MarkTerminal(jobID, status, reason)
	switch {
	case errors.Is(err, store.ErrAlreadyTerminal):
		return
	case errors.Is(err, store.ErrNotFound):
		// The job disappeared mid-flight (concurrent delete). Still close
		// any lingering subscribers and free the slot.
		f.logger.Warn("finalizing vanished job", "job_id", jobID, "status", status)
		f.hub.End(jobID, status.String(), nil)
		f.sched.Release(jobID)
		f.sched.Schedule()
		return
	case err != nil:
		f.logger.Error("terminal transition failed", "job_id", jobID, "err", err)
		return
	}

	job, _ := f.store.Snapshot(jobID)
	f.logger.Info("job finalized",
		"job_id", jobID,
		"status", status.String(),
		"wait", job.WaitDuration(),
		"run", job.RunDuration(),
	)

	data, err := json.Marshal(model.ProgressPayload{
		JobID:    jobID,
		Status:   status.String(),
		Progress: job.Progress,
		Percent:  job.Percent,
		Title:    job.Title,
		Error:    job.LastError,
		Reason:   reason,
	})
	if err != nil {
		data = nil
	}
	f.hub.End(jobID, status.String(), data)

	f.sched.Release(jobID)

	// Artifacts are kept for completed jobs and released otherwise.
	if f.cleanup != nil && status != model.StatusCompleted {
		f.cleanup(job)
	}

	f.sched.Schedule()
}
