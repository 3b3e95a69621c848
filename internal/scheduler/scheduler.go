package scheduler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ytget/fetchd/internal/model"
	"github.com/ytget/fetchd/internal/progress"
	"github.com/ytget/fetchd/internal/store"
)

// MaxConcurrent bounds for the global running-set size
const (
	MinConcurrent     = 1
	MaxConcurrentCap  = 10
	DefaultConcurrent = 2
)

// Update is one message from a runner about a job it is executing. A
// runner sends zero or more non-terminal updates followed by exactly one
// with Terminal set, then closes its channel.
type Update struct {
	Progress     float64
	Percent      int
	Speed        string
	ETASec       int
	Title        string
	Terminal     bool
	Err          error  // non-nil on terminal failure
	ArtifactPath string // produced output, set on terminal success
}

// Runner executes admitted jobs outside the core. Start must return
// quickly: the work runs in the background and reports over the returned
// channel. Stop signals the job's work to terminate and must tolerate the
// work having already exited.
type Runner interface {
	Start(job model.Job) (<-chan Update, error)
	Stop(jobID string)
}

// finalizer is the terminal transition choke point the scheduler hands
// exiting jobs to. Satisfied by *Finalizer; an interface so tests can
// intercept.
type finalizer interface {
	Finalize(jobID string, status model.JobStatus, reason string)
}

// Scheduler owns the waiting queue and the running set. It admits queued
// work under the global maxConcurrent limit and each item's snapshotted
// per-owner cap, scanning the queue from the front and skipping over
// owner-saturated entries so one saturated owner cannot starve the rest.
type Scheduler struct {
	mu            sync.Mutex
	waiting       []model.WaitingItem
	running       map[string]string // job id -> owner
	maxConcurrent int

	store  *store.Store
	hub    *progress.Hub
	runner Runner
	fin    finalizer
	logger *slog.Logger
}

// New creates a scheduler. The finalizer is installed separately by
// NewFinalizer because the two reference each other.
func New(st *store.Store, hub *progress.Hub, runner Runner, maxConcurrent int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		waiting:       make([]model.WaitingItem, 0),
		running:       make(map[string]string),
		maxConcurrent: clampConcurrent(maxConcurrent),
		store:         st,
		hub:           hub,
		runner:        runner,
		logger:        logger,
	}
}

// Enqueue appends a waiting item for the job and triggers a scheduling
// pass. The item snapshots the job's owner and cap so later mutation
// cannot retroactively change admission policy.
func (s *Scheduler) Enqueue(jobID string) error {
	job, ok := s.store.Snapshot(jobID)
	if !ok {
		return store.ErrNotFound
	}
	if job.Status != model.StatusWaiting {
		return fmt.Errorf("enqueue %s: job is %s, not waiting", jobID, job.Status)
	}

	s.mu.Lock()
	if _, isRunning := s.running[jobID]; isRunning || s.queuedLocked(jobID) {
		s.mu.Unlock()
		return fmt.Errorf("enqueue %s: job already queued or running", jobID)
	}
	s.waiting = append(s.waiting, model.WaitingItem{
		JobID:          jobID,
		Owner:          job.Owner,
		ConcurrencyCap: job.ConcurrencyCap,
		EnqueuedAt:     time.Now(),
	})
	s.mu.Unlock()

	s.Schedule()
	return nil
}

// Schedule admits eligible waiting items while running slots are free.
// Each pass scans the queue from the front for the first item whose
// owner's running count is below that item's cap; if a full scan finds
// nothing eligible the pass stops rather than busy-looping.
func (s *Scheduler) Schedule() {
	for {
		job, ok := s.admitOne()
		if !ok {
			return
		}
		s.launch(job)
	}
}

// admitOne performs one skip-over scan under the lock and, when an item
// is eligible, moves it from the queue to the running set and marks the
// job running. The runner invocation happens outside the lock.
func (s *Scheduler) admitOne() (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if len(s.running) >= s.maxConcurrent {
			return model.Job{}, false
		}

		idx := -1
		for i, item := range s.waiting {
			if s.runningCountLocked(item.Owner) < item.ConcurrencyCap {
				idx = i
				break
			}
		}
		if idx < 0 {
			return model.Job{}, false
		}

		item := s.waiting[idx]
		s.waiting = append(s.waiting[:idx], s.waiting[idx+1:]...)

		if err := s.store.MarkRunning(item.JobID); err != nil {
			// The job vanished or finalized while queued; drop the item
			// and rescan.
			s.logger.Warn("skipping unrunnable queue item",
				"job_id", item.JobID, "err", err)
			continue
		}

		s.running[item.JobID] = item.Owner
		s.logger.Debug("job admitted",
			"job_id", item.JobID, "queued", time.Since(item.EnqueuedAt))
		job, _ := s.store.Snapshot(item.JobID)
		return job, true
	}
}

// launch emits the start event and hands the job to the runner. A
// synchronous runner failure finalizes the job as failed; the scheduler
// loop itself never dies on one.
func (s *Scheduler) launch(job model.Job) {
	s.publishEvent(job.ID, model.EventStart, model.ProgressPayload{
		JobID:  job.ID,
		Status: model.StatusRunning.String(),
		Title:  job.GetDisplayTitle(),
	})

	updates, err := s.runner.Start(job)
	if err != nil {
		s.logger.Error("runner start failed", "job_id", job.ID, "err", err)
		s.fin.Finalize(job.ID, model.StatusFailed, err.Error())
		return
	}
	go s.watch(job.ID, updates)
}

// watch forwards a running job's updates into the store and the progress
// hub, and finalizes the job when the runner reports its exit.
func (s *Scheduler) watch(jobID string, updates <-chan Update) {
	for up := range updates {
		if up.Terminal {
			if up.Err != nil {
				s.fin.Finalize(jobID, model.StatusFailed, up.Err.Error())
			} else {
				if up.ArtifactPath != "" {
					if err := s.store.SetArtifact(jobID, up.ArtifactPath); err != nil {
						s.logger.Warn("record artifact", "job_id", jobID, "err", err)
					}
				}
				s.fin.Finalize(jobID, model.StatusCompleted, "")
			}
			continue
		}

		err := s.store.UpdateProgress(jobID, func(j *model.Job) {
			j.Progress = up.Progress
			j.Percent = up.Percent
			if up.Speed != "" {
				j.Speed = up.Speed
			}
			if up.ETASec != 0 {
				j.ETASec = up.ETASec
			}
			if up.Title != "" && j.Title == "" {
				j.Title = up.Title
			}
		})
		if err != nil {
			// Job vanished or already finalized; drain remaining updates.
			continue
		}

		job, ok := s.store.Snapshot(jobID)
		if !ok {
			continue
		}
		s.publishEvent(jobID, model.EventProgress, model.ProgressPayload{
			JobID:    jobID,
			Status:   job.Status.String(),
			Progress: job.Progress,
			Percent:  job.Percent,
			Speed:    job.Speed,
			ETASec:   job.ETASec,
			Title:    job.Title,
		})
	}
}

// Cancel removes a queued job or signals a running one to stop, then
// finalizes it as canceled. The runner signal is fire-and-forget: the
// bookkeeping never waits on the external process.
func (s *Scheduler) Cancel(jobID, reason string) error {
	s.mu.Lock()
	if idx := s.queuedIndexLocked(jobID); idx >= 0 {
		s.waiting = append(s.waiting[:idx], s.waiting[idx+1:]...)
		s.mu.Unlock()
		s.fin.Finalize(jobID, model.StatusCanceled, reason)
		return nil
	}
	_, isRunning := s.running[jobID]
	s.mu.Unlock()

	if isRunning {
		s.runner.Stop(jobID)
		s.fin.Finalize(jobID, model.StatusCanceled, reason)
		return nil
	}

	if _, ok := s.store.Snapshot(jobID); !ok {
		return store.ErrNotFound
	}
	return fmt.Errorf("cancel %s: job is not queued or running", jobID)
}

// CancelAllForOwner cancels every queued and running job belonging to the
// owner and returns how many were canceled
func (s *Scheduler) CancelAllForOwner(owner, reason string) int {
	s.mu.Lock()
	ids := make([]string, 0)
	for _, item := range s.waiting {
		if item.Owner == owner {
			ids = append(ids, item.JobID)
		}
	}
	for id, o := range s.running {
		if o == owner {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	canceled := 0
	for _, id := range ids {
		if err := s.Cancel(id, reason); err == nil {
			canceled++
		}
	}
	return canceled
}

// SetMaxConcurrent clamps n to [1,10] and applies it, admitting newly
// eligible work when the limit grew. Already-running jobs are never
// shrunk. The applied value is returned.
func (s *Scheduler) SetMaxConcurrent(n int) int {
	n = clampConcurrent(n)
	s.mu.Lock()
	s.maxConcurrent = n
	s.mu.Unlock()

	s.Schedule()
	return n
}

// MaxConcurrent returns the current global limit
func (s *Scheduler) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent
}

// Release drops a job id from the running set if present. Called by the
// finalizer while transitioning the job to a terminal state.
func (s *Scheduler) Release(jobID string) {
	s.mu.Lock()
	delete(s.running, jobID)
	s.mu.Unlock()
}

// RunningIDs returns a snapshot of the running set
func (s *Scheduler) RunningIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

// QueuedIDs returns a snapshot of the waiting queue, front first
func (s *Scheduler) QueuedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.waiting))
	for _, item := range s.waiting {
		ids = append(ids, item.JobID)
	}
	return ids
}

func (s *Scheduler) publishEvent(jobID, name string, payload model.ProgressPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode progress payload", "job_id", jobID, "err", err)
		return
	}
	s.hub.Publish(jobID, name, data)
}

func (s *Scheduler) runningCountLocked(owner string) int {
	count := 0
	for _, o := range s.running {
		if o == owner {
			count++
		}
	}
	return count
}

func (s *Scheduler) queuedLocked(jobID string) bool {
	return s.queuedIndexLocked(jobID) >= 0
}

func (s *Scheduler) queuedIndexLocked(jobID string) int {
	for i, item := range s.waiting {
		if item.JobID == jobID {
			return i
		}
	}
	return -1
}

func clampConcurrent(n int) int {
	if n < MinConcurrent {
		return MinConcurrent
	}
	if n > MaxConcurrentCap {
		return MaxConcurrentCap
	}
	return n
}
