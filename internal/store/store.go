package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/fetchd/internal/model"
)

// JobIDPrefix prefixes every generated job identifier
const JobIDPrefix = "job-"

var (
	// ErrNotFound is returned when a job id is unknown. Callers must
	// tolerate it: a job may disappear mid-flight.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyTerminal is returned when a terminal transition is
	// requested on a job that already reached a terminal state.
	ErrAlreadyTerminal = errors.New("job already terminal")
)

// CreateSpec carries the validated inputs for a new job
type CreateSpec struct {
	Owner          string
	Kind           model.JobKind
	URL            string
	InputPath      string
	ConcurrencyCap int
}

// Store is the authoritative registry of job entities. All mutations go
// through its methods and apply in place to the canonical record.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
	now  func() time.Time
}

// New creates an empty job store
func New() *Store {
	return &Store{
		jobs: make(map[string]*model.Job),
		now:  time.Now,
	}
}

// Create registers a new job in waiting state with version 1
func (s *Store) Create(spec CreateSpec) (*model.Job, error) {
	if spec.Owner == "" {
		return nil, fmt.Errorf("create job: owner is required")
	}
	if spec.ConcurrencyCap < 1 {
		return nil, fmt.Errorf("create job: concurrency cap must be at least 1, got %d", spec.ConcurrencyCap)
	}
	switch spec.Kind {
	case model.KindFetch:
		if spec.URL == "" {
			return nil, fmt.Errorf("create job: fetch job requires a url")
		}
	case model.KindTranscode:
		if spec.InputPath == "" {
			return nil, fmt.Errorf("create job: transcode job requires an input path")
		}
	default:
		return nil, fmt.Errorf("create job: unknown kind %q", spec.Kind)
	}

	job := &model.Job{
		ID:             generateJobID(),
		Owner:          spec.Owner,
		Kind:           spec.Kind,
		URL:            spec.URL,
		InputPath:      spec.InputPath,
		Status:         model.StatusWaiting,
		ConcurrencyCap: spec.ConcurrencyCap,
		Version:        1,
		ETASec:         -1,
		CreatedAt:      s.now(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return job, nil
}

// Get returns the canonical job record by id
func (s *Store) Get(id string) (*model.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	return job, exists
}

// Snapshot returns a copy of the job safe to read without coordination
func (s *Store) Snapshot(id string) (model.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return model.Job{}, false
	}
	return *job, true
}

// MarkRunning transitions a waiting job to running and stamps StartedAt
func (s *Store) MarkRunning(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return ErrNotFound
	}
	if job.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	job.Status = model.StatusRunning
	job.StartedAt = s.now()
	return nil
}

// MarkTerminal transitions a job to the given terminal status, stamps
// FinishedAt, and bumps the version exactly once. This is the only place
// a terminal transition increments the version; outstanding tokens minted
// against the previous version stop verifying immediately.
func (s *Store) MarkTerminal(id string, status model.JobStatus, reason string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("mark terminal: %s is not a terminal status", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return ErrNotFound
	}
	if job.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	job.Status = status
	job.FinishedAt = s.now()
	job.Version++
	if reason != "" {
		job.LastError = reason
	}
	if status == model.StatusCompleted {
		job.Progress = 1.0
		job.Percent = 100
	}
	return nil
}

// BumpVersion increments the job's version without a status change.
// Used on forced cleanup (e.g., admin purge) to invalidate issued tokens.
func (s *Store) BumpVersion(id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return 0, ErrNotFound
	}
	job.Version++
	return job.Version, nil
}

// Version returns the current token-binding version for a job
func (s *Store) Version(id string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return 0, false
	}
	return job.Version, true
}

// SetArtifact records the produced output path for a job
func (s *Store) SetArtifact(id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return ErrNotFound
	}
	job.ArtifactPath = path
	return nil
}

// UpdateProgress applies fn to the job under the store lock. Runners use
// it to fold parsed progress into the canonical record. A terminal job
// is immutable: a straggling update racing finalization is refused so
// the settled record never changes underneath a reader.
func (s *Store) UpdateProgress(id string, fn func(*model.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return ErrNotFound
	}
	if job.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	fn(job)
	return nil
}

// ListByOwner returns snapshots of the owner's jobs, newest first
func (s *Store) ListByOwner(owner string) []model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]model.Job, 0)
	for _, job := range s.jobs {
		if job.Owner == owner {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// Delete removes a job record entirely. The version is bumped first so
// any tokens minted against the record die with it.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return ErrNotFound
	}
	job.Version++
	delete(s.jobs, id)
	return nil
}

// generateJobID generates a unique job ID using UUID v7 for better
// uniqueness and time ordering
func generateJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to timestamp if UUID generation fails
		return fmt.Sprintf(JobIDPrefix+"%d", time.Now().UnixNano())
	}
	return JobIDPrefix + id.String()
}
