package model

import (
	"fmt"
	"strings"
	"time"
)

// JobKind selects which runner executes a job
type JobKind string

const (
	// KindFetch downloads a remote media URL via yt-dlp
	KindFetch JobKind = "fetch"

	// KindTranscode re-encodes a local media file via ffmpeg
	KindTranscode JobKind = "transcode"
)

// Job represents one admitted unit of background work
type Job struct {
	ID             string
	Owner          string
	Kind           JobKind
	URL            string // fetch source, empty for transcode
	InputPath      string // transcode input, empty for fetch
	Status         JobStatus
	ConcurrencyCap int   // max simultaneous jobs for this owner, fixed at creation
	Version        int64 // bumped on terminal transition and forced cleanup; invalidates stale tokens

	Progress  float64 // 0.0 to 1.0
	Percent   int     // 0 to 100
	Speed     string  // human readable speed (e.g., "1.2MB/s")
	ETASec    int     // ETA in seconds, -1 if unknown
	Title     string  // media title once known
	LastError string  // last error message if any

	ArtifactPath string // path to produced output once completed

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// WaitingItem is a lightweight queue entry derived from a Job at enqueue
// time. The cap is snapshotted so later Job mutation cannot change
// admission policy for an item already in the queue.
type WaitingItem struct {
	JobID          string
	Owner          string
	ConcurrencyCap int
	EnqueuedAt     time.Time
}

// Subject returns the capability-token subject for this job
func (j *Job) Subject() string {
	return "job:" + j.ID
}

// WaitDuration returns how long the job sat queued before starting
func (j *Job) WaitDuration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	return j.StartedAt.Sub(j.CreatedAt)
}

// RunDuration returns how long the job ran, or 0 if it never started
func (j *Job) RunDuration() time.Duration {
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// GetETAString returns ETA formatted as hh:mm:ss, or "—" if unknown
func (j *Job) GetETAString() string {
	if j.ETASec <= 0 {
		return "—"
	}

	hours := j.ETASec / 3600
	minutes := (j.ETASec % 3600) / 60
	seconds := j.ETASec % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// GetDisplayTitle returns title, artifact filename, or source in order of preference
func (j *Job) GetDisplayTitle() string {
	if j.Title != "" && !strings.HasPrefix(j.Title, "http") {
		return j.Title
	}

	if j.ArtifactPath != "" {
		parts := strings.FieldsFunc(j.ArtifactPath, func(r rune) bool {
			return r == '/' || r == '\\'
		})
		if len(parts) > 0 {
			filename := parts[len(parts)-1]
			if idx := strings.LastIndex(filename, "."); idx > 0 {
				filename = filename[:idx]
			}
			return filename
		}
	}

	if j.URL != "" {
		return j.URL
	}
	return j.InputPath
}
