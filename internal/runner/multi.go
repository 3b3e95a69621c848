package runner

import (
	"fmt"

	"github.com/ytget/fetchd/internal/model"
	"github.com/ytget/fetchd/internal/scheduler"
)

// Multi dispatches admitted jobs to the runner matching their kind
type Multi struct {
	fetch     scheduler.Runner
	transcode scheduler.Runner
}

// NewMulti combines the kind-specific runners into one scheduler.Runner
func NewMulti(fetch, transcode scheduler.Runner) *Multi {
	return &Multi{fetch: fetch, transcode: transcode}
}

// Start routes the job to its runner by kind
func (m *Multi) Start(job model.Job) (<-chan scheduler.Update, error) {
	switch job.Kind {
	case model.KindFetch:
		return m.fetch.Start(job)
	case model.KindTranscode:
		return m.transcode.Start(job)
	default:
		return nil, fmt.Errorf("runner: unknown job kind %q", job.Kind)
	}
}

// Stop forwards the signal to both runners; the one not executing the job
// treats it as a no-op
func (m *Multi) Stop(jobID string) {
	m.fetch.Stop(jobID)
	m.transcode.Stop(jobID)
}
