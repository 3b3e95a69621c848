package model

// Progress stream event names. Terminal frames reuse the terminal status
// string so clients can switch on a single field.
const (
	// EventStart is emitted once when a job is admitted to the running set
	EventStart = "start"

	// EventProgress carries incremental runner progress
	EventProgress = "progress"

	// EventPing is the stream heartbeat frame; it carries no payload
	EventPing = "ping"

	// EventTimeout is the synthetic terminal frame emitted when a stream's
	// idle watchdog expires
	EventTimeout = "timeout"
)

// ProgressPayload is the JSON body of start/progress/terminal frames
type ProgressPayload struct {
	JobID    string  `json:"job_id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Percent  int     `json:"percent"`
	Speed    string  `json:"speed,omitempty"`
	ETASec   int     `json:"eta_sec,omitempty"`
	Title    string  `json:"title,omitempty"`
	Error    string  `json:"error,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}
