package supervisor

import (
	"time"

	"github.com/ShayCichocki/phylorun/pkg/models"
)

// EventType represents the type of supervisor event.
type EventType string

const (
	// EventOutput carries a chunk of raw engine output.
	EventOutput EventType = "output"
	// EventStatus indicates a job status or supervisor phase change.
	EventStatus EventType = "status"
	// EventProgress indicates a new completion percentage.
	EventProgress EventType = "progress"
	// EventConsensus indicates a consensus tree was stored.
	EventConsensus EventType = "consensus"
	// EventError reports a failure that did not necessarily end the job.
	EventError EventType = "error"
)

// Event is emitted by the supervisor for presentation layers.
type Event struct {
	Type     EventType
	JobID    string
	Category models.Category
	Phase    Phase
	Status   models.JobStatus
	// Percentage is set on progress and status events.
	Percentage float64
	// Stream and Data are set on output events.
	Stream string
	Data   []byte
	// Message is a short human readable summary.
	Message   string
	Error     error
	Timestamp time.Time
}
