package orchestrator

import (
	"context"

	"github.com/framefold/framefold/internal/media"
)

// Pipeline selects which backend a task is routed to.
type Pipeline string

const (
	// PipelineConversion is the ffmpeg transcoding pipeline.
	PipelineConversion Pipeline = "conversion"
	// PipelineSpatial is the spatial photo/video pipeline.
	PipelineSpatial Pipeline = "spatial"
)

// Task is one unit of work handed to a backend. It carries a snapshot of the
// configuration in effect at submission time; later configuration edits do
// not affect tasks already submitted.
type Task struct {
	ID         string
	Path       string
	OutputName string
	Pipeline   Pipeline
	Conversion media.ConversionConfig
	Spatial    media.SpatialConfig
	Metadata   *media.SourceMetadata
}

// Backend is the port to an opaque asynchronous processing engine. Submit
// must return promptly once the task is accepted; actual processing order
// and concurrency are owned entirely by the backend, which reports through
// the event bus. Cancel is best effort; the authoritative outcome still
// arrives as an event.
type Backend interface {
	Submit(ctx context.Context, task Task) error
	Cancel(ctx context.Context, id string) error
}

// TaskController is implemented by backends whose running tasks can be
// suspended in place and resumed later. Backends without this capability
// simply do not implement it.
type TaskController interface {
	Pause(id string) error
	Resume(id string) error
}

// EventKind discriminates backend events.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
	EventLog      EventKind = "log"
)

// Event is one backend notification, tagged with the item id it concerns.
type Event struct {
	ID   string
	Kind EventKind
	// Progress is the percentage for EventProgress.
	Progress float64
	// OutputPath is the produced file for EventComplete.
	OutputPath string
	// Message is the failure description for EventError.
	Message string
	// Line is the raw log line for EventLog.
	Line string
}

// Bus carries backend events to the orchestrator's dispatch loop. A single
// consumer drains it in arrival order; the orchestrator never reorders or
// buffers events beyond the channel itself.
type Bus chan Event

// NewBus creates an event bus with a small buffer so that backend workers
// are not blocked by brief dispatch stalls.
func NewBus() Bus {
	return make(Bus, 64)
}
