// Package execengine implements the Execution Engine: it drives one
// execution round-trip against a session's Interpreter Handle, demultiplexes
// the handle's tagged events into typed OutputEvents (internal/streamhub),
// assembles the final ExecutionResult, and fans every event out to the
// session's Stream Hub as it arrives.
package execengine

import (
	"time"

	"github.com/HyphaGroup/cesvault/internal/streamhub"
)

// Re-exported for callers that only need the event vocabulary and would
// otherwise have to import internal/streamhub just for these names.
type EventKind = streamhub.EventKind

const (
	EventStdout    = streamhub.EventStdout
	EventStderr    = streamhub.EventStderr
	EventLog       = streamhub.EventLog
	EventDisplay   = streamhub.EventDisplay
	EventResult    = streamhub.EventResult
	EventError     = streamhub.EventError
	EventStatus    = streamhub.EventStatus
	EventArtifact  = streamhub.EventArtifact
	EventVariables = streamhub.EventVariables
)

// OutputEvent is the engine's demultiplexed event type, aliased from
// streamhub so the ring buffer and the engine agree on one representation
// without a dependency cycle between the two packages.
type OutputEvent = streamhub.OutputEvent

// Artifact describes one file produced by an execution, discovered by the
// control adapter's mtime-based scan of the session's working directory
// (see design note on artifact scanning).
type Artifact struct {
	LogicalName string `json:"logical_name"`
	MimeType    string `json:"mime_type"`
	FileName    string `json:"file_name"`
}

// SurfacedVariable names one variable newly bound or changed by an
// execution, diffed against the session's baseline namespace snapshot.
type SurfacedVariable struct {
	Name     string `json:"name"`
	TypeRepr string `json:"type_repr"`
}

// ExecutionResult is the full outcome of one execution round-trip.
type ExecutionResult struct {
	ExecutionID       string             `json:"execution_id"`
	Code              string             `json:"code"`
	Success           bool               `json:"success"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	Output            string             `json:"output"`
	StdoutChunks      []string           `json:"stdout_chunks"`
	StderrChunks      []string           `json:"stderr_chunks"`
	LogEntries        []string           `json:"log_entries"`
	Artifacts         []Artifact         `json:"artifacts"`
	SurfacedVariables []SurfacedVariable `json:"surfaced_variables"`
	StartedAt         time.Time          `json:"started_at"`
	FinishedAt        time.Time          `json:"finished_at"`
}
