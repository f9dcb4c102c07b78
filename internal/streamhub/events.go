package streamhub

// EventKind enumerates the OutputEvent variants spec.md's data model
// names. The tag alone selects the variant — no string sniffing.
type EventKind string

const (
	EventStdout    EventKind = "stdout"
	EventStderr    EventKind = "stderr"
	EventLog       EventKind = "log"
	EventDisplay   EventKind = "display"
	EventResult    EventKind = "result"
	EventError     EventKind = "error"
	EventStatus    EventKind = "status"
	EventArtifact  EventKind = "artifact"
	EventVariables EventKind = "variables"
)

// OutputEvent is one unit of interpreter output, demultiplexed by
// internal/execengine from the raw interpreter.Event stream and ordered by
// SequenceNo. It lives in streamhub (rather than execengine, which
// consumes this package) purely to keep the Stream Hub's ring buffer free
// of a dependency on the engine that feeds it.
type OutputEvent struct {
	Kind       EventKind   `json:"kind"`
	Payload    interface{} `json:"payload"`
	SequenceNo uint64      `json:"sequence_no"`
	Terminal   bool        `json:"terminal"`
}
