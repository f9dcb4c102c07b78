package execengine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/HyphaGroup/cesvault/internal/cerrors"
	"github.com/HyphaGroup/cesvault/internal/controlproto"
	"github.com/HyphaGroup/cesvault/internal/interpreter"
	"github.com/HyphaGroup/cesvault/internal/streamhub"
)

// PostExecFunc sends the post-exec control directive and returns its
// reply. Execute calls it once the main execution phase's terminal event
// has been observed, then keeps demultiplexing any variables/artifact
// events the directive's reply left queued on the handle before returning,
// per the adapter's "scan for artifacts on post-exec" contract.
type PostExecFunc func(ctx context.Context) (controlproto.Reply, error)

// DefaultTimeout is the per-execution wall-clock budget. When it expires
// the engine keeps reading output for DefaultInterruptGrace; it sends no
// interrupt directive to the interpreter.
const DefaultTimeout = 300 * time.Second

// DefaultInterruptGrace is how long the engine keeps reading the
// interpreter's output after the timeout, waiting for the terminal event.
// If none arrives in that window the result reports a timeout, whether or
// not the interpreter is still producing events.
const DefaultInterruptGrace = 5 * time.Second

// Engine drives execution round-trips against one Interpreter Handle.
type Engine struct {
	Timeout        time.Duration
	InterruptGrace time.Duration
}

func New() *Engine {
	return &Engine{Timeout: DefaultTimeout, InterruptGrace: DefaultInterruptGrace}
}

// Execute submits code to handle under execID, demultiplexes every event
// until the matching terminal event (or the interpreter's exit), publishes
// each event to hub as it arrives, and returns the assembled result.
//
// A PeerGone error from the handle while an execution is in flight does
// not propagate as an error: it becomes a successful return with
// Success=false, per the documented rule that interpreter death mid-
// execution is a result, not a service failure — the caller already has a
// session to report on.
func (e *Engine) Execute(ctx context.Context, handle *interpreter.Handle, hub *streamhub.Hub, execID, code string, postExec PostExecFunc) (*ExecutionResult, controlproto.Reply, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	result := &ExecutionResult{
		ExecutionID: execID,
		Code:        code,
		StartedAt:   time.Now(),
	}

	if err := handle.Submit(ctx, execID, code); err != nil {
		if ce, ok := cerrors.As(err); ok && ce.Code == cerrors.CodePeerGone {
			result.Success = false
			result.ErrorMessage = err.Error()
			result.FinishedAt = time.Now()
			return result, controlproto.Reply{}, nil
		}
		return nil, controlproto.Reply{}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interrupted := false
	var seq uint64
	for {
		ev, err := handle.NextEvent(execCtx)
		if err != nil {
			if ce, ok := cerrors.As(err); ok && ce.Code == cerrors.CodeTimeout && !interrupted {
				// Deadline hit: keep draining for InterruptGrace rather
				// than returning immediately, so trailing output is still
				// demultiplexed. Nothing is sent to the interpreter; the
				// running code is not interrupted.
				interrupted = true
				graceCtx, graceCancel := context.WithTimeout(context.Background(), e.InterruptGrace)
				drained := e.drainAfterInterrupt(graceCtx, handle, hub, result, &seq)
				graceCancel()
				if !drained {
					result.Success = false
					result.ErrorMessage = "execution timed out"
				}
				result.FinishedAt = time.Now()
				return result, controlproto.Reply{}, nil
			}
			if ce, ok := cerrors.As(err); ok && ce.Code == cerrors.CodePeerGone {
				result.Success = false
				if result.ErrorMessage == "" {
					result.ErrorMessage = err.Error()
				}
				result.FinishedAt = time.Now()
				return result, controlproto.Reply{}, nil
			}
			return nil, controlproto.Reply{}, err
		}

		out := e.demux(ev, &seq)
		e.accumulate(result, out)
		if hub != nil {
			hub.Publish(out)
		}
		if out.Terminal {
			result.FinishedAt = time.Now()
			reply, postErr := e.runPostExec(ctx, handle, hub, result, &seq, postExec)
			return result, reply, postErr
		}
	}
}

// runPostExec sends the post-exec directive (if any) and drains every
// event the interpreter already pushed onto handle's queue in response —
// the adapter emits its variables/artifact events before answering the
// directive, so by the time postExec returns they are sitting in the
// queue, not still in flight. Draining them here keeps them attributed to
// this execution's sequence-number series instead of bleeding into
// whichever execution reads the handle next.
func (e *Engine) runPostExec(ctx context.Context, handle *interpreter.Handle, hub *streamhub.Hub, result *ExecutionResult, seq *uint64, postExec PostExecFunc) (controlproto.Reply, error) {
	if postExec == nil {
		return controlproto.Reply{}, nil
	}
	reply, err := postExec(ctx)
	for {
		ev, ok := handle.TryNextEvent()
		if !ok {
			break
		}
		out := e.demux(ev, seq)
		e.accumulate(result, out)
		if hub != nil {
			hub.Publish(out)
		}
	}
	return reply, err
}

// drainAfterInterrupt keeps reading events for up to graceCtx's deadline,
// looking for the terminal event the interpreter should still emit after
// an interrupt. Returns true if a terminal event was observed.
func (e *Engine) drainAfterInterrupt(graceCtx context.Context, handle *interpreter.Handle, hub *streamhub.Hub, result *ExecutionResult, seq *uint64) bool {
	for {
		ev, err := handle.NextEvent(graceCtx)
		if err != nil {
			return false
		}
		out := e.demux(ev, seq)
		e.accumulate(result, out)
		if hub != nil {
			hub.Publish(out)
		}
		if out.Terminal {
			return true
		}
	}
}

// demux turns one interpreter.Event into a typed OutputEvent. This is the
// single dispatch point the whole engine relies on — the tag alone picks
// the variant, nothing downstream re-inspects raw text to guess a kind.
func (e *Engine) demux(ev interpreter.Event, seq *uint64) OutputEvent {
	*seq++
	out := OutputEvent{
		Kind:       EventKind(ev.Kind),
		SequenceNo: *seq,
		Terminal:   ev.Terminal,
	}
	switch out.Kind {
	case EventStdout, EventStderr, EventLog:
		var text string
		if err := json.Unmarshal(ev.Payload, &text); err == nil {
			out.Payload = text
		} else {
			out.Payload = string(ev.Payload)
		}
	case EventArtifact:
		var a Artifact
		_ = json.Unmarshal(ev.Payload, &a)
		out.Payload = a
	case EventVariables:
		var vars []SurfacedVariable
		_ = json.Unmarshal(ev.Payload, &vars)
		out.Payload = vars
	case EventResult, EventError, EventStatus, EventDisplay:
		var generic map[string]interface{}
		if err := json.Unmarshal(ev.Payload, &generic); err == nil {
			out.Payload = generic
		} else {
			out.Payload = string(ev.Payload)
		}
	default:
		out.Payload = string(ev.Payload)
	}
	return out
}

func (e *Engine) accumulate(result *ExecutionResult, out OutputEvent) {
	switch out.Kind {
	case EventStdout:
		if text, ok := out.Payload.(string); ok {
			result.StdoutChunks = append(result.StdoutChunks, text)
			result.Output += text
		}
	case EventStderr:
		if text, ok := out.Payload.(string); ok {
			result.StderrChunks = append(result.StderrChunks, text)
		}
	case EventLog:
		if text, ok := out.Payload.(string); ok {
			result.LogEntries = append(result.LogEntries, text)
		}
	case EventArtifact:
		if a, ok := out.Payload.(Artifact); ok {
			result.Artifacts = append(result.Artifacts, a)
		}
	case EventVariables:
		if vars, ok := out.Payload.([]SurfacedVariable); ok {
			result.SurfacedVariables = append(result.SurfacedVariables, vars...)
		}
	case EventResult:
		result.Success = true
		if m, ok := out.Payload.(map[string]interface{}); ok {
			if v, ok := m["repr"].(string); ok {
				result.Output += v
			}
		}
	case EventError:
		result.Success = false
		if m, ok := out.Payload.(map[string]interface{}); ok {
			if v, ok := m["message"].(string); ok {
				result.ErrorMessage = v
			}
		}
	}
}
