// Package interpreter implements the Interpreter Handle: the component
// that supervises exactly one interpreter subprocess for the lifetime of a
// Session. It owns start, submit, next_event and kill, and nothing else —
// it has no notion of sessions, extensions or executions; those live one
// layer up in internal/session and internal/execengine.
//
// Wire shape: this package writes no bootstrap script into the sandbox; the
// configured interpreter command runs the control adapter itself (the
// default configuration runs the cesvault_adapter module), and that adapter
// makes every interpreter output line a single JSON object tagged with a
// "kind" field (stdout/stderr/log/display/result/error/status/artifact/
// variables). There is no string-sniffing; the tag alone selects the
// variant, matching the explicit tagged-variant parsing the execution
// engine expects. Control Protocol lines (internal/controlproto) are
// distinguished by their own sentinel prefix on the same stream, ahead of
// the JSON-kind dispatch.
package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HyphaGroup/cesvault/internal/cerrors"
	"github.com/HyphaGroup/cesvault/internal/controlproto"
	"github.com/HyphaGroup/cesvault/internal/sandbox"
)

// DefaultStartupTimeout bounds how long Start waits for the interpreter's
// bootstrap to report ready before StartupFailed is returned.
const DefaultStartupTimeout = 30 * time.Second

// DefaultKillGrace bounds how long Kill waits for a graceful exit before
// escalating, mirrored from sandbox.ProcessLauncher's own grace period so
// the two stay in lockstep.
const DefaultKillGrace = 5 * time.Second

// Event is one demultiplexed line of interpreter output, sequence-stamped
// by this Handle in the order it was read off stdout/stderr. Handle is the
// single reader of the process's combined output, so assigning sequence
// numbers here is sufficient to satisfy the strictly-increasing ordering
// invariant the rest of the system relies on.
type Event struct {
	Kind       string
	Payload    json.RawMessage
	Terminal   bool
	SequenceNo uint64
}

// ExitSignal is delivered as the final Event-equivalent when the
// interpreter process has exited, successfully or not.
type ExitSignal struct {
	ExitCode int
	Err      error
}

// Handle supervises one interpreter subprocess.
type Handle struct {
	sessionID string
	proc      *sandbox.Process
	ctl       *controlproto.Client

	events  chan Event
	exit    chan ExitSignal
	seq     uint64
	closeMu sync.Mutex
	closed  bool
}

// Start launches the interpreter via launcher and begins reading its
// output. It blocks until the bootstrap's first "status: ready" event
// arrives or startupTimeout elapses.
func Start(ctx context.Context, launcher sandbox.Launcher, spec sandbox.Spec, startupTimeout time.Duration) (*Handle, error) {
	if startupTimeout <= 0 {
		startupTimeout = DefaultStartupTimeout
	}
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	proc, err := launcher.Launch(startCtx, spec)
	if err != nil {
		return nil, cerrors.StartupFailed(err, "launch interpreter for session %s", spec.SessionID)
	}

	h := &Handle{
		sessionID: spec.SessionID,
		proc:      proc,
		ctl:       controlproto.NewClient(proc.Stdin),
		events:    make(chan Event, 256),
		exit:      make(chan ExitSignal, 1),
	}

	go h.readStream(proc.Stdout, "stdout")
	go h.readStream(proc.Stderr, "stderr")
	go h.watchExit()

	ready := make(chan struct{})
	go func() {
		for ev := range h.events {
			if ev.Kind == "status" {
				close(ready)
				return
			}
		}
	}()

	select {
	case <-ready:
		return h, nil
	case sig := <-h.exit:
		return nil, cerrors.StartupFailed(sig.Err, "interpreter exited during startup (code %d)", sig.ExitCode)
	case <-startCtx.Done():
		_ = h.Kill(context.Background())
		return nil, cerrors.StartupFailed(startCtx.Err(), "interpreter did not become ready within %s", startupTimeout)
	}
}

func (h *Handle) readStream(r io.Reader, stream string) {
	scanner := controlproto.ScanControlLines(r)
	for scanner.Scan() {
		line := scanner.Text()
		if controlproto.IsControlLine(line) {
			if err := h.ctl.Deliver(line); err != nil {
				h.publish(Event{Kind: "log", Payload: rawf("control decode error: %v", err)})
			}
			continue
		}
		var wire struct {
			Kind     string          `json:"kind"`
			Payload  json.RawMessage `json:"payload"`
			Terminal bool            `json:"terminal"`
		}
		if err := json.Unmarshal([]byte(line), &wire); err != nil {
			// Not a tagged JSON line: treat as raw passthrough on the
			// originating stream rather than dropping it silently.
			h.publish(Event{Kind: stream, Payload: rawf("%s", line)})
			continue
		}
		h.publish(Event{Kind: wire.Kind, Payload: wire.Payload, Terminal: wire.Terminal})
	}
}

func (h *Handle) watchExit() {
	code, err := h.proc.Wait()
	h.exit <- ExitSignal{ExitCode: code, Err: err}
	h.closeMu.Lock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	h.closeMu.Unlock()
}

func (h *Handle) publish(ev Event) {
	ev.SequenceNo = atomic.AddUint64(&h.seq, 1)
	h.closeMu.Lock()
	closed := h.closed
	h.closeMu.Unlock()
	if closed {
		return
	}
	select {
	case h.events <- ev:
	default:
		// Backpressure from a full internal buffer is a programming error
		// upstream (NextEvent must be drained continuously); drop rather
		// than block the reader goroutine and wedge the process pipe.
	}
}

// Submit writes code to the interpreter for execution under execID. The
// interpreter's bootstrap is responsible for emitting pre-exec/post-exec
// control replies and output events tagged with this execID in their
// payload so the Execution Engine can demultiplex concurrent output (there
// is never more than one in-flight execution per session, but Submit
// itself does not enforce that — the Session's serializer does).
func (h *Handle) Submit(ctx context.Context, execID string, code string) error {
	payload, err := json.Marshal(struct {
		ID   string `json:"id"`
		Code string `json:"code"`
	}{ID: execID, Code: code})
	if err != nil {
		return cerrors.Internal(err, "encode submit payload")
	}
	if _, err := fmt.Fprintf(h.proc.Stdin, "\x00ces-exec\x00%s\n", payload); err != nil {
		return cerrors.PeerGone("write to interpreter stdin: %v", err)
	}
	return nil
}

// NextEvent blocks for the next demultiplexed Event, the interpreter's
// exit, or ctx's deadline.
func (h *Handle) NextEvent(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-h.events:
		if !ok {
			select {
			case sig := <-h.exit:
				return Event{}, cerrors.PeerGone("interpreter exited (code %d): %v", sig.ExitCode, sig.Err)
			default:
				return Event{}, cerrors.PeerGone("interpreter closed its output")
			}
		}
		return ev, nil
	case sig := <-h.exit:
		return Event{}, cerrors.PeerGone("interpreter exited (code %d): %v", sig.ExitCode, sig.Err)
	case <-ctx.Done():
		return Event{}, cerrors.Timeout("waiting for interpreter event: %v", ctx.Err())
	}
}

// TryNextEvent returns the next already-queued Event without blocking. ok
// is false when nothing is queued right now — not a signal that no more
// events are coming, only that none is available this instant. Used to
// drain events a directive's reply left behind after Send has already
// returned, once the caller knows no further Submit is pending.
func (h *Handle) TryNextEvent() (Event, bool) {
	select {
	case ev, ok := <-h.events:
		if !ok {
			return Event{}, false
		}
		return ev, true
	default:
		return Event{}, false
	}
}

// Control returns the Control Protocol client multiplexed over this
// interpreter's stdio, for session-init/ext-register/ext-load/var-update
// directives.
func (h *Handle) Control() *controlproto.Client { return h.ctl }

// PID reports the interpreter's operating-system process id, or 0 when
// the sandbox backend does not expose one (e.g. a containerized exec).
func (h *Handle) PID() int { return h.proc.PID }

// Kill requests interpreter shutdown, escalating to a forced kill once
// grace elapses. Idempotent.
func (h *Handle) Kill(ctx context.Context) error {
	killCtx, cancel := context.WithTimeout(ctx, DefaultKillGrace)
	defer cancel()
	err := h.proc.Kill(killCtx)
	h.closeMu.Lock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	h.closeMu.Unlock()
	return err
}

func rawf(format string, args ...interface{}) json.RawMessage {
	b, _ := json.Marshal(fmt.Sprintf(format, args...))
	return b
}
