package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HyphaGroup/cesvault/internal/audit"
	"github.com/HyphaGroup/cesvault/internal/cerrors"
	"github.com/HyphaGroup/cesvault/internal/controlproto"
	"github.com/HyphaGroup/cesvault/internal/execengine"
	"github.com/HyphaGroup/cesvault/internal/interpreter"
	"github.com/HyphaGroup/cesvault/internal/metrics"
	"github.com/HyphaGroup/cesvault/internal/sandbox"
	"github.com/HyphaGroup/cesvault/internal/streamhub"
)

// Entry is the live, in-memory Session aggregate: the public Session value
// plus everything needed to drive it (its interpreter handle, its
// execution engine, its per-execution stream hubs, and its serializer).
// Manager is the only thing that constructs or destroys an Entry; every
// other caller reaches it through Manager.Get.
type Entry struct {
	mu   sync.RWMutex
	data Session

	handle   *interpreter.Handle
	engine   *execengine.Engine
	ser      *serializer
	baseline map[string]string // variable-name -> type_repr, taken at session-init

	hubsMu sync.Mutex
	hubs   map[string]*streamhub.Hub
	// seenExecIDs remembers every execution id ever submitted to this
	// session, so a reused id is rejected even after its hub has been
	// closed and forgotten.
	seenExecIDs map[string]bool
}

func newEntry(s Session, handle *interpreter.Handle) *Entry {
	return &Entry{
		data:        s,
		handle:      handle,
		engine:      execengine.New(),
		ser:         newSerializer(),
		baseline:    make(map[string]string),
		hubs:        make(map[string]*streamhub.Hub),
		seenExecIDs: make(map[string]bool),
	}
}

// Snapshot returns a copy of the Session's public state, safe to read
// concurrently with any in-flight serialized operation. Its extension list
// holds only extensions whose load succeeded.
func (e *Entry) Snapshot() Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp := e.data
	cp.Extensions = nil
	for _, ext := range e.data.Extensions {
		if ext.Loaded {
			cp.Extensions = append(cp.Extensions, ext)
		}
	}
	return cp
}

func (e *Entry) setStatus(status Status, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.data.Status.advance(status) {
		return
	}
	e.data.Status = status
	e.data.LastActivityAt = time.Now()
	if reason != "" {
		e.data.StopReason = reason
	}
}

func (e *Entry) touch() {
	e.mu.Lock()
	e.data.LastActivityAt = time.Now()
	e.mu.Unlock()
}

// LoadExtension registers ext and runs its ext-register then ext-load
// control directives in order. The extension only becomes visible (added
// to the Session's extension list) once ext-load succeeds — a failed
// post-load hook leaves the extension absent rather than half-registered,
// per the gating invariant on extension visibility.
func (e *Entry) LoadExtension(ctx context.Context, ext Extension) error {
	return e.ser.Do(ctx, func(ctx context.Context) {
		e.loadExtensionLocked(ctx, ext)
	})
}

func (e *Entry) loadExtensionLocked(ctx context.Context, ext Extension) {
	// Errors are not returned from here: a failed extension is kept
	// internally with its LoadError field set, where ExtensionError finds
	// it for the HTTP layer. Snapshot leaves it out of the Session's
	// extension list.
	registerCtx, cancel := context.WithTimeout(ctx, controlproto.DefaultTimeout)
	defer cancel()
	_, err := e.handle.Control().Send(registerCtx, controlproto.KindExtRegister, map[string]interface{}{
		"name":        ext.Name,
		"source_code": ext.SourceCode,
	})
	if err != nil {
		ext.LoadError = err.Error()
		e.appendExtension(ext)
		return
	}

	loadCtx, cancel2 := context.WithTimeout(ctx, controlproto.DefaultTimeout)
	defer cancel2()
	_, err = e.handle.Control().Send(loadCtx, controlproto.KindExtLoad, map[string]interface{}{
		"name":   ext.Name,
		"config": ext.Config,
	})
	if err != nil {
		ext.LoadError = err.Error()
		e.appendExtension(ext)
		return
	}

	ext.Loaded = true
	e.appendExtension(ext)
	e.touch()
}

func (e *Entry) appendExtension(ext Extension) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.data.Extensions {
		if existing.Name == ext.Name {
			e.data.Extensions[i] = ext
			return
		}
	}
	e.data.Extensions = append(e.data.Extensions, ext)
}

// ExtensionError returns the error recorded against a loaded-or-attempted
// extension, if any, so HTTP handlers can report ext-load failures without
// LoadExtension itself needing to return an error for a domain-level
// rejection (per the isolation scenario: one extension's failure must not
// take down the session).
func (e *Entry) ExtensionError(name string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ext := range e.data.Extensions {
		if ext.Name == name {
			return ext.LoadError, ext.LoadError != ""
		}
	}
	return "", false
}

// PrepareExecution reserves execID against reuse and registers its Stream
// Hub synchronously, before any interpreter work starts. Callers that want
// to offer a stream_url to a client before execution begins (the
// stream=true path) must call this first and only then dispatch Execute,
// so a client subscribing immediately after the HTTP response never races
// the hub's creation.
func (e *Entry) PrepareExecution(execID string) (*streamhub.Hub, error) {
	e.hubsMu.Lock()
	defer e.hubsMu.Unlock()
	if e.seenExecIDs[execID] {
		return nil, cerrors.DuplicateExecution("execution id %s already used on this session", execID)
	}
	e.seenExecIDs[execID] = true
	hub := streamhub.NewHub(streamhub.DefaultRingSize, streamhub.DefaultSubscriberCapacity)
	e.hubs[execID] = hub
	return hub, nil
}

// Execute runs one execution round-trip, bracketed by pre-exec/post-exec
// control directives, and returns its ExecutionResult. Every OutputEvent is
// also published to hub as it is produced so concurrent subscribers (and
// any late joiner) observe the same stream the caller is about to read off
// result. hub must come from a prior PrepareExecution(execID) call.
func (e *Entry) Execute(ctx context.Context, execID, code string, hub *streamhub.Hub) (*execengine.ExecutionResult, error) {
	start := time.Now()
	var result *execengine.ExecutionResult
	var execErr error
	err := e.ser.Do(ctx, func(ctx context.Context) {
		e.mu.RLock()
		status := e.data.Status
		e.mu.RUnlock()
		if status != StatusRunning {
			execErr = cerrors.New(cerrors.CodeBadRequest, fmt.Sprintf("session is %s, not running", status))
			return
		}

		preCtx, cancel := context.WithTimeout(ctx, controlproto.DefaultTimeout)
		_, preErr := e.handle.Control().Send(preCtx, controlproto.KindPreExec, map[string]interface{}{"execution_id": execID})
		cancel()
		if preErr != nil {
			// Interpreter never reported idle for this execution — a
			// timed-out or failed pre-exec means the serializer let two
			// executions overlap, which should never happen. Surfacing it
			// as an internal error rather than proceeding anyway avoids
			// running code against a namespace the adapter never prepared.
			execErr = cerrors.Internal(preErr, "pre-exec directive failed for execution %s", execID)
			return
		}

		postExec := func(postCtx context.Context) (controlproto.Reply, error) {
			sendCtx, cancel := context.WithTimeout(postCtx, controlproto.DefaultTimeout)
			defer cancel()
			return e.handle.Control().Send(sendCtx, controlproto.KindPostExec, map[string]interface{}{"execution_id": execID})
		}

		var reply controlproto.Reply
		result, reply, execErr = e.engine.Execute(ctx, e.handle, hub, execID, code, postExec)
		if execErr != nil {
			return
		}
		result.SurfacedVariables = append(result.SurfacedVariables, e.diffVariables(reply)...)

		e.mu.Lock()
		e.data.ExecutionCount++
		e.data.LastActivityAt = time.Now()
		e.mu.Unlock()
	})
	hub.Close()
	duration := time.Since(start).Seconds()
	switch {
	case err != nil:
		metrics.RecordExecution("rejected", duration)
		audit.LogFailure(audit.OpExecutionRun, e.Snapshot().ID, err)
		return nil, err
	case execErr != nil:
		metrics.RecordExecution("error", duration)
		audit.LogFailure(audit.OpExecutionRun, e.Snapshot().ID, execErr)
	case result != nil && !result.Success:
		metrics.RecordExecution("failed", duration)
		audit.LogSuccess(audit.OpExecutionRun, e.Snapshot().ID)
	default:
		metrics.RecordExecution("success", duration)
		audit.LogSuccess(audit.OpExecutionRun, e.Snapshot().ID)
	}
	return result, execErr
}

// diffVariables compares the post-exec reply's namespace snapshot against
// the session's retained baseline, returning only names that are new or
// whose type changed — never the whole current namespace, per the
// baseline-relative diffing design note. The baseline is refreshed to the
// new snapshot afterward so the next execution diffs against this one.
func (e *Entry) diffVariables(reply controlproto.Reply) []execengine.SurfacedVariable {
	raw, ok := reply.Result["variables"]
	if !ok {
		return nil
	}
	current := map[string]string{}
	if m, ok := raw.(map[string]interface{}); ok {
		for k, v := range m {
			if s, ok := v.(string); ok {
				current[k] = s
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var diffed []execengine.SurfacedVariable
	for name, typeRepr := range current {
		if isSuppressedVariable(name, typeRepr) {
			continue
		}
		if prev, existed := e.baseline[name]; !existed || prev != typeRepr {
			diffed = append(diffed, execengine.SurfacedVariable{Name: name, TypeRepr: typeRepr})
		}
	}
	e.baseline = current
	return diffed
}

// suppressedVariableTypes lists the type_repr values the adapter reports
// for module objects and builtin callables, neither of which count as a
// user-bound variable per the resolved "built-in name suppression" open
// question.
var suppressedVariableTypes = map[string]bool{
	"module":                     true,
	"builtin_function_or_method": true,
	"type":                       true,
}

// isSuppressedVariable implements the resolved "built-in name suppression"
// open question: underscore-prefixed names, the adapter's own bootstrap
// identifiers, module-typed bindings and built-in callables never surface,
// regardless of name.
func isSuppressedVariable(name, typeRepr string) bool {
	if name == "" || name[0] == '_' {
		return true
	}
	switch name {
	case "__builtins__", "__name__", "__doc__", "__package__", "__loader__", "__spec__", "ces_adapter":
		return true
	}
	return suppressedVariableTypes[typeRepr]
}

// SubscribeExecution attaches a late or live subscriber to execID's Stream
// Hub, replaying from fromIndex. Returns false if no hub is registered for
// execID (either it never started or has already been reaped).
func (e *Entry) SubscribeExecution(execID, subscriberID string, fromIndex int64) (<-chan execengine.OutputEvent, func(), bool) {
	e.hubsMu.Lock()
	hub, ok := e.hubs[execID]
	e.hubsMu.Unlock()
	if !ok {
		return nil, nil, false
	}
	ch, unsub := hub.Subscribe(subscriberID, fromIndex)
	return ch, unsub, true
}

// StreamStats reports the named execution's Stream Hub occupancy, for the
// operator stream-stats endpoint.
func (e *Entry) StreamStats(execID string) (streamhub.Stats, bool) {
	e.hubsMu.Lock()
	hub, ok := e.hubs[execID]
	e.hubsMu.Unlock()
	if !ok {
		return streamhub.Stats{}, false
	}
	return hub.Stats(), true
}

// UpdateVariables pushes a var-update directive with the given bindings and
// re-baselines the session's variable snapshot from the reply.
func (e *Entry) UpdateVariables(ctx context.Context, bindings map[string]interface{}) error {
	return e.ser.Do(ctx, func(ctx context.Context) {
		reply, err := e.handle.Control().Send(ctx, controlproto.KindVarUpdate, map[string]interface{}{"bindings": bindings})
		if err != nil {
			return
		}
		e.diffVariables(reply)
		e.touch()
	})
}

// Stop transitions the session through stopping to stopped and force-kills
// its interpreter, closing any hubs still open. Safe to call more than
// once; subsequent calls are no-ops once the session is already stopped.
func (e *Entry) Stop(ctx context.Context, reason string) error {
	e.mu.RLock()
	already := e.data.Status == StatusStopped
	e.mu.RUnlock()
	if already {
		return nil
	}
	e.setStatus(StatusStopping, "")
	err := e.handle.Kill(ctx)
	e.setStatus(StatusStopped, reason)
	e.ser.Close()

	e.hubsMu.Lock()
	for _, hub := range e.hubs {
		hub.Close()
	}
	e.hubsMu.Unlock()
	return err
}

// initSandboxSpec builds the sandbox.Spec for launching a fresh
// interpreter, used by Manager.Create.
func initSandboxSpec(sessionID, cwd string, env map[string]string, command []string, image string) sandbox.Spec {
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}
	return sandbox.Spec{
		SessionID:  sessionID,
		Command:    command,
		Env:        envList,
		WorkingDir: cwd,
		Image:      image,
	}
}
