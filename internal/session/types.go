// Package session implements the Session aggregate and the Session Manager:
// the per-tenant owner of one interpreter, its extensions, working
// directory, execution counter and single-writer serializer, plus the
// registry that creates, looks up, lists, deletes, sweeps and shuts down
// every live session.
package session

import (
	"time"
)

// Status is the lifecycle state of a Session. Transitions are monotone:
// starting -> running -> stopping -> stopped. A session never returns to an
// earlier state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
)

// advance reports whether moving from s to next respects the monotone
// ordering starting < running < stopping < stopped.
func (s Status) advance(next Status) bool {
	rank := map[Status]int{
		StatusStarting: 0,
		StatusRunning:  1,
		StatusStopping: 2,
		StatusStopped:  3,
	}
	return rank[next] >= rank[s]
}

// SandboxKind names which Launcher backend produced a Session's interpreter
// process. Supplements the data model with deployment metadata; it carries
// no behavior of its own.
type SandboxKind string

const (
	SandboxProcess SandboxKind = "process"
	SandboxDocker  SandboxKind = "docker"
)

// Extension is a named piece of interpreter-native source code registered
// into a Session, with an optional config map threaded through to its load
// hook.
type Extension struct {
	Name       string                 `json:"name"`
	SourceCode string                 `json:"source_code"`
	Config     map[string]interface{} `json:"config,omitempty"`
	Loaded     bool                   `json:"loaded"`
	LoadError  string                 `json:"load_error,omitempty"`
}

// Session is the per-tenant aggregate: one interpreter, its extensions, its
// working directory and its execution counter. The serializer that orders
// every operation against it lives on Entry, not here.
type Session struct {
	ID              string      `json:"id"`
	CreatedAt       time.Time   `json:"created_at"`
	LastActivityAt  time.Time   `json:"last_activity_at"`
	CwdPath         string      `json:"cwd_path"`
	Status          Status      `json:"status"`
	ExecutionCount  int64       `json:"execution_count"`
	Extensions      []Extension `json:"extensions"`
	SandboxKind     SandboxKind `json:"sandbox_kind"`
	InterpreterPID  int         `json:"interpreter_pid,omitempty"`
	StopReason      string      `json:"stop_reason,omitempty"`
}

// Summary is the lightweight listing view returned by GET /sessions.
type Summary struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Status         Status    `json:"status"`
	ExecutionCount int64     `json:"execution_count"`
}

// ToSummary projects a Session to its listing view.
func (s *Session) ToSummary() Summary {
	return Summary{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		Status:         s.Status,
		ExecutionCount: s.ExecutionCount,
	}
}

// CreateOptions carries the client-supplied parameters for POST /sessions.
type CreateOptions struct {
	SessionID   string                 // client-supplied id; server mints a uuid when empty
	CwdPath     string                 // requested working directory, relative to the manager's base directory
	SandboxKind SandboxKind            // "process" or "docker"; defaults to the manager's configured default
	Env         map[string]string      // extra environment variables for the interpreter process
	InitConfig  map[string]interface{} // forwarded to the session-init control directive
}
