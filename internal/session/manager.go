package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/HyphaGroup/cesvault/internal/audit"
	"github.com/HyphaGroup/cesvault/internal/cerrors"
	"github.com/HyphaGroup/cesvault/internal/controlproto"
	"github.com/HyphaGroup/cesvault/internal/interpreter"
	"github.com/HyphaGroup/cesvault/internal/logger"
	"github.com/HyphaGroup/cesvault/internal/metrics"
	"github.com/HyphaGroup/cesvault/internal/sandbox"
)

// AuditSink receives lifecycle notifications for the durable audit log.
// Defined here (rather than importing internal/auditlog directly) to keep
// session free of a dependency on the audit store's storage details.
type AuditSink interface {
	RecordSessionEvent(sessionID, event, detail string)
}

// ManagerConfig configures the registry of live sessions.
type ManagerConfig struct {
	BaseDir            string
	Launcher           sandbox.Launcher
	InterpreterCommand []string
	StartupTimeout     time.Duration
	IdleTimeout        time.Duration
	SweepCron          string // standard 5-field cron expression; default "@every 1m"
	Audit              AuditSink
}

// Manager is the registry of live sessions: create, get, list, delete,
// sweep, shutdown. It holds no global lock over session operations — each
// Entry serializes its own work; Manager's own mutex only ever guards the
// registry map itself.
type Manager struct {
	cfg ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*Entry

	cronRunner *cron.Cron
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = interpreter.DefaultStartupTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepCron == "" {
		cfg.SweepCron = "@every 1m"
	}
	if cfg.BaseDir != "" {
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("session: create base dir: %w", err)
		}
	}

	m := &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Entry),
	}

	m.cronRunner = cron.New()
	if _, err := m.cronRunner.AddFunc(cfg.SweepCron, m.sweep); err != nil {
		return nil, fmt.Errorf("session: invalid sweep schedule %q: %w", cfg.SweepCron, err)
	}
	m.cronRunner.Start()
	return m, nil
}

// Create starts a new interpreter and registers its Session. Returns
// AlreadyExists if opts.SessionID names a session that is still live.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Entry, error) {
	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, cerrors.AlreadyExists("session %s already exists", id)
	}
	// Reserve the slot with a starting placeholder before releasing the
	// registry lock, so two concurrent Create calls for the same id never
	// both launch an interpreter.
	placeholder := &Entry{data: Session{ID: id, Status: StatusStarting, CreatedAt: time.Now()}}
	m.sessions[id] = placeholder
	m.mu.Unlock()

	cwd := filepath.Join(m.cfg.BaseDir, id)
	if opts.CwdPath != "" {
		cwd = filepath.Join(m.cfg.BaseDir, opts.CwdPath)
		if rel, err := filepath.Rel(m.cfg.BaseDir, cwd); err != nil || rel == ".." || (len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)) {
			m.removeFailed(id)
			return nil, cerrors.BadRequest("cwd_path %s is outside the session base directory", opts.CwdPath)
		}
	}
	if err := os.MkdirAll(cwd, 0o755); err != nil {
		m.removeFailed(id)
		return nil, cerrors.Internal(err, "create working directory for session %s", id)
	}

	kind := opts.SandboxKind
	if kind == "" {
		kind = SandboxKind(m.cfg.Launcher.Kind())
	}
	spec := initSandboxSpec(id, cwd, opts.Env, m.cfg.InterpreterCommand, "")

	handle, err := interpreter.Start(ctx, m.cfg.Launcher, spec, m.cfg.StartupTimeout)
	if err != nil {
		m.removeFailed(id)
		if m.cfg.Audit != nil {
			m.cfg.Audit.RecordSessionEvent(id, "create_failed", err.Error())
		}
		audit.LogFailure(audit.OpSessionCreate, id, err)
		return nil, err
	}

	now := time.Now()
	entry := newEntry(Session{
		ID:             id,
		CreatedAt:      now,
		LastActivityAt: now,
		CwdPath:        cwd,
		Status:         StatusRunning,
		SandboxKind:    kind,
		InterpreterPID: handle.PID(),
	}, handle)

	initCtx, cancel := context.WithTimeout(ctx, controlproto.DefaultTimeout)
	initReply, _ := handle.Control().Send(initCtx, controlproto.KindSessionInit, opts.InitConfig)
	cancel()
	entry.diffVariables(initReply)

	m.mu.Lock()
	m.sessions[id] = entry
	m.mu.Unlock()

	if m.cfg.Audit != nil {
		m.cfg.Audit.RecordSessionEvent(id, "created", cwd)
	}
	audit.LogSuccess(audit.OpSessionCreate, id)
	metrics.RecordSessionStart(string(kind))
	logger.Info("session %s started (pid=%d, sandbox=%s)", id, handle.PID(), kind)
	return entry, nil
}

func (m *Manager) removeFailed(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Get returns the live Entry for id, or NotFound.
func (m *Manager) Get(id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, cerrors.NotFound("session %s not found", id)
	}
	return e, nil
}

// List returns summaries of every session, optionally filtered by status,
// sorted by creation time.
func (m *Manager) List(statusFilter Status) []Summary {
	m.mu.RLock()
	entries := make([]*Entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	summaries := make([]Summary, 0, len(entries))
	for _, e := range entries {
		s := e.Snapshot()
		if statusFilter != "" && s.Status != statusFilter {
			continue
		}
		summaries = append(summaries, s.ToSummary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Delete force-stops and removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return cerrors.NotFound("session %s not found", id)
	}
	before := e.Snapshot()
	err := e.Stop(ctx, "deleted")
	if m.cfg.Audit != nil {
		m.cfg.Audit.RecordSessionEvent(id, "deleted", "")
	}
	audit.LogSuccess(audit.OpSessionDelete, id)
	metrics.RecordSessionEnd(string(before.SandboxKind), "deleted", time.Since(before.CreatedAt).Seconds())
	return err
}

// sweep stops sessions that have been idle longer than IdleTimeout. Run on
// the manager's cron schedule rather than a bare ticker.
func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)
	m.mu.RLock()
	var stale []*Entry
	for _, e := range m.sessions {
		s := e.Snapshot()
		if s.Status == StatusRunning && s.LastActivityAt.Before(cutoff) {
			stale = append(stale, e)
		}
	}
	m.mu.RUnlock()

	for _, e := range stale {
		before := e.Snapshot()
		id := before.ID
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = e.Stop(ctx, "idle_timeout")
		cancel()
		logger.Info("session %s swept for idling past %s", id, m.cfg.IdleTimeout)
		if m.cfg.Audit != nil {
			m.cfg.Audit.RecordSessionEvent(id, "swept", "idle_timeout")
		}
		audit.LogSuccess(audit.OpSessionIdleStop, id)
		metrics.RecordSessionEnd(string(before.SandboxKind), "idle_timeout", time.Since(before.CreatedAt).Seconds())
		metrics.RecordIdleSweep()
	}
}

// Shutdown stops every live session with a bounded deadline, escalating
// to each Entry's own forced-kill path once the deadline is reached, and
// stops the sweep scheduler. Mirrors the teacher's drain-then-cancel
// shutdown shape.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cronRunner.Stop()

	m.mu.Lock()
	entries := make([]*Entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.sessions = make(map[string]*Entry)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *Entry) {
			defer wg.Done()
			before := e.Snapshot()
			_ = e.Stop(ctx, "shutdown")
			metrics.RecordSessionEnd(string(before.SandboxKind), "shutdown", time.Since(before.CreatedAt).Seconds())
		}(e)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}
