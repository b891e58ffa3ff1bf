package resume

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/andrewmoshu/live-transcribe/internal/protocol"
)

// Backend is the subset of the session API used for resuming
type Backend interface {
	FindResumableSession(ctx context.Context, ownerID string) (*protocol.SessionState, error)
	ResumeSession(ctx context.Context, sessionID, ownerID string) (*protocol.SessionState, error)
}

// SessionControl is the local session surface the manager reconciles with
type SessionControl interface {
	HasActiveSession() bool
	BeginResume(sessionID string) error
}

// Emitter sends control events over the socket
type Emitter interface {
	Emit(event string, payload any) error
}

// DecisionFunc resolves the resume-or-discard choice, typically by
// prompting the user. It may block; the check runs off the event loop.
type DecisionFunc func(ctx context.Context, state *protocol.SessionState) bool

// Config configures the resume manager
type Config struct {
	// RequestTimeout bounds the resumability lookup and the resume call
	RequestTimeout time.Duration
}

// Manager reconciles a freshly connected client with a session it may
// still own on the backend. After each connection is established it
// checks once for a resumable session; when one exists the decision
// function chooses between resuming and discarding. Resume is a
// two-step protocol: the HTTP call authorizes, then joining as owner
// makes the backend deliver the state over the socket.
type Manager struct {
	config  Config
	backend Backend
	control SessionControl
	emitter Emitter
	decide  DecisionFunc
	ownerID string
	logger  *slog.Logger

	mu            sync.Mutex
	checkInFlight bool

	firstCheckDone chan struct{}
	firstCheckOnce sync.Once

	checksRun    uint64
	resumesBegun uint64
	discards     uint64
}

// ManagerStats is a snapshot of resume bookkeeping
type ManagerStats struct {
	ChecksRun    uint64 `json:"checks_run"`
	ResumesBegun uint64 `json:"resumes_begun"`
	Discards     uint64 `json:"discards"`
}

// NewManager creates a resume manager
func NewManager(config Config, backend Backend, control SessionControl, emitter Emitter, decide DecisionFunc, ownerID string, logger *slog.Logger) *Manager {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	return &Manager{
		config:         config,
		backend:        backend,
		control:        control,
		emitter:        emitter,
		decide:         decide,
		ownerID:        ownerID,
		logger:         logger,
		firstCheckDone: make(chan struct{}),
	}
}

// FirstCheckDone is closed once the initial resumability check has run to
// completion, whatever its outcome. Callers deciding whether to create a
// fresh session wait on it instead of racing the probe.
func (m *Manager) FirstCheckDone() <-chan struct{} {
	return m.firstCheckDone
}

// HandleConnected runs the resumability check for a fresh connection.
// Redundant invocations while a check or decision is pending are
// suppressed, and a client with an active session never probes.
func (m *Manager) HandleConnected() {
	m.mu.Lock()
	if m.checkInFlight {
		m.mu.Unlock()
		return
	}
	m.checkInFlight = true
	m.checksRun++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.checkInFlight = false
		m.mu.Unlock()
		m.firstCheckOnce.Do(func() { close(m.firstCheckDone) })
	}()

	if m.control.HasActiveSession() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	state, err := m.backend.FindResumableSession(ctx, m.ownerID)
	cancel()
	if err != nil {
		m.logger.Warn("Resumable session lookup failed", slog.String("error", err.Error()))
		return
	}
	if state == nil || !state.CanBeResumed {
		m.logger.Debug("No resumable session found")
		return
	}

	m.logger.Info("Found resumable session",
		slog.String("session_id", state.SessionID),
		slog.Time("last_activity", state.LastActivity),
		slog.Int("resume_count", state.ResumeCount),
	)

	// The decision may block on the user; no timeout applies here
	if !m.decide(context.Background(), state) {
		m.mu.Lock()
		m.discards++
		m.mu.Unlock()
		m.logger.Info("Resumable session discarded", slog.String("session_id", state.SessionID))
		return
	}

	m.resume(state.SessionID)
}

// resume authorizes the resume over HTTP and joins as owner; the session
// itself materializes when the confirmation event arrives.
func (m *Manager) resume(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()

	if _, err := m.backend.ResumeSession(ctx, sessionID, m.ownerID); err != nil {
		m.logger.Error("Resume authorization failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := m.control.BeginResume(sessionID); err != nil {
		m.logger.Error("Cannot begin resume", slog.String("error", err.Error()))
		return
	}

	if err := m.emitter.Emit(protocol.EventJoinSessionAsOwner, protocol.JoinPayload{
		SessionID: sessionID,
		OwnerID:   m.ownerID,
	}); err != nil {
		m.logger.Error("Failed to join resumed session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	m.mu.Lock()
	m.resumesBegun++
	m.mu.Unlock()
	m.logger.Info("Resume initiated, awaiting confirmation",
		slog.String("session_id", sessionID),
	)
}

// GetStats returns a snapshot of resume bookkeeping
func (m *Manager) GetStats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerStats{
		ChecksRun:    m.checksRun,
		ResumesBegun: m.resumesBegun,
		Discards:     m.discards,
	}
}
