package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andrewmoshu/live-transcribe/internal/audio"
	"github.com/andrewmoshu/live-transcribe/internal/metrics"
	"github.com/andrewmoshu/live-transcribe/internal/protocol"
	"github.com/andrewmoshu/live-transcribe/internal/transport"
)

// State is the client-observed session lifecycle state
type State int

const (
	StateNoSession State = iota
	StateCreating
	StateCreated
	StateStarting
	StateRecording
	StateStopping
	StatePaused
	StateEnding
	StateEnded
	StateResumePending
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateCreating:
		return "creating"
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StatePaused:
		return "paused"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	case StateResumePending:
		return "resume_pending"
	default:
		return "unknown"
	}
}

// ErrNoActiveSession is returned for operations that need a session
var ErrNoActiveSession = fmt.Errorf("no active session")

// ManagerStats is a snapshot of session manager counters
type ManagerStats struct {
	State           string `json:"state"`
	SessionID       string `json:"session_id"`
	TranscriptLines int    `json:"transcript_lines"`
	ChunksSent      uint64 `json:"chunks_sent"`
	ChunksDropped   uint64 `json:"chunks_dropped"`
	Rejoins         uint64 `json:"rejoins"`
}

// Manager owns the client-side session lifecycle. It drives the backend
// HTTP API for session CRUD, the event socket for the live data plane,
// and the local transcript store. Start and Stop are idempotent: calls
// that would not change state are rejected locally without a network
// round trip.
//
// Audio chunks flow in through SendChunk, which makes Manager the sink
// at the end of the capture pipeline. Chunks sent while the socket is
// down or while not recording are dropped, never queued.
type Manager struct {
	api     *Client
	conn    *transport.Conn
	logger  *slog.Logger
	metrics *metrics.Metrics
	ownerID string

	transcript *TranscriptStore

	// onConnect runs once per established connection after any rejoin,
	// from the event loop's goroutine context. Used for resume probing.
	onConnect func()

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu               sync.Mutex
	state            State
	session          *Session
	pendingResumeID  string
	everStarted      bool
	recordingStarted time.Time

	chunksSent    uint64
	chunksDropped uint64
	rejoins       uint64
}

// NewManager creates a session manager. Call Run to start consuming
// socket events after any connect hook is registered.
func NewManager(api *Client, conn *transport.Conn, ownerID string, logger *slog.Logger, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		api:        api,
		conn:       conn,
		logger:     logger,
		metrics:    m,
		ownerID:    ownerID,
		transcript: NewTranscriptStore(),
		state:      StateNoSession,
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr.cancel = cancel
	mgr.runCtx = ctx

	return mgr
}

// SetConnectHook registers a callback invoked after each connection is
// established (or re-established) with no active session to rejoin.
// Must be registered before Run.
func (m *Manager) SetConnectHook(hook func()) {
	m.mu.Lock()
	m.onConnect = hook
	m.mu.Unlock()
}

// Run starts the event loop consuming socket events until Close
func (m *Manager) Run() {
	m.wg.Add(1)
	go m.eventLoop(m.runCtx)
}

// OwnerID returns the durable owner identity in use
func (m *Manager) OwnerID() string {
	return m.ownerID
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentSession returns a copy of the active session, or nil
func (m *Manager) CurrentSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	copied := *m.session
	return &copied
}

// HasActiveSession reports whether a session exists locally in any
// non-terminal state
func (m *Manager) HasActiveSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil || m.state == StateResumePending
}

// Transcript returns the accumulated transcript lines in arrival order
func (m *Manager) Transcript() []protocol.TranscriptUpdate {
	return m.transcript.Snapshot()
}

// TranscriptText renders the transcript for display or download
func (m *Manager) TranscriptText() string {
	return m.transcript.Text()
}

// Create creates a new session and joins its event stream as owner
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s already active", m.session.ID)
	}
	m.state = StateCreating
	m.mu.Unlock()

	session, err := m.api.CreateSession(ctx, m.ownerID)
	if err != nil {
		m.mu.Lock()
		m.state = StateNoSession
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	m.session = session
	m.state = StateCreated
	m.everStarted = false
	m.mu.Unlock()
	m.transcript.Clear()

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
	}
	m.logger.Info("Session created",
		slog.String("session_id", session.ID),
		slog.String("owner_id", session.OwnerID),
	)

	m.join(session.ID, true)
	return m.CurrentSession(), nil
}

// Start begins recording. Calling Start while already recording is a
// local no-op with no network call.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	if m.state == StateRecording || m.state == StateStarting {
		m.mu.Unlock()
		m.logger.Debug("Start ignored, already recording")
		return nil
	}
	sessionID := m.session.ID
	freshStart := !m.everStarted
	m.state = StateStarting
	m.mu.Unlock()

	if err := m.api.StartSession(ctx, sessionID); err != nil {
		m.mu.Lock()
		m.state = StateCreated
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.state = StateRecording
	m.everStarted = true
	m.recordingStarted = time.Now()
	if m.session != nil {
		m.session.IsActive = true
	}
	m.mu.Unlock()

	m.logger.Info("Recording started", slog.String("session_id", sessionID))

	// A fresh start reconciles with the authoritative server transcript;
	// a resumed session already carries its baseline.
	if freshStart {
		m.RequestCurrentTranscript()
	}
	return nil
}

// Stop pauses recording; the session persists for a later Start or End.
// Calling Stop while not recording is a local no-op with no network call.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	if m.state != StateRecording {
		m.mu.Unlock()
		m.logger.Debug("Stop ignored, not recording")
		return nil
	}
	sessionID := m.session.ID
	started := m.recordingStarted
	m.state = StateStopping
	m.mu.Unlock()

	if err := m.api.StopSession(ctx, sessionID); err != nil {
		m.mu.Lock()
		m.state = StateRecording
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.state = StatePaused
	if m.session != nil {
		m.session.IsActive = false
	}
	m.mu.Unlock()

	if m.metrics != nil && !started.IsZero() {
		m.metrics.RecordSessionEnded(time.Since(started).Seconds())
	}
	m.logger.Info("Recording stopped", slog.String("session_id", sessionID))

	// Reconcile so the final lines of the interval are not missed
	m.RequestCurrentTranscript()
	return nil
}

// End deletes the session server-side and resets local state
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	sessionID := m.session.ID
	m.state = StateEnding
	m.mu.Unlock()

	if err := m.api.DeleteSession(ctx, sessionID); err != nil {
		m.mu.Lock()
		m.state = StatePaused
		m.mu.Unlock()
		return err
	}

	if err := m.conn.Emit(protocol.EventLeaveSession, protocol.JoinPayload{
		SessionID: sessionID,
		OwnerID:   m.ownerID,
	}); err != nil {
		m.logger.Debug("Leave notification not sent", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	m.session = nil
	m.state = StateEnded
	m.mu.Unlock()

	m.logger.Info("Session ended", slog.String("session_id", sessionID))
	return nil
}

// SendChunk delivers one audio chunk over the event socket. Implements
// the aggregator sink: failures mean the chunk is dropped upstream.
func (m *Manager) SendChunk(chunk *audio.Chunk) error {
	m.mu.Lock()
	if m.session == nil || m.state != StateRecording {
		m.mu.Unlock()
		return fmt.Errorf("not recording, chunk %s discarded", chunk.ID)
	}
	sessionID := m.session.ID
	m.mu.Unlock()

	err := m.conn.Emit(protocol.EventAudioChunk, protocol.AudioChunkPayload{
		SessionID: sessionID,
		AudioData: chunk.AudioData,
	})
	if err != nil {
		m.mu.Lock()
		m.chunksDropped++
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordChunkDropped()
		}
		return err
	}

	m.mu.Lock()
	m.chunksSent++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordChunkGenerated(chunk.Duration.Seconds(), len(chunk.AudioData))
	}
	return nil
}

// RequestCurrentTranscript asks the server to replay the full transcript
func (m *Manager) RequestCurrentTranscript() {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return
	}
	sessionID := m.session.ID
	m.mu.Unlock()

	err := m.conn.Emit(protocol.EventGetCurrentTranscript, protocol.JoinPayload{
		SessionID: sessionID,
	})
	if err != nil {
		m.logger.Debug("Transcript request not sent", slog.String("error", err.Error()))
	}
}

// JoinShared joins another owner's shared session for viewing
func (m *Manager) JoinShared(sessionID string) error {
	return m.conn.Emit(protocol.EventJoinSharedSession, protocol.JoinPayload{
		SessionID: sessionID,
	})
}

// BeginResume marks a resume as authorized. The session materializes when
// the resume confirmation arrives over the socket.
func (m *Manager) BeginResume(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return fmt.Errorf("cannot resume while session %s is active", m.session.ID)
	}
	m.state = StateResumePending
	m.pendingResumeID = sessionID

	return nil
}

// EnableSharing makes the active session joinable by others
func (m *Manager) EnableSharing(ctx context.Context) (*protocol.SharedSessionInfo, error) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	sessionID := m.session.ID
	m.mu.Unlock()

	info, err := m.api.EnableSharing(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.session != nil {
		m.session.IsShared = true
	}
	m.mu.Unlock()
	return info, nil
}

// DisableSharing revokes shared access to the active session
func (m *Manager) DisableSharing(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	sessionID := m.session.ID
	m.mu.Unlock()

	if err := m.api.DisableSharing(ctx, sessionID); err != nil {
		return err
	}

	m.mu.Lock()
	if m.session != nil {
		m.session.IsShared = false
	}
	m.mu.Unlock()
	return nil
}

// GetStats returns a snapshot of session counters
func (m *Manager) GetStats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{
		State:           m.state.String(),
		TranscriptLines: m.transcript.Len(),
		ChunksSent:      m.chunksSent,
		ChunksDropped:   m.chunksDropped,
		Rejoins:         m.rejoins,
	}
	if m.session != nil {
		stats.SessionID = m.session.ID
	}
	return stats
}

// Close stops the event loop. The transport connection is owned by the
// caller and closed separately.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// join associates this connection with the session's event stream
func (m *Manager) join(sessionID string, asOwner bool) {
	event := protocol.EventJoinSession
	payload := protocol.JoinPayload{SessionID: sessionID}
	if asOwner {
		event = protocol.EventJoinSessionAsOwner
		payload.OwnerID = m.ownerID
	}

	if err := m.conn.Emit(event, payload); err != nil {
		m.logger.Warn("Failed to join session stream",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// eventLoop consumes the typed socket channels until Close
func (m *Manager) eventLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case update, ok := <-m.conn.TranscriptUpdates():
			if !ok {
				return
			}
			m.handleTranscriptUpdate(update)

		case current, ok := <-m.conn.CurrentTranscript():
			if !ok {
				return
			}
			m.handleCurrentTranscript(current)

		case status, ok := <-m.conn.StatusUpdates():
			if !ok {
				return
			}
			m.handleStatusUpdate(status)

		case resumed, ok := <-m.conn.SessionResumed():
			if !ok {
				return
			}
			m.handleSessionResumed(resumed)

		case joined, ok := <-m.conn.Joined():
			if !ok {
				return
			}
			m.logger.Debug("Joined session stream", slog.String("session_id", joined.SessionID))

		case joined, ok := <-m.conn.JoinedShared():
			if !ok {
				return
			}
			m.logger.Info("Joined shared session",
				slog.String("session_id", joined.SessionID),
				slog.Bool("is_active", joined.SessionInfo.IsActive),
			)

		case serverErr, ok := <-m.conn.Errors():
			if !ok {
				return
			}
			m.logger.Error("Server error", slog.String("message", serverErr.Message))

		case status, ok := <-m.conn.ConnectionStatus():
			if !ok {
				return
			}
			m.handleConnectionStatus(status)
		}
	}
}

func (m *Manager) handleTranscriptUpdate(update protocol.TranscriptUpdatePayload) {
	m.mu.Lock()
	relevant := m.session != nil && (update.SessionID == "" || update.SessionID == m.session.ID)
	m.mu.Unlock()
	if !relevant {
		return
	}

	m.transcript.Append(update.Updates...)
	if m.metrics != nil {
		m.metrics.RecordTranscriptLines(len(update.Updates))
	}
}

func (m *Manager) handleCurrentTranscript(current protocol.CurrentTranscriptPayload) {
	m.mu.Lock()
	relevant := m.session != nil && (current.SessionID == "" || current.SessionID == m.session.ID)
	m.mu.Unlock()
	if !relevant {
		return
	}

	updates := protocol.ParseTranscript(current.SessionID, current.Transcript)
	m.transcript.Replace(updates)
	m.logger.Debug("Transcript reconciled", slog.Int("lines", len(updates)))
}

func (m *Manager) handleStatusUpdate(status protocol.SessionStatusUpdatePayload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || status.SessionID != m.session.ID {
		return
	}

	m.session.IsActive = status.IsActive
	m.session.IsShared = status.IsShared
	m.logger.Info("Session status update",
		slog.String("session_id", status.SessionID),
		slog.String("status", status.Status),
		slog.Bool("is_active", status.IsActive),
	)
}

// handleSessionResumed completes the two-step resume protocol: the HTTP
// call authorized it, this event delivers the state.
func (m *Manager) handleSessionResumed(resumed protocol.SessionResumedPayload) {
	state := resumed.State

	m.mu.Lock()
	if m.state != StateResumePending || resumed.SessionID != m.pendingResumeID {
		m.mu.Unlock()
		m.logger.Warn("Unexpected resume confirmation",
			slog.String("session_id", resumed.SessionID),
		)
		return
	}
	m.pendingResumeID = ""

	m.session = &Session{
		ID:       resumed.SessionID,
		OwnerID:  state.OwnerID,
		IsActive: state.IsRecording,
	}
	m.everStarted = true
	if state.IsRecording {
		m.state = StateRecording
		m.recordingStarted = time.Now()
	} else {
		m.state = StatePaused
	}
	m.mu.Unlock()

	// The snapshot transcript becomes the baseline; later updates append
	baseline := protocol.ParseTranscript(resumed.SessionID, state.Transcript)
	m.transcript.Replace(baseline)

	if m.metrics != nil {
		m.metrics.RecordSessionResumed()
	}
	m.logger.Info("Session resumed",
		slog.String("session_id", resumed.SessionID),
		slog.Bool("is_recording", state.IsRecording),
		slog.Int("resume_count", state.ResumeCount),
		slog.Int("transcript_lines", len(baseline)),
	)
}

// handleConnectionStatus rejoins the active session after a reconnect,
// since server-side stream association does not survive a disconnect.
func (m *Manager) handleConnectionStatus(status transport.StatusEvent) {
	if status.Status != transport.StatusConnected {
		return
	}

	m.mu.Lock()
	var sessionID string
	if m.session != nil {
		sessionID = m.session.ID
	}
	hook := m.onConnect
	if sessionID != "" && status.Attempt > 0 {
		m.rejoins++
	}
	m.mu.Unlock()

	if sessionID != "" {
		if status.Attempt > 0 {
			m.logger.Info("Rejoining session after reconnect",
				slog.String("session_id", sessionID),
			)
		}
		m.join(sessionID, true)
		return
	}

	if hook != nil {
		go hook()
	}
}
