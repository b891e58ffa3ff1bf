package resume

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/andrewmoshu/live-transcribe/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackend struct {
	mu          sync.Mutex
	resumable   *protocol.SessionState
	lookupErr   error
	lookups     int
	resumeCalls []string
	resumeErr   error
}

func (f *fakeBackend) FindResumableSession(ctx context.Context, ownerID string) (*protocol.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	return f.resumable, f.lookupErr
}

func (f *fakeBackend) ResumeSession(ctx context.Context, sessionID, ownerID string) (*protocol.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCalls = append(f.resumeCalls, sessionID)
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	return f.resumable, nil
}

func (f *fakeBackend) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

type fakeControl struct {
	mu       sync.Mutex
	active   bool
	began    []string
	beginErr error
}

func (f *fakeControl) HasActiveSession() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeControl) BeginResume(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return f.beginErr
	}
	f.began = append(f.began, sessionID)
	return nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func resumableState(id string) *protocol.SessionState {
	return &protocol.SessionState{
		SessionID:    id,
		OwnerID:      "owner-1",
		CanBeResumed: true,
		Transcript:   "[10:00:00] before the reload",
	}
}

func newTestManager(backend *fakeBackend, control *fakeControl, emitter *fakeEmitter, decide DecisionFunc) *Manager {
	return NewManager(Config{RequestTimeout: 2 * time.Second},
		backend, control, emitter, decide, "owner-1", testLogger())
}

func TestResumeAcceptedRunsTwoStepProtocol(t *testing.T) {
	backend := &fakeBackend{resumable: resumableState("sess-9")}
	control := &fakeControl{}
	emitter := &fakeEmitter{}

	var decided *protocol.SessionState
	mgr := newTestManager(backend, control, emitter, func(ctx context.Context, state *protocol.SessionState) bool {
		decided = state
		return true
	})

	mgr.HandleConnected()

	if decided == nil || decided.SessionID != "sess-9" {
		t.Fatalf("decision function saw wrong state: %+v", decided)
	}
	if len(backend.resumeCalls) != 1 || backend.resumeCalls[0] != "sess-9" {
		t.Errorf("expected one resume authorization for sess-9, got %v", backend.resumeCalls)
	}
	if len(control.began) != 1 || control.began[0] != "sess-9" {
		t.Errorf("expected BeginResume for sess-9, got %v", control.began)
	}
	if len(emitter.events) != 1 || emitter.events[0] != protocol.EventJoinSessionAsOwner {
		t.Errorf("expected owner join emit, got %v", emitter.events)
	}
	if got := mgr.GetStats().ResumesBegun; got != 1 {
		t.Errorf("expected 1 resume in stats, got %d", got)
	}
}

func TestResumeDeclinedClearsBookkeeping(t *testing.T) {
	backend := &fakeBackend{resumable: resumableState("sess-9")}
	control := &fakeControl{}
	emitter := &fakeEmitter{}

	mgr := newTestManager(backend, control, emitter, func(ctx context.Context, state *protocol.SessionState) bool {
		return false
	})

	mgr.HandleConnected()

	if len(backend.resumeCalls) != 0 {
		t.Errorf("declined resume must not call the backend, got %v", backend.resumeCalls)
	}
	if len(control.began) != 0 {
		t.Errorf("declined resume must not touch the session, got %v", control.began)
	}
	if got := mgr.GetStats().Discards; got != 1 {
		t.Errorf("expected 1 discard in stats, got %d", got)
	}

	// The check path is available again for the next connection
	mgr.HandleConnected()
	if got := backend.lookupCount(); got != 2 {
		t.Errorf("expected a fresh lookup on the next connection, got %d", got)
	}
}

func TestNoResumableSessionSkipsDecision(t *testing.T) {
	backend := &fakeBackend{}
	control := &fakeControl{}
	emitter := &fakeEmitter{}

	mgr := newTestManager(backend, control, emitter, func(ctx context.Context, state *protocol.SessionState) bool {
		t.Error("decision function must not run without a resumable session")
		return false
	})

	mgr.HandleConnected()
	if got := backend.lookupCount(); got != 1 {
		t.Errorf("expected 1 lookup, got %d", got)
	}
}

func TestNonResumableStateIsIgnored(t *testing.T) {
	state := resumableState("sess-9")
	state.CanBeResumed = false
	backend := &fakeBackend{resumable: state}
	control := &fakeControl{}
	emitter := &fakeEmitter{}

	mgr := newTestManager(backend, control, emitter, func(ctx context.Context, s *protocol.SessionState) bool {
		t.Error("decision function must not run for a non-resumable state")
		return false
	})

	mgr.HandleConnected()
	if len(backend.resumeCalls) != 0 {
		t.Errorf("non-resumable state must not be resumed, got %v", backend.resumeCalls)
	}
}

func TestActiveSessionSuppressesCheck(t *testing.T) {
	backend := &fakeBackend{resumable: resumableState("sess-9")}
	control := &fakeControl{active: true}
	emitter := &fakeEmitter{}

	mgr := newTestManager(backend, control, emitter, func(ctx context.Context, state *protocol.SessionState) bool {
		return true
	})

	mgr.HandleConnected()
	if got := backend.lookupCount(); got != 0 {
		t.Errorf("active session must suppress the lookup, got %d", got)
	}
}

func TestConcurrentChecksAreSingleFlight(t *testing.T) {
	backend := &fakeBackend{resumable: resumableState("sess-9")}
	control := &fakeControl{}
	emitter := &fakeEmitter{}

	// Park the first check inside the decision prompt
	entered := make(chan struct{})
	release := make(chan struct{})
	mgr := newTestManager(backend, control, emitter, func(ctx context.Context, state *protocol.SessionState) bool {
		close(entered)
		<-release
		return false
	})

	go mgr.HandleConnected()
	<-entered

	// A redundant connection event while the prompt is up does nothing
	mgr.HandleConnected()
	if got := backend.lookupCount(); got != 1 {
		t.Errorf("expected the duplicate check to be suppressed, got %d lookups", got)
	}

	close(release)
}

// Callers wait on FirstCheckDone instead of sleeping, so a slow lookup or
// decision cannot race them into creating a fresh session.
func TestFirstCheckDoneSignalsCompletion(t *testing.T) {
	backend := &fakeBackend{resumable: resumableState("sess-9")}
	control := &fakeControl{}
	emitter := &fakeEmitter{}

	entered := make(chan struct{})
	release := make(chan struct{})
	var enteredOnce sync.Once
	mgr := newTestManager(backend, control, emitter, func(ctx context.Context, state *protocol.SessionState) bool {
		enteredOnce.Do(func() { close(entered) })
		<-release
		return false
	})

	go mgr.HandleConnected()
	<-entered

	select {
	case <-mgr.FirstCheckDone():
		t.Fatal("check signalled complete while the decision was still pending")
	default:
	}

	close(release)

	select {
	case <-mgr.FirstCheckDone():
	case <-time.After(2 * time.Second):
		t.Fatal("completed check never signalled")
	}

	// The signal stays closed across later connections
	mgr.HandleConnected()
	select {
	case <-mgr.FirstCheckDone():
	default:
		t.Error("signal must remain closed after later checks")
	}
}

func TestResumeAuthorizationFailureStopsProtocol(t *testing.T) {
	backend := &fakeBackend{
		resumable: resumableState("sess-9"),
		resumeErr: fmt.Errorf("backend says no"),
	}
	control := &fakeControl{}
	emitter := &fakeEmitter{}

	mgr := newTestManager(backend, control, emitter, func(ctx context.Context, state *protocol.SessionState) bool {
		return true
	})

	mgr.HandleConnected()
	if len(control.began) != 0 {
		t.Errorf("failed authorization must not begin a resume, got %v", control.began)
	}
	if len(emitter.events) != 0 {
		t.Errorf("failed authorization must not emit a join, got %v", emitter.events)
	}
}
