package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andrewmoshu/live-transcribe/internal/protocol"
)

var upgrader = websocket.Upgrader{}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSocketServer is a minimal backend: it records inbound events and
// lets tests push outbound events or drop the connection.
type fakeSocketServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []protocol.Message
}

func newFakeSocketServer(t *testing.T) *fakeSocketServer {
	t.Helper()

	f := &fakeSocketServer{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		f.mu.Lock()
		f.conns = append(f.conns, ws)
		f.mu.Unlock()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			f.mu.Lock()
			f.received = append(f.received, *msg)
			f.mu.Unlock()
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSocketServer) url() string {
	return strings.Replace(f.srv.URL, "http", "ws", 1)
}

func (f *fakeSocketServer) push(t *testing.T, event string, payload any) {
	t.Helper()

	data, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatalf("failed to encode %s: %v", event, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		t.Fatal("no client connected")
	}
	ws := f.conns[len(f.conns)-1]
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to push %s: %v", event, err)
	}
}

func (f *fakeSocketServer) dropConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ws := range f.conns {
		ws.Close()
	}
	f.conns = nil
}

func (f *fakeSocketServer) waitForEvent(t *testing.T, event string) protocol.Message {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, msg := range f.received {
			if msg.Event == event {
				f.mu.Unlock()
				return msg
			}
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("server never received %s event", event)
	return protocol.Message{}
}

func (f *fakeSocketServer) connectionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func testConfig(url string) Config {
	return Config{
		URL:                  url,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       20 * time.Millisecond,
		QueueSize:            16,
	}
}

func waitForStatus(t *testing.T, conn *Conn, want Status) StatusEvent {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-conn.ConnectionStatus():
			if !ok {
				t.Fatalf("status channel closed waiting for %v", want)
			}
			if ev.Status == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for status %v", want)
		}
	}
}

func TestConnectAndEmit(t *testing.T) {
	server := newFakeSocketServer(t)

	conn, err := Connect(context.Background(), testConfig(server.url()), testLogger(), nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	if !conn.Connected() {
		t.Error("expected connected state after dial")
	}
	waitForStatus(t, conn, StatusConnected)

	err = conn.Emit(protocol.EventJoinSession, protocol.JoinPayload{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	msg := server.waitForEvent(t, protocol.EventJoinSession)
	var join protocol.JoinPayload
	if err := msg.DecodePayload(&join); err != nil {
		t.Fatalf("failed to decode join payload: %v", err)
	}
	if join.SessionID != "sess-1" {
		t.Errorf("expected session sess-1, got %s", join.SessionID)
	}

	if got := conn.GetStats().MessagesSent; got != 1 {
		t.Errorf("expected 1 sent message in stats, got %d", got)
	}
}

func TestConnectFailsFast(t *testing.T) {
	_, err := Connect(context.Background(), testConfig("ws://127.0.0.1:1/ws"), testLogger(), nil)
	if err == nil {
		t.Fatal("expected error dialing unreachable endpoint")
	}

	if _, err := Connect(context.Background(), testConfig(""), testLogger(), nil); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestInboundEventsReachTypedChannels(t *testing.T) {
	server := newFakeSocketServer(t)

	conn, err := Connect(context.Background(), testConfig(server.url()), testLogger(), nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	server.push(t, protocol.EventTranscriptUpdate, protocol.TranscriptUpdatePayload{
		SessionID: "sess-1",
		Updates: []protocol.TranscriptUpdate{
			{Timestamp: "10:30:00", Text: "hello world"},
		},
	})
	server.push(t, protocol.EventCurrentTranscript, protocol.CurrentTranscriptPayload{
		SessionID:  "sess-1",
		Transcript: "[10:30:00] hello world",
	})
	server.push(t, protocol.EventError, protocol.ErrorPayload{Message: "boom"})

	select {
	case update := <-conn.TranscriptUpdates():
		if len(update.Updates) != 1 || update.Updates[0].Text != "hello world" {
			t.Errorf("unexpected transcript update: %+v", update)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transcript update never arrived")
	}

	select {
	case current := <-conn.CurrentTranscript():
		if current.Transcript != "[10:30:00] hello world" {
			t.Errorf("unexpected current transcript: %+v", current)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("current transcript never arrived")
	}

	select {
	case serverErr := <-conn.Errors():
		if serverErr.Message != "boom" {
			t.Errorf("unexpected error payload: %+v", serverErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error event never arrived")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	server := newFakeSocketServer(t)

	conn, err := Connect(context.Background(), testConfig(server.url()), testLogger(), nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()
	waitForStatus(t, conn, StatusConnected)

	server.dropConnection()
	waitForStatus(t, conn, StatusDisconnected)
	ev := waitForStatus(t, conn, StatusConnected)
	if ev.Attempt < 1 {
		t.Errorf("reconnect status should carry the attempt number, got %d", ev.Attempt)
	}

	// The restored connection carries traffic again
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := conn.Emit(protocol.EventGetCurrentTranscript, protocol.JoinPayload{SessionID: "sess-1"})
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Emit never succeeded after reconnect: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	server.waitForEvent(t, protocol.EventGetCurrentTranscript)

	if got := conn.GetStats().ReconnectAttempts; got == 0 {
		t.Error("expected reconnect attempts in stats")
	}
}

func TestEmitWhileDisconnectedReturnsError(t *testing.T) {
	server := newFakeSocketServer(t)

	config := testConfig(server.url())
	config.MaxReconnectAttempts = 0 // no reconnection

	conn, err := Connect(context.Background(), config, testLogger(), nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()
	waitForStatus(t, conn, StatusConnected)

	server.dropConnection()
	waitForStatus(t, conn, StatusDisconnected)

	err = conn.Emit(protocol.EventAudioChunk, protocol.AudioChunkPayload{SessionID: "s", AudioData: "AAAA"})
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	server := newFakeSocketServer(t)

	config := testConfig(server.url())
	config.MaxReconnectAttempts = 2

	conn, err := Connect(context.Background(), config, testLogger(), nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()
	waitForStatus(t, conn, StatusConnected)

	// Kill the server entirely so every reconnection attempt fails
	server.srv.Close()
	server.dropConnection()

	ev := waitForStatus(t, conn, StatusFailed)
	if ev.Attempt != 2 {
		t.Errorf("expected failure after 2 attempts, got %d", ev.Attempt)
	}
	if conn.Connected() {
		t.Error("connection must stay down after giving up")
	}
}

func TestCloseClosesEventChannels(t *testing.T) {
	server := newFakeSocketServer(t)

	conn, err := Connect(context.Background(), testConfig(server.url()), testLogger(), nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Idempotent
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	select {
	case _, ok := <-conn.TranscriptUpdates():
		if ok {
			t.Error("expected closed transcript channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transcript channel not closed after Close")
	}
}
