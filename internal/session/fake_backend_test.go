package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/andrewmoshu/live-transcribe/internal/protocol"
)

// fakeBackend is an in-process stand-in for the transcription backend:
// the session HTTP API plus the event socket, just enough behavior to
// exercise the client side of the protocol.
type fakeBackend struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu sync.Mutex

	// HTTP side
	callCounts      map[string]int
	unauthorizedHit map[string]bool // endpoints that 401 on first hit
	resumable       *protocol.SessionState
	transcript      string
	nextSessionID   string

	// socket side
	conns        []*websocket.Conn
	socketEvents []protocol.Message
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	f := &fakeBackend{
		callCounts:      make(map[string]int),
		unauthorizedHit: make(map[string]bool),
		nextSessionID:   "sess-1",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.handleSocket)
	mux.HandleFunc("/", f.handleAPI)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBackend) apiURL() string {
	return f.srv.URL
}

func (f *fakeBackend) socketURL() string {
	return strings.Replace(f.srv.URL, "http", "ws", 1) + "/ws"
}

// requireAuthOnce makes the named endpoint return 401 on its first hit
func (f *fakeBackend) requireAuthOnce(endpoint string) {
	f.mu.Lock()
	f.unauthorizedHit[endpoint] = true
	f.mu.Unlock()
}

func (f *fakeBackend) calls(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCounts[endpoint]
}

func (f *fakeBackend) setResumable(state *protocol.SessionState) {
	f.mu.Lock()
	f.resumable = state
	f.mu.Unlock()
}

func (f *fakeBackend) setTranscript(text string) {
	f.mu.Lock()
	f.transcript = text
	f.mu.Unlock()
}

func (f *fakeBackend) handleAPI(w http.ResponseWriter, r *http.Request) {
	endpoint := r.Method + " " + normalizePath(r.URL.Path)

	f.mu.Lock()
	f.callCounts[endpoint]++
	if f.unauthorizedHit[endpoint] {
		f.unauthorizedHit[endpoint] = false
		f.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.mu.Unlock()

	switch endpoint {
	case "POST /sessions":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		id := f.nextSessionID
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{
			"session_id": id,
			"owner_id":   body["owner_id"],
		})

	case "POST /sessions/{id}/start", "POST /sessions/{id}/stop",
		"DELETE /sessions/{id}", "POST /sessions/{id}/share",
		"DELETE /sessions/{id}/share":
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "{}")

	case "POST /sessions/{id}/resume":
		f.mu.Lock()
		state := f.resumable
		f.mu.Unlock()
		if state == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"session_state": state})

	case "GET /sessions/owner/{id}/resumable":
		f.mu.Lock()
		state := f.resumable
		f.mu.Unlock()
		if state == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(state)

	case "GET /sessions/{id}/audio-summary":
		json.NewEncoder(w).Encode(AudioSummary{SessionID: "sess-1", AudioData: "AAAA"})

	case "GET /transcripts":
		json.NewEncoder(w).Encode([]TranscriptInfo{
			{SessionID: "sess-1", Transcript: "[10:00:00] stored line"},
		})

	case "GET /health":
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "{}")

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// normalizePath collapses session ids so endpoints can be counted
func normalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[0] == "sessions" && parts[1] == "owner":
		return "/sessions/owner/{id}/resumable"
	case len(parts) == 3 && parts[0] == "sessions":
		return "/sessions/{id}/" + parts[2]
	case len(parts) == 2 && parts[0] == "sessions":
		return "/sessions/{id}"
	default:
		return path
	}
}

func (f *fakeBackend) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := f.upgrader.Upgrade(w, r, nil)
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
		f.socketEvents = append(f.socketEvents, *msg)
		transcript := f.transcript
		f.mu.Unlock()

		// Replay the authoritative transcript on request
		if msg.Event == protocol.EventGetCurrentTranscript {
			var join protocol.JoinPayload
			msg.DecodePayload(&join)
			reply, _ := protocol.Encode(protocol.EventCurrentTranscript, protocol.CurrentTranscriptPayload{
				SessionID:  join.SessionID,
				Transcript: transcript,
			})
			ws.WriteMessage(websocket.TextMessage, reply)
		}
	}
}

func (f *fakeBackend) push(t *testing.T, event string, payload any) {
	t.Helper()

	data, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatalf("failed to encode %s: %v", event, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		t.Fatal("no socket client connected")
	}
	ws := f.conns[len(f.conns)-1]
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to push %s: %v", event, err)
	}
}

func (f *fakeBackend) socketEventCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, msg := range f.socketEvents {
		if msg.Event == event {
			count++
		}
	}
	return count
}

func (f *fakeBackend) lastSocketEvent(event string) (protocol.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.socketEvents) - 1; i >= 0; i-- {
		if f.socketEvents[i].Event == event {
			return f.socketEvents[i], true
		}
	}
	return protocol.Message{}, false
}
