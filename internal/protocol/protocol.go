package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Event names carried on the duplex channel
const (
	// Client -> server events
	EventJoinSession          = "join_session"
	EventJoinSessionAsOwner   = "join_session_as_owner"
	EventJoinSharedSession    = "join_shared_session"
	EventLeaveSession         = "leave_session"
	EventAudioChunk           = "audio_chunk"
	EventGetCurrentTranscript = "get_current_transcript"

	// Server -> client events
	EventTranscriptUpdate     = "transcript_update"
	EventCurrentTranscript    = "current_transcript"
	EventSessionStatusUpdate  = "session_status_update"
	EventSessionResumed       = "session_resumed"
	EventJoinedSession        = "joined_session"
	EventJoinedSharedSession  = "joined_shared_session"
	EventLeftSession          = "left_session"
	EventError                = "error"
)

// Message is the envelope carried over the duplex channel.
// Layout: {"event": <name>, "data": <payload>}
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload associates the connection with a session's event stream
type JoinPayload struct {
	SessionID string `json:"session_id"`
	OwnerID   string `json:"owner_id,omitempty"`
}

// AudioChunkPayload carries one base64-encoded PCM chunk
type AudioChunkPayload struct {
	SessionID string `json:"session_id"`
	AudioData string `json:"audio_data"`
}

// TranscriptUpdate is one transcript increment in server arrival order
type TranscriptUpdate struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// TranscriptUpdatePayload carries appended transcript increments
type TranscriptUpdatePayload struct {
	SessionID string             `json:"session_id"`
	Updates   []TranscriptUpdate `json:"updates"`
}

// CurrentTranscriptPayload carries the full accumulated transcript text
type CurrentTranscriptPayload struct {
	SessionID  string `json:"session_id"`
	Transcript string `json:"transcript"`
}

// SessionStatusUpdatePayload notifies a server-side status transition
type SessionStatusUpdatePayload struct {
	SessionID string `json:"session_id"`
	IsActive  bool   `json:"is_active"`
	IsShared  bool   `json:"is_shared"`
	Status    string `json:"status"` // started|stopped|ended|sharing_enabled|sharing_disabled
	Timestamp string `json:"timestamp"`
}

// SessionState is the server-reported resume snapshot
type SessionState struct {
	SessionID    string    `json:"session_id"`
	OwnerID      string    `json:"owner_id"`
	IsActive     bool      `json:"is_active"`
	IsRecording  bool      `json:"is_recording"`
	LastActivity time.Time `json:"last_activity"`
	PausedAt     time.Time `json:"paused_at"`
	ResumeCount  int       `json:"resume_count"`
	Transcript   string    `json:"transcript"`
	CanBeResumed bool      `json:"can_be_resumed"`
}

// SessionResumedPayload completes the resume protocol with the full state snapshot
type SessionResumedPayload struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
}

// JoinedSessionPayload acknowledges a join
type JoinedSessionPayload struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
}

// SharedSessionInfo describes a shared session visible to non-owners
type SharedSessionInfo struct {
	SessionID string `json:"session_id"`
	IsShared  bool   `json:"is_shared"`
	IsActive  bool   `json:"is_active,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Title     string `json:"title,omitempty"`
}

// JoinedSharedSessionPayload acknowledges joining a shared session
type JoinedSharedSessionPayload struct {
	SessionID   string            `json:"session_id"`
	SessionInfo SharedSessionInfo `json:"session_info"`
	Message     string            `json:"message,omitempty"`
}

// ErrorPayload carries a server-side error message
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode marshals an event and payload into a wire message
func Encode(event string, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		data = raw
	}

	msg := Message{Event: event, Data: data}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", event, err)
	}

	return encoded, nil
}

// Decode parses a wire message envelope
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	if msg.Event == "" {
		return nil, fmt.Errorf("message has no event name")
	}

	return &msg, nil
}

// DecodePayload unmarshals the message payload into the given struct
func (m *Message) DecodePayload(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no payload", m.Event)
	}

	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to parse %s payload: %w", m.Event, err)
	}

	return nil
}

// transcriptLine matches lines like "[HH:MM:SS] text"
var transcriptLine = regexp.MustCompile(`^\[(\d{2}:\d{2}:\d{2})\]\s*(.*)$`)

// ParseTranscript splits accumulated transcript text into updates, one per
// non-empty line. Lines carry a "[HH:MM:SS] text" prefix; lines without one
// keep their full text and are stamped with the current wall-clock time.
func ParseTranscript(sessionID, transcript string) []TranscriptUpdate {
	if transcript == "" {
		return nil
	}

	var updates []TranscriptUpdate
	for _, line := range strings.Split(transcript, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		if m := transcriptLine.FindStringSubmatch(line); m != nil {
			updates = append(updates, TranscriptUpdate{
				Timestamp: m[1],
				Text:      m[2],
				SessionID: sessionID,
			})
		} else {
			updates = append(updates, TranscriptUpdate{
				Timestamp: time.Now().Format("15:04:05"),
				Text:      line,
				SessionID: sessionID,
			})
		}
	}

	return updates
}
