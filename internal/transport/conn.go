package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andrewmoshu/live-transcribe/internal/metrics"
	"github.com/andrewmoshu/live-transcribe/internal/protocol"
)

// Status describes the connection lifecycle state
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusFailed
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StatusEvent reports a connection state transition
type StatusEvent struct {
	Status  Status
	Attempt int
	Err     error
}

// ErrNotConnected is returned by Emit while the socket is down. Audio
// chunks sent during an outage are dropped, not queued.
var ErrNotConnected = fmt.Errorf("socket not connected")

// Config configures the socket connection
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8000/ws
	URL string

	// MaxReconnectAttempts bounds automatic reconnection after an
	// established connection drops. Zero disables reconnection.
	MaxReconnectAttempts int

	// ReconnectDelay is the fixed wait between reconnection attempts
	ReconnectDelay time.Duration

	// QueueSize bounds each inbound event channel
	QueueSize int
}

// ConnStats is a snapshot of connection counters
type ConnStats struct {
	MessagesSent      uint64 `json:"messages_sent"`
	MessagesReceived  uint64 `json:"messages_received"`
	MessagesDropped   uint64 `json:"messages_dropped"`
	DecodeErrors      uint64 `json:"decode_errors"`
	ReconnectAttempts uint64 `json:"reconnect_attempts"`
	Connected         bool   `json:"connected"`
}

// Conn is a persistent event socket to the transcription backend. It
// maintains one websocket, serializes writes, and fans inbound events out
// to typed channels. When the connection drops it reconnects automatically
// up to the configured attempt limit; writes during the outage fail with
// ErrNotConnected.
type Conn struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	dialer  *websocket.Dialer

	transcriptUpdates chan protocol.TranscriptUpdatePayload
	currentTranscript chan protocol.CurrentTranscriptPayload
	statusUpdates     chan protocol.SessionStatusUpdatePayload
	sessionResumed    chan protocol.SessionResumedPayload
	joined            chan protocol.JoinedSessionPayload
	joinedShared      chan protocol.JoinedSharedSessionPayload
	serverErrors      chan protocol.ErrorPayload
	connectionStatus  chan StatusEvent

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	closed    bool

	messagesSent      uint64
	messagesReceived  uint64
	messagesDropped   uint64
	decodeErrors      uint64
	reconnectAttempts uint64
}

// Connect dials the backend and starts the read pump. It fails fast when
// the initial dial fails; reconnection only covers drops of an established
// connection.
func Connect(ctx context.Context, config Config, logger *slog.Logger, m *metrics.Metrics) (*Conn, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("socket URL cannot be empty")
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 32
	}

	c := &Conn{
		config:  config,
		logger:  logger,
		metrics: m,
		dialer:  websocket.DefaultDialer,

		transcriptUpdates: make(chan protocol.TranscriptUpdatePayload, config.QueueSize),
		currentTranscript: make(chan protocol.CurrentTranscriptPayload, config.QueueSize),
		statusUpdates:     make(chan protocol.SessionStatusUpdatePayload, config.QueueSize),
		sessionResumed:    make(chan protocol.SessionResumedPayload, config.QueueSize),
		joined:            make(chan protocol.JoinedSessionPayload, config.QueueSize),
		joinedShared:      make(chan protocol.JoinedSharedSessionPayload, config.QueueSize),
		serverErrors:      make(chan protocol.ErrorPayload, config.QueueSize),
		connectionStatus:  make(chan StatusEvent, config.QueueSize),
	}

	ws, _, err := c.dialer.DialContext(ctx, config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.URL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.mu.Unlock()

	if m != nil {
		m.RecordConnect()
	}
	c.logger.Info("Socket connected", slog.String("url", config.URL))
	c.notifyStatus(StatusEvent{Status: StatusConnected})

	pumpCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.readPump(pumpCtx)

	return c, nil
}

// TranscriptUpdates delivers incremental transcript lines
func (c *Conn) TranscriptUpdates() <-chan protocol.TranscriptUpdatePayload {
	return c.transcriptUpdates
}

// CurrentTranscript delivers full-transcript snapshots
func (c *Conn) CurrentTranscript() <-chan protocol.CurrentTranscriptPayload {
	return c.currentTranscript
}

// StatusUpdates delivers session status broadcasts
func (c *Conn) StatusUpdates() <-chan protocol.SessionStatusUpdatePayload {
	return c.statusUpdates
}

// SessionResumed delivers resume confirmations with full session state
func (c *Conn) SessionResumed() <-chan protocol.SessionResumedPayload {
	return c.sessionResumed
}

// Joined delivers join acknowledgements
func (c *Conn) Joined() <-chan protocol.JoinedSessionPayload {
	return c.joined
}

// JoinedShared delivers shared-session join acknowledgements
func (c *Conn) JoinedShared() <-chan protocol.JoinedSharedSessionPayload {
	return c.joinedShared
}

// Errors delivers server-reported errors
func (c *Conn) Errors() <-chan protocol.ErrorPayload {
	return c.serverErrors
}

// ConnectionStatus delivers connection state transitions
func (c *Conn) ConnectionStatus() <-chan StatusEvent {
	return c.connectionStatus
}

// Connected reports whether the socket is currently up
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emit sends one event to the backend. Returns ErrNotConnected while the
// socket is down; callers decide whether the event is droppable.
func (c *Conn) Emit(event string, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.ws == nil {
		return ErrNotConnected
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s event: %w", event, err)
	}

	c.messagesSent++
	return nil
}

// GetStats returns a snapshot of connection counters
func (c *Conn) GetStats() ConnStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ConnStats{
		MessagesSent:      c.messagesSent,
		MessagesReceived:  c.messagesReceived,
		MessagesDropped:   c.messagesDropped,
		DecodeErrors:      c.decodeErrors,
		ReconnectAttempts: c.reconnectAttempts,
		Connected:         c.connected,
	}
}

// Close shuts the connection down and stops the read pump. Event channels
// are closed once the pump exits.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.connected = false
	c.mu.Unlock()

	if ws != nil {
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ws.Close()
	}

	c.cancel()
	c.wg.Wait()

	stats := c.GetStats()
	c.logger.Info("Socket closed",
		slog.Uint64("messages_sent", stats.MessagesSent),
		slog.Uint64("messages_received", stats.MessagesReceived),
		slog.Uint64("reconnect_attempts", stats.ReconnectAttempts),
	)
	return nil
}

// readPump reads and dispatches inbound events until the connection is
// closed for good. A dropped connection triggers bounded reconnection.
func (c *Conn) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer c.closeChannels()

	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()

		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return
			}

			c.markDisconnected(err)
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.messagesReceived++
		c.mu.Unlock()

		c.dispatch(data)
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) markDisconnected(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordDisconnect()
	}
	c.logger.Warn("Socket connection lost", slog.String("error", err.Error()))
	c.notifyStatus(StatusEvent{Status: StatusDisconnected, Err: err})
}

// reconnect attempts to re-establish the connection with a fixed delay
// between attempts. Returns false once the attempt limit is exhausted.
func (c *Conn) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= c.config.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.config.ReconnectDelay):
		}

		if c.isClosed() {
			return false
		}

		c.mu.Lock()
		c.reconnectAttempts++
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordReconnectAttempt()
		}

		c.logger.Info("Reconnecting socket",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.config.MaxReconnectAttempts),
		)
		c.notifyStatus(StatusEvent{Status: StatusConnecting, Attempt: attempt})

		ws, _, err := c.dialer.DialContext(ctx, c.config.URL, nil)
		if err != nil {
			c.logger.Warn("Reconnection attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.connected = true
		c.mu.Unlock()

		if c.metrics != nil {
			c.metrics.RecordConnect()
		}
		c.logger.Info("Socket reconnected", slog.Int("attempt", attempt))
		c.notifyStatus(StatusEvent{Status: StatusConnected, Attempt: attempt})
		return true
	}

	c.logger.Error("Socket reconnection failed, giving up",
		slog.Int("max_attempts", c.config.MaxReconnectAttempts),
	)
	c.notifyStatus(StatusEvent{Status: StatusFailed, Attempt: c.config.MaxReconnectAttempts})
	return false
}

// dispatch decodes one inbound message and routes it to its typed channel
func (c *Conn) dispatch(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.mu.Lock()
		c.decodeErrors++
		c.mu.Unlock()
		c.logger.Warn("Failed to decode inbound message", slog.String("error", err.Error()))
		return
	}

	switch msg.Event {
	case protocol.EventTranscriptUpdate:
		var p protocol.TranscriptUpdatePayload
		if c.decodePayload(msg, &p) {
			deliver(c, msg.Event, c.transcriptUpdates, p)
		}
	case protocol.EventCurrentTranscript:
		var p protocol.CurrentTranscriptPayload
		if c.decodePayload(msg, &p) {
			deliver(c, msg.Event, c.currentTranscript, p)
		}
	case protocol.EventSessionStatusUpdate:
		var p protocol.SessionStatusUpdatePayload
		if c.decodePayload(msg, &p) {
			deliver(c, msg.Event, c.statusUpdates, p)
		}
	case protocol.EventSessionResumed:
		var p protocol.SessionResumedPayload
		if c.decodePayload(msg, &p) {
			deliver(c, msg.Event, c.sessionResumed, p)
		}
	case protocol.EventJoinedSession, protocol.EventLeftSession:
		var p protocol.JoinedSessionPayload
		if c.decodePayload(msg, &p) {
			deliver(c, msg.Event, c.joined, p)
		}
	case protocol.EventJoinedSharedSession:
		var p protocol.JoinedSharedSessionPayload
		if c.decodePayload(msg, &p) {
			deliver(c, msg.Event, c.joinedShared, p)
		}
	case protocol.EventError:
		var p protocol.ErrorPayload
		if c.decodePayload(msg, &p) {
			deliver(c, msg.Event, c.serverErrors, p)
		}
	default:
		c.logger.Debug("Ignoring unknown event", slog.String("event", msg.Event))
	}
}

func (c *Conn) decodePayload(msg *protocol.Message, v any) bool {
	if err := msg.DecodePayload(v); err != nil {
		c.mu.Lock()
		c.decodeErrors++
		c.mu.Unlock()
		c.logger.Warn("Failed to decode event payload",
			slog.String("event", msg.Event),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// deliver pushes an event to its channel without blocking the read pump.
// A full channel means the consumer stalled; the event is dropped.
func deliver[T any](c *Conn, event string, ch chan T, payload T) {
	select {
	case ch <- payload:
	default:
		c.mu.Lock()
		c.messagesDropped++
		c.mu.Unlock()
		c.logger.Warn("Event channel full, dropping event", slog.String("event", event))
	}
}

func (c *Conn) notifyStatus(ev StatusEvent) {
	select {
	case c.connectionStatus <- ev:
	default:
	}
}

func (c *Conn) closeChannels() {
	close(c.transcriptUpdates)
	close(c.currentTranscript)
	close(c.statusUpdates)
	close(c.sessionResumed)
	close(c.joined)
	close(c.joinedShared)
	close(c.serverErrors)
	close(c.connectionStatus)
}
