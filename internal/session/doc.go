// Package session owns the client-side session lifecycle: the backend
// HTTP API for session management, the local state machine with
// idempotent start/stop, the arrival-ordered transcript store, and the
// audio chunk sink that bridges the capture pipeline onto the event
// socket.
package session
