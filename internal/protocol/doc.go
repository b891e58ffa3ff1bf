// Package protocol defines the wire format of the duplex transcription
// channel. It implements the named-event JSON envelope carried over the
// WebSocket connection, the payload types for both directions, and parsing
// of the server's accumulated transcript text format.
package protocol
