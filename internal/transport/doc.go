// Package transport maintains the persistent event socket to the
// transcription backend. It serializes outbound events, fans inbound
// events out to typed channels, and transparently reconnects dropped
// connections up to a configured attempt limit.
package transport
