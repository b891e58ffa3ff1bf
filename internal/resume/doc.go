// Package resume reconciles a freshly connected client with a session it
// previously owned: a durable owner identity persisted locally, and a
// per-connection check for a resumable backend session with a
// resume-or-discard decision.
package resume
