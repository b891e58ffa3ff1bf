// Package capture acquires live audio sources and produces one mixed mono
// signal for the processing pipeline. It models media streams as tracks
// holding device handles, classifies acquisition failures by cause,
// implements the system-audio fallback chain, and guarantees that every
// track and graph connection is released on stop, including after partial
// setup failures.
package capture
