// Package audio implements the client-side audio processing pipeline:
// nearest-neighbor downsampling to the 16 kHz transport rate, fixed-size
// frame handoff from the realtime path, duration-based chunk aggregation
// with PCM-16/base64 transport encoding, and WAV encoding for locally
// saved recordings.
package audio
