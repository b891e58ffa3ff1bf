// Package config provides configuration loading and validation for the live
// transcription client. It handles YAML-based configuration with struct
// validation for the backend endpoints, the audio pipeline, capture sources,
// and reconnection behavior.
package config
