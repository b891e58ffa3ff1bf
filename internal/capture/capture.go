package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// TrackKind identifies the media type carried by a track
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// SourceErrorKind classifies why an audio source could not be acquired
type SourceErrorKind int

const (
	KindPermissionDenied SourceErrorKind = iota
	KindDeviceNotFound
	KindNotSupported
	KindNoSource
	KindNoAudioTrack
	KindCancelled
)

// String returns the classification name
func (k SourceErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindDeviceNotFound:
		return "device_not_found"
	case KindNotSupported:
		return "not_supported"
	case KindNoSource:
		return "no_source"
	case KindNoAudioTrack:
		return "no_audio_track"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SourceError reports a classified source acquisition failure
type SourceError struct {
	Kind   SourceErrorKind
	Source string // "microphone" or "system"
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s source failed (%s): %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s source failed (%s)", e.Source, e.Kind)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// ErrNoAudioSource is returned when mixing is attempted with no live source
var ErrNoAudioSource = errors.New("no audio source available")

// ErrAudioOnlyUnsupported is returned by hosts that cannot capture system
// audio without a video track; the caller retries with video and discards it.
var ErrAudioOnlyUnsupported = errors.New("audio-only system capture not supported")

// BlockReader yields successive blocks of normalized float32 samples.
// Implementations return io.EOF when the source is exhausted.
type BlockReader interface {
	ReadBlock(dst []float32) (int, error)
}

// Track models a single media track of an acquired stream. Stopping a track
// releases the underlying device handle; Stop is idempotent.
type Track struct {
	ID   string
	Kind TrackKind

	mu      sync.Mutex
	live    bool
	release func()
}

// NewTrack creates a live track with an optional release hook
func NewTrack(id string, kind TrackKind, release func()) *Track {
	return &Track{ID: id, Kind: kind, live: true, release: release}
}

// Live reports whether the track still holds its device
func (t *Track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Stop releases the track's device handle
func (t *Track) Stop() {
	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return
	}
	t.live = false
	release := t.release
	t.mu.Unlock()

	if release != nil {
		release()
	}
}

// Stream is an acquired media stream: one or more tracks plus the sample
// reader for its audio signal.
type Stream struct {
	ID     string
	Label  string
	Tracks []*Track
	Reader BlockReader
}

// AudioTracks returns the stream's audio tracks
func (s *Stream) AudioTracks() []*Track {
	var tracks []*Track
	for _, t := range s.Tracks {
		if t.Kind == TrackKindAudio {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// StopTracks stops every track of the stream
func (s *Stream) StopTracks() {
	for _, t := range s.Tracks {
		t.Stop()
	}
}

// MicConstraints describe the microphone request
type MicConstraints struct {
	DeviceID         string
	SampleRate       int // hint; the host may deliver its native rate
	EchoCancellation bool
	NoiseSuppression bool
}

// SystemConstraints describe the system/display audio request
type SystemConstraints struct {
	// WithVideo requests a combined video+audio stream. Used as the
	// fallback when audio-only capture is unsupported by the host.
	WithVideo bool
}

// Host abstracts the platform audio layer that hands out media streams
type Host interface {
	AcquireMicrophone(ctx context.Context, c MicConstraints) (*Stream, error)
	AcquireSystemAudio(ctx context.Context, c SystemConstraints) (*Stream, error)
}

// AcquireSystemAudio requests system audio from the host, handling the
// audio-only fallback: hosts that reject audio-only capture are retried with
// a combined video+audio request and the video track is stopped immediately.
// A stream with no audio tracks is torn down and reported as such.
func AcquireSystemAudio(ctx context.Context, host Host, c SystemConstraints) (*Stream, error) {
	stream, err := host.AcquireSystemAudio(ctx, c)
	if err != nil {
		if errors.Is(err, ErrAudioOnlyUnsupported) && !c.WithVideo {
			retry := c
			retry.WithVideo = true
			stream, err = host.AcquireSystemAudio(ctx, retry)
		}
		if err != nil {
			return nil, classifySystemError(err)
		}
	}

	// Discard any video track right away to release the capture resources
	for _, t := range stream.Tracks {
		if t.Kind == TrackKindVideo {
			t.Stop()
		}
	}

	if len(stream.AudioTracks()) == 0 {
		stream.StopTracks()
		return nil, &SourceError{Kind: KindNoAudioTrack, Source: "system"}
	}

	return stream, nil
}

func classifySystemError(err error) error {
	var srcErr *SourceError
	if errors.As(err, &srcErr) {
		return err
	}

	kind := KindNoSource
	switch {
	case errors.Is(err, ErrAudioOnlyUnsupported):
		kind = KindNotSupported
	case errors.Is(err, context.Canceled):
		kind = KindCancelled
	}

	return &SourceError{Kind: kind, Source: "system", Err: err}
}
