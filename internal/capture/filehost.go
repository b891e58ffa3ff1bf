package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// FileHost is a capture host backed by an audio file. It stands in for a
// platform device layer: the file's PCM-16 content is streamed as the
// microphone signal, optionally paced at the source sample rate. System
// audio capture is not supported by this host.
type FileHost struct {
	Path       string
	SampleRate int
	Realtime   bool // pace reads at the source rate
}

// AcquireMicrophone opens the backing file as a live microphone stream
func (h *FileHost) AcquireMicrophone(ctx context.Context, c MicConstraints) (*Stream, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		kind := KindDeviceNotFound
		if os.IsPermission(err) {
			kind = KindPermissionDenied
		}
		return nil, &SourceError{Kind: kind, Source: "microphone", Err: err}
	}

	reader := &pcmFileReader{
		ctx:        ctx,
		file:       f,
		sampleRate: h.SampleRate,
		realtime:   h.Realtime,
	}
	if err := reader.skipWAVHeader(); err != nil {
		f.Close()
		return nil, &SourceError{Kind: KindDeviceNotFound, Source: "microphone", Err: err}
	}

	track := NewTrack("file-audio", TrackKindAudio, func() { f.Close() })

	return &Stream{
		ID:     "file:" + h.Path,
		Label:  h.Path,
		Tracks: []*Track{track},
		Reader: reader,
	}, nil
}

// AcquireSystemAudio always fails: a file host has no display to capture
func (h *FileHost) AcquireSystemAudio(ctx context.Context, c SystemConstraints) (*Stream, error) {
	return nil, &SourceError{Kind: KindNotSupported, Source: "system"}
}

// pcmFileReader converts little-endian PCM-16 file content to normalized
// float32 blocks.
type pcmFileReader struct {
	ctx        context.Context
	file       *os.File
	sampleRate int
	realtime   bool
	raw        []byte
}

// skipWAVHeader advances past a canonical 44-byte WAV header when present;
// raw PCM files are read from the start.
func (r *pcmFileReader) skipWAVHeader() error {
	magic := make([]byte, 4)
	n, err := r.file.Read(magic)
	if err == io.EOF || n < 4 {
		return nil // tiny file, treat as raw
	}
	if err != nil {
		return fmt.Errorf("failed to probe file header: %w", err)
	}

	if bytes.Equal(magic, []byte("RIFF")) {
		if _, err := r.file.Seek(44, io.SeekStart); err != nil {
			return fmt.Errorf("failed to skip WAV header: %w", err)
		}
		return nil
	}

	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind file: %w", err)
	}
	return nil
}

// ReadBlock fills dst with normalized samples from the file
func (r *pcmFileReader) ReadBlock(dst []float32) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, io.EOF
	default:
	}

	need := len(dst) * 2
	if cap(r.raw) < need {
		r.raw = make([]byte, need)
	}
	raw := r.raw[:need]

	n, err := io.ReadFull(r.file, raw)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if n == 0 {
		return 0, err
	}

	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		dst[i] = float32(v) / 32768.0
	}

	if r.realtime && r.sampleRate > 0 {
		delay := time.Duration(samples) * time.Second / time.Duration(r.sampleRate)
		select {
		case <-time.After(delay):
		case <-r.ctx.Done():
		}
	}

	return samples, err
}
