package audio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Recorder keeps the complete resampled recording alongside streaming so
// the whole take can be saved locally when capture stops. Disabled
// recorders discard frames without buffering.
type Recorder struct {
	enabled    bool
	sampleRate int
	logger     *slog.Logger

	mu     sync.Mutex
	frames [][]float32
	total  int
}

// NewRecorder creates a recorder for the target sample rate
func NewRecorder(enabled bool, sampleRate int, logger *slog.Logger) *Recorder {
	return &Recorder{enabled: enabled, sampleRate: sampleRate, logger: logger}
}

// AddFrame retains a frame of the complete recording
func (r *Recorder) AddFrame(frame []float32) {
	if !r.enabled || len(frame) == 0 {
		return
	}

	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.total += len(frame)
	r.mu.Unlock()
}

// Duration returns the recorded duration so far
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sampleRate == 0 {
		return 0
	}
	return time.Duration(r.total) * time.Second / time.Duration(r.sampleRate)
}

// Save writes the recording as raw PCM and as a WAV file into dir and
// clears the buffer. Returns the WAV path.
func (r *Recorder) Save(dir string) (string, error) {
	r.mu.Lock()
	frames := r.frames
	total := r.total
	r.frames = nil
	r.total = 0
	r.mu.Unlock()

	if total == 0 {
		return "", fmt.Errorf("no recorded audio to save")
	}

	combined := make([]float32, 0, total)
	for _, frame := range frames {
		combined = append(combined, frame...)
	}

	pcm := FloatToPCM16(combined)
	raw := PCM16ToBytes(pcm)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recording dir: %w", err)
	}

	stamp := strings.ReplaceAll(time.Now().Format(time.RFC3339), ":", "-")
	pcmPath := filepath.Join(dir, fmt.Sprintf("recording-%s.pcm", stamp))
	wavPath := filepath.Join(dir, fmt.Sprintf("recording-%s.wav", stamp))

	if err := os.WriteFile(pcmPath, raw, 0644); err != nil {
		return "", fmt.Errorf("failed to write PCM file: %w", err)
	}

	wav, err := EncodeWAV(pcm, r.sampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode WAV: %w", err)
	}
	if err := os.WriteFile(wavPath, wav, 0644); err != nil {
		return "", fmt.Errorf("failed to write WAV file: %w", err)
	}

	r.logger.Info("Complete recording saved",
		slog.String("wav", wavPath),
		slog.Int("samples", total),
		slog.Float64("duration_sec", float64(total)/float64(r.sampleRate)),
	)

	return wavPath, nil
}
