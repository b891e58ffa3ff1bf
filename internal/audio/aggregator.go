package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andrewmoshu/live-transcribe/internal/metrics"
)

// Sink receives encoded chunks from the aggregator. Delivery is
// fire-and-forget; a sink error drops the chunk without retry.
type Sink interface {
	SendChunk(chunk *Chunk) error
}

// Chunk is one transport-ready batch of audio, immutable after creation
type Chunk struct {
	ID        string
	Samples   int
	Duration  time.Duration
	AudioData string // base64-encoded PCM-16 LE mono
	CreatedAt time.Time
}

// AggregatorConfig configures chunk batching
type AggregatorConfig struct {
	// ThresholdSamples is the chunk size in samples at the target rate
	ThresholdSamples int
	TargetRate       int
}

// AggregatorStats is a snapshot of aggregator counters
type AggregatorStats struct {
	ChunksEmitted   uint64 `json:"chunks_emitted"`
	ChunksDropped   uint64 `json:"chunks_dropped"`
	EncodeFailures  uint64 `json:"encode_failures"`
	ForceClears     uint64 `json:"force_clears"`
	PendingSamples  int    `json:"pending_samples"`
	SamplesConsumed uint64 `json:"samples_consumed"`
}

// Aggregator batches resampled frames into fixed-duration chunks, converts
// them to 16-bit PCM, base64-encodes them and hands them to the sink.
//
// Chunk processing is single-flight: frames arriving while a flush is in
// progress accumulate but cannot trigger a second flush. If the pending
// buffer grows past twice the threshold it is force-cleared, trading that
// interval's audio for liveness. Both drop policies are deliberate.
type Aggregator struct {
	config  AggregatorConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	sink    Sink

	// encodeFn is replaceable for failure-path tests
	encodeFn func([]float32) (string, error)

	mu           sync.Mutex
	frames       [][]float32
	totalSamples int
	processing   bool

	chunksEmitted   uint64
	chunksDropped   uint64
	encodeFailures  uint64
	forceClears     uint64
	samplesConsumed uint64
}

// NewAggregator creates a chunk aggregator
func NewAggregator(config AggregatorConfig, logger *slog.Logger, m *metrics.Metrics, sink Sink) (*Aggregator, error) {
	if config.ThresholdSamples <= 0 {
		return nil, fmt.Errorf("threshold must be positive, got %d", config.ThresholdSamples)
	}
	if config.TargetRate <= 0 {
		return nil, fmt.Errorf("target rate must be positive, got %d", config.TargetRate)
	}
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}

	a := &Aggregator{
		config:  config,
		logger:  logger,
		metrics: m,
		sink:    sink,
	}
	a.encodeFn = a.encode
	return a, nil
}

// AddFrame appends one resampled frame and flushes synchronously once the
// accumulated sample count crosses the threshold.
func (a *Aggregator) AddFrame(frame []float32) {
	if len(frame) == 0 {
		return
	}

	a.mu.Lock()
	a.frames = append(a.frames, frame)
	a.totalSamples += len(frame)

	var pending [][]float32
	samples := 0

	if a.totalSamples >= a.config.ThresholdSamples && !a.processing {
		a.processing = true
		pending = a.frames
		samples = a.totalSamples
		a.frames = nil
		a.totalSamples = 0
	} else if a.totalSamples > a.config.ThresholdSamples*2 {
		// Safety valve: a stalled flush must not grow the buffer unbounded
		a.logger.Warn("Audio buffer exceeded safety limit, forcing clear",
			slog.Int("pending_samples", a.totalSamples),
			slog.Int("threshold", a.config.ThresholdSamples),
		)
		a.forceClears++
		a.frames = nil
		a.totalSamples = 0
		if a.metrics != nil {
			a.metrics.RecordForceClear()
		}
	}
	a.mu.Unlock()

	if pending != nil {
		a.processChunk(pending, samples)
	}
}

// Flush emits whatever is pending regardless of the threshold. Used on
// capture stop so the trailing partial chunk reaches the backend.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	if a.totalSamples == 0 || a.processing {
		a.mu.Unlock()
		return
	}

	a.processing = true
	pending := a.frames
	samples := a.totalSamples
	a.frames = nil
	a.totalSamples = 0
	a.mu.Unlock()

	a.processChunk(pending, samples)
}

// GetStats returns a snapshot of the aggregator counters
func (a *Aggregator) GetStats() AggregatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AggregatorStats{
		ChunksEmitted:   a.chunksEmitted,
		ChunksDropped:   a.chunksDropped,
		EncodeFailures:  a.encodeFailures,
		ForceClears:     a.forceClears,
		PendingSamples:  a.totalSamples,
		SamplesConsumed: a.samplesConsumed,
	}
}

// processChunk concatenates, encodes and dispatches the detached frames.
// On encode failure the audio is dropped, not retried, so the next chunk
// starts clean.
func (a *Aggregator) processChunk(frames [][]float32, samples int) {
	defer func() {
		a.mu.Lock()
		a.processing = false
		a.mu.Unlock()
	}()

	combined := make([]float32, 0, samples)
	for _, frame := range frames {
		combined = append(combined, frame...)
	}

	encoded, err := a.encodeFn(combined)
	if err != nil {
		a.logger.Error("Chunk encoding failed, dropping buffered audio",
			slog.Int("samples", samples),
			slog.String("error", err.Error()),
		)
		a.mu.Lock()
		a.encodeFailures++
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.RecordEncodeFailure()
		}
		return
	}

	chunk := &Chunk{
		ID:        uuid.NewString(),
		Samples:   samples,
		Duration:  time.Duration(samples) * time.Second / time.Duration(a.config.TargetRate),
		AudioData: encoded,
		CreatedAt: time.Now(),
	}

	a.mu.Lock()
	a.samplesConsumed += uint64(samples)
	a.mu.Unlock()

	if err := a.sink.SendChunk(chunk); err != nil {
		a.logger.Debug("Chunk dropped by sink",
			slog.String("chunk_id", chunk.ID),
			slog.String("error", err.Error()),
		)
		a.mu.Lock()
		a.chunksDropped++
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	a.chunksEmitted++
	a.mu.Unlock()
}

func (a *Aggregator) encode(samples []float32) (encoded string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chunk encoding panicked: %v", r)
		}
	}()

	pcm := FloatToPCM16(samples)
	raw := PCM16ToBytes(pcm)
	return EncodeChunkBase64(raw), nil
}
