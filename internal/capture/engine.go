package capture

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/andrewmoshu/live-transcribe/internal/metrics"
)

// node is one connection in the capture graph. Nodes are tracked so that
// teardown can verify every connection made during setup is undone, even
// after a partial setup failure.
type node struct {
	name string

	mu        sync.Mutex
	connected bool
}

func (n *node) connect() {
	n.mu.Lock()
	n.connected = true
	n.mu.Unlock()
}

func (n *node) disconnect() {
	n.mu.Lock()
	n.connected = false
	n.mu.Unlock()
}

func (n *node) isConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

// Options configure the capture engine
type Options struct {
	Mic       *MicConstraints    // nil disables the microphone
	System    *SystemConstraints // nil disables system audio
	BlockSize int                // samples per render block
	QueueSize int                // rendered blocks buffered toward the consumer
}

// EngineStats is a snapshot of engine counters
type EngineStats struct {
	BlocksRendered uint64 `json:"blocks_rendered"`
	BlocksDropped  uint64 `json:"blocks_dropped"`
	SamplesRead    uint64 `json:"samples_read"`
}

// Engine acquires the configured audio sources, mixes them and renders
// fixed-size blocks to its output channel until stopped or exhausted.
type Engine struct {
	host    Host
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    Options

	streams []*Stream
	nodes   []*node
	mixer   *Mixer
	out     chan []float32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	blocksRendered uint64
	blocksDropped  uint64
	samplesRead    uint64
	mu             sync.RWMutex
}

// NewEngine creates a capture engine over the given host
func NewEngine(host Host, logger *slog.Logger, m *metrics.Metrics, opts Options) *Engine {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 1024
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}

	return &Engine{
		host:    host,
		logger:  logger,
		metrics: m,
		opts:    opts,
		out:     make(chan []float32, opts.QueueSize),
	}
}

// Blocks returns the channel of rendered sample blocks. The channel is
// closed when the engine stops or all sources end.
func (e *Engine) Blocks() <-chan []float32 {
	return e.out
}

// Start acquires the configured sources and begins rendering. A microphone
// failure is fatal; a system audio failure degrades to microphone-only
// capture when a microphone is held. Everything acquired before a fatal
// failure is released again before returning.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	var micStream, sysStream *Stream

	if e.opts.Mic != nil {
		stream, err := e.host.AcquireMicrophone(e.ctx, *e.opts.Mic)
		if err != nil {
			e.teardown()
			return err
		}
		micStream = stream
		e.addStream(stream, "microphone")
	}

	if e.opts.System != nil {
		stream, err := AcquireSystemAudio(e.ctx, e.host, *e.opts.System)
		if err != nil {
			if micStream == nil {
				e.teardown()
				return err
			}
			e.logger.Warn("System audio unavailable, continuing microphone-only",
				slog.String("error", err.Error()),
			)
		} else {
			sysStream = stream
			e.addStream(stream, "system")
		}
	}

	mixer, err := NewMixer(micStream, sysStream)
	if err != nil {
		e.teardown()
		return err
	}
	e.mixer = mixer

	mixNode := &node{name: "mixer"}
	mixNode.connect()
	e.nodes = append(e.nodes, mixNode)

	e.logger.Info("Audio capture started",
		slog.Int("sources", mixer.SourceCount()),
		slog.Int("block_size", e.opts.BlockSize),
	)

	e.wg.Add(1)
	go e.renderLoop()

	return nil
}

// Stop halts rendering and releases every acquired track and graph node
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.teardown()

	stats := e.GetStats()
	e.logger.Info("Audio capture stopped",
		slog.Uint64("blocks_rendered", stats.BlocksRendered),
		slog.Uint64("blocks_dropped", stats.BlocksDropped),
	)
}

// GetStats returns a snapshot of the engine counters
func (e *Engine) GetStats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EngineStats{
		BlocksRendered: e.blocksRendered,
		BlocksDropped:  e.blocksDropped,
		SamplesRead:    e.samplesRead,
	}
}

func (e *Engine) addStream(stream *Stream, name string) {
	e.streams = append(e.streams, stream)

	n := &node{name: name}
	n.connect()
	e.nodes = append(e.nodes, n)
}

// teardown stops all tracks and disconnects all graph nodes. Safe to call
// with a partially built graph and safe to call more than once.
func (e *Engine) teardown() {
	for _, s := range e.streams {
		s.StopTracks()
	}
	for _, n := range e.nodes {
		n.disconnect()
	}
}

// renderLoop is the render callback pump: it pulls fixed-size blocks from
// the mixer and hands immutable copies to the consumer. When the consumer
// falls behind the block is dropped rather than blocking the audio path.
func (e *Engine) renderLoop() {
	defer e.wg.Done()
	defer close(e.out)

	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		block := make([]float32, e.opts.BlockSize)
		n, err := e.mixer.ReadBlock(block)
		if n > 0 {
			e.mu.Lock()
			e.samplesRead += uint64(n)
			e.mu.Unlock()

			select {
			case e.out <- block[:n]:
				e.mu.Lock()
				e.blocksRendered++
				e.mu.Unlock()
				if e.metrics != nil {
					e.metrics.RecordBlockCaptured()
				}
			default:
				e.mu.Lock()
				e.blocksDropped++
				e.mu.Unlock()
			}
		}

		if err == io.EOF {
			e.logger.Info("Audio sources exhausted")
			return
		}
		if err != nil {
			e.logger.Error("Render loop read failed", slog.String("error", err.Error()))
			return
		}
	}
}
