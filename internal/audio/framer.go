package audio

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/andrewmoshu/live-transcribe/internal/metrics"
)

// FramerConfig configures the resampling/framing stage
type FramerConfig struct {
	SourceRate int
	TargetRate int
	FrameSize  int

	// DisableWorklet reports that the host cannot provide a dedicated
	// realtime processing context, forcing the script-processor fallback.
	DisableWorklet bool

	// QueueSize bounds the frame handoff channel
	QueueSize int
}

// Framer converts capture blocks into resampled fixed-size frames. Both
// implementations run the identical Processor math, so downstream consumers
// cannot tell them apart.
type Framer interface {
	Frames() <-chan []float32
	Stop()
}

// ErrWorkletUnavailable indicates the dedicated realtime context could not
// be created on this host.
var ErrWorkletUnavailable = fmt.Errorf("realtime worklet unavailable")

// NewFramer starts a worklet over the given block stream, falling back to
// the script-processor path when the worklet mechanism is unavailable.
func NewFramer(ctx context.Context, logger *slog.Logger, m *metrics.Metrics, cfg FramerConfig, in <-chan []float32) (Framer, error) {
	w, err := NewWorklet(ctx, m, cfg, in)
	if err == nil {
		return w, nil
	}

	logger.Warn("Worklet unavailable, falling back to script processor",
		slog.String("error", err.Error()),
	)
	return NewScriptFramer(ctx, m, cfg, in)
}

// Worklet runs the processor on a dedicated OS-thread-pinned goroutine,
// modeling the isolated realtime rendering context. Frames cross to the
// consumer through a one-way channel carrying immutable copies.
type Worklet struct {
	proc    *Processor
	metrics *metrics.Metrics
	frames  chan []float32
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorklet creates the dedicated realtime framer
func NewWorklet(ctx context.Context, m *metrics.Metrics, cfg FramerConfig, in <-chan []float32) (*Worklet, error) {
	if cfg.DisableWorklet {
		return nil, ErrWorkletUnavailable
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	w := &Worklet{metrics: m, frames: make(chan []float32, cfg.QueueSize)}

	proc, err := NewProcessor(cfg.SourceRate, cfg.TargetRate, cfg.FrameSize, w.emitFrame)
	if err != nil {
		return nil, err
	}
	w.proc = proc

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(runCtx, in)

	return w, nil
}

// Frames returns the one-way frame handoff channel
func (w *Worklet) Frames() <-chan []float32 {
	return w.frames
}

// Stop halts processing and closes the frame channel
func (w *Worklet) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Worklet) emitFrame(frame []float32) {
	// Never block the realtime path; a slow consumer loses the frame
	select {
	case w.frames <- frame:
	default:
		if w.metrics != nil {
			w.metrics.RecordFrameDropped()
		}
	}
}

func (w *Worklet) run(ctx context.Context, in <-chan []float32) {
	defer w.wg.Done()
	defer close(w.frames)

	// Pin the render callback to one OS thread for realtime behavior
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-in:
			if !ok {
				w.proc.Flush()
				return
			}
			w.proc.Process(block)
		}
	}
}

// ScriptFramer is the fallback framer: the same processor math driven from
// an ordinary goroutine without realtime scheduling. Behavior is otherwise
// indistinguishable from the worklet.
type ScriptFramer struct {
	proc    *Processor
	metrics *metrics.Metrics
	frames  chan []float32
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScriptFramer creates the fallback framer
func NewScriptFramer(ctx context.Context, m *metrics.Metrics, cfg FramerConfig, in <-chan []float32) (*ScriptFramer, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	f := &ScriptFramer{metrics: m, frames: make(chan []float32, cfg.QueueSize)}

	proc, err := NewProcessor(cfg.SourceRate, cfg.TargetRate, cfg.FrameSize, f.emitFrame)
	if err != nil {
		return nil, err
	}
	f.proc = proc

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.wg.Add(1)
	go f.run(runCtx, in)

	return f, nil
}

// Frames returns the one-way frame handoff channel
func (f *ScriptFramer) Frames() <-chan []float32 {
	return f.frames
}

// Stop halts processing and closes the frame channel
func (f *ScriptFramer) Stop() {
	f.cancel()
	f.wg.Wait()
}

func (f *ScriptFramer) emitFrame(frame []float32) {
	select {
	case f.frames <- frame:
	default:
		if f.metrics != nil {
			f.metrics.RecordFrameDropped()
		}
	}
}

func (f *ScriptFramer) run(ctx context.Context, in <-chan []float32) {
	defer f.wg.Done()
	defer close(f.frames)

	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-in:
			if !ok {
				f.proc.Flush()
				return
			}
			f.proc.Process(block)
		}
	}
}
