package audio

import (
	"fmt"
)

// Processor downsamples the mixed capture signal to the target rate and
// groups the result into fixed-size frames. Downsampling is nearest-neighbor
// decimation: a running counter selects every Nth input sample where
// N = sourceRate/targetRate. No anti-aliasing filter is applied; this is a
// known precision trade-off carried over from the original pipeline.
//
// Process is called from the realtime audio path, so it performs no work
// beyond arithmetic and writes into the fixed frame buffer. The only
// allocation is the frame copy handed to the emit callback.
type Processor struct {
	frameSize  int
	sourceRate int
	targetRate int

	buffer      []float32
	bufferIndex int
	ratio       float64
	counter     float64

	emit func(frame []float32)
}

// NewProcessor creates a processor for the given rates. The source rate is
// an explicit parameter; it is fixed for the lifetime of the processor.
func NewProcessor(sourceRate, targetRate, frameSize int, emit func([]float32)) (*Processor, error) {
	if sourceRate < targetRate {
		return nil, fmt.Errorf("source rate %d below target rate %d", sourceRate, targetRate)
	}
	if targetRate <= 0 {
		return nil, fmt.Errorf("target rate must be positive, got %d", targetRate)
	}
	if frameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameSize)
	}
	if emit == nil {
		return nil, fmt.Errorf("emit callback cannot be nil")
	}

	return &Processor{
		frameSize:  frameSize,
		sourceRate: sourceRate,
		targetRate: targetRate,
		buffer:     make([]float32, frameSize),
		ratio:      float64(sourceRate) / float64(targetRate),
		emit:       emit,
	}, nil
}

// Process consumes one block of input samples at the source rate. Whenever
// the internal frame buffer fills, an immutable copy is emitted and the
// buffer restarts empty without dropping input.
func (p *Processor) Process(block []float32) {
	for _, sample := range block {
		p.counter++

		if p.counter >= p.ratio {
			p.buffer[p.bufferIndex] = sample
			p.bufferIndex++
			p.counter = 0

			if p.bufferIndex >= p.frameSize {
				frame := make([]float32, p.frameSize)
				copy(frame, p.buffer)
				p.emit(frame)
				p.bufferIndex = 0
			}
		}
	}
}

// Pending returns the number of samples buffered toward the next frame
func (p *Processor) Pending() int {
	return p.bufferIndex
}

// Flush emits any partially filled frame. Used on capture stop so trailing
// audio is not silently discarded.
func (p *Processor) Flush() {
	if p.bufferIndex == 0 {
		return
	}

	frame := make([]float32, p.bufferIndex)
	copy(frame, p.buffer[:p.bufferIndex])
	p.emit(frame)
	p.bufferIndex = 0
}
