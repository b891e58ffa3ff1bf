package capture

import (
	"io"
)

// Mixer combines the audio signals of one or more streams into a single
// mono signal using unity-gain summing. Sources that reach EOF are dropped;
// the mix ends when every source has ended.
type Mixer struct {
	sources []BlockReader
	scratch []float32
}

// NewMixer creates a mixer over the given streams. Nil streams are skipped;
// at least one live source is required.
func NewMixer(streams ...*Stream) (*Mixer, error) {
	var sources []BlockReader
	for _, s := range streams {
		if s == nil || s.Reader == nil {
			continue
		}
		sources = append(sources, s.Reader)
	}

	if len(sources) == 0 {
		return nil, ErrNoAudioSource
	}

	return &Mixer{sources: sources}, nil
}

// SourceCount returns the number of sources still contributing to the mix
func (m *Mixer) SourceCount() int {
	return len(m.sources)
}

// ReadBlock fills dst with the unity-gain sum of all remaining sources.
// Sources delivering fewer samples than requested contribute what they have.
func (m *Mixer) ReadBlock(dst []float32) (int, error) {
	if len(m.sources) == 0 {
		return 0, io.EOF
	}

	for i := range dst {
		dst[i] = 0
	}

	if cap(m.scratch) < len(dst) {
		m.scratch = make([]float32, len(dst))
	}
	scratch := m.scratch[:len(dst)]

	maxRead := 0
	live := m.sources[:0]
	for _, src := range m.sources {
		n, err := src.ReadBlock(scratch)
		for i := 0; i < n; i++ {
			dst[i] += scratch[i]
		}
		if n > maxRead {
			maxRead = n
		}

		if err == nil {
			live = append(live, src)
		} else if err != io.EOF {
			return maxRead, err
		}
	}
	m.sources = live

	if maxRead == 0 && len(m.sources) == 0 {
		return 0, io.EOF
	}

	return maxRead, nil
}
