package tts

import (
	"context"
	"math"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"
)

type mockSynth struct {
	sampleRate int
	channels   int
	duration   time.Duration
}

// NewMockSynth returns a synthesizer that answers every request with a short
// tone.
func NewMockSynth(sampleRate, channels int, duration time.Duration) Synthesizer {
	if duration <= 0 {
		duration = 400 * time.Millisecond
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels, duration: duration}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(10 * time.Millisecond):
		}
		chunks <- SynthChunk{
			Sequence:   0,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        pcm.Quantize(m.tone()),
			Final:      true,
		}
	}()
	return chunks, errs
}

func (m *mockSynth) tone() []float32 {
	frames := int(m.duration * time.Duration(m.sampleRate) / time.Second)
	out := make([]float32, frames*m.channels)
	for i := 0; i < frames; i++ {
		v := float32(0.2 * math.Sin(2*math.Pi*440*float64(i)/float64(m.sampleRate)))
		for c := 0; c < m.channels; c++ {
			out[i*m.channels+c] = v
		}
	}
	return out
}
