package tts

import "context"

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	Text  string
	Voice string
}

// SynthChunk contains 16-bit little-endian PCM, or encoded audio when
// MIMEType is set to anything but a raw PCM type.
type SynthChunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	MIMEType   string
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio. Both channels are closed
// when synthesis ends.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
