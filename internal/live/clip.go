package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"
)

// DefaultClipWindow is the capture length of the fixed-window mode.
const DefaultClipWindow = 5 * time.Second

// ErrEmptyClip is returned when the window closed without any audio.
var ErrEmptyClip = errors.New("live: recorded clip is empty")

// RecordClip captures from mic for window, stops automatically and returns
// the recording as one 16 kHz PCM blob. Canceling ctx stops the capture early
// and returns ctx's error.
func RecordClip(ctx context.Context, mic Microphone, window time.Duration) (pcm.Blob, error) {
	if window <= 0 {
		window = DefaultClipWindow
	}
	capture, err := mic.Acquire(ctx)
	if err != nil {
		return pcm.Blob{}, &Error{Kind: ErrPermissionDenied, Err: err}
	}

	var (
		mu      sync.Mutex
		stopped bool
		data    []byte
	)
	encoder := pcm.NewEncoder(capture.SampleRate())
	err = capture.Start(func(samples []float32) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		data = append(data, encoder.Encode(samples).Data...)
	})
	if err != nil {
		capture.Stop()
		return pcm.Blob{}, &Error{Kind: ErrAudioDevice, Err: err}
	}

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	capture.Stop()

	mu.Lock()
	stopped = true
	clip := data
	mu.Unlock()

	if err := ctx.Err(); err != nil {
		return pcm.Blob{}, err
	}
	if len(clip) == 0 {
		return pcm.Blob{}, ErrEmptyClip
	}
	return pcm.Blob{MIMEType: pcm.MIMEType(pcm.CaptureSampleRate), Data: clip}, nil
}
