package playback

import (
	"sync"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"
)

// WallClock is a Clock that starts at zero when created.
type WallClock struct {
	origin time.Time
	now    func() time.Time
}

func NewWallClock() *WallClock {
	return &WallClock{origin: time.Now(), now: time.Now}
}

func (c *WallClock) Now() time.Duration {
	return c.now().Sub(c.origin)
}

// SendFunc delivers a chunk and its start time to a remote speaker.
type SendFunc func(id uint64, chunk pcm.Chunk, at time.Duration) error

// TimedOutput forwards chunks to a remote speaker that plays them on its own
// clock, and reports them ended when a timer for their end time fires.
type TimedOutput struct {
	clock Clock
	send  SendFunc

	mu     sync.Mutex
	nextID uint64
}

func NewTimedOutput(clock Clock, send SendFunc) *TimedOutput {
	return &TimedOutput{clock: clock, send: send}
}

func (o *TimedOutput) Start(chunk pcm.Chunk, at time.Duration, ended func()) (Source, error) {
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.mu.Unlock()

	if err := o.send(id, chunk, at); err != nil {
		return nil, err
	}
	wait := at + chunk.Duration() - o.clock.Now()
	if wait < 0 {
		wait = 0
	}
	return &timedSource{timer: time.AfterFunc(wait, ended)}, nil
}

type timedSource struct {
	timer *time.Timer
}

func (s *timedSource) Stop() {
	s.timer.Stop()
}
