// Package playback schedules decoded audio chunks back to back against a
// playback clock so separately delivered chunks play without gaps or overlap.
package playback

import (
	"sync"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"
)

// Clock reports the current time of a playback context.
type Clock interface {
	Now() time.Duration
}

// Source is a chunk that has been handed to an Output.
type Source interface {
	// Stop cancels playback. The ended callback is not invoked afterwards.
	Stop()
}

// Output plays chunks at absolute clock times. ended must be called exactly
// once when playback of the chunk finishes, and never from within Start.
type Output interface {
	Start(chunk pcm.Chunk, at time.Duration, ended func()) (Source, error)
}

// Scheduler owns the playback cursor and the set of chunks that have not
// finished playing.
type Scheduler struct {
	mu      sync.Mutex
	clock   Clock
	out     Output
	cursor  time.Duration
	nextID  uint64
	pending map[uint64]Source
}

// NewScheduler returns a scheduler with the cursor at zero.
func NewScheduler(clock Clock, out Output) *Scheduler {
	return &Scheduler{
		clock:   clock,
		out:     out,
		pending: make(map[uint64]Source),
	}
}

// Schedule starts chunk at max(clock, cursor) and advances the cursor by the
// chunk duration. It returns the start time.
func (s *Scheduler) Schedule(chunk pcm.Chunk) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.clock.Now()
	if s.cursor > start {
		start = s.cursor
	}

	s.nextID++
	id := s.nextID
	src, err := s.out.Start(chunk, start, func() { s.release(id) })
	if err != nil {
		return 0, err
	}
	s.pending[id] = src
	s.cursor = start + chunk.Duration()
	return start, nil
}

// Interrupt stops every chunk that has not finished and resets the cursor so
// the next chunk starts immediately.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, src := range s.pending {
		src.Stop()
		delete(s.pending, id)
	}
	s.cursor = 0
}

// Close is Interrupt; the scheduler stays usable.
func (s *Scheduler) Close() {
	s.Interrupt()
}

// Pending reports how many chunks are scheduled or playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Cursor returns the next free playback slot.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Scheduler) release(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}
