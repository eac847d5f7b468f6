package live

import "github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"

const defaultQueueSize = 256

// frameQueue holds frames captured before the session opened. It is drained
// once on open and bypassed afterwards.
type frameQueue struct {
	frames  []pcm.Blob
	limit   int
	drained bool
}

func newFrameQueue(limit int) *frameQueue {
	if limit <= 0 {
		limit = defaultQueueSize
	}
	return &frameQueue{limit: limit}
}

// Push appends a frame. When full the oldest frame is dropped and false is
// returned.
func (q *frameQueue) Push(b pcm.Blob) bool {
	if len(q.frames) < q.limit {
		q.frames = append(q.frames, b)
		return true
	}
	copy(q.frames, q.frames[1:])
	q.frames[len(q.frames)-1] = b
	return false
}

// Drain returns the queued frames in capture order and marks the queue as
// flushed. Later calls return nil.
func (q *frameQueue) Drain() []pcm.Blob {
	if q.drained {
		return nil
	}
	q.drained = true
	frames := q.frames
	q.frames = nil
	return frames
}

func (q *frameQueue) Reset() {
	q.frames = nil
}
