package pcm

import "math"

// Resampler converts a continuous mono stream between sample rates with
// linear interpolation. Frames may have any length; interpolation state is
// carried across calls so frame boundaries are seamless.
type Resampler struct {
	step        float64
	pos         float64
	prev        float32
	passthrough bool
}

// NewResampler builds a resampler from inRate to outRate. Non-positive or
// equal rates produce a pass-through resampler.
func NewResampler(inRate, outRate int) *Resampler {
	if inRate <= 0 || outRate <= 0 || inRate == outRate {
		return &Resampler{passthrough: true}
	}
	return &Resampler{step: float64(inRate) / float64(outRate)}
}

// Process consumes one frame and returns the samples due at the output rate.
func (r *Resampler) Process(in []float32) []float32 {
	if r.passthrough {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	n := len(in)
	if n == 0 {
		return nil
	}

	last := float64(n - 1)
	out := make([]float32, 0, int(math.Ceil(float64(n)/r.step))+1)
	for r.pos <= last {
		i := int(math.Floor(r.pos))
		frac := float32(r.pos - float64(i))
		a := r.at(in, i)
		b := a
		if i+1 <= n-1 {
			b = in[i+1]
		}
		out = append(out, a+(b-a)*frac)
		r.pos += r.step
	}
	r.pos -= float64(n)
	r.prev = in[n-1]
	return out
}

// at reads index i of the current frame; index -1 is the last sample of the
// previous frame.
func (r *Resampler) at(in []float32, i int) float32 {
	if i < 0 {
		return r.prev
	}
	return in[i]
}
