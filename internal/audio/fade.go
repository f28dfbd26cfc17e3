package audio

import (
	"math"
	"sync/atomic"
)

// ramp is an armed envelope change. It is published as a single pointer so
// the consumer never sees a half-written (gain, target, delta) triple.
type ramp struct {
	setGain bool // start from gain instead of the current value
	gain    float32
	target  float32
	steps   int // samples to reach target; <= 0 jumps immediately
}

// Envelope is a per-sample linear gain ramp.
//
// Any goroutine may arm it (FadeIn, FadeOut, Reset). The real-time consumer
// adopts the newest armed ramp at the start of Apply and is the only writer
// of gain, target, delta and remaining afterwards.
type Envelope struct {
	pending atomic.Pointer[ramp]

	// consumer-owned
	gain      float32
	target    float32
	delta     float32
	remaining int

	// published for other goroutines
	gainBits atomic.Uint32
	fadingIn atomic.Bool
	complete atomic.Bool
}

// NewEnvelope returns an envelope at steady unity gain.
func NewEnvelope() *Envelope {
	e := &Envelope{gain: 1, target: 1}
	e.gainBits.Store(math.Float32bits(1))
	return e
}

// FadeIn arms a ramp from 0 to 1 over steps samples.
func (e *Envelope) FadeIn(steps int) {
	e.complete.Store(false)
	e.fadingIn.Store(true)
	e.pending.Store(&ramp{setGain: true, gain: 0, target: 1, steps: steps})
}

// FadeOut arms a ramp from the current gain to 0 over steps samples.
func (e *Envelope) FadeOut(steps int) {
	e.complete.Store(false)
	e.fadingIn.Store(false)
	e.pending.Store(&ramp{target: 0, steps: steps})
}

// Reset arms an immediate return to unity gain.
func (e *Envelope) Reset() {
	e.complete.Store(false)
	e.fadingIn.Store(false)
	e.pending.Store(&ramp{setGain: true, gain: 1, target: 1})
}

// TakeComplete reports whether a fade-out finished since the last call.
func (e *Envelope) TakeComplete() bool {
	return e.complete.Swap(false)
}

// FadingIn reports whether a ramp toward unity gain is in progress.
func (e *Envelope) FadingIn() bool {
	return e.fadingIn.Load()
}

// Gain returns the gain as of the end of the last processed block.
func (e *Envelope) Gain() float32 {
	return math.Float32frombits(e.gainBits.Load())
}

// Apply scales buf by vol and the envelope, advancing one step per sample.
// Consumer only.
func (e *Envelope) Apply(buf []float32, vol float32) {
	e.adopt()
	for i := range buf {
		buf[i] *= vol * e.gain
		if e.delta != 0 {
			e.step()
		}
	}
	e.publish()
}

// Skip advances the envelope by n samples without touching audio.
// Consumer only.
func (e *Envelope) Skip(n int) {
	e.adopt()
	if e.delta != 0 && n > 0 {
		if n >= e.remaining {
			e.remaining = 1
			e.step()
		} else {
			e.gain += e.delta * float32(n)
			e.remaining -= n
		}
	}
	e.publish()
}

func (e *Envelope) adopt() {
	r := e.pending.Swap(nil)
	if r == nil {
		return
	}
	if r.setGain {
		e.gain = r.gain
	}
	e.target = r.target
	e.delta = 0
	e.remaining = 0
	if r.steps <= 0 || e.gain == e.target {
		e.gain = e.target
		e.finish()
		return
	}
	e.remaining = r.steps
	e.delta = (e.target - e.gain) / float32(r.steps)
}

func (e *Envelope) step() {
	e.gain += e.delta
	e.remaining--
	if e.remaining <= 0 ||
		(e.delta < 0 && e.gain <= e.target) ||
		(e.delta > 0 && e.gain >= e.target) {
		e.gain = e.target
		e.finish()
	}
}

func (e *Envelope) finish() {
	e.delta = 0
	e.remaining = 0
	if e.target == 0 {
		e.complete.Store(true)
	}
	e.fadingIn.Store(false)
}

func (e *Envelope) publish() {
	e.gainBits.Store(math.Float32bits(e.gain))
}
