// Package effects holds the stereo master bus processors applied after the
// drum voices are summed.
package effects

import "math"

// Effector processes one stereo frame.
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Chain applies a sequence of effects in order.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	return &Chain{effects: effects}
}

func (c *Chain) Process(l, r float32) (float32, float32) {
	for _, e := range c.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

// ProcessBuffer runs the chain over interleaved stereo samples in place.
func (c *Chain) ProcessBuffer(dst []float32) {
	if c == nil || len(c.effects) == 0 {
		return
	}
	for i := 0; i+1 < len(dst); i += 2 {
		dst[i], dst[i+1] = c.Process(dst[i], dst[i+1])
	}
}

func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

func (c *Chain) Add(e Effector) {
	c.effects = append(c.effects, e)
}

func (c *Chain) Len() int { return len(c.effects) }

// onePoleAlpha is the smoothing coefficient of a one-pole lowpass at cutoff Hz.
func onePoleAlpha(sampleRate int, cutoff float64) float32 {
	if cutoff <= 0 || cutoff >= float64(sampleRate)/2 {
		return 0
	}
	rc := 1.0 / (2.0 * math.Pi * cutoff)
	dt := 1.0 / float64(sampleRate)
	return float32(dt / (rc + dt))
}

func dbToGain(db float64) float32 {
	return float32(math.Pow(10, db/20))
}
