package effects

import "math"

// Compressor is a stereo-linked bus compressor: both channels share one
// envelope so transients do not shift the stereo image.
type Compressor struct {
	threshold float32
	ratio     float32
	attack    float32
	release   float32
	makeup    float32
	env       float32
	reduction float32
}

// NewCompressor builds a compressor. thresholdDB and makeupDB are in dB,
// attackMs and releaseMs are the envelope time constants.
func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float64) *Compressor {
	if ratio < 1 {
		ratio = 1
	}
	return &Compressor{
		threshold: dbToGain(thresholdDB),
		ratio:     float32(ratio),
		attack:    timeCoeff(sampleRate, attackMs),
		release:   timeCoeff(sampleRate, releaseMs),
		makeup:    dbToGain(makeupDB),
		reduction: 1,
	}
}

func timeCoeff(sampleRate int, ms float64) float32 {
	if ms <= 0 {
		return 1
	}
	return float32(1.0 - math.Exp(-1.0/(ms*float64(sampleRate)/1000.0)))
}

func (c *Compressor) Process(l, r float32) (float32, float32) {
	peak := float32(math.Max(math.Abs(float64(l)), math.Abs(float64(r))))
	if peak > c.env {
		c.env += c.attack * (peak - c.env)
	} else {
		c.env += c.release * (peak - c.env)
	}
	g := c.gain(c.env)
	c.reduction = g
	g *= c.makeup
	return l * g, r * g
}

func (c *Compressor) gain(env float32) float32 {
	if env <= c.threshold || c.threshold <= 0 {
		return 1
	}
	over := env / c.threshold
	return float32(math.Pow(float64(over), float64(1/c.ratio-1)))
}

// Reduction is the most recent gain factor before makeup, 1 meaning none.
func (c *Compressor) Reduction() float32 { return c.reduction }

func (c *Compressor) Reset() {
	c.env = 0
	c.reduction = 1
}
