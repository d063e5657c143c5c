package drums

import (
	"math"

	"github.com/cbegin/stepseq-go/internal/voice"
)

// floor is the level every amplitude envelope decays to before the voice ends.
const floor = 0.01

type drumVoice struct {
	active   bool
	track    voice.Track
	age      int
	length   int
	velocity float64
	open     bool
	pitch    float64

	phaseA float64
	phaseB float64
	lp     float64
	hp     float64
	bp     float64
}

func (v *drumVoice) duration() float64 {
	switch v.track {
	case voice.Kick:
		return 0.5
	case voice.Snare:
		return 0.15
	case voice.HiHat:
		if v.open {
			return 0.31
		}
		return 0.06
	case voice.Bass:
		return 0.3
	}
	return 0
}

func (e *Engine) render(v *drumVoice) float64 {
	if v.age >= v.length {
		v.active = false
		return 0
	}
	t := float64(v.age) / e.sampleRate
	v.age++
	switch v.track {
	case voice.Kick:
		return e.kick(v, t)
	case voice.Snare:
		return e.snare(v, t)
	case voice.HiHat:
		return e.hihat(v, t)
	case voice.Bass:
		return e.bass(v, t)
	}
	return 0
}

// kick: sine swept 150 -> 40 -> 30 Hz through a closing lowpass.
func (e *Engine) kick(v *drumVoice, t float64) float64 {
	var f float64
	if t < 0.05 {
		f = expRamp(150, 40, t, 0.05)
	} else {
		f = expRamp(40, 30, t-0.05, 0.05)
	}
	v.phaseA = advance(v.phaseA, f, e.sampleRate)
	x := math.Sin(twoPi * v.phaseA)
	v.lp += lowpassAlpha(expRamp(800, 100, t, 0.2), e.sampleRate) * (x - v.lp)
	return v.lp * expRamp(v.velocity, floor, t, 0.5)
}

// snare: two triangles for the body plus highpassed noise for the wires.
func (e *Engine) snare(v *drumVoice, t float64) float64 {
	var body float64
	if t < 0.1 {
		v.phaseA = advance(v.phaseA, 180, e.sampleRate)
		v.phaseB = advance(v.phaseB, 330, e.sampleRate)
		body = (triangle(v.phaseA) + triangle(v.phaseB)) * expRamp(v.velocity*0.3, floor, t, 0.1)
	}
	n := e.white()
	v.hp += lowpassAlpha(1000, e.sampleRate) * (n - v.hp)
	wires := (n - v.hp) * expRamp(v.velocity*0.7, floor, t, 0.15)
	return body + wires
}

// hihat: noise highpassed at 7 kHz then band limited around 10 kHz.
func (e *Engine) hihat(v *drumVoice, t float64) float64 {
	d := 0.05
	if v.open {
		d = 0.3
	}
	n := e.white()
	v.hp += lowpassAlpha(7000, e.sampleRate) * (n - v.hp)
	x := n - v.hp
	v.bp += lowpassAlpha(14000, e.sampleRate) * (x - v.bp)
	return v.bp * expRamp(v.velocity*0.6, floor, math.Min(t, d), d)
}

// bass: square dropping from 2x pitch to pitch to 0.8x through a lowpass.
func (e *Engine) bass(v *drumVoice, t float64) float64 {
	var f float64
	if t < 0.02 {
		f = expRamp(v.pitch*2, v.pitch, t, 0.02)
	} else {
		f = expRamp(v.pitch, v.pitch*0.8, t-0.02, 0.08)
	}
	v.phaseA = advance(v.phaseA, f, e.sampleRate)
	x := -1.0
	if v.phaseA < 0.5 {
		x = 1
	}
	v.lp += lowpassAlpha(expRamp(600, 200, t, 0.15), e.sampleRate) * (x - v.lp)
	return v.lp * 0.5 * expRamp(v.velocity*0.8, floor, t, 0.3)
}

// expRamp moves exponentially from a to b over d seconds and holds b after.
// A start of zero stays silent.
func expRamp(a, b, t, d float64) float64 {
	if a <= 0 {
		return 0
	}
	if t >= d {
		return b
	}
	if t <= 0 {
		return a
	}
	return a * math.Pow(b/a, t/d)
}

func advance(phase, freq, sampleRate float64) float64 {
	phase += freq / sampleRate
	if phase >= 1 {
		phase -= math.Floor(phase)
	}
	return phase
}

func triangle(phase float64) float64 {
	return 2*math.Abs(2*phase-1) - 1
}

func lowpassAlpha(cutoff, sampleRate float64) float64 {
	if cutoff >= sampleRate/2 {
		return 1
	}
	rc := 1.0 / (twoPi * cutoff)
	dt := 1.0 / sampleRate
	return dt / (rc + dt)
}
