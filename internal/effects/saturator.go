package effects

import "math"

// Saturator soft clips the bus with tanh waveshaping and blends the result
// with the dry signal. An optional lowpass tames the added harmonics.
type Saturator struct {
	drive    float32
	mix      float32
	norm     float32
	lpfAlpha float32
	lpfL     float32
	lpfR     float32
}

// NewSaturator builds a saturator. drive > 1 pushes harder into the curve,
// mix is the wet share in [0,1], toneHz is the lowpass cutoff (0 disables it).
func NewSaturator(sampleRate int, drive, mix, toneHz float64) *Saturator {
	if drive <= 0 {
		drive = 1
	}
	mix = math.Max(0, math.Min(1, mix))
	return &Saturator{
		drive:    float32(drive),
		mix:      float32(mix),
		norm:     float32(1 / math.Tanh(drive)),
		lpfAlpha: onePoleAlpha(sampleRate, toneHz),
	}
}

func (s *Saturator) Process(l, r float32) (float32, float32) {
	wl := s.shape(l)
	wr := s.shape(r)
	if s.lpfAlpha > 0 {
		s.lpfL += s.lpfAlpha * (wl - s.lpfL)
		s.lpfR += s.lpfAlpha * (wr - s.lpfR)
		wl, wr = s.lpfL, s.lpfR
	}
	dry := 1 - s.mix
	return l*dry + wl*s.mix, r*dry + wr*s.mix
}

// shape is normalised so a full scale input stays at full scale.
func (s *Saturator) shape(x float32) float32 {
	return float32(math.Tanh(float64(x*s.drive))) * s.norm
}

func (s *Saturator) Reset() {
	s.lpfL = 0
	s.lpfR = 0
}
