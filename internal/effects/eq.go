package effects

// EQ3Band splits the bus at two crossover points with one-pole filters and
// reweights the low, mid and high bands.
type EQ3Band struct {
	gains   [3]float32
	lpAlpha float32
	hpAlpha float32
	lp      [2]float32
	hp      [2]float32
}

// NewEQ3Band builds an EQ. Gains are linear (1 is unity); lowHz and highHz
// are the crossover frequencies.
func NewEQ3Band(sampleRate int, low, mid, high, lowHz, highHz float64) *EQ3Band {
	return &EQ3Band{
		gains:   [3]float32{float32(low), float32(mid), float32(high)},
		lpAlpha: onePoleAlpha(sampleRate, lowHz),
		hpAlpha: onePoleAlpha(sampleRate, highHz),
	}
}

func (eq *EQ3Band) Process(l, r float32) (float32, float32) {
	return eq.channel(0, l), eq.channel(1, r)
}

func (eq *EQ3Band) channel(ch int, x float32) float32 {
	eq.lp[ch] += eq.lpAlpha * (x - eq.lp[ch])
	eq.hp[ch] += eq.hpAlpha * (x - eq.hp[ch])
	low := eq.lp[ch]
	high := x - eq.hp[ch]
	mid := x - low - high
	return low*eq.gains[0] + mid*eq.gains[1] + high*eq.gains[2]
}

func (eq *EQ3Band) Reset() {
	eq.lp = [2]float32{}
	eq.hp = [2]float32{}
}
