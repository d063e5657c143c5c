package stepseq_test

import (
	"testing"

	stepseq "github.com/cbegin/stepseq-go"
)

func TestDrumSettingsFromAnotherPackage(t *testing.T) {
	p := stepseq.DefaultDrumParams()
	p.MaxVoices = 4
	p.Bus = false
	m, err := stepseq.NewMachine(48000, stepseq.WithDrumParams(p))
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	defer m.Destroy()
	var st *stepseq.DrumStats = m.Metrics().Synth
	if st == nil {
		t.Fatalf("metrics carry no synth stats")
	}
	if st.ActiveVoices != 0 || st.Pending != 0 {
		t.Fatalf("idle synth stats = %+v", *st)
	}
	if stepseq.DefaultBufferSize <= 0 {
		t.Fatalf("DefaultBufferSize = %v, want positive", stepseq.DefaultBufferSize)
	}
}
