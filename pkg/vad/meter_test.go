package vad

import (
	"math"
	"testing"
)

func TestMeasure(t *testing.T) {
	tests := []struct {
		name       string
		samples    []int16
		wantVolume float64
		wantPeak   float64
	}{
		{"empty", nil, 0, 0},
		{"silence", make([]int16, 100), 0, 0},
		{"full scale clamps", []int16{-32768, -32768}, 100, 128},
		{"quarter scale", []int16{8192, -8192}, 50, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Measure(tt.samples)
			if math.Abs(got.Volume-tt.wantVolume) > 1e-9 || math.Abs(got.Peak-tt.wantPeak) > 1e-9 {
				t.Errorf("Measure = %+v, want volume %v peak %v", got, tt.wantVolume, tt.wantPeak)
			}
		})
	}
}

func TestMeterLatestWins(t *testing.T) {
	m := NewMeter()
	if m.Level() != (Level{}) {
		t.Error("new meter should be silent")
	}
	m.Write([]int16{8192})
	m.Write([]int16{0})
	if m.Level().Volume != 0 {
		t.Errorf("Level = %+v, want latest (silent)", m.Level())
	}
}
