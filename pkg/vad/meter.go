package vad

import (
	"math"
	"sync"
)

// Meter is a LevelSource fed with PCM16 chunks.
type Meter struct {
	mu    sync.Mutex
	level Level
}

// NewMeter returns a silent meter.
func NewMeter() *Meter {
	return &Meter{}
}

// Write updates the level from samples: volume = min(100, rms*200) with
// rms over samples normalised to [-1, 1]; peak is the largest absolute
// sample scaled to 0-128.
func (m *Meter) Write(samples []int16) {
	lvl := Measure(samples)
	m.mu.Lock()
	m.level = lvl
	m.mu.Unlock()
}

// Level implements LevelSource.
func (m *Meter) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Measure computes a Level for samples.
func Measure(samples []int16) Level {
	if len(samples) == 0 {
		return Level{}
	}
	var sum float64
	var peak int
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
		a := int(s)
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return Level{
		Volume: math.Min(100, rms*200),
		Peak:   float64(peak) * 128 / 32768,
	}
}
