package lull

import (
	"context"
	"sync"

	"github.com/ent0n29/aspen/internal/audio"
)

const (
	energyAlpha     = 0.3
	energyMinVolume = 0.01
	energyMaxRMS    = 0.3
)

// EnergyScorer maps smoothed frame RMS to a speech probability. It is the default
// scorer when no acoustic model is configured.
type EnergyScorer struct {
	mu        sync.Mutex
	alpha     float64
	minVolume float64
	smoothed  float64
}

func NewEnergyScorer(minVolume float64) *EnergyScorer {
	if minVolume <= 0 || minVolume >= energyMaxRMS {
		minVolume = energyMinVolume
	}
	return &EnergyScorer{alpha: energyAlpha, minVolume: minVolume}
}

func (s *EnergyScorer) Score(_ context.Context, f audio.Frame) (float64, error) {
	rms := audio.RMS(f.Samples)

	s.mu.Lock()
	s.smoothed = s.alpha*rms + (1-s.alpha)*s.smoothed
	smoothed := s.smoothed
	s.mu.Unlock()

	if smoothed <= s.minVolume {
		return 0, nil
	}
	p := (smoothed - s.minVolume) / (energyMaxRMS - s.minVolume)
	if p > 1 {
		return 1, nil
	}
	return p, nil
}
