package link

import (
	"fmt"
	"strings"
)

// Track is a particle followed across frames.
type Track struct {
	ID       int
	Pos      []float64 // last observed position
	Frame    int       // last frame the particle was observed in
	Velocity []float64 // per-frame displacement between the last two observations
}

// observe moves the track to pos at frame f and updates its velocity.
func (tr *Track) observe(pos []float64, f int) {
	dt := float64(f - tr.Frame)
	for i := range pos {
		tr.Velocity[i] = (pos[i] - tr.Pos[i]) / dt
	}
	copy(tr.Pos, pos)
	tr.Frame = f
}

// Predictor estimates where a track will be found in a later frame.
type Predictor interface {
	Predict(tr *Track, frameIdx int) []float64
}

// NullPredictor expects particles to stay where they were last seen.
type NullPredictor struct{}

func (NullPredictor) Predict(tr *Track, _ int) []float64 {
	return tr.Pos
}

// VelocityPredictor extrapolates each track with its last observed
// velocity.
type VelocityPredictor struct{}

func (VelocityPredictor) Predict(tr *Track, frameIdx int) []float64 {
	dt := float64(frameIdx - tr.Frame)
	out := make([]float64, len(tr.Pos))
	for i := range out {
		out[i] = tr.Pos[i] + tr.Velocity[i]*dt
	}
	return out
}

// ParsePredictor parses "none" or "velocity". Empty selects none.
func ParsePredictor(s string) (Predictor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "null":
		return NullPredictor{}, nil
	case "velocity":
		return VelocityPredictor{}, nil
	default:
		return nil, fmt.Errorf("unknown predictor %q", s)
	}
}
