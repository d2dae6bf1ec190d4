package sim

import (
	"math/rand"
	"sync"

	"codeberg.org/mutker/thrustbench/internal/loadcell"
)

// RigConfig describes a simulated thrust stand.
type RigConfig struct {
	// Gradients are the per-cell readings per gram of load.
	Gradients []float64
	// Zero is the reading of every cell with no load.
	Zero float64
	// ThrustPerThrottle2 is the total thrust in grams per throttle command
	// squared.
	ThrustPerThrottle2 float64
	// Noise is the standard deviation of reading noise.
	Noise float64
	Seed  int64
}

// Rig couples load cells to an ESC: cell readings follow the thrust the
// motor produces at the ESC's current throttle.
type Rig struct {
	ESC   *ESC
	Cells []*HX711

	cfg RigConfig
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRig builds a rig with one simulated converter per gradient.
func NewRig(cfg RigConfig, opts ...ESCOption) *Rig {
	if cfg.ThrustPerThrottle2 == 0 {
		cfg.ThrustPerThrottle2 = 0.0008
	}

	r := &Rig{
		ESC: NewESC(opts...),
		cfg: cfg,
		rnd: rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // simulation noise
	}

	for i := range cfg.Gradients {
		gradient := cfg.Gradients[i]
		r.Cells = append(r.Cells, NewHX711(func() uint32 {
			return loadcell.Encode(r.reading(gradient))
		}))
	}

	return r
}

// Thrust returns the total thrust in grams at the current throttle.
func (r *Rig) Thrust() float64 {
	t := float64(r.ESC.Throttle())
	return r.cfg.ThrustPerThrottle2 * t * t
}

func (r *Rig) reading(gradient float64) float64 {
	share := r.Thrust() / float64(len(r.cfg.Gradients))

	r.mu.Lock()
	noise := r.rnd.NormFloat64() * r.cfg.Noise
	r.mu.Unlock()

	return r.cfg.Zero + gradient*share + noise
}
