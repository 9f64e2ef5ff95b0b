package train

// GradScaler implements dynamic loss scaling for the reduced-precision
// forward pass. The loss gradient is multiplied by the current scale before
// backpropagation; after unscaling, an overflow halves the scale and skips
// the optimizer step, while a run of good steps doubles it again.
type GradScaler struct {
	scale          float64
	growthInterval int
	goodSteps      int
}

const (
	initialScale = 65536
	minScale     = 1
	maxScale     = 1 << 24
)

// NewGradScaler returns a scaler that doubles after growthInterval
// consecutive non-overflowing steps.
func NewGradScaler(growthInterval int) *GradScaler {
	if growthInterval <= 0 {
		growthInterval = 100
	}
	return &GradScaler{scale: initialScale, growthInterval: growthInterval}
}

// Scale returns the current loss scale.
func (s *GradScaler) Scale() float64 { return s.scale }

// Update advances the scale after one step. overflowed reports whether the
// unscaled gradients held NaN or Inf; such steps must be skipped by the
// caller.
func (s *GradScaler) Update(overflowed bool) {
	if overflowed {
		s.goodSteps = 0
		s.scale *= 0.5
		if s.scale < minScale {
			s.scale = minScale
		}
		return
	}
	s.goodSteps++
	if s.goodSteps >= s.growthInterval {
		s.goodSteps = 0
		s.scale *= 2
		if s.scale > maxScale {
			s.scale = maxScale
		}
	}
}
