// Package netbuild realizes decoded architectures as trainable networks.
package netbuild

import (
	"errors"
	"fmt"
	"math/rand"

	"nasfit/internal/model"
	"nasfit/internal/nn"
)

// ErrIncompatibleSpec marks an architecture that is well formed but cannot
// be realized against the evaluation setup (input shape, class count,
// channel progression).
var ErrIncompatibleSpec = errors.New("netbuild: architecture incompatible with evaluation setup")

// Build constructs a freshly initialized network for spec. Initialization is
// deterministic in hp.Seed.
func Build(spec model.ArchitectureSpec, hp model.HyperParameters, numClasses int, input model.Shape) (nn.Network, error) {
	hp = hp.Normalize()
	if numClasses < 2 {
		return nil, fmt.Errorf("%w: need at least 2 classes, got %d", ErrIncompatibleSpec, numClasses)
	}
	if input.Channels <= 0 || input.Height <= 0 || input.Width <= 0 {
		return nil, fmt.Errorf("%w: bad input shape %dx%dx%d", ErrIncompatibleSpec, input.Channels, input.Height, input.Width)
	}

	rng := rand.New(rand.NewSource(hp.Seed))
	switch {
	case spec.Micro != nil:
		return newMicroNetwork(spec.Micro, hp, numClasses, input, rng)
	case spec.Macro != nil:
		return newMacroNetwork(spec.Macro, hp, numClasses, input, rng)
	default:
		return nil, fmt.Errorf("%w: empty architecture", ErrIncompatibleSpec)
	}
}
