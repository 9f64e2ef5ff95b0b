// Package profile measures the static cost of a built network: trainable
// parameter count and the multiply-accumulate work of one inference pass.
package profile

import (
	"errors"
	"fmt"

	"nasfit/internal/model"
	"nasfit/internal/nn"
)

// ErrResourceProfiling marks a failed measurement. Callers report the
// sentinel value Unavailable for the affected metric and continue.
var ErrResourceProfiling = errors.New("profile: resource measurement failed")

// Unavailable is the reported value for a metric that could not be measured.
const Unavailable = -1

// CountParameters returns the trainable parameter count in millions. Frozen
// parameters are excluded.
func CountParameters(net nn.Network) float64 {
	var total int
	for _, p := range net.Params() {
		if p.Frozen {
			continue
		}
		total += p.Value.NumElems()
	}
	return float64(total) / 1e6
}

// EstimateFLOPs runs one single-example inference pass with
// multiply-accumulate counters attached to every compute-bearing layer and
// returns the total in millions. The pass runs in inference mode so no
// training state is disturbed; counters are detached before returning even
// on failure.
func EstimateFLOPs(net nn.Network, input model.Shape) (flops float64, err error) {
	if input.Channels <= 0 || input.Height <= 0 || input.Width <= 0 {
		return Unavailable, fmt.Errorf("%w: bad probe shape %dx%dx%d",
			ErrResourceProfiling, input.Channels, input.Height, input.Width)
	}

	var macs float64
	attach := func(counter *float64) {
		net.Walk(func(l nn.Layer) {
			if in, ok := l.(nn.Instrumented); ok {
				in.SetMACCounter(counter)
			}
		})
	}
	attach(&macs)
	defer attach(nil)

	defer func() {
		if r := recover(); r != nil {
			flops = Unavailable
			err = fmt.Errorf("%w: %v", ErrResourceProfiling, r)
		}
	}()

	probe := nn.NewTensor(1, input.Channels, input.Height, input.Width)
	net.Forward(probe, false)
	return macs / 1e6, nil
}
