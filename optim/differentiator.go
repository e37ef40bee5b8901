package optim

import (
	"fmt"

	"github.com/Zelak312/rsgs/network"
)

// Differentiator fills the Grad of params with the derivative of loss and
// returns the loss at the current values.
type Differentiator interface {
	Gradients(params []*network.Param, loss func() (float64, error)) (float64, error)
}

// FiniteDifference estimates gradients with central differences. It calls
// loss twice per scalar weight, so it suits small networks only.
type FiniteDifference struct {
	Step float64
}

func (d FiniteDifference) Gradients(params []*network.Param, loss func() (float64, error)) (float64, error) {
	h := d.Step
	if h <= 0 {
		h = 1e-4
	}

	base, err := loss()
	if err != nil {
		return 0, err
	}
	for _, p := range params {
		p.ZeroGrad()
		if p.Frozen {
			continue
		}
		w := p.Value.Data()
		grad := p.Grad.Data()
		for i := range w {
			orig := w[i]
			w[i] = orig + h
			up, err := loss()
			if err != nil {
				w[i] = orig
				return 0, fmt.Errorf("optim: gradient of %s: %w", p.Name, err)
			}
			w[i] = orig - h
			down, err := loss()
			w[i] = orig
			if err != nil {
				return 0, fmt.Errorf("optim: gradient of %s: %w", p.Name, err)
			}
			grad[i] = (up - down) / (2 * h)
		}
	}
	return base, nil
}
