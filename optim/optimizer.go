// Package optim updates generator parameters: adaptive optimizers, learning
// rate schedules, tag based parameter groups and the freeze schedule.
package optim

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Zelak312/rsgs/network"
	"github.com/Zelak312/rsgs/tensor"
)

// ErrUnsupported is returned for unknown optimizer or scheduler types.
var ErrUnsupported = errors.New("unsupported type")

// Group is a set of parameters sharing a learning rate multiplier.
type Group struct {
	Params []*network.Param
	Mul    float64
	LR     float64
}

// Optimizer applies the gradients held by its groups' parameters.
type Optimizer interface {
	// Step updates every unfrozen parameter from its gradient.
	Step()
	Groups() []*Group
	// SetLR sets each group's rate to lr times its multiplier.
	SetLR(lr float64)
	State() map[string]*tensor.Tensor
	LoadState(state map[string]*tensor.Tensor) error
	Name() string
}

// Options selects and configures an optimizer.
type Options struct {
	Type        string
	LR          float64
	Betas       [2]float64
	WeightDecay float64
}

// New builds the optimizer named by opts.Type: adam, adamw or adamax.
func New(opts Options, groups []*Group) (Optimizer, error) {
	betas := opts.Betas
	if betas == [2]float64{} {
		betas = [2]float64{0.9, 0.999}
	}

	var kind adaptiveKind
	wd := opts.WeightDecay
	switch strings.ToLower(opts.Type) {
	case "adam":
		kind = kindAdam
	case "adamw":
		kind = kindAdamW
		wd = 0.01
	case "adamax":
		kind = kindAdaMax
		wd = 0
	default:
		return nil, fmt.Errorf("optimizer %q: %w", opts.Type, ErrUnsupported)
	}

	o := &Adaptive{
		kind:        kind,
		groups:      groups,
		beta1:       betas[0],
		beta2:       betas[1],
		eps:         1e-8,
		weightDecay: wd,
		m:           make(map[string][]float64),
		v:           make(map[string][]float64),
	}
	o.SetLR(opts.LR)
	return o, nil
}

type adaptiveKind int

const (
	kindAdam adaptiveKind = iota
	kindAdamW
	kindAdaMax
)

// Adaptive implements Adam (L2 weight decay), AdamW (decoupled weight decay)
// and AdaMax (infinity norm second moment).
type Adaptive struct {
	kind        adaptiveKind
	groups      []*Group
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int

	// first moment estimates
	m map[string][]float64
	// second moment estimates, or the weighted infinity norm for AdaMax
	v map[string][]float64
}

func (o *Adaptive) Groups() []*Group { return o.groups }

func (o *Adaptive) SetLR(lr float64) {
	for _, g := range o.groups {
		g.LR = lr * g.Mul
	}
}

func (o *Adaptive) Name() string {
	switch o.kind {
	case kindAdamW:
		return "AdamW"
	case kindAdaMax:
		return "AdaMax"
	default:
		return "Adam"
	}
}

func (o *Adaptive) Step() {
	o.step++
	bias1 := 1 - math.Pow(o.beta1, float64(o.step))
	bias2 := 1 - math.Pow(o.beta2, float64(o.step))

	for _, g := range o.groups {
		for _, p := range g.Params {
			if p.Frozen {
				continue
			}
			w := p.Value.Data()
			grad := p.Grad.Data()
			m, v := o.moments(p.Name, len(w))

			if o.kind == kindAdamW {
				for i := range w {
					w[i] *= 1 - g.LR*o.weightDecay
				}
			}
			for i := range w {
				gi := grad[i]
				if o.kind == kindAdam {
					gi += o.weightDecay * w[i]
				}
				m[i] = o.beta1*m[i] + (1-o.beta1)*gi

				if o.kind == kindAdaMax {
					v[i] = math.Max(o.beta2*v[i], math.Abs(gi)+o.eps)
					w[i] -= g.LR / bias1 * m[i] / v[i]
					continue
				}
				v[i] = o.beta2*v[i] + (1-o.beta2)*gi*gi
				w[i] -= g.LR * (m[i] / bias1) / (math.Sqrt(v[i]/bias2) + o.eps)
			}
		}
	}
}

func (o *Adaptive) moments(name string, n int) ([]float64, []float64) {
	if o.m[name] == nil {
		o.m[name] = make([]float64, n)
		o.v[name] = make([]float64, n)
	}
	return o.m[name], o.v[name]
}

// State exports the step count and moments as tensors.
func (o *Adaptive) State() map[string]*tensor.Tensor {
	state := map[string]*tensor.Tensor{
		"step": tensor.FromSlice([]float64{float64(o.step)}, 1),
	}
	for name, m := range o.m {
		state["m/"+name] = tensor.FromSlice(append([]float64(nil), m...), len(m))
		state["v/"+name] = tensor.FromSlice(append([]float64(nil), o.v[name]...), len(m))
	}
	return state
}

func (o *Adaptive) LoadState(state map[string]*tensor.Tensor) error {
	step, ok := state["step"]
	if !ok || step.Len() != 1 {
		return errors.New("optim: state has no step count")
	}

	m := make(map[string][]float64)
	v := make(map[string][]float64)
	for key, t := range state {
		switch {
		case strings.HasPrefix(key, "m/"):
			m[key[2:]] = append([]float64(nil), t.Data()...)
		case strings.HasPrefix(key, "v/"):
			v[key[2:]] = append([]float64(nil), t.Data()...)
		}
	}
	for name := range m {
		if len(v[name]) != len(m[name]) {
			return fmt.Errorf("optim: moments of %q do not match", name)
		}
	}

	o.step = int(step.Data()[0])
	o.m, o.v = m, v
	return nil
}
