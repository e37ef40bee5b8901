// Package loss implements the training losses and parses weighted loss lists
// such as "1*Charbonnier|0.1*EPE".
package loss

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/Zelak312/rsgs/tensor"
)

// CharbonnierEps is added under the square root of the Charbonnier loss.
const CharbonnierEps = 1e-9

// epeEps keeps the end-point error differentiable at zero.
const epeEps = 1e-6

// Kind says which tensors a loss is applied to.
type Kind int

const (
	// Pixel losses compare reconstructed frames with their targets.
	Pixel Kind = iota
	// Endpoint losses compare flow diagnostics with target flows.
	Endpoint
	// Smoothness losses regularise flow diagnostics on their own.
	Smoothness
)

// Func compares a prediction with a target. Smoothness losses ignore target.
type Func func(pred, target *tensor.Tensor) float64

// Term is one weighted entry of a loss list.
type Term struct {
	Name  string
	Ratio float64
	Kind  Kind
	Fn    Func
}

var ErrUnknownLoss = errors.New("unknown loss")

// Lookup resolves a loss by name, ignoring case.
func Lookup(name string) (Func, Kind, error) {
	switch n := strings.ToLower(name); {
	case strings.HasPrefix(n, "epe"):
		return EPE, Endpoint, nil
	case strings.HasPrefix(n, "variation"):
		return func(pred, _ *tensor.Tensor) float64 { return Variation(pred) }, Smoothness, nil
	case strings.HasPrefix(n, "charbonnier"):
		return Charbonnier, Pixel, nil
	case n == "l1":
		return L1, Pixel, nil
	case n == "l2", n == "mse":
		return L2, Pixel, nil
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownLoss, name)
	}
}

// Parse reads "ratio*name" entries separated by '|'. A bare name has ratio 1.
func Parse(s string) ([]Term, error) {
	var terms []Term
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		ratio := 1.0
		name := part
		if i := strings.Index(part, "*"); i >= 0 {
			r, err := strconv.ParseFloat(strings.TrimSpace(part[:i]), 64)
			if err != nil {
				return nil, fmt.Errorf("loss: bad ratio in %q: %w", part, err)
			}
			ratio, name = r, strings.TrimSpace(part[i+1:])
		}

		fn, kind, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		terms = append(terms, Term{Name: name, Ratio: ratio, Kind: kind, Fn: fn})
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("loss: no losses in %q", s)
	}
	return terms, nil
}

func diff(pred, target *tensor.Tensor) []float64 {
	if !tensor.SameShape(pred, target) {
		panic(fmt.Sprintf("loss: %v does not match %v", pred.Shape(), target.Shape()))
	}
	d := append([]float64(nil), pred.Data()...)
	floats.Sub(d, target.Data())
	return d
}

// Charbonnier is mean(sqrt((pred-target)² + eps)).
func Charbonnier(pred, target *tensor.Tensor) float64 {
	d := diff(pred, target)
	for i, v := range d {
		d[i] = math.Sqrt(v*v + CharbonnierEps)
	}
	return floats.Sum(d) / float64(len(d))
}

// L1 is the mean absolute error.
func L1(pred, target *tensor.Tensor) float64 {
	d := diff(pred, target)
	return floats.Norm(d, 1) / float64(len(d))
}

// L2 is the mean squared error.
func L2(pred, target *tensor.Tensor) float64 {
	d := diff(pred, target)
	return floats.Dot(d, d) / float64(len(d))
}

// EPE is the mean end-point error between flow fields (B,2k,H,W). A two
// channel target is compared against every channel pair of pred.
func EPE(pred, target *tensor.Tensor) float64 {
	b, c, h, w := pred.Dim(0), pred.Dim(1), pred.Dim(2), pred.Dim(3)
	p := pred.Reshape(b, c/2, 2, h, w)
	g := target.Reshape(target.Dim(0), target.Dim(1)/2, 2, target.Dim(2), target.Dim(3))
	d := tensor.Sub(p, g)

	dx := d.Select(2, 0).Data()
	dy := d.Select(2, 1).Data()
	sum := 0.0
	for i := range dx {
		sum += math.Sqrt(dx[i]*dx[i] + dy[i]*dy[i] + epeEps)
	}
	return sum / float64(len(dx))
}

// Variation is the mean absolute forward difference of x along both
// spatial axes.
func Variation(x *tensor.Tensor) float64 {
	h, w := x.Dim(-2), x.Dim(-1)
	total := 0.0
	if h > 1 {
		total += L1(x.Narrow(-2, 1, h-1), x.Narrow(-2, 0, h-1))
	}
	if w > 1 {
		total += L1(x.Narrow(-1, 1, w-1), x.Narrow(-1, 0, w-1))
	}
	return total
}
