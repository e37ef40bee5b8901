// Package flow estimates dense optical flow between frames and aligns a pair
// of opposing flows to an intermediate time.
package flow

import (
	"fmt"
	"math"

	"github.com/Zelak312/rsgs/tensor"
)

// Estimator returns the flow (B,2,H,W) from frame a to frame b, both (B,C,H,W).
// Warping b by the result approximates a.
type Estimator interface {
	Estimate(a, b *tensor.Tensor) (*tensor.Tensor, error)
}

// Aligner turns the flows between two frames into flows from an intermediate
// time t (B,1,H,W) back to the first and second frame.
type Aligner interface {
	Align(fwd, bwd, t *tensor.Tensor) (toStart, toEnd *tensor.Tensor, err error)
}

func checkPair(a, b *tensor.Tensor) error {
	if a.Rank() != 4 || !tensor.SameShape(a, b) {
		return fmt.Errorf("flow: frames %v and %v must be matching rank 4 tensors", a.Shape(), b.Shape())
	}
	return nil
}

// Zero reports no motion.
type Zero struct{}

func (Zero) Estimate(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	return tensor.New(a.Dim(0), 2, a.Dim(2), a.Dim(3)), nil
}

// BlockMatch searches integer displacements within Radius pixels that minimise
// the sum of absolute differences over Block×Block tiles. Samples past the
// frame edge are clamped.
type BlockMatch struct {
	Radius int
	Block  int
}

func (m BlockMatch) Estimate(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	block := m.Block
	if block < 1 {
		block = 8
	}
	s := a.Shape()
	n, c, h, w := s[0], s[1], s[2], s[3]
	ad, bd := a.Data(), b.Data()
	out := tensor.New(n, 2, h, w)
	od := out.Data()

	at := func(data []float64, bi, ch, y, x int) float64 {
		y = min(max(y, 0), h-1)
		x = min(max(x, 0), w-1)
		return data[((bi*c+ch)*h+y)*w+x]
	}

	for bi := 0; bi < n; bi++ {
		for by := 0; by < h; by += block {
			for bx := 0; bx < w; bx += block {
				bestX, bestY := 0, 0
				best := math.Inf(1)
				for dy := -m.Radius; dy <= m.Radius; dy++ {
					for dx := -m.Radius; dx <= m.Radius; dx++ {
						sad := 0.0
						for y := by; y < min(by+block, h); y++ {
							for x := bx; x < min(bx+block, w); x++ {
								for ch := 0; ch < c; ch++ {
									sad += math.Abs(at(ad, bi, ch, y, x) - at(bd, bi, ch, y+dy, x+dx))
								}
							}
						}
						// ties keep the shortest displacement
						if sad < best || (sad == best && dx*dx+dy*dy < bestX*bestX+bestY*bestY) {
							best, bestX, bestY = sad, dx, dy
						}
					}
				}
				for y := by; y < min(by+block, h); y++ {
					for x := bx; x < min(bx+block, w); x++ {
						od[((bi*2)*h+y)*w+x] = float64(bestX)
						od[((bi*2+1)*h+y)*w+x] = float64(bestY)
					}
				}
			}
		}
	}
	return out, nil
}

// Linear aligns flows under a constant velocity assumption:
//
//	ft0 = -(1-t)·t·f01 + t²·f10
//	ft1 = (1-t)²·f01 - t·(1-t)·f10
type Linear struct{}

func (Linear) Align(fwd, bwd, t *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if fwd.Rank() != 4 || fwd.Dim(1) != 2 || !tensor.SameShape(fwd, bwd) {
		return nil, nil, fmt.Errorf("flow: cannot align %v with %v", fwd.Shape(), bwd.Shape())
	}
	if t.Rank() != 4 || t.Dim(1) != 1 {
		return nil, nil, fmt.Errorf("flow: time map must be (B,1,H,W), got %v", t.Shape())
	}

	rest := t.OneMinus()
	cross := tensor.Mul(rest, t)
	toStart := tensor.Add(tensor.Mul(cross.Scale(-1), fwd), tensor.Mul(tensor.Mul(t, t), bwd))
	toEnd := tensor.Sub(tensor.Mul(tensor.Mul(rest, rest), fwd), tensor.Mul(cross, bwd))
	return toStart, toEnd, nil
}
