package model

import (
	"fmt"

	"github.com/Zelak312/rsgs/network"
	"github.com/Zelak312/rsgs/tensor"
	"github.com/Zelak312/rsgs/timemap"
	"github.com/Zelak312/rsgs/warp"
)

// TrainOutput holds everything the training forward pass produces.
type TrainOutput struct {
	// Input is the cropped rolling shutter stack (B,N,3,h,w).
	Input *tensor.Tensor
	// Anchors is the generator output reshaped to (B,3,3,h,w).
	Anchors *tensor.Tensor
	// Packed is the generator output as (B,9,h,w).
	Packed *tensor.Tensor
	// Boundary is the teacher's output on the uncropped input, cropped the
	// same way. It is nil without a teacher.
	Boundary *tensor.Tensor
	Flows    []*tensor.Tensor

	WholeForward *tensor.Tensor
	WholeReverse *tensor.Tensor
	MidForward   *tensor.Tensor
	MidReverse   *tensor.Tensor
}

// pairFlows are the flows between anchors, keyed by {i, j} for i→j.
type pairFlows map[[2]int]*tensor.Tensor

func (m *Model) cropBorder(t *tensor.Tensor) *tensor.Tensor {
	d := m.opts.DiffPatch / 2
	if d == 0 {
		return t
	}
	return t.Window(d, d, t.Dim(-2)-2*d, t.Dim(-1)-2*d)
}

// packTimes flattens a (B,6,1,H,W) time stack to (B,6,H,W).
func packTimes(t *tensor.Tensor) (*tensor.Tensor, error) {
	switch {
	case t.Rank() == 5 && t.Dim(1)*t.Dim(2) == network.TimeChannels:
		return t.Reshape(t.Dim(0), network.TimeChannels, t.Dim(3), t.Dim(4)), nil
	case t.Rank() == 4 && t.Dim(1) == network.TimeChannels:
		return t, nil
	default:
		return nil, fmt.Errorf("model: time stack %v is not (B,6,1,H,W)", t.Shape())
	}
}

func packFrames(l *tensor.Tensor) *tensor.Tensor {
	s := l.Shape()
	return l.Reshape(s[0], s[1]*s[2], s[3], s[4])
}

func checkAnchors(e *tensor.Tensor) error {
	if e.Rank() != 4 || e.Dim(1) != network.AnchorChannels {
		return fmt.Errorf("%w: got %v", ErrAnchorChannels, e.Shape())
	}
	return nil
}

// ForwardTrain runs the generator on the cropped batch and rebuilds both
// rolling shutter frames from its three anchors.
func (m *Model) ForwardTrain(b *Batch) (*TrainOutput, error) {
	if b.L.Rank() != 5 || b.L.Dim(1) != m.opts.InputFrames || b.L.Dim(2) != 3 {
		return nil, fmt.Errorf("model: expected (B,%d,3,H,W) frames, got %v", m.opts.InputFrames, b.L.Shape())
	}
	times, err := packTimes(b.Times)
	if err != nil {
		return nil, err
	}

	input := m.cropBorder(b.L)
	packed, flows, err := m.netG.Forward(packFrames(input), m.cropBorder(times))
	if err != nil {
		return nil, fmt.Errorf("model: generator: %w", err)
	}
	if err := checkAnchors(packed); err != nil {
		return nil, err
	}
	anchors := packed.Reshape(packed.Dim(0), 3, 3, packed.Dim(2), packed.Dim(3))

	out := &TrainOutput{Input: input, Anchors: anchors, Packed: packed, Flows: flows}
	if m.netE != nil {
		boundary, _, err := m.netE.Forward(packFrames(b.L), times)
		if err != nil {
			return nil, fmt.Errorf("model: teacher: %w", err)
		}
		if err := checkAnchors(boundary); err != nil {
			return nil, err
		}
		out.Boundary = m.cropBorder(boundary)
	}

	e := [3]*tensor.Tensor{anchors.Select(1, 0), anchors.Select(1, 1), anchors.Select(1, 2)}
	fl := make(pairFlows, 6)
	for _, p := range [][2]int{{0, 2}, {2, 0}, {0, 1}, {1, 0}, {1, 2}, {2, 1}} {
		f, err := m.estimator.Estimate(e[p[0]], e[p[1]])
		if err != nil {
			return nil, fmt.Errorf("model: flow %d→%d: %w", p[0], p[1], err)
		}
		fl[p] = f
	}

	if b.Encodings.Rank() != 6 || b.Encodings.Dim(1) != 4 || b.Encodings.Dim(2) != 3 {
		return nil, fmt.Errorf("model: encodings %v are not (B,4,3,1,H,W)", b.Encodings.Shape())
	}
	// each direction holds a mid group followed by a whole group
	groups := m.cropBorder(b.Encodings).Chunk(1, 2)
	var whole, mid [2]*tensor.Tensor
	for i, enc := range groups {
		t := enc.Select(1, timemap.GroupWholeForward).Select(1, timemap.RoleWhole)
		whole[i], err = m.blend(e[0], e[2], fl[[2]int{0, 2}], fl[[2]int{2, 0}], t)
		if err != nil {
			return nil, err
		}
		mid[i], err = m.blendMid(e, fl, enc.Select(1, timemap.GroupMidForward))
		if err != nil {
			return nil, err
		}
	}
	out.WholeForward, out.WholeReverse = whole[0], whole[1]
	out.MidForward, out.MidReverse = mid[0], mid[1]
	return out, nil
}

// blend warps a and z to time t and mixes them: (1-t)·a_t + t·z_t.
func (m *Model) blend(a, z, fwd, bwd, t *tensor.Tensor) (*tensor.Tensor, error) {
	toStart, toEnd, err := m.aligner.Align(fwd, bwd, t)
	if err != nil {
		return nil, fmt.Errorf("model: align: %w", err)
	}
	return tensor.Add(
		tensor.Mul(t.OneMinus(), warp.Warp(a, toStart)),
		tensor.Mul(t, warp.Warp(z, toEnd)),
	), nil
}

// blendMid rebuilds a frame from anchors 0,1 where mask is set and from
// anchors 1,2 elsewhere. mid is (B,3,1,H,W) holding the up time, the down
// time and the mask.
func (m *Model) blendMid(e [3]*tensor.Tensor, fl pairFlows, mid *tensor.Tensor) (*tensor.Tensor, error) {
	up := mid.Select(1, timemap.RoleMidUp)
	down := mid.Select(1, timemap.RoleMidDown)
	mask := mid.Select(1, timemap.RoleMask)

	upper, err := m.blend(e[0], e[1], fl[[2]int{0, 1}], fl[[2]int{1, 0}], up)
	if err != nil {
		return nil, err
	}
	lower, err := m.blend(e[1], e[2], fl[[2]int{1, 2}], fl[[2]int{2, 1}], down)
	if err != nil {
		return nil, err
	}
	return tensor.Add(tensor.Mul(upper, mask), tensor.Mul(lower, mask.OneMinus())), nil
}
