// Package network defines the generator contract, its tagged parameters and
// a small reference generator.
package network

import (
	"fmt"

	"github.com/Zelak312/rsgs/tensor"
)

const (
	// TimeChannels is the number of packed time maps a generator receives.
	TimeChannels = 6
	// AnchorChannels is the number of output channels: three RGB anchors.
	AnchorChannels = 9
	// FlowChannels is the number of channels of each flow diagnostic.
	FlowChannels = 12
)

// Generator maps a frame stack (B,N*3,H,W) and packed time maps (B,6,H,W) to
// anchor frames (B,9,H,W) plus flow diagnostics (B,12,H,W).
type Generator interface {
	Forward(frames, times *tensor.Tensor) (*tensor.Tensor, []*tensor.Tensor, error)
	Params() *ParamSet
	// Clone returns an independent copy with the same weights.
	Clone() Generator
}

// flowPairs lists the frame pairs whose motion the diagnostics describe.
var flowPairs = [6][2]int{{0, 1}, {1, 0}, {1, 2}, {2, 1}, {0, 2}, {2, 0}}

// Mixer is a per-pixel linear generator. Each anchor is a weighted sum of
// the input frames shifted by a bias and by how far its scan time sits from
// the middle of the exposure.
type Mixer struct {
	frames int
	params *ParamSet
}

// NewMixer builds a Mixer for stacks of n frames. Anchor k starts out as a
// copy of frame min(k, n-1).
func NewMixer(n int) *Mixer {
	if n < 1 {
		panic("network: mixer needs at least one frame")
	}

	mix := tensor.New(3, n)
	for k := 0; k < 3; k++ {
		mix.Set(1, k, min(k, n-1))
	}

	ps := NewParamSet()
	ps.Add("mix", TagNone, mix)
	ps.Add("bias", TagNone, tensor.New(3))
	ps.Add("time_gain", TagNone, tensor.New(3))
	ps.Add("flow_head", TagFlow, tensor.New(FlowChannels))
	return &Mixer{frames: n, params: ps}
}

func (m *Mixer) Params() *ParamSet { return m.params }

func (m *Mixer) Clone() Generator {
	c := NewMixer(m.frames)
	for _, p := range m.params.All() {
		q, _ := c.params.Get(p.Name)
		copy(q.Value.Data(), p.Value.Data())
		q.Frozen = p.Frozen
	}
	return c
}

func (m *Mixer) value(name string) []float64 {
	p, _ := m.params.Get(name)
	return p.Value.Data()
}

func (m *Mixer) Forward(frames, times *tensor.Tensor) (*tensor.Tensor, []*tensor.Tensor, error) {
	if frames.Rank() != 4 || frames.Dim(1) != m.frames*3 {
		return nil, nil, fmt.Errorf("network: expected (B,%d,H,W) frames, got %v", m.frames*3, frames.Shape())
	}
	if times.Rank() != 4 || times.Dim(1) != TimeChannels || times.Dim(0) != frames.Dim(0) ||
		times.Dim(2) != frames.Dim(2) || times.Dim(3) != frames.Dim(3) {
		return nil, nil, fmt.Errorf("network: expected (B,%d,H,W) time maps, got %v", TimeChannels, times.Shape())
	}

	b, h, w := frames.Dim(0), frames.Dim(2), frames.Dim(3)
	hw := h * w
	in, tm := frames.Data(), times.Data()
	mix, bias, gain, head := m.value("mix"), m.value("bias"), m.value("time_gain"), m.value("flow_head")

	out := tensor.New(b, AnchorChannels, h, w)
	od := out.Data()
	for n := 0; n < b; n++ {
		for k := 0; k < 3; k++ {
			up := tm[(n*TimeChannels+k)*hw : (n*TimeChannels+k+1)*hw]
			down := tm[(n*TimeChannels+k+3)*hw : (n*TimeChannels+k+4)*hw]
			for c := 0; c < 3; c++ {
				dst := od[(n*AnchorChannels+k*3+c)*hw : (n*AnchorChannels+k*3+c+1)*hw]
				for f := 0; f < m.frames; f++ {
					wt := mix[k*m.frames+f]
					src := in[(n*m.frames*3+f*3+c)*hw : (n*m.frames*3+f*3+c+1)*hw]
					for i := range dst {
						dst[i] += wt * src[i]
					}
				}
				for i := range dst {
					dst[i] += bias[k] + gain[k]*((up[i]+down[i])/2-0.5)
				}
			}
		}
	}

	lum := make([][]float64, m.frames)
	diag := tensor.New(b, FlowChannels, h, w)
	dd := diag.Data()
	for n := 0; n < b; n++ {
		for f := range lum {
			lum[f] = make([]float64, hw)
			for c := 0; c < 3; c++ {
				src := in[(n*m.frames*3+f*3+c)*hw : (n*m.frames*3+f*3+c+1)*hw]
				for i, v := range src {
					lum[f][i] += v / 3
				}
			}
		}
		for j := 0; j < FlowChannels; j++ {
			pair := flowPairs[j/2]
			a, z := lum[pair[0]%m.frames], lum[pair[1]%m.frames]
			dst := dd[(n*FlowChannels+j)*hw : (n*FlowChannels+j+1)*hw]
			for i := range dst {
				dst[i] = head[j] * (a[i] - z[i])
			}
		}
	}
	return out, []*tensor.Tensor{diag}, nil
}
