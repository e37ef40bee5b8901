package model

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Zelak312/rsgs/network"
	"github.com/Zelak312/rsgs/pad"
	"github.com/Zelak312/rsgs/tensor"
	"github.com/Zelak312/rsgs/testmode"
)

// Infer extracts opts.Frames global shutter frames (B,F,3,H,W) from the
// batch. Each window between the first and last target time reruns the
// generator with the current target in time channels 1 and 4; the first
// window contributes anchors 0 and 1, the last anchors 1 and 2 and every
// other window anchor 1.
func (m *Model) Infer(b *Batch) (*tensor.Tensor, error) {
	frames := m.opts.Frames
	if b.L.Rank() != 5 || b.L.Dim(1) != m.opts.InputFrames || b.L.Dim(2) != 3 {
		return nil, fmt.Errorf("model: expected (B,%d,3,H,W) frames, got %v", m.opts.InputFrames, b.L.Shape())
	}
	if b.AllTimes.Dim(1)/2 != frames {
		return nil, fmt.Errorf("%w: %d target times for %d frames", ErrFrameCount, b.AllTimes.Dim(1), frames)
	}
	if b.Times.Rank() != 5 || b.Times.Dim(1) != network.TimeChannels {
		return nil, fmt.Errorf("model: time stack %v is not (B,6,1,H,W)", b.Times.Shape())
	}

	h, w := b.L.Dim(-2), b.L.Dim(-1)
	input := packFrames(pad.Circular(b.L, m.opts.Stride))
	times := pad.Circular(b.Times, m.opts.Stride).Clone()
	all := pad.Circular(b.AllTimes, m.opts.Stride)

	run := func(x *tensor.Tensor) (*tensor.Tensor, error) {
		n := x.Dim(1) - network.TimeChannels
		out, _, err := m.netG.Forward(x.Narrow(1, 0, n), x.Narrow(1, n, network.TimeChannels))
		if err != nil {
			return nil, err
		}
		return out, checkAnchors(out)
	}

	var (
		extracted []*tensor.Tensor
		latency   []float64
	)
	for idx := 1; idx <= frames-2; idx++ {
		times.Assign(1, 1, all.Select(1, idx))
		times.Assign(1, 4, all.Select(1, idx+frames))
		x := tensor.Concat(1, input, times.Reshape(times.Dim(0), network.TimeChannels, times.Dim(-2), times.Dim(-1)))

		start := time.Now()
		out, err := testmode.Run(run, x, m.opts.Test)
		if err != nil {
			return nil, fmt.Errorf("model: window %d: %w", idx, err)
		}
		latency = append(latency, time.Since(start).Seconds())

		anchors := out.Reshape(out.Dim(0), 3, 3, out.Dim(2), out.Dim(3))
		first, last := idx == 1, idx == frames-2
		if first {
			extracted = append(extracted, anchors.Select(1, 0))
		}
		extracted = append(extracted, anchors.Select(1, 1))
		if last {
			extracted = append(extracted, anchors.Select(1, 2))
		}
	}
	if len(extracted) != frames {
		return nil, fmt.Errorf("%w: extracted %d of %d", ErrFrameCount, len(extracted), frames)
	}

	avg := stat.Mean(latency, nil)
	m.log.WithField("windows", len(latency)).Infof("Average inference time: %.4fs", avg)

	result := pad.Crop(tensor.Stack(1, extracted...), h, w)
	m.batch = b
	m.output = result
	return result, nil
}
