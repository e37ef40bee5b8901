// Package timemap builds the per-pixel scan time maps that drive the
// generator for a dual rolling shutter pair: one frame read top to bottom,
// the other bottom to top.
package timemap

import (
	"fmt"

	"github.com/Zelak312/rsgs/tensor"
)

// Direction is the readout order of a rolling shutter frame.
type Direction int

const (
	TopToBottom Direction = iota
	BottomToTop
)

// Encoding group layout along axis 1 of Maps.Encodings.
const (
	GroupMidForward = iota
	GroupWholeForward
	GroupMidReverse
	GroupWholeReverse
)

// Encoding roles along axis 2. The whole groups only use RoleWhole.
const (
	RoleMidUp   = 0
	RoleMidDown = 1
	RoleMask    = 2
	RoleWhole   = 0
)

// RowTime is the normalised capture time of row y in a frame of height h.
func RowTime(y, h int, d Direction) float64 {
	r := 0.0
	if h > 1 {
		r = float64(y) / float64(h-1)
	}
	if d == BottomToTop {
		return 1 - r
	}
	return r
}

// Maps holds the time inputs for one batch.
type Maps struct {
	// Encodings is (B,4,3,1,H,W): the time codes used to rebuild each
	// rolling shutter frame from three anchors.
	Encodings *tensor.Tensor
	// Times is (B,6,1,H,W): the first, current and last target times for
	// each direction.
	Times *tensor.Tensor
	// AllTimes is (B,2N,1,H,W): every target time, forward then reverse.
	AllTimes *tensor.Tensor
}

// Target returns the offset map for global time g in direction d:
// (g - rowTime + 1) / 2, which lies in [0,1].
func Target(g float64, h, w int, d Direction) *tensor.Tensor {
	t := tensor.New(h, w)
	data := t.Data()
	for y := 0; y < h; y++ {
		v := (g - RowTime(y, h, d) + 1) / 2
		for x := 0; x < w; x++ {
			data[y*w+x] = v
		}
	}
	return t
}

// Build returns the time maps for a batch of b frame pairs of size h×w
// from which frames global shutter frames are extracted.
func Build(b, h, w, frames int) (*Maps, error) {
	if frames < 3 {
		return nil, fmt.Errorf("timemap: need at least 3 target frames, got %d", frames)
	}
	if b < 1 || h < 1 || w < 1 {
		return nil, fmt.Errorf("timemap: bad size %dx%dx%d", b, h, w)
	}

	all := make([]*tensor.Tensor, 0, 2*frames)
	for _, d := range []Direction{TopToBottom, BottomToTop} {
		for i := 0; i < frames; i++ {
			all = append(all, Target(float64(i)/float64(frames-1), h, w, d))
		}
	}
	allTimes := tensor.Stack(0, all...).Reshape(1, 2*frames, 1, h, w)

	mid := frames / 2
	current := []*tensor.Tensor{
		all[0], all[mid], all[frames-1],
		all[frames], all[frames+mid], all[2*frames-1],
	}
	times := tensor.Stack(0, current...).Reshape(1, 6, 1, h, w)

	enc := tensor.New(1, 4, 3, 1, h, w)
	for _, d := range []Direction{TopToBottom, BottomToTop} {
		midGroup, wholeGroup := GroupMidForward, GroupWholeForward
		if d == BottomToTop {
			midGroup, wholeGroup = GroupMidReverse, GroupWholeReverse
		}
		for y := 0; y < h; y++ {
			r := RowTime(y, h, d)
			mask := 0.0
			if r < 0.5 {
				mask = 1
			}
			for x := 0; x < w; x++ {
				enc.Set(clamp01(2*r), 0, midGroup, RoleMidUp, 0, y, x)
				enc.Set(clamp01(2*r-1), 0, midGroup, RoleMidDown, 0, y, x)
				enc.Set(mask, 0, midGroup, RoleMask, 0, y, x)
				enc.Set(r, 0, wholeGroup, RoleWhole, 0, y, x)
			}
		}
	}

	return &Maps{
		Encodings: repeat(enc, b),
		Times:     repeat(times, b),
		AllTimes:  repeat(allTimes, b),
	}, nil
}

func repeat(t *tensor.Tensor, b int) *tensor.Tensor {
	if b == 1 {
		return t
	}
	parts := make([]*tensor.Tensor, b)
	for i := range parts {
		parts[i] = t
	}
	return tensor.Concat(0, parts...)
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
