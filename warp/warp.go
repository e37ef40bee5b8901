// Package warp resamples frames along dense optical flow fields.
package warp

import (
	"math"

	"github.com/Zelak312/rsgs/tensor"
)

// PaddingMode decides what sampling returns for coordinates outside the frame.
type PaddingMode int

const (
	// Zeros treats every out-of-frame neighbour as 0.
	Zeros PaddingMode = iota
	// Border clamps coordinates to the frame edge before interpolating.
	Border
)

// MaskThreshold is the sampled coverage a pixel needs to be kept.
const MaskThreshold = 0.999

// Normalize maps pixel coordinate v on an axis of size dim to [-1, 1].
func Normalize(v float64, dim int) float64 {
	return 2*v/float64(max(dim-1, 1)) - 1
}

// unnormalize is the inverse of Normalize with corner pixels at -1 and 1.
func unnormalize(g float64, dim int) float64 {
	return (g + 1) / 2 * float64(max(dim-1, 1))
}

// Sample bilinearly samples x (B,C,H,W) at the normalized coordinates in
// grid (B,2,H',W'), channel 0 holding x and channel 1 holding y.
func Sample(x, grid *tensor.Tensor, mode PaddingMode) *tensor.Tensor {
	s := x.Shape()
	b, c, h, w := s[0], s[1], s[2], s[3]
	oh, ow := grid.Dim(2), grid.Dim(3)

	in := x.Data()
	g := grid.Data()
	out := tensor.New(b, c, oh, ow)
	data := out.Data()

	for n := 0; n < b; n++ {
		gx := g[(n*2)*oh*ow : (n*2+1)*oh*ow]
		gy := g[(n*2+1)*oh*ow : (n*2+2)*oh*ow]
		for p := range gx {
			px := unnormalize(gx[p], w)
			py := unnormalize(gy[p], h)
			if mode == Border {
				px = clamp(px, 0, float64(w-1))
				py = clamp(py, 0, float64(h-1))
			}

			x0 := int(math.Floor(px))
			y0 := int(math.Floor(py))
			fx := px - float64(x0)
			fy := py - float64(y0)
			corners := [4]struct {
				x, y int
				wt   float64
			}{
				{x0, y0, (1 - fx) * (1 - fy)},
				{x0 + 1, y0, fx * (1 - fy)},
				{x0, y0 + 1, (1 - fx) * fy},
				{x0 + 1, y0 + 1, fx * fy},
			}

			for ch := 0; ch < c; ch++ {
				plane := in[(n*c+ch)*h*w : (n*c+ch+1)*h*w]
				v := 0.0
				for _, k := range corners {
					if k.wt == 0 || k.x < 0 || k.y < 0 || k.x >= w || k.y >= h {
						continue
					}
					v += k.wt * plane[k.y*w+k.x]
				}
				data[(n*c+ch)*oh*ow+p] = v
			}
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Grid offsets the pixel mesh by flo (B,2,H,W) and normalizes it.
func Grid(flo *tensor.Tensor) *tensor.Tensor {
	s := flo.Shape()
	b, h, w := s[0], s[2], s[3]
	grid := flo.Clone()
	data := grid.Data()
	for n := 0; n < b; n++ {
		gx := data[(n*2)*h*w : (n*2+1)*h*w]
		gy := data[(n*2+1)*h*w : (n*2+2)*h*w]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				gx[i] = Normalize(float64(x)+gx[i], w)
				gy[i] = Normalize(float64(y)+gy[i], h)
			}
		}
	}
	return grid
}

// WarpWithMask backward-warps x (B,C,H,W) by flo (B,2,H,W). Pixels whose
// bilinear footprint reaches outside the frame are zeroed; the returned mask
// holds 1 where the sample was kept and 0 elsewhere.
func WarpWithMask(x, flo *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	grid := Grid(flo)
	out := Sample(x, grid, Border)

	mask := Sample(tensor.Ones(x.Shape()...), grid, Zeros)
	m := mask.Data()
	o := out.Data()
	for i, v := range m {
		if v < MaskThreshold {
			m[i] = 0
		} else {
			m[i] = 1
		}
		o[i] *= m[i]
	}
	return out, mask
}

// Warp is WarpWithMask without the mask.
func Warp(x, flo *tensor.Tensor) *tensor.Tensor {
	out, _ := WarpWithMask(x, flo)
	return out
}
