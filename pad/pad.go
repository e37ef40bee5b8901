// Package pad brings frame-like tensors up to the spatial multiple the
// generator needs and crops results back afterwards.
package pad

import (
	"github.com/Zelak312/rsgs/tensor"
)

// DefaultStride is the spatial multiple required by the generator.
const DefaultStride = 32

// Size returns the smallest multiples of stride that hold h and w.
func Size(h, w, stride int) (int, int) {
	return ((h-1)/stride + 1) * stride, ((w-1)/stride + 1) * stride
}

// Circular pads the two trailing axes on the bottom and right by wrapping
// around to the top and left. Rank 4, 5 and 6 tensors are supported; any
// other rank is returned as is.
func Circular(t *tensor.Tensor, stride int) *tensor.Tensor {
	switch t.Rank() {
	case 4:
		return circular4(t, stride)
	case 5:
		s := t.Shape()
		b, n, c, h, w := s[0], s[1], s[2], s[3], s[4]
		ph, pw := Size(h, w, stride)
		out := circular4(t.Reshape(b*n, c, h, w), stride)
		return out.Reshape(b, n, c, ph, pw)
	case 6:
		groups := make([]*tensor.Tensor, t.Dim(1))
		for i := range groups {
			groups[i] = Circular(t.Select(1, i), stride)
		}
		return tensor.Stack(1, groups...)
	default:
		return t
	}
}

func circular4(t *tensor.Tensor, stride int) *tensor.Tensor {
	s := t.Shape()
	n, c, h, w := s[0], s[1], s[2], s[3]
	ph, pw := Size(h, w, stride)
	if ph == h && pw == w {
		return t
	}

	// pads larger than the image keep wrapping
	return remap(t, n*c, h, w, ph, pw, func(y, x int) (int, int) {
		return y % h, x % w
	}).Reshape(n, c, ph, pw)
}

// Replicate pads the two trailing axes of a rank 4 tensor on the bottom and
// right by repeating the last row and column.
func Replicate(t *tensor.Tensor, bottom, right int) *tensor.Tensor {
	s := t.Shape()
	n, c, h, w := s[0], s[1], s[2], s[3]
	if bottom == 0 && right == 0 {
		return t
	}

	return remap(t, n*c, h, w, h+bottom, w+right, func(y, x int) (int, int) {
		return min(y, h-1), min(x, w-1)
	}).Reshape(n, c, h+bottom, w+right)
}

// ToMultiple replicate-pads a rank 4 tensor so both spatial sizes divide by modulo.
func ToMultiple(t *tensor.Tensor, modulo int) *tensor.Tensor {
	h, w := t.Dim(-2), t.Dim(-1)
	return Replicate(t, (modulo-h%modulo)%modulo, (modulo-w%modulo)%modulo)
}

func remap(t *tensor.Tensor, planes, h, w, oh, ow int, src func(y, x int) (int, int)) *tensor.Tensor {
	in := t.Data()
	out := tensor.New(planes, oh, ow)
	data := out.Data()
	for p := 0; p < planes; p++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				sy, sx := src(y, x)
				data[(p*oh+y)*ow+x] = in[(p*h+sy)*w+sx]
			}
		}
	}
	return out
}

// Crop keeps the top-left h×w region of the two trailing axes.
func Crop(t *tensor.Tensor, h, w int) *tensor.Tensor {
	if t.Dim(-2) == h && t.Dim(-1) == w {
		return t
	}
	return t.Window(0, 0, h, w)
}
