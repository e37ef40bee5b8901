package testmode

import (
	"fmt"

	"github.com/Zelak312/rsgs/tensor"
)

// Augment applies one of the eight dihedral transforms to the spatial axes
// of a rank 4 tensor. Rotations are counterclockwise quarter turns and flips
// reverse the rows.
//
//	0 identity          4 rot180 then flip
//	1 rot90 then flip   5 rot90
//	2 flip              6 rot180
//	3 rot270            7 rot270 then flip
func Augment(t *tensor.Tensor, mode int) *tensor.Tensor {
	switch mode {
	case 0:
		return t
	case 1:
		return flipRows(rot90(t, 1))
	case 2:
		return flipRows(t)
	case 3:
		return rot90(t, 3)
	case 4:
		return flipRows(rot90(t, 2))
	case 5:
		return rot90(t, 1)
	case 6:
		return rot90(t, 2)
	case 7:
		return flipRows(rot90(t, 3))
	default:
		panic(fmt.Sprintf("testmode: no augmentation %d", mode))
	}
}

// InverseMode returns the mode that undoes Augment(t, mode). Only the two
// odd quarter turns are not their own inverse.
func InverseMode(mode int) int {
	if mode == 3 || mode == 5 {
		return 8 - mode
	}
	return mode
}

// remap4 builds an (n,c,oh,ow) tensor reading each output pixel from src(y, x).
func remap4(t *tensor.Tensor, oh, ow int, src func(y, x int) (int, int)) *tensor.Tensor {
	s := t.Shape()
	planes, h, w := s[0]*s[1], s[2], s[3]
	in := t.Data()
	out := tensor.New(s[0], s[1], oh, ow)
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

func rot90(t *tensor.Tensor, k int) *tensor.Tensor {
	h, w := t.Dim(2), t.Dim(3)
	switch k % 4 {
	case 1:
		return remap4(t, w, h, func(y, x int) (int, int) { return x, w - 1 - y })
	case 2:
		return remap4(t, h, w, func(y, x int) (int, int) { return h - 1 - y, w - 1 - x })
	case 3:
		return remap4(t, w, h, func(y, x int) (int, int) { return h - 1 - x, y })
	default:
		return t
	}
}

func flipRows(t *tensor.Tensor) *tensor.Tensor {
	h, w := t.Dim(2), t.Dim(3)
	return remap4(t, h, w, func(y, x int) (int, int) { return h - 1 - y, x })
}
