// Package testmode runs a model over an image with optional padding, tiling
// and dihedral self-ensembling.
package testmode

import (
	"fmt"

	"github.com/Zelak312/rsgs/pad"
	"github.com/Zelak312/rsgs/tensor"
)

// Mode selects how a model is run over its input.
type Mode int

const (
	Plain Mode = iota
	Pad
	Split
	X8
	SplitX8
)

func (m Mode) String() string {
	switch m {
	case Plain:
		return "plain"
	case Pad:
		return "pad"
	case Split:
		return "split"
	case X8:
		return "x8"
	case SplitX8:
		return "split+x8"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode returns the mode whose String is s. The empty string is Plain.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return Plain, nil
	}
	for m := Plain; m <= SplitX8; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return Plain, fmt.Errorf("testmode: unknown mode %q", s)
}

// Func is a model over rank 4 tensors (B,C,H,W) whose output is Scale times
// larger spatially.
type Func func(*tensor.Tensor) (*tensor.Tensor, error)

// Options configures Run.
type Options struct {
	Mode Mode
	// Refield is the receptive field split tiles are rounded to.
	Refield int
	// MinSize is the side of the largest image run without tiling.
	MinSize int
	// Scale is the model's upscaling factor.
	Scale int
	// Modulo is the multiple inputs are replicate padded to.
	Modulo int
}

// DefaultOptions returns plain mode with the usual tiling parameters.
func DefaultOptions() Options {
	return Options{Mode: Plain, Refield: 32, MinSize: 256, Scale: 1, Modulo: 1}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Refield < 1 {
		o.Refield = d.Refield
	}
	if o.MinSize < 1 {
		o.MinSize = d.MinSize
	}
	if o.Scale < 1 {
		o.Scale = d.Scale
	}
	if o.Modulo < 1 {
		o.Modulo = d.Modulo
	}
	return o
}

// Run evaluates fn on x according to opts.Mode.
func Run(fn Func, x *tensor.Tensor, opts Options) (*tensor.Tensor, error) {
	if x.Rank() != 4 {
		return nil, fmt.Errorf("testmode: expected a rank 4 input, got %v", x.Shape())
	}
	opts = opts.withDefaults()

	switch opts.Mode {
	case Plain:
		return fn(x)
	case Pad:
		return runPadded(fn, x, opts)
	case Split:
		return runSplit(fn, x, opts)
	case X8:
		return ensemble(fn, x, opts, runPadded)
	case SplitX8:
		return ensemble(fn, x, opts, runSplit)
	default:
		return nil, fmt.Errorf("testmode: unknown mode %d", int(opts.Mode))
	}
}

func runPadded(fn Func, x *tensor.Tensor, opts Options) (*tensor.Tensor, error) {
	h, w := x.Dim(2), x.Dim(3)
	out, err := fn(pad.ToMultiple(x, opts.Modulo))
	if err != nil {
		return nil, err
	}
	if err := checkScaled(out, h, w, opts.Scale); err != nil {
		return nil, err
	}
	return pad.Crop(out, h*opts.Scale, w*opts.Scale), nil
}

// checkScaled reports an output too small to hold an h×w input upscaled by
// scale.
func checkScaled(out *tensor.Tensor, h, w, scale int) error {
	if out.Rank() != 4 || out.Dim(2) < h*scale || out.Dim(3) < w*scale {
		return fmt.Errorf("testmode: output %v is smaller than %dx%d at scale %d", out.Shape(), h, w, scale)
	}
	return nil
}

func runSplit(fn Func, x *tensor.Tensor, opts Options) (*tensor.Tensor, error) {
	h, w := x.Dim(2), x.Dim(3)
	if h*w <= opts.MinSize*opts.MinSize {
		return runPadded(fn, x, opts)
	}

	th := min((h/2/opts.Refield+1)*opts.Refield, h)
	tw := min((w/2/opts.Refield+1)*opts.Refield, w)
	tiles := [4]*tensor.Tensor{
		x.Window(0, 0, th, tw),
		x.Window(0, w-tw, th, tw),
		x.Window(h-th, 0, th, tw),
		x.Window(h-th, w-tw, th, tw),
	}

	direct := h*w <= 4*opts.MinSize*opts.MinSize
	var outs [4]*tensor.Tensor
	for i, tile := range tiles {
		var err error
		if direct {
			outs[i], err = fn(tile)
		} else {
			outs[i], err = runSplit(fn, tile, opts)
		}
		if err != nil {
			return nil, err
		}
		if err := checkScaled(outs[i], th, tw, opts.Scale); err != nil {
			return nil, err
		}
	}

	sf := opts.Scale
	hh, hw := h/2*sf, w/2*sf
	rh, rw := h*sf-hh, w*sf-hw
	oh, ow := outs[0].Dim(2), outs[0].Dim(3)
	out := tensor.New(outs[0].Dim(0), outs[0].Dim(1), h*sf, w*sf)
	out.Paste(0, 0, outs[0].Window(0, 0, hh, hw))
	out.Paste(0, hw, outs[1].Window(0, ow-rw, hh, rw))
	out.Paste(hh, 0, outs[2].Window(oh-rh, 0, rh, hw))
	out.Paste(hh, hw, outs[3].Window(oh-rh, ow-rw, rh, rw))
	return out, nil
}

func ensemble(fn Func, x *tensor.Tensor, opts Options, run func(Func, *tensor.Tensor, Options) (*tensor.Tensor, error)) (*tensor.Tensor, error) {
	var sum *tensor.Tensor
	for mode := 0; mode < 8; mode++ {
		out, err := run(fn, Augment(x, mode), opts)
		if err != nil {
			return nil, fmt.Errorf("testmode: augmentation %d: %w", mode, err)
		}
		out = Augment(out, InverseMode(mode))
		if sum == nil {
			sum = out
		} else {
			sum = tensor.Add(sum, out)
		}
	}
	return sum.Scale(1.0 / 8), nil
}
