package testmode

import (
	"errors"
	"math"
	"testing"

	"github.com/Zelak312/rsgs/tensor"
)

const difTol = 1e-12

func image(b, c, h, w int) *tensor.Tensor {
	t := tensor.New(b, c, h, w)
	for i := range t.Data() {
		t.Data()[i] = math.Sin(float64(i)*0.13) * float64(i%7)
	}
	return t
}

func identity(x *tensor.Tensor) (*tensor.Tensor, error) { return x.Clone(), nil }

// upsample2 repeats every pixel into a 2×2 block.
func upsample2(x *tensor.Tensor) (*tensor.Tensor, error) {
	s := x.Shape()
	out := tensor.New(s[0], s[1], s[2]*2, s[3]*2)
	for n := 0; n < s[0]; n++ {
		for c := 0; c < s[1]; c++ {
			for y := 0; y < s[2]*2; y++ {
				for z := 0; z < s[3]*2; z++ {
					out.Set(x.At(n, c, y/2, z/2), n, c, y, z)
				}
			}
		}
	}
	return out, nil
}

func TestAugmentInverse(t *testing.T) {
	x := image(2, 3, 5, 7)
	for mode := 0; mode < 8; mode++ {
		back := Augment(Augment(x, mode), InverseMode(mode))
		if !tensor.SameShape(back, x) || tensor.MaxAbsDiff(back, x) != 0 {
			t.Errorf("mode %d: inverse %d does not restore the input", mode, InverseMode(mode))
		}
	}
}

func TestAugmentRotationDirection(t *testing.T) {
	x := tensor.FromSlice([]float64{1, 2, 3, 4}, 1, 1, 2, 2)
	want := []float64{2, 4, 1, 3}
	got := Augment(x, 5).Data()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected counterclockwise turn %v, got %v", want, got)
		}
	}
}

func TestSplitConstantImage(t *testing.T) {
	x := tensor.Full(0.7, 1, 3, 90, 70)
	opts := Options{Mode: Split, Refield: 8, MinSize: 16}
	out, err := Run(identity, x, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !tensor.SameShape(out, x) || tensor.MaxAbsDiff(out, x) != 0 {
		t.Error("Split tiling changed a constant image")
	}
}

func TestSplitIdentityAndScale(t *testing.T) {
	x := image(1, 2, 40, 50)
	out, err := Run(identity, x, Options{Mode: Split, Refield: 4, MinSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	if tensor.MaxAbsDiff(out, x) > difTol {
		t.Error("Split tiling of a local model should reproduce the input")
	}

	want, _ := upsample2(x)
	out, err = Run(upsample2, x, Options{Mode: Split, Refield: 4, MinSize: 12, Scale: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !tensor.SameShape(out, want) || tensor.MaxAbsDiff(out, want) > difTol {
		t.Errorf("Expected a stitched 2x upsample, got %v", out.Shape())
	}
}

func TestPadCropsBack(t *testing.T) {
	x := image(1, 1, 5, 6)
	var seen []int
	fn := func(in *tensor.Tensor) (*tensor.Tensor, error) {
		seen = in.Shape()
		return in.Clone(), nil
	}
	out, err := Run(fn, x, Options{Mode: Pad, Modulo: 4})
	if err != nil {
		t.Fatal(err)
	}
	if seen[2] != 8 || seen[3] != 8 {
		t.Errorf("Expected the model to see 8x8, got %v", seen)
	}
	if tensor.MaxAbsDiff(out, x) > difTol {
		t.Error("Pad mode should crop back to the input")
	}
}

func TestX8Identity(t *testing.T) {
	x := image(1, 3, 6, 9)
	for _, mode := range []Mode{X8, SplitX8} {
		out, err := Run(identity, x, Options{Mode: mode, Refield: 2, MinSize: 3})
		if err != nil {
			t.Fatal(err)
		}
		if tensor.MaxAbsDiff(out, x) > difTol {
			t.Errorf("%v of an identity model should be the input", mode)
		}
	}
}

func TestErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	fail := func(*tensor.Tensor) (*tensor.Tensor, error) { return nil, boom }
	for _, mode := range []Mode{Plain, Pad, Split, X8, SplitX8} {
		if _, err := Run(fail, image(1, 1, 4, 4), Options{Mode: mode}); !errors.Is(err, boom) {
			t.Errorf("%v: expected the model error, got %v", mode, err)
		}
	}
	if _, err := Run(identity, tensor.New(3, 4, 4), DefaultOptions()); err == nil {
		t.Error("Expected a rank 3 input to fail")
	}
}

func TestParseMode(t *testing.T) {
	for m := Plain; m <= SplitX8; m++ {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if got, err := ParseMode(""); err != nil || got != Plain {
		t.Errorf("Expected empty mode to be plain, got %v, %v", got, err)
	}
	if _, err := ParseMode("x4"); err == nil {
		t.Error("Expected unknown mode to fail")
	}
}

func TestScaleLargerThanModelOutput(t *testing.T) {
	x := image(1, 3, 32, 32)
	for _, mode := range []Mode{Pad, Split, X8, SplitX8} {
		_, err := Run(identity, x, Options{Mode: mode, Refield: 4, MinSize: 8, Scale: 2})
		if err == nil {
			t.Errorf("%v: expected an unscaled output to fail at scale 2", mode)
		}
	}

	if _, err := Run(upsample2, x, Options{Mode: X8, Scale: 2}); err != nil {
		t.Errorf("Expected a matching scale to pass, got %v", err)
	}
}
