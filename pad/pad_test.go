package pad

import (
	"testing"

	"github.com/Zelak312/rsgs/tensor"
)

func ramp(shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data() {
		t.Data()[i] = float64(i%97) / 97
	}
	return t
}

func TestSizeIsSmallestMultiple(t *testing.T) {
	for h := 1; h < 100; h += 7 {
		for _, stride := range []int{1, 8, 32} {
			ph, pw := Size(h, h+3, stride)
			if ph%stride != 0 || pw%stride != 0 {
				t.Errorf("Size(%d, %d, %d) = %d, %d: not a multiple", h, h+3, stride, ph, pw)
			}
			if ph-h >= stride || pw-(h+3) >= stride || ph < h || pw < h+3 {
				t.Errorf("Size(%d, %d, %d) = %d, %d: grew by a stride or more", h, h+3, stride, ph, pw)
			}
		}
	}
}

func TestCircularUnchangedWhenAligned(t *testing.T) {
	x := ramp(2, 3, 3, 64, 64)
	out := Circular(x, DefaultStride)
	if !tensor.SameShape(x, out) || tensor.MaxAbsDiff(x, out) != 0 {
		t.Errorf("Expected aligned input to pass through, got %v", out)
	}
}

func TestCircularRoundTrip(t *testing.T) {
	x := ramp(2, 3, 3, 70, 70)
	out := Circular(x, DefaultStride)
	want := []int{2, 3, 3, 96, 96}
	for i, d := range out.Shape() {
		if d != want[i] {
			t.Fatalf("Expected shape %v, got %v", want, out.Shape())
		}
	}

	back := Crop(out, 70, 70)
	if !tensor.SameShape(back, x) || tensor.MaxAbsDiff(back, x) != 0 {
		t.Error("Cropping the padded tensor does not restore the input")
	}

	// wrapped rows and columns copy from the top and left
	if out.At(1, 2, 1, 75, 3) != x.At(1, 2, 1, 5, 3) || out.At(0, 0, 0, 4, 90) != x.At(0, 0, 0, 4, 20) {
		t.Error("Padding is not circular")
	}
}

func TestCircularRank6PadsEachGroup(t *testing.T) {
	x := ramp(1, 4, 3, 1, 40, 33)
	out := Circular(x, DefaultStride)
	if out.Dim(1) != 4 || out.Dim(-2) != 64 || out.Dim(-1) != 64 {
		t.Fatalf("Expected [1 4 3 1 64 64], got %v", out.Shape())
	}
	for g := 0; g < 4; g++ {
		want := Circular(x.Select(1, g), DefaultStride)
		if tensor.MaxAbsDiff(out.Select(1, g), want) != 0 {
			t.Errorf("group %d differs from padding it alone", g)
		}
	}
	if tensor.MaxAbsDiff(Crop(out, 40, 33), x) != 0 {
		t.Error("rank 6 crop is not an inverse")
	}
}

func TestCircularWrapsSmallImages(t *testing.T) {
	x := ramp(1, 1, 5, 5)
	out := Circular(x, 16)
	if out.At(0, 0, 12, 13) != x.At(0, 0, 2, 3) {
		t.Error("pads wider than the image should keep wrapping")
	}
}

func TestReplicate(t *testing.T) {
	x := ramp(1, 2, 3, 5)
	out := ToMultiple(x, 4)
	if out.Dim(-2) != 4 || out.Dim(-1) != 8 {
		t.Fatalf("Expected 4x8, got %v", out.Shape())
	}
	if out.At(0, 1, 3, 7) != x.At(0, 1, 2, 4) {
		t.Error("Expected the bottom-right corner to repeat")
	}
	if tensor.MaxAbsDiff(Crop(out, 3, 5), x) != 0 {
		t.Error("replicate crop is not an inverse")
	}
}
