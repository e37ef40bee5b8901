package main

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Zelak312/rsgs/tensor"
)

func TestRGBToTensor(t *testing.T) {
	// 2x1 image: red then gray
	buf := []byte{255, 0, 0, 51, 102, 204}
	frame, err := RGBToTensor(buf, 2, 1)
	if err != nil {
		t.Fatal(err)
	}

	want := [][]float64{{1, 0.2}, {0, 0.4}, {0, 0.8}}
	for c := range want {
		for x, v := range want[c] {
			if got := frame.At(c, 0, x); got != v {
				t.Errorf("channel %d pixel %d: got %g, want %g", c, x, got, v)
			}
		}
	}

	if _, err := RGBToTensor(buf[:5], 2, 1); err == nil {
		t.Error("Expected a short buffer to fail")
	}
}

func TestWritePNG(t *testing.T) {
	frame := tensor.FromSlice([]float64{
		1.5, 0, // red, clamped above
		-1, 0.2, // green, clamped below
		0.4, 1, // blue
	}, 3, 1, 2)

	p := filepath.Join(t.TempDir(), "frame.png")
	if err := WritePNG(p, frame); err != nil {
		t.Fatal(err)
	}

	file, err := os.Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		t.Fatal(err)
	}

	r, g, b, _ := img.At(0, 0).RGBA()
	if r>>8 != 255 || g>>8 != 0 || b>>8 != 102 {
		t.Errorf("Unexpected first pixel %d %d %d", r>>8, g>>8, b>>8)
	}
	r, g, b, _ = img.At(1, 0).RGBA()
	if r>>8 != 0 || g>>8 != 51 || b>>8 != 255 {
		t.Errorf("Unexpected second pixel %d %d %d", r>>8, g>>8, b>>8)
	}

	if err := WritePNG(p, tensor.New(1, 2, 2)); err == nil {
		t.Error("Expected a single channel frame to fail")
	}
}
