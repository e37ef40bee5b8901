package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/Zelak312/rsgs/tensor"
)

// RGBToTensor converts packed rgb24 pixels to a (3,H,W) tensor in [0,1]
func RGBToTensor(buf []byte, width, height int) (*tensor.Tensor, error) {
	if len(buf) != width*height*3 {
		return nil, fmt.Errorf("frame has %d bytes, expected %d", len(buf), width*height*3)
	}

	t := tensor.New(3, height, width)
	data := t.Data()
	plane := width * height
	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			data[c*plane+i] = float64(buf[i*3+c]) / 255
		}
	}

	return t, nil
}

func toByte(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// TensorToImage converts a (3,H,W) tensor in [0,1] to an image, clamping
// values outside the range.
func TensorToImage(t *tensor.Tensor) (*image.RGBA, error) {
	if t.Rank() != 3 || t.Dim(0) != 3 {
		return nil, fmt.Errorf("expected a (3,H,W) frame, got %v", t.Shape())
	}

	h, w := t.Dim(1), t.Dim(2)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: toByte(t.At(0, y, x)),
				G: toByte(t.At(1, y, x)),
				B: toByte(t.At(2, y, x)),
				A: 255,
			})
		}
	}

	return img, nil
}

func WritePNG(path string, t *tensor.Tensor) error {
	img, err := TensorToImage(t)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}

	return file.Close()
}
