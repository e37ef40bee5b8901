// Package tensor holds the dense float64 arrays used for frames, flow fields
// and time maps. Storage and shape bookkeeping are delegated to gorgonia's
// dense tensors, element-wise maths to gonum.
package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	gt "gorgonia.org/tensor"
)

// Tensor is a row-major float64 array.
type Tensor struct {
	dense *gt.Dense
	data  []float64
	shape []int
}

func volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func wrap(data []float64, shape []int) *Tensor {
	shape = append([]int(nil), shape...)
	if len(data) != volume(shape) {
		panic(fmt.Sprintf("tensor: %d values do not fit shape %v", len(data), shape))
	}

	return &Tensor{
		dense: gt.New(gt.WithShape(shape...), gt.WithBacking(data)),
		data:  data,
		shape: shape,
	}
}

// New returns a zero filled tensor.
func New(shape ...int) *Tensor {
	return wrap(make([]float64, volume(shape)), shape)
}

// Full returns a tensor with every element set to v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Ones is Full(1, shape...).
func Ones(shape ...int) *Tensor {
	return Full(1, shape...)
}

// FromSlice wraps data without copying it.
func FromSlice(data []float64, shape ...int) *Tensor {
	return wrap(data, shape)
}

// FromDense wraps a float64 gorgonia tensor.
func FromDense(d *gt.Dense) (*Tensor, error) {
	data, ok := d.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("tensor: unsupported dtype %v", d.Dtype())
	}

	return wrap(data, []int(d.Shape())), nil
}

// Unmarshal decodes a tensor written by MarshalBinary.
func Unmarshal(p []byte) (*Tensor, error) {
	d := new(gt.Dense)
	if err := d.GobDecode(p); err != nil {
		return nil, fmt.Errorf("tensor: decoding: %w", err)
	}

	return FromDense(d)
}

// MarshalBinary encodes the tensor with its shape.
func (t *Tensor) MarshalBinary() ([]byte, error) {
	return t.dense.GobEncode()
}

func (t *Tensor) Data() []float64 { return t.data }
func (t *Tensor) Rank() int       { return len(t.shape) }
func (t *Tensor) Len() int        { return len(t.data) }

// Shape returns a copy of the dimensions.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Dim returns the size of axis i. Negative axes count from the end.
func (t *Tensor) Dim(i int) int {
	return t.shape[t.axis(i)]
}

func (t *Tensor) axis(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	if i < 0 || i >= len(t.shape) {
		panic(fmt.Sprintf("tensor: axis %d out of range for shape %v", i, t.shape))
	}
	return i
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b *Tensor) bool {
	if len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) Clone() *Tensor {
	return wrap(append([]float64(nil), t.data...), t.shape)
}

// Reshape returns a view over the same data. One dimension may be -1.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	shape = append([]int(nil), shape...)
	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				panic("tensor: more than one inferred dimension")
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		shape[infer] = len(t.data) / known
	}
	return wrap(t.data, shape)
}

func (t *Tensor) strides() []int {
	s := make([]int, len(t.shape))
	acc := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= t.shape[i]
	}
	return s
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index %v does not match shape %v", idx, t.shape))
	}
	off := 0
	for i, s := range t.strides() {
		off += idx[i] * s
	}
	return off
}

func (t *Tensor) At(idx ...int) float64     { return t.data[t.offset(idx)] }
func (t *Tensor) Set(v float64, idx ...int) { t.data[t.offset(idx)] = v }

// split returns the element counts before, along and after axis.
func (t *Tensor) split(axis int) (outer, dim, inner int) {
	outer = volume(t.shape[:axis])
	dim = t.shape[axis]
	inner = volume(t.shape[axis+1:])
	return
}

func dropAxis(shape []int, axis int) []int {
	out := append([]int(nil), shape[:axis]...)
	return append(out, shape[axis+1:]...)
}

// Select copies index i along axis, removing that axis.
func (t *Tensor) Select(axis, i int) *Tensor {
	axis = t.axis(axis)
	outer, dim, inner := t.split(axis)
	if i < 0 || i >= dim {
		panic(fmt.Sprintf("tensor: index %d out of range for axis %d of %v", i, axis, t.shape))
	}

	out := make([]float64, outer*inner)
	for o := 0; o < outer; o++ {
		copy(out[o*inner:(o+1)*inner], t.data[(o*dim+i)*inner:(o*dim+i+1)*inner])
	}
	return wrap(out, dropAxis(t.shape, axis))
}

// Assign writes src into index i along axis. src has t's shape without axis.
func (t *Tensor) Assign(axis, i int, src *Tensor) {
	axis = t.axis(axis)
	outer, dim, inner := t.split(axis)
	if src.Len() != outer*inner {
		panic(fmt.Sprintf("tensor: cannot assign %v into axis %d of %v", src.shape, axis, t.shape))
	}

	for o := 0; o < outer; o++ {
		copy(t.data[(o*dim+i)*inner:(o*dim+i+1)*inner], src.data[o*inner:(o+1)*inner])
	}
}

// Narrow copies length entries starting at start along axis.
func (t *Tensor) Narrow(axis, start, length int) *Tensor {
	axis = t.axis(axis)
	outer, dim, inner := t.split(axis)
	if start < 0 || length < 0 || start+length > dim {
		panic(fmt.Sprintf("tensor: narrow [%d:%d] out of range for axis %d of %v", start, start+length, axis, t.shape))
	}

	out := make([]float64, outer*length*inner)
	for o := 0; o < outer; o++ {
		copy(out[o*length*inner:(o+1)*length*inner], t.data[(o*dim+start)*inner:(o*dim+start+length)*inner])
	}
	shape := t.Shape()
	shape[axis] = length
	return wrap(out, shape)
}

// Window crops the two trailing (spatial) axes.
func (t *Tensor) Window(top, left, h, w int) *Tensor {
	return t.Narrow(-2, top, h).Narrow(-1, left, w)
}

// Paste writes src over the trailing two axes starting at (top, left). src
// must match t on every leading axis.
func (t *Tensor) Paste(top, left int, src *Tensor) {
	h, w := t.Dim(-2), t.Dim(-1)
	sh, sw := src.Dim(-2), src.Dim(-1)
	planes := t.Len() / (h * w)
	if src.Rank() != t.Rank() || src.Len() != planes*sh*sw || top < 0 || left < 0 || top+sh > h || left+sw > w {
		panic(fmt.Sprintf("tensor: cannot paste %v into %v at (%d,%d)", src.shape, t.shape, top, left))
	}

	for p := 0; p < planes; p++ {
		for y := 0; y < sh; y++ {
			dst := t.data[(p*h+top+y)*w+left:]
			copy(dst[:sw], src.data[(p*sh+y)*sw:(p*sh+y+1)*sw])
		}
	}
}

// Chunk splits axis into n equal parts.
func (t *Tensor) Chunk(axis, n int) []*Tensor {
	axis = t.axis(axis)
	if t.shape[axis]%n != 0 {
		panic(fmt.Sprintf("tensor: axis %d of %v is not divisible by %d", axis, t.shape, n))
	}

	size := t.shape[axis] / n
	parts := make([]*Tensor, n)
	for i := range parts {
		parts[i] = t.Narrow(axis, i*size, size)
	}
	return parts
}

// Stack joins equally shaped tensors along a new axis.
func Stack(axis int, ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("tensor: nothing to stack")
	}
	base := ts[0].shape
	if axis < 0 {
		axis += len(base) + 1
	}
	for _, t := range ts[1:] {
		if !SameShape(ts[0], t) {
			panic(fmt.Sprintf("tensor: cannot stack %v with %v", base, t.shape))
		}
	}

	outer := volume(base[:axis])
	inner := volume(base[axis:])
	n := len(ts)
	out := make([]float64, outer*n*inner)
	for o := 0; o < outer; o++ {
		for k, t := range ts {
			copy(out[(o*n+k)*inner:(o*n+k+1)*inner], t.data[o*inner:(o+1)*inner])
		}
	}

	shape := append([]int(nil), base[:axis]...)
	shape = append(shape, n)
	shape = append(shape, base[axis:]...)
	return wrap(out, shape)
}

// Concat joins tensors along an existing axis.
func Concat(axis int, ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("tensor: nothing to concatenate")
	}
	first := ts[0]
	axis = first.axis(axis)
	outer := volume(first.shape[:axis])
	inner := volume(first.shape[axis+1:])
	total := 0
	for _, t := range ts {
		if t.Rank() != first.Rank() || volume(t.shape[:axis]) != outer || volume(t.shape[axis+1:]) != inner {
			panic(fmt.Sprintf("tensor: cannot concatenate %v with %v on axis %d", first.shape, t.shape, axis))
		}
		total += t.shape[axis]
	}

	out := make([]float64, outer*total*inner)
	for o := 0; o < outer; o++ {
		pos := o * total * inner
		for _, t := range ts {
			n := t.shape[axis] * inner
			copy(out[pos:pos+n], t.data[o*n:(o+1)*n])
			pos += n
		}
	}

	shape := first.Shape()
	shape[axis] = total
	return wrap(out, shape)
}

func broadcastShape(a, b []int) []int {
	if len(a) != len(b) {
		panic(fmt.Sprintf("tensor: cannot broadcast %v with %v", a, b))
	}
	out := make([]int, len(a))
	for i := range a {
		switch {
		case a[i] == b[i]:
			out[i] = a[i]
		case a[i] == 1:
			out[i] = b[i]
		case b[i] == 1:
			out[i] = a[i]
		default:
			panic(fmt.Sprintf("tensor: cannot broadcast %v with %v", a, b))
		}
	}
	return out
}

// BroadcastTo copies t into shape, expanding size-one axes.
func (t *Tensor) BroadcastTo(shape ...int) *Tensor {
	if len(shape) != len(t.shape) {
		panic(fmt.Sprintf("tensor: cannot broadcast %v to %v", t.shape, shape))
	}

	src := t.strides()
	for i := range shape {
		if t.shape[i] == shape[i] {
			continue
		}
		if t.shape[i] != 1 {
			panic(fmt.Sprintf("tensor: cannot broadcast %v to %v", t.shape, shape))
		}
		src[i] = 0
	}

	out := make([]float64, volume(shape))
	idx := make([]int, len(shape))
	off := 0
	for i := range out {
		out[i] = t.data[off]
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			off += src[d]
			if idx[d] < shape[d] {
				break
			}
			off -= src[d] * idx[d]
			idx[d] = 0
		}
	}
	return wrap(out, shape)
}

func binary(a, b *Tensor, op func(dst, s []float64)) *Tensor {
	if !SameShape(a, b) {
		shape := broadcastShape(a.shape, b.shape)
		a = a.BroadcastTo(shape...)
		b = b.BroadcastTo(shape...)
	}
	out := a.Clone()
	op(out.data, b.data)
	return out
}

func Add(a, b *Tensor) *Tensor { return binary(a, b, floats.Add) }
func Sub(a, b *Tensor) *Tensor { return binary(a, b, floats.Sub) }
func Mul(a, b *Tensor) *Tensor { return binary(a, b, floats.Mul) }

// Scale returns c*t.
func (t *Tensor) Scale(c float64) *Tensor {
	out := t.Clone()
	floats.Scale(c, out.data)
	return out
}

// AddScalar returns t+c.
func (t *Tensor) AddScalar(c float64) *Tensor {
	out := t.Clone()
	floats.AddConst(c, out.data)
	return out
}

// OneMinus returns 1-t.
func (t *Tensor) OneMinus() *Tensor {
	return t.Scale(-1).AddScalar(1)
}

// Apply returns fn applied element-wise.
func (t *Tensor) Apply(fn func(float64) float64) *Tensor {
	out := t.Clone()
	for i, v := range out.data {
		out.data[i] = fn(v)
	}
	return out
}

func (t *Tensor) Sum() float64  { return floats.Sum(t.data) }
func (t *Tensor) Mean() float64 { return floats.Sum(t.data) / float64(len(t.data)) }

// MaxAbsDiff is the largest element-wise distance between a and b.
func MaxAbsDiff(a, b *Tensor) float64 {
	if !SameShape(a, b) {
		return math.Inf(1)
	}
	return floats.Distance(a.data, b.data, math.Inf(1))
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}
