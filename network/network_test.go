package network

import (
	"math"
	"testing"

	"github.com/Zelak312/rsgs/tensor"
)

const difTol = 1e-12

func frameStack(b, n, h, w int) *tensor.Tensor {
	t := tensor.New(b, n*3, h, w)
	for i := range t.Data() {
		t.Data()[i] = math.Cos(float64(i) * 0.21)
	}
	return t
}

func TestMixerStartsAsCopy(t *testing.T) {
	m := NewMixer(3)
	frames := frameStack(2, 3, 4, 5)
	out, flows, err := m.Forward(frames, tensor.Full(0.3, 2, TimeChannels, 4, 5))
	if err != nil {
		t.Fatal(err)
	}
	if out.Dim(1) != AnchorChannels {
		t.Fatalf("Expected %d channels, got %v", AnchorChannels, out.Shape())
	}
	if tensor.MaxAbsDiff(out, frames) > difTol {
		t.Error("An untrained mixer should reproduce its three input frames")
	}
	if len(flows) != 1 || flows[0].Dim(1) != FlowChannels || flows[0].Sum() != 0 {
		t.Errorf("Expected one zero %d channel diagnostic", FlowChannels)
	}
}

func TestMixerTimeGain(t *testing.T) {
	m := NewMixer(1)
	p, _ := m.Params().Get("time_gain")
	p.Value.Data()[2] = 2

	frames := frameStack(1, 1, 2, 2)
	out, _, err := m.Forward(frames, tensor.Ones(1, TimeChannels, 2, 2))
	if err != nil {
		t.Fatal(err)
	}
	// the third anchor moves by gain*(1-0.5)
	want := frames.At(0, 1, 1, 0) + 1
	if math.Abs(out.At(0, 7, 1, 0)-want) > difTol {
		t.Errorf("Expected %v, got %v", want, out.At(0, 7, 1, 0))
	}
	if math.Abs(out.At(0, 1, 1, 0)-frames.At(0, 1, 1, 0)) > difTol {
		t.Error("Anchors without gain should be unaffected by time")
	}
}

func TestMixerRejectsBadInput(t *testing.T) {
	m := NewMixer(3)
	if _, _, err := m.Forward(frameStack(1, 2, 4, 4), tensor.New(1, TimeChannels, 4, 4)); err == nil {
		t.Error("Expected wrong frame count to fail")
	}
	if _, _, err := m.Forward(frameStack(1, 3, 4, 4), tensor.New(1, 4, 4, 4)); err == nil {
		t.Error("Expected wrong time channel count to fail")
	}
}

func TestTagsAndFreezing(t *testing.T) {
	ps := NewMixer(3).Params()
	flow := ps.Tagged(TagFlow)
	if len(flow) != 1 || flow[0].Name != "flow_head" {
		t.Fatalf("Expected only flow_head tagged, got %v", flow)
	}

	flow[0].Frozen = true
	if len(ps.Trainable()) != len(ps.All())-1 {
		t.Error("Frozen parameter should not be trainable")
	}
	if names := ps.Frozen(); len(names) != 1 || names[0] != "flow_head" {
		t.Errorf("Expected [flow_head] frozen, got %v", names)
	}

	ps.SetFrozen(false)
	if len(ps.Trainable()) != len(ps.All()) {
		t.Error("SetFrozen(false) should release every parameter")
	}
}

func TestEMA(t *testing.T) {
	student := NewMixer(3)
	teacher := student.Clone().(*Mixer)
	b, _ := student.Params().Get("bias")
	b.Value.Data()[0] = 1

	if err := EMA(teacher.Params(), student.Params(), 0.75); err != nil {
		t.Fatal(err)
	}
	tb, _ := teacher.Params().Get("bias")
	if math.Abs(tb.Value.Data()[0]-0.25) > difTol {
		t.Errorf("Expected 0.25, got %v", tb.Value.Data()[0])
	}

	if err := EMA(teacher.Params(), student.Params(), 0); err != nil {
		t.Fatal(err)
	}
	if tb.Value.Data()[0] != 1 {
		t.Error("Decay 0 should copy the student")
	}

	if err := EMA(teacher.Params(), NewParamSet(), 0.5); err == nil {
		t.Error("Expected missing student parameters to fail")
	}
}

func TestLoadStrictness(t *testing.T) {
	ps := NewMixer(2).Params()
	state := NewMixer(2).Params().State()
	state["bias"].Data()[1] = 4
	delete(state, "flow_head")
	state["extra"] = tensor.New(1)

	if err := ps.Load(state, true); err == nil {
		t.Error("Expected strict load to report missing and unexpected entries")
	}
	if err := ps.Load(state, false); err != nil {
		t.Fatalf("Lenient load failed: %v", err)
	}
	b, _ := ps.Get("bias")
	if b.Value.Data()[1] != 4 {
		t.Error("Lenient load did not copy matching values")
	}

	state["bias"] = tensor.New(5)
	if err := ps.Load(state, false); err == nil {
		t.Error("Expected shape mismatch to fail even when lenient")
	}
}

func TestClip(t *testing.T) {
	ps := NewParamSet()
	w := ps.Add("w", TagNone, tensor.FromSlice([]float64{2, -2, 1.5, -0.3}, 4))

	Clip(ps)
	want := []float64{2 - 1e-4, -2 + 1e-4, 1.5, -0.3}
	for i, v := range w.Value.Data() {
		if math.Abs(v-want[i]) > difTol {
			t.Errorf("weight %d: expected %v, got %v", i, want[i], v)
		}
	}
}

func TestOrth(t *testing.T) {
	ps := NewParamSet()
	w := ps.Add("w", TagNone, tensor.FromSlice([]float64{3, 0, 0, 0.1, 0, 0}, 3, 2))
	bias := ps.Add("b", TagNone, tensor.FromSlice([]float64{7}, 1))
	kept := ps.Add("k", TagNone, tensor.FromSlice([]float64{1, 0, 0, 1}, 2, 2))

	if err := Orth(ps); err != nil {
		t.Fatal(err)
	}

	want := []float64{3 - 1e-4, 0, 0, 0.1 + 1e-4, 0, 0}
	for i, v := range w.Value.Data() {
		if math.Abs(v-want[i]) > 1e-10 {
			t.Errorf("weight %d: expected %v, got %v", i, want[i], v)
		}
	}
	if bias.Value.Data()[0] != 7 {
		t.Error("Expected rank 1 weights to be skipped")
	}
	if d := tensor.MaxAbsDiff(kept.Value, tensor.FromSlice([]float64{1, 0, 0, 1}, 2, 2)); d > 1e-10 {
		t.Errorf("Singular values inside the band should be kept, off by %v", d)
	}
}
