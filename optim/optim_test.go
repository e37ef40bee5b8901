package optim

import (
	"errors"
	"math"
	"testing"

	"github.com/Zelak312/rsgs/network"
	"github.com/Zelak312/rsgs/tensor"
)

const difTol = 1e-6

func oneParam(value, grad float64) (*network.ParamSet, *network.Param) {
	ps := network.NewParamSet()
	p := ps.Add("w", network.TagNone, tensor.FromSlice([]float64{value}, 1))
	p.Grad.Data()[0] = grad
	return ps, p
}

func TestFirstStep(t *testing.T) {
	tests := []struct {
		kind string
		want float64
	}{
		{"adam", 0.9},
		{"adamw", 0.899},
		{"adamax", 0.9},
	}
	for _, tt := range tests {
		ps, p := oneParam(1, 0.5)
		o, err := New(Options{Type: tt.kind, LR: 0.1}, []*Group{{Params: ps.All(), Mul: 1}})
		if err != nil {
			t.Fatal(err)
		}
		o.Step()
		if got := p.Value.Data()[0]; math.Abs(got-tt.want) > difTol {
			t.Errorf("%s: expected %v, got %v", o.Name(), tt.want, got)
		}
	}
}

func TestUnsupportedTypes(t *testing.T) {
	if _, err := New(Options{Type: "sgd"}, nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
	if _, err := NewScheduler(SchedulerOptions{Type: "StepLR"}, 1); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestStepSkipsFrozenAndScalesGroups(t *testing.T) {
	ps := network.NewParamSet()
	a := ps.Add("a", network.TagNone, tensor.Ones(1))
	b := ps.Add("b", network.TagFlow, tensor.Ones(1))
	c := ps.Add("c", network.TagNone, tensor.Ones(1))
	for _, p := range ps.All() {
		p.Grad.Data()[0] = 1
	}
	c.Frozen = true

	o, err := New(Options{Type: "adam", LR: 0.1}, []*Group{
		{Params: []*network.Param{a, c}, Mul: 1},
		{Params: []*network.Param{b}, Mul: 0.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	o.Step()
	if math.Abs(a.Value.Data()[0]-0.9) > difTol || math.Abs(b.Value.Data()[0]-0.95) > difTol {
		t.Errorf("Expected 0.9 and 0.95, got %v and %v", a.Value.Data()[0], b.Value.Data()[0])
	}
	if c.Value.Data()[0] != 1 {
		t.Error("Frozen parameter moved")
	}

	o.SetLR(0.2)
	if o.Groups()[1].LR != 0.1 {
		t.Errorf("Expected scaled group rate 0.1, got %v", o.Groups()[1].LR)
	}
}

func TestStateRoundTrip(t *testing.T) {
	ps, p := oneParam(1, 0.5)
	o, _ := New(Options{Type: "adam", LR: 0.1}, []*Group{{Params: ps.All(), Mul: 1}})
	o.Step()
	o.Step()

	ps2, p2 := oneParam(p.Value.Data()[0], 0.5)
	o2, _ := New(Options{Type: "adam", LR: 0.1}, []*Group{{Params: ps2.All(), Mul: 1}})
	if err := o2.LoadState(o.State()); err != nil {
		t.Fatal(err)
	}
	o.Step()
	o2.Step()
	if math.Abs(p.Value.Data()[0]-p2.Value.Data()[0]) > 1e-12 {
		t.Error("Restored optimizer diverged from the original")
	}

	if err := o2.LoadState(map[string]*tensor.Tensor{}); err == nil {
		t.Error("Expected a state without step count to fail")
	}
}

func TestMultiStep(t *testing.T) {
	s, err := NewScheduler(SchedulerOptions{Type: "MultiStepLR", Milestones: []int{4, 2}, Gamma: 0.5}, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 1, 0.5, 0.5, 0.25, 0.25}
	for step, w := range want {
		if got := s.GetLR(step); math.Abs(got-w) > difTol {
			t.Errorf("step %d: expected %v, got %v", step, w, got)
		}
	}
}

func TestCosineRestart(t *testing.T) {
	s, err := NewScheduler(SchedulerOptions{
		Type:           "CosineAnnealingWarmRestarts",
		Periods:        []int{4, 4},
		RestartWeights: []float64{1, 0.5},
	}, 1)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		step int
		want float64
	}{
		{0, 1},
		{2, 0.5},
		{4, 0},
		{5, 0.25 * (1 + math.Cos(math.Pi/4))},
		{8, 0},
		{20, 0},
	}
	for _, tt := range tests {
		if got := s.GetLR(tt.step); math.Abs(got-tt.want) > difTol {
			t.Errorf("step %d: expected %v, got %v", tt.step, tt.want, got)
		}
	}

	if _, err := NewScheduler(SchedulerOptions{Type: "CosineAnnealingWarmRestarts", Periods: []int{1}, RestartWeights: []float64{1, 1}}, 1); err == nil {
		t.Error("Expected mismatched restart weights to fail")
	}

	for _, periods := range [][]int{{0}, {4, -1}} {
		if _, err := NewScheduler(SchedulerOptions{Type: "CosineAnnealingWarmRestarts", Periods: periods}, 1); err == nil {
			t.Errorf("Expected periods %v to fail", periods)
		}
	}
}

func tagged() *network.ParamSet {
	ps := network.NewParamSet()
	ps.Add("body", network.TagNone, tensor.New(2))
	ps.Add("flow", network.TagFlow, tensor.New(2))
	return ps
}

func TestGroups(t *testing.T) {
	fix := Fixing{Iter: 10, Tags: []network.Tag{network.TagFlow}, LRMul: 1}
	groups, skipped := Groups(tagged(), fix)
	if len(groups) != 1 || len(groups[0].Params) != 2 || skipped != nil {
		t.Errorf("Expected one group of everything, got %d groups", len(groups))
	}

	fix.LRMul = 0.25
	groups, _ = Groups(tagged(), fix)
	if len(groups) != 2 || groups[0].Params[0].Name != "body" || groups[1].Params[0].Name != "flow" || groups[1].Mul != 0.25 {
		t.Error("Expected untagged then tagged groups")
	}

	ps := tagged()
	p, _ := ps.Get("flow")
	p.Frozen = true
	groups, skipped = Groups(ps, Fixing{})
	if len(groups) != 1 || len(groups[0].Params) != 1 || len(skipped) != 1 || skipped[0] != "flow" {
		t.Errorf("Expected frozen flow to be skipped, got %v", skipped)
	}
}

func TestFreezeSchedule(t *testing.T) {
	ps := tagged()
	f := NewFreezeSchedule(ps, Fixing{Iter: 3, Tags: []network.Tag{network.TagFlow}})
	if f.State() != Frozen || len(ps.Trainable()) != 1 {
		t.Fatal("Expected tagged parameters frozen at construction")
	}
	if f.Advance(2) {
		t.Error("Transition before the threshold")
	}
	if !f.Advance(3) || f.State() != Active || len(ps.Trainable()) != 2 {
		t.Error("Expected one transition to active at the threshold")
	}
	if f.Advance(4) {
		t.Error("Active is final")
	}

	if NewFreezeSchedule(tagged(), Fixing{}).State() != Active {
		t.Error("Without fixing the schedule starts active")
	}
}

func TestFiniteDifference(t *testing.T) {
	ps := network.NewParamSet()
	p := ps.Add("w", network.TagNone, tensor.FromSlice([]float64{1, 5}, 2))
	q := ps.Add("frozen", network.TagNone, tensor.FromSlice([]float64{2}, 1))
	q.Frozen = true

	loss := func() (float64, error) {
		w := p.Value.Data()
		return (w[0]-3)*(w[0]-3) + (w[1]-3)*(w[1]-3) + q.Value.Data()[0], nil
	}
	got, err := FiniteDifference{}.Gradients(ps.All(), loss)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-10) > difTol {
		t.Errorf("Expected loss 10, got %v", got)
	}
	if math.Abs(p.Grad.Data()[0]+4) > difTol || math.Abs(p.Grad.Data()[1]-4) > difTol {
		t.Errorf("Expected gradient [-4 4], got %v", p.Grad.Data())
	}
	if q.Grad.Data()[0] != 0 {
		t.Error("Frozen parameters get no gradient")
	}
	if p.Value.Data()[0] != 1 || p.Value.Data()[1] != 5 {
		t.Error("Weights were not restored")
	}

	failing := func() (float64, error) { return 0, errors.New("boom") }
	if _, err := (FiniteDifference{}).Gradients(ps.All(), failing); err == nil {
		t.Error("Expected loss errors to propagate")
	}
}
