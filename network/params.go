package network

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/Zelak312/rsgs/tensor"
)

// Tag groups parameters that share an optimisation schedule. Tags are set
// when a network is built.
type Tag string

const (
	// TagNone marks ordinary parameters.
	TagNone Tag = ""
	// TagFlow marks parameters of the flow branch.
	TagFlow Tag = "flow"
)

// Param is one named weight tensor with its gradient buffer.
type Param struct {
	Name   string
	Tag    Tag
	Value  *tensor.Tensor
	Grad   *tensor.Tensor
	Frozen bool
}

// ZeroGrad clears the gradient buffer.
func (p *Param) ZeroGrad() {
	p.Grad = tensor.New(p.Value.Shape()...)
}

// ParamSet keeps a network's parameters in registration order.
type ParamSet struct {
	params []*Param
	byName map[string]*Param
}

func NewParamSet() *ParamSet {
	return &ParamSet{byName: make(map[string]*Param)}
}

// Add registers value under name. Names must be unique.
func (s *ParamSet) Add(name string, tag Tag, value *tensor.Tensor) *Param {
	if _, ok := s.byName[name]; ok {
		panic(fmt.Sprintf("network: duplicate parameter %q", name))
	}

	p := &Param{Name: name, Tag: tag, Value: value}
	p.ZeroGrad()
	s.params = append(s.params, p)
	s.byName[name] = p
	return p
}

func (s *ParamSet) All() []*Param { return s.params }

func (s *ParamSet) Get(name string) (*Param, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// Tagged returns the parameters carrying any of tags.
func (s *ParamSet) Tagged(tags ...Tag) []*Param {
	var out []*Param
	for _, p := range s.params {
		for _, t := range tags {
			if p.Tag == t {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Trainable returns the parameters that are not frozen.
func (s *ParamSet) Trainable() []*Param {
	var out []*Param
	for _, p := range s.params {
		if !p.Frozen {
			out = append(out, p)
		}
	}
	return out
}

// Frozen returns the names of frozen parameters.
func (s *ParamSet) Frozen() []string {
	var out []string
	for _, p := range s.params {
		if p.Frozen {
			out = append(out, p.Name)
		}
	}
	return out
}

// SetFrozen freezes or unfreezes every parameter.
func (s *ParamSet) SetFrozen(frozen bool) {
	for _, p := range s.params {
		p.Frozen = frozen
	}
}

// State returns copies of every parameter value keyed by name.
func (s *ParamSet) State() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, len(s.params))
	for _, p := range s.params {
		out[p.Name] = p.Value.Clone()
	}
	return out
}

// Load copies values from state. In strict mode every parameter must be
// present and every entry must match a parameter; otherwise unknown entries
// and missing parameters are skipped. Shape mismatches always fail.
func (s *ParamSet) Load(state map[string]*tensor.Tensor, strict bool) error {
	var result *multierror.Error
	for _, p := range s.params {
		v, ok := state[p.Name]
		if !ok {
			if strict {
				result = multierror.Append(result, fmt.Errorf("missing parameter %q", p.Name))
			}
			continue
		}
		if !tensor.SameShape(v, p.Value) {
			result = multierror.Append(result, fmt.Errorf("parameter %q: shape %v does not match %v", p.Name, v.Shape(), p.Value.Shape()))
			continue
		}
		copy(p.Value.Data(), v.Data())
	}

	if strict {
		names := make([]string, 0, len(state))
		for name := range state {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, ok := s.byName[name]; !ok {
				result = multierror.Append(result, fmt.Errorf("unexpected parameter %q", name))
			}
		}
	}
	return result.ErrorOrNil()
}

// CopyFrom overwrites every value with the matching one from src.
func (s *ParamSet) CopyFrom(src *ParamSet) error {
	return s.Load(src.State(), true)
}

// EMA blends student into teacher: teacher = decay*teacher + (1-decay)*student.
// A decay of 0 copies the student.
func EMA(teacher, student *ParamSet, decay float64) error {
	for _, tp := range teacher.params {
		sp, ok := student.byName[tp.Name]
		if !ok || !tensor.SameShape(sp.Value, tp.Value) {
			return fmt.Errorf("network: student has no parameter matching %q", tp.Name)
		}
		td, sd := tp.Value.Data(), sp.Value.Data()
		for i := range td {
			td[i] = decay*td[i] + (1-decay)*sd[i]
		}
	}
	return nil
}
