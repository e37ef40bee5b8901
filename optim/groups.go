package optim

import (
	"github.com/Zelak312/rsgs/network"
)

// Fixing describes a warm-up during which tagged parameters are frozen.
type Fixing struct {
	Iter  int
	Tags  []network.Tag
	LRMul float64
}

// Enabled reports whether any parameters are held back at the start.
func (f Fixing) Enabled() bool {
	return f.Iter > 0 && len(f.Tags) > 0
}

// Groups splits ps into optimizer groups. While fixing is enabled every
// parameter is handed to the optimizer: in one group when LRMul is 1,
// otherwise untagged parameters at the base rate and tagged ones at
// LRMul times it. Without fixing only trainable parameters are grouped and
// the names of the frozen ones are returned.
func Groups(ps *network.ParamSet, fix Fixing) ([]*Group, []string) {
	if !fix.Enabled() {
		return []*Group{{Params: ps.Trainable(), Mul: 1}}, ps.Frozen()
	}
	if fix.LRMul == 1 {
		return []*Group{{Params: ps.All(), Mul: 1}}, nil
	}

	tagged := ps.Tagged(fix.Tags...)
	isTagged := make(map[*network.Param]bool, len(tagged))
	for _, p := range tagged {
		isTagged[p] = true
	}
	var normal []*network.Param
	for _, p := range ps.All() {
		if !isTagged[p] {
			normal = append(normal, p)
		}
	}
	return []*Group{
		{Params: normal, Mul: 1},
		{Params: tagged, Mul: fix.LRMul},
	}, nil
}
