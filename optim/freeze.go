package optim

import (
	"github.com/Zelak312/rsgs/network"
)

// FreezeState is the phase of a FreezeSchedule.
type FreezeState int

const (
	// Frozen holds the tagged parameters fixed.
	Frozen FreezeState = iota
	// Active trains every parameter.
	Active
)

func (s FreezeState) String() string {
	if s == Frozen {
		return "frozen"
	}
	return "active"
}

// FreezeSchedule freezes tagged parameters until a step threshold and then
// releases the whole network once.
type FreezeSchedule struct {
	params *network.ParamSet
	fix    Fixing
	state  FreezeState
}

// NewFreezeSchedule freezes the parameters tagged by fix when fixing is
// enabled. Otherwise the schedule starts Active and never changes anything.
func NewFreezeSchedule(ps *network.ParamSet, fix Fixing) *FreezeSchedule {
	f := &FreezeSchedule{params: ps, fix: fix, state: Active}
	if fix.Enabled() {
		f.state = Frozen
		for _, p := range ps.Tagged(fix.Tags...) {
			p.Frozen = true
		}
	}
	return f
}

func (f *FreezeSchedule) State() FreezeState { return f.state }

// Advance moves to Active once step reaches the threshold and reports
// whether this call made the transition.
func (f *FreezeSchedule) Advance(step int) bool {
	if f.state != Frozen || step < f.fix.Iter {
		return false
	}
	f.params.SetFrozen(false)
	f.state = Active
	return true
}
