package optim

import (
	"fmt"
	"math"
	"sort"
)

// Scheduler maps a step to a learning rate.
type Scheduler interface {
	GetLR(step int) float64
	Name() string
}

// SchedulerOptions selects and configures a scheduler.
type SchedulerOptions struct {
	Type           string
	Milestones     []int
	Gamma          float64
	Periods        []int
	RestartWeights []float64
	EtaMin         float64
}

// NewScheduler builds MultiStepLR or CosineAnnealingWarmRestarts around baseLR.
func NewScheduler(opts SchedulerOptions, baseLR float64) (Scheduler, error) {
	switch opts.Type {
	case "MultiStepLR":
		milestones := append([]int(nil), opts.Milestones...)
		sort.Ints(milestones)
		return &MultiStep{BaseLR: baseLR, Milestones: milestones, Gamma: opts.Gamma}, nil
	case "CosineAnnealingWarmRestarts":
		if len(opts.Periods) == 0 {
			return nil, fmt.Errorf("scheduler %q: no periods", opts.Type)
		}
		for _, period := range opts.Periods {
			if period <= 0 {
				return nil, fmt.Errorf("scheduler %q: period %d is not positive", opts.Type, period)
			}
		}
		weights := opts.RestartWeights
		if len(weights) == 0 {
			weights = make([]float64, len(opts.Periods))
			for i := range weights {
				weights[i] = 1
			}
		}
		if len(weights) != len(opts.Periods) {
			return nil, fmt.Errorf("scheduler %q: %d periods but %d restart weights", opts.Type, len(opts.Periods), len(weights))
		}
		return &CosineRestart{BaseLR: baseLR, Periods: opts.Periods, RestartWeights: weights, EtaMin: opts.EtaMin}, nil
	default:
		return nil, fmt.Errorf("scheduler %q: %w", opts.Type, ErrUnsupported)
	}
}

// MultiStep multiplies the rate by Gamma at every milestone reached.
type MultiStep struct {
	BaseLR     float64
	Milestones []int
	Gamma      float64
}

func (s *MultiStep) GetLR(step int) float64 {
	passed := sort.Search(len(s.Milestones), func(i int) bool { return s.Milestones[i] > step })
	return s.BaseLR * math.Pow(s.Gamma, float64(passed))
}

func (s *MultiStep) Name() string { return "MultiStepLR" }

// CosineRestart anneals from a weighted base rate to EtaMin over each
// period, restarting at period boundaries. Steps past the last period stay
// at EtaMin.
type CosineRestart struct {
	BaseLR         float64
	Periods        []int
	RestartWeights []float64
	EtaMin         float64
}

func (s *CosineRestart) GetLR(step int) float64 {
	start := 0
	for i, period := range s.Periods {
		if step <= start+period {
			progress := float64(step-start) / float64(period)
			return s.EtaMin + s.RestartWeights[i]*0.5*(s.BaseLR-s.EtaMin)*(1+math.Cos(math.Pi*progress))
		}
		start += period
	}
	return s.EtaMin
}

func (s *CosineRestart) Name() string { return "CosineAnnealingWarmRestarts" }
