package model

import (
	"errors"
	"fmt"

	"github.com/Zelak312/rsgs/loss"
	"github.com/Zelak312/rsgs/network"
	"github.com/Zelak312/rsgs/optim"
)

// InitTrain loads checkpoints and sets up losses, the optimizer, its saved
// state, the scheduler and the freeze schedule.
func (m *Model) InitTrain(store CheckpointStore, paths Paths, diff optim.Differentiator) error {
	if err := m.Load(store, paths); err != nil {
		return err
	}

	terms, err := loss.Parse(m.opts.Train.LossFn)
	if err != nil {
		return fmt.Errorf("model: losses: %w", err)
	}
	m.terms = terms

	fix := m.opts.Train.Fix
	groups, skipped := optim.Groups(m.netG.Params(), fix)
	for _, name := range skipped {
		m.log.Warnf("Params [%s] will not optimize.", name)
	}
	if m.optimizer, err = optim.New(m.opts.Train.Optimizer, groups); err != nil {
		return fmt.Errorf("model: optimizer: %w", err)
	}
	if err := m.LoadOptimizer(store, paths); err != nil {
		return err
	}
	if m.scheduler, err = optim.NewScheduler(m.opts.Train.Scheduler, m.opts.Train.Optimizer.LR); err != nil {
		return fmt.Errorf("model: scheduler: %w", err)
	}

	m.freeze = optim.NewFreezeSchedule(m.netG.Params(), fix)
	if fix.Enabled() {
		m.log.Infof("Fix keys: %v for the first %d iters.", fix.Tags, fix.Iter)
	}
	m.diff = diff
	if m.diff == nil {
		m.diff = optim.FiniteDifference{}
	}
	return nil
}

// Loss evaluates the weighted loss list on one forward pass and returns the
// total with the per-term values.
func (m *Model) Loss(b *Batch) (float64, map[string]float64, error) {
	out, err := m.ForwardTrain(b)
	if err != nil {
		return 0, nil, err
	}
	if len(out.Flows) == 0 {
		return 0, nil, fmt.Errorf("%w: generator returned none", ErrFlowChannels)
	}
	if c := out.Flows[0].Dim(1); c != network.FlowChannels {
		return 0, nil, fmt.Errorf("%w: got %d", ErrFlowChannels, c)
	}
	if out.Input.Dim(1) < 2 {
		return 0, nil, fmt.Errorf("model: training needs a forward and a reverse frame, got %d", out.Input.Dim(1))
	}
	forward, reverse := out.Input.Select(1, 0), out.Input.Select(1, 1)

	total := 0.0
	logs := make(map[string]float64, len(m.terms)+1)
	for _, term := range m.terms {
		var v float64
		switch term.Kind {
		case loss.Endpoint:
			if b.HFlows == nil {
				return 0, nil, errors.New("model: endpoint loss without target flows")
			}
			for _, f := range out.Flows {
				v += term.Fn(f, b.HFlows)
			}
		case loss.Smoothness:
			for _, f := range out.Flows {
				s := f.Shape()
				v += term.Fn(f.Reshape(s[0]*s[1]/2, 2, s[2], s[3]), nil)
			}
		default:
			v = term.Fn(out.WholeForward, forward) + term.Fn(out.MidForward, forward) +
				term.Fn(out.WholeReverse, reverse) + term.Fn(out.MidReverse, reverse)
			if out.Boundary != nil {
				v += term.Fn(out.Packed, out.Boundary)
			}
		}
		v *= term.Ratio
		logs[term.Name] = v
		total += v
	}
	logs["G_loss"] = total
	return total, logs, nil
}

// OptimizeParameters runs one optimisation step on b and then updates the
// EMA teacher.
func (m *Model) OptimizeParameters(step int, b *Batch) error {
	if m.optimizer == nil {
		return errors.New("model: InitTrain has not run")
	}
	if m.freeze.Advance(step) {
		m.log.Infof("Train all the parameters from %d iters.", step)
	}

	var logs map[string]float64
	_, err := m.diff.Gradients(m.netG.Params().Trainable(), func() (float64, error) {
		total, l, err := m.Loss(b)
		if logs == nil {
			logs = l
		}
		return total, err
	})
	if err != nil {
		return err
	}
	m.optimizer.Step()
	if err := m.regularize(step); err != nil {
		return err
	}

	m.logDict = logs
	m.batch = b
	if m.opts.Train.EDecay > 0 {
		if err := m.UpdateE(m.opts.Train.EDecay); err != nil {
			return err
		}
	}
	return nil
}

// regularize applies the weight regularizers due at step.
func (m *Model) regularize(step int) error {
	t := m.opts.Train
	if t.CheckpointSave > 0 && step%t.CheckpointSave == 0 {
		return nil
	}
	if t.RegularizerOrthStep > 0 && step%t.RegularizerOrthStep == 0 {
		if err := network.Orth(m.netG.Params()); err != nil {
			return fmt.Errorf("model: %w", err)
		}
	}
	if t.RegularizerClipStep > 0 && step%t.RegularizerClipStep == 0 {
		network.Clip(m.netG.Params())
	}
	return nil
}

// UpdateLearningRate applies the scheduler's rate for step.
func (m *Model) UpdateLearningRate(step int) {
	if m.scheduler == nil {
		return
	}
	m.optimizer.SetLR(m.scheduler.GetLR(step))
}

// CurrentLearningRate is the rate of the first parameter group.
func (m *Model) CurrentLearningRate() float64 {
	if m.optimizer == nil || len(m.optimizer.Groups()) == 0 {
		return 0
	}
	return m.optimizer.Groups()[0].LR
}

// FreezeState reports whether tagged parameters are still held back.
func (m *Model) FreezeState() optim.FreezeState {
	if m.freeze == nil {
		return optim.Active
	}
	return m.freeze.State()
}
