package model

import (
	"errors"
	"fmt"

	"github.com/Zelak312/rsgs/tensor"
)

// Checkpoint kinds.
const (
	KindG         = "G"
	KindE         = "E"
	KindOptimizer = "optimizerG"
)

// CheckpointStore persists named tensor sets under a kind and a label.
// LoadCheckpoint returns an error wrapping ErrNoCheckpoint when nothing is
// stored under the pair.
type CheckpointStore interface {
	SaveCheckpoint(kind, label string, state map[string]*tensor.Tensor) error
	LoadCheckpoint(kind, label string) (map[string]*tensor.Tensor, error)
}

// Paths names the checkpoint labels to start from. Empty labels are skipped.
type Paths struct {
	PretrainedG         string
	PretrainedE         string
	PretrainedOptimizer string
}

// Load restores the generator and the teacher. A teacher without a stored
// checkpoint starts as a copy of the generator.
func (m *Model) Load(store CheckpointStore, paths Paths) error {
	if paths.PretrainedG != "" {
		m.log.Infof("Loading model for G [%s] ...", paths.PretrainedG)
		state, err := store.LoadCheckpoint(KindG, paths.PretrainedG)
		if err != nil {
			return fmt.Errorf("model: loading G: %w", err)
		}
		if err := m.netG.Params().Load(state, m.opts.Train.GParamStrict); err != nil {
			return fmt.Errorf("model: loading G: %w", err)
		}
	}

	if m.netE == nil {
		return nil
	}
	if paths.PretrainedE != "" {
		m.log.Infof("Loading model for E [%s] ...", paths.PretrainedE)
		state, err := store.LoadCheckpoint(KindE, paths.PretrainedE)
		switch {
		case err == nil:
			if err := m.netE.Params().Load(state, m.opts.Train.EParamStrict); err != nil {
				return fmt.Errorf("model: loading E: %w", err)
			}
			return nil
		case !errors.Is(err, ErrNoCheckpoint):
			return fmt.Errorf("model: loading E: %w", err)
		}
		m.log.Warnf("No checkpoint for E [%s]", paths.PretrainedE)
	}
	m.log.Info("Copying model for E ...")
	return m.UpdateE(0)
}

// LoadOptimizer restores the optimizer state when reuse is enabled.
func (m *Model) LoadOptimizer(store CheckpointStore, paths Paths) error {
	if paths.PretrainedOptimizer == "" || !m.opts.Train.OptimizerReuse {
		return nil
	}
	m.log.Infof("Loading optimizerG [%s] ...", paths.PretrainedOptimizer)
	state, err := store.LoadCheckpoint(KindOptimizer, paths.PretrainedOptimizer)
	if err != nil {
		return fmt.Errorf("model: loading optimizer: %w", err)
	}
	return m.optimizer.LoadState(state)
}

// Save stores the generator, the teacher when its decay is in (0,1) and the
// optimizer when reuse is enabled.
func (m *Model) Save(store CheckpointStore, label string) error {
	if err := store.SaveCheckpoint(KindG, label, m.netG.Params().State()); err != nil {
		return fmt.Errorf("model: saving G: %w", err)
	}
	if d := m.opts.Train.EDecay; m.netE != nil && d > 0 && d < 1 {
		if err := store.SaveCheckpoint(KindE, label, m.netE.Params().State()); err != nil {
			return fmt.Errorf("model: saving E: %w", err)
		}
	}
	if m.opts.Train.OptimizerReuse && m.optimizer != nil {
		if err := store.SaveCheckpoint(KindOptimizer, label, m.optimizer.State()); err != nil {
			return fmt.Errorf("model: saving optimizer: %w", err)
		}
	}
	return nil
}
