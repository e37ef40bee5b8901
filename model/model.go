// Package model reconstructs global shutter frames from rolling shutter
// pairs. It trains a generator against its own flow-warped reconstructions
// with an EMA teacher for boundary consistency, and extracts frame sequences
// at inference with a sliding window over target times.
package model

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Zelak312/rsgs/flow"
	"github.com/Zelak312/rsgs/loss"
	"github.com/Zelak312/rsgs/network"
	"github.com/Zelak312/rsgs/optim"
	"github.com/Zelak312/rsgs/pad"
	"github.com/Zelak312/rsgs/tensor"
	"github.com/Zelak312/rsgs/testmode"
)

var (
	ErrAnchorChannels = errors.New("generator output is not three RGB anchors")
	ErrFlowChannels   = errors.New("flow diagnostics do not have 12 channels")
	ErrFrameCount     = errors.New("extracted frame count mismatch")
	ErrNoCheckpoint   = errors.New("checkpoint not found")
)

// TrainOptions configures the optimisation step.
type TrainOptions struct {
	// EDecay is the EMA teacher decay. Zero or less disables the teacher.
	EDecay       float64
	Fix          optim.Fixing
	Optimizer    optim.Options
	Scheduler    optim.SchedulerOptions
	LossFn       string
	GParamStrict bool
	EParamStrict bool
	// OptimizerReuse saves and restores the optimizer state with the weights.
	OptimizerReuse bool
	// RegularizerOrthStep and RegularizerClipStep run network.Orth and
	// network.Clip on the generator every so many steps. Zero disables them.
	RegularizerOrthStep int
	RegularizerClipStep int
	// CheckpointSave is the save interval. Regularizers skip save steps.
	CheckpointSave int
}

// Options configures a Model.
type Options struct {
	// InputFrames is the number of rolling shutter frames per sample.
	InputFrames int
	// Frames is the number of global shutter frames extracted per sample.
	Frames int
	// DiffPatch is the border, summed over both sides, cropped before the
	// generator runs during training.
	DiffPatch int
	// Stride is the spatial multiple inputs are padded to for inference.
	Stride int
	Test   testmode.Options
	Train  TrainOptions
}

// Batch is one batch of training or inference data.
type Batch struct {
	// L is the rolling shutter stack (B,N,3,H,W).
	L *tensor.Tensor
	// H is the global shutter ground truth, only used for visuals.
	H *tensor.Tensor
	// HFlows is the target flow (B,2 or 12,h,w) for endpoint losses.
	HFlows *tensor.Tensor
	// Encodings is the time encoding stack (B,4,3,1,H,W).
	Encodings *tensor.Tensor
	// Times is the current time stack (B,6,1,H,W).
	Times *tensor.Tensor
	// AllTimes holds every target time (B,2F,1,H,W).
	AllTimes  *tensor.Tensor
	OutPath   []string
	InputPath []string
}

// Model owns the generator, its EMA teacher and the training machinery.
type Model struct {
	opts      Options
	log       *logrus.Entry
	netG      network.Generator
	netE      network.Generator
	estimator flow.Estimator
	aligner   flow.Aligner

	terms     []loss.Term
	optimizer optim.Optimizer
	scheduler optim.Scheduler
	freeze    *optim.FreezeSchedule
	diff      optim.Differentiator

	logDict map[string]float64
	batch   *Batch
	output  *tensor.Tensor
}

// New builds a Model around g. When opts.Train.EDecay is positive a frozen
// copy of g becomes the EMA teacher.
func New(opts Options, g network.Generator, est flow.Estimator, al flow.Aligner, log *logrus.Entry) (*Model, error) {
	if opts.Frames < 3 {
		return nil, fmt.Errorf("model: need at least 3 extracted frames, got %d", opts.Frames)
	}
	if opts.InputFrames < 1 {
		return nil, fmt.Errorf("model: need at least one input frame, got %d", opts.InputFrames)
	}
	if opts.DiffPatch < 0 {
		return nil, fmt.Errorf("model: negative diff patch %d", opts.DiffPatch)
	}
	if opts.Stride < 1 {
		opts.Stride = pad.DefaultStride
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	m := &Model{
		opts:      opts,
		log:       log,
		netG:      g,
		estimator: est,
		aligner:   al,
		logDict:   make(map[string]float64),
	}
	if opts.Train.EDecay > 0 {
		m.netE = g.Clone()
		m.netE.Params().SetFrozen(true)
	}
	log.Infof("The number of extracting frames: %d", opts.Frames)
	return m, nil
}

func (m *Model) Generator() network.Generator { return m.netG }

// Teacher returns the EMA network, or nil when it is disabled.
func (m *Model) Teacher() network.Generator { return m.netE }

// UpdateE blends the generator into the teacher with the given decay.
func (m *Model) UpdateE(decay float64) error {
	if m.netE == nil {
		return nil
	}
	return network.EMA(m.netE.Params(), m.netG.Params(), decay)
}

// CurrentLog returns the named losses of the last optimisation step.
func (m *Model) CurrentLog() map[string]float64 {
	out := make(map[string]float64, len(m.logDict))
	for k, v := range m.logDict {
		out[k] = v
	}
	return out
}

// CurrentVisuals returns the first sample of the last batch and, after
// inference, its extracted frames.
func (m *Model) CurrentVisuals() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	if m.batch == nil {
		return out
	}
	out["L"] = m.batch.L.Select(0, 0)
	if m.batch.H != nil {
		out["H"] = m.batch.H.Select(0, 0)
	}
	if m.output != nil {
		out["E"] = m.output.Select(0, 0)
	}
	return out
}
