package main

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Zelak312/rsgs/flow"
	"github.com/Zelak312/rsgs/model"
	"github.com/Zelak312/rsgs/network"
	"github.com/Zelak312/rsgs/optim"
	"github.com/Zelak312/rsgs/tensor"
	"github.com/Zelak312/rsgs/timemap"
)

// Engine serializes access to the model shared by workers and the trainer
type Engine struct {
	sync.Mutex
	logger     *logrus.Entry
	config     *Config
	store      model.CheckpointStore
	model      *model.Model
	maps       map[[2]int]*timemap.Maps
	trainReady bool
}

type StepResult struct {
	Losses       map[string]float64
	LearningRate float64
	Frozen       bool
}

func NewEngine(config *Config, store model.CheckpointStore) (*Engine, error) {
	logger, err := CreateLogger("engine")
	if err != nil {
		return nil, err
	}

	opts, err := config.ModelOptions()
	if err != nil {
		return nil, err
	}

	m, err := model.New(opts, network.NewMixer(opts.InputFrames), config.Estimator(), flow.Linear{}, logger)
	if err != nil {
		return nil, err
	}

	if err := m.Load(store, config.Paths()); err != nil {
		return nil, err
	}

	return &Engine{
		logger: logger,
		config: config,
		store:  store,
		model:  m,
		maps:   make(map[[2]int]*timemap.Maps),
	}, nil
}

// Batch pairs a top to bottom frame with a bottom to top frame, both
// (3,H,W), into a single sample batch with its time maps.
func (e *Engine) Batch(forward, reverse *tensor.Tensor) (*model.Batch, error) {
	if !tensor.SameShape(forward, reverse) || forward.Rank() != 3 || forward.Dim(0) != 3 {
		return nil, fmt.Errorf("frame pair %v and %v don't match", forward.Shape(), reverse.Shape())
	}

	h, w := forward.Dim(1), forward.Dim(2)
	e.Lock()
	maps, ok := e.maps[[2]int{h, w}]
	if !ok {
		var err error
		maps, err = timemap.Build(1, h, w, e.config.Model.Frames)
		if err != nil {
			e.Unlock()
			return nil, err
		}
		e.maps[[2]int{h, w}] = maps
	}
	e.Unlock()

	return &model.Batch{
		L:         tensor.Stack(0, forward, reverse).Reshape(1, 2, 3, h, w),
		Encodings: maps.Encodings,
		Times:     maps.Times,
		AllTimes:  maps.AllTimes,
	}, nil
}

// Infer returns the extracted frames (F,3,H,W) of a single sample batch
func (e *Engine) Infer(b *model.Batch) (*tensor.Tensor, error) {
	e.Lock()
	defer e.Unlock()

	out, err := e.model.Infer(b)
	if err != nil {
		return nil, err
	}

	return out.Select(0, 0), nil
}

func (e *Engine) InitTrain() error {
	e.Lock()
	defer e.Unlock()

	if e.trainReady {
		return nil
	}

	diff := optim.FiniteDifference{Step: e.config.Train.FiniteDiffStep}
	if err := e.model.InitTrain(e.store, e.config.Paths(), diff); err != nil {
		return err
	}

	e.trainReady = true
	return nil
}

func (e *Engine) TrainStep(step int, b *model.Batch) (StepResult, error) {
	e.Lock()
	defer e.Unlock()

	if !e.trainReady {
		return StepResult{}, fmt.Errorf("training was not initialized")
	}

	e.model.UpdateLearningRate(step)
	if err := e.model.OptimizeParameters(step, b); err != nil {
		return StepResult{}, err
	}

	return StepResult{
		Losses:       e.model.CurrentLog(),
		LearningRate: e.model.CurrentLearningRate(),
		Frozen:       e.model.FreezeState() == optim.Frozen,
	}, nil
}

func (e *Engine) Save(label string) error {
	e.Lock()
	defer e.Unlock()

	return e.model.Save(e.store, label)
}
