package main

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/Zelak312/rsgs/tensor"
)

var errTrainingRunning = errors.New("a training run is already in progress")

type TrainRequest struct {
	Path        string `json:"path" binding:"required"`
	ReversePath string `json:"reversePath" binding:"required"`
	// Steps is the number of optimisation steps. Zero runs one pass over the clip.
	Steps int `json:"steps"`
	// StartStep continues the step count of an earlier run
	StartStep int `json:"startStep"`
}

type Trainer struct {
	ctx    context.Context
	logger *logrus.Entry
	config *Config
	engine *Engine
	sqlite *Sqlite
	hub    *Hub
	rand   *rand.Rand

	running *atomic.Bool
	runID   *atomic.String
}

func NewTrainer(ctx context.Context, config *Config, engine *Engine, sqlite *Sqlite, hub *Hub) (*Trainer, error) {
	logger, err := CreateLogger("trainer")
	if err != nil {
		return nil, err
	}

	return &Trainer{
		ctx:     ctx,
		logger:  logger,
		config:  config,
		engine:  engine,
		sqlite:  sqlite,
		hub:     hub,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		running: atomic.NewBool(false),
		runID:   atomic.NewString(""),
	}, nil
}

func (t *Trainer) Running() bool { return t.running.Load() }

func (t *Trainer) RunID() string { return t.runID.Load() }

// Start launches a training run in the background and returns its id
func (t *Trainer) Start(req TrainRequest) (string, error) {
	if !t.running.CAS(false, true) {
		return "", errTrainingRunning
	}

	runID := uuid.NewString()
	t.runID.Store(runID)
	go func() {
		err := t.run(runID, req)
		if err != nil {
			t.logger.WithField("runId", runID).Error("Training failed: ", err)
		}

		t.running.Store(false)
		t.sendState(runID, err)
	}()

	return runID, nil
}

func (t *Trainer) run(runID string, req TrainRequest) error {
	logger := t.logger.WithField("runId", runID)
	logger.WithFields(StructFields(req)).Info("Starting training run")
	t.sendState(runID, nil)

	if err := t.engine.InitTrain(); err != nil {
		return err
	}

	clip := &Clip{Path: req.Path, ReversePath: req.ReversePath}
	step := req.StartStep
	for {
		pairs, err := t.trainPass(runID, clip, &step, req)
		if err != nil {
			return err
		}

		if pairs == 0 {
			return errors.New("no frames decoded from clip")
		}

		if req.Steps == 0 || step-req.StartStep >= req.Steps {
			break
		}
	}

	logger.WithField("step", step).Info("Saving the latest model")
	return t.engine.Save("latest")
}

// trainPass runs one step per frame pair of clip and returns the number of
// pairs used
func (t *Trainer) trainPass(runID string, clip *Clip, step *int, req TrainRequest) (pairs int, err error) {
	forward, reverse, _, err := openClip(clip)
	if err != nil {
		return 0, err
	}

	defer func() {
		output, closeErr := closeReaders(forward, reverse)
		if err == nil && closeErr != nil {
			t.logger.Debug("Decoder output: ", output)
			err = closeErr
		}
	}()

	for {
		if req.Steps > 0 && *step-req.StartStep >= req.Steps {
			return pairs, nil
		}

		if t.ctx.Err() != nil {
			return pairs, t.ctx.Err()
		}

		fwd, err := forward.ReadFrame()
		if errors.Is(err, io.EOF) {
			return pairs, nil
		}
		if err != nil {
			return pairs, err
		}

		rev, err := reverse.ReadFrame()
		if errors.Is(err, io.EOF) {
			return pairs, nil
		}
		if err != nil {
			return pairs, err
		}

		*step++
		if err := t.trainPair(runID, *step, fwd, rev); err != nil {
			return pairs, err
		}
		pairs++
	}
}

// crop cuts the same random square patch out of both frames
func (t *Trainer) crop(fwd, rev *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	h, w := fwd.Dim(-2), fwd.Dim(-1)
	size := t.config.Train.PatchSize
	if size <= 0 || (size >= h && size >= w) {
		return fwd, rev
	}

	ph, pw := min(size, h), min(size, w)
	top, left := t.rand.Intn(h-ph+1), t.rand.Intn(w-pw+1)
	return fwd.Window(top, left, ph, pw).Clone(), rev.Window(top, left, ph, pw).Clone()
}

// trainPair runs one optimisation step, persists and broadcasts its losses
// and saves a checkpoint every checkpointSave steps.
func (t *Trainer) trainPair(runID string, step int, fwd, rev *tensor.Tensor) error {
	fwd, rev = t.crop(fwd, rev)
	batch, err := t.engine.Batch(fwd, rev)
	if err != nil {
		return err
	}

	result, err := t.engine.TrainStep(step, batch)
	if err != nil {
		return err
	}

	if err := t.sqlite.InsertLosses(runID, step, result.Losses); err != nil {
		return err
	}

	t.logger.WithFields(logrus.Fields{
		"runId": runID,
		"step":  step,
		"lr":    result.LearningRate,
		"loss":  result.Losses["G_loss"],
	}).Debug("Training step")

	if t.hub != nil {
		t.hub.BroadcastMessage(WsLossUpdate{
			WsBaseMessage: WsBaseMessage{Type: "loss_update"},
			RunID:         runID,
			Step:          step,
			LearningRate:  result.LearningRate,
			Frozen:        result.Frozen,
			Losses:        result.Losses,
		})
	}

	if step%t.config.Train.CheckpointSave == 0 {
		t.logger.WithField("step", step).Info("Saving models and training states.")
		if err := t.engine.Save(strconv.Itoa(step)); err != nil {
			return err
		}
	}

	return nil
}

func (t *Trainer) sendState(runID string, err error) {
	if t.hub == nil {
		return
	}

	state := WsTrainingState{
		WsBaseMessage: WsBaseMessage{Type: "training_state"},
		RunID:         runID,
		Running:       t.running.Load(),
	}
	if err != nil {
		state.Error = err.Error()
	}

	t.hub.BroadcastMessage(state)
}
