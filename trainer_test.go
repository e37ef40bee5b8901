package main

import (
	"context"
	"testing"

	"github.com/Zelak312/rsgs/model"
	"github.com/Zelak312/rsgs/tensor"
)

func newTestTrainer(t *testing.T, config *Config) (*Trainer, *Sqlite) {
	t.Helper()
	sqlite := newTestSqlite(t)
	engine, err := NewEngine(config, sqlite)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.InitTrain(); err != nil {
		t.Fatal(err)
	}

	trainer, err := NewTrainer(context.Background(), config, engine, sqlite, nil)
	if err != nil {
		t.Fatal(err)
	}
	return trainer, sqlite
}

func TestTrainerPersistsSteps(t *testing.T) {
	config := testConfig(t)
	config.Train.CheckpointSave = 2
	trainer, sqlite := newTestTrainer(t, config)

	for step := 1; step <= 3; step++ {
		if err := trainer.trainPair("run", step, testFrame(8, 8, 0), testFrame(8, 8, 0.05)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := sqlite.GetLosses("run")
	if err != nil {
		t.Fatal(err)
	}
	steps := map[int]bool{}
	for _, e := range entries {
		steps[e.Step] = true
	}
	if len(steps) != 3 {
		t.Errorf("Expected losses for 3 steps, got %v", steps)
	}

	if _, err := sqlite.LoadCheckpoint(model.KindG, "2"); err != nil {
		t.Errorf("Expected a checkpoint at step 2: %v", err)
	}
	if _, err := sqlite.LoadCheckpoint(model.KindG, "3"); err == nil {
		t.Error("Expected no checkpoint at step 3")
	}
}

func TestTrainerCrop(t *testing.T) {
	config := testConfig(t)
	config.Train.PatchSize = 4
	trainer, _ := newTestTrainer(t, config)

	frame := testFrame(8, 6, 0)
	fwd, rev := trainer.crop(frame, frame.Clone())
	if s := fwd.Shape(); s[0] != 3 || s[1] != 4 || s[2] != 4 {
		t.Fatalf("Expected a (3,4,4) patch, got %v", s)
	}
	if tensor.MaxAbsDiff(fwd, rev) != 0 {
		t.Error("Expected both frames to be cut at the same place")
	}

	config.Train.PatchSize = 16
	fwd, _ = trainer.crop(frame, frame)
	if fwd != frame {
		t.Error("Expected frames smaller than the patch to be kept whole")
	}
}

func TestTrainerSingleRun(t *testing.T) {
	config := testConfig(t)
	trainer, _ := newTestTrainer(t, config)

	trainer.running.Store(true)
	if _, err := trainer.Start(TrainRequest{Path: "a", ReversePath: "b"}); err != errTrainingRunning {
		t.Errorf("Expected errTrainingRunning, got %v", err)
	}
}
