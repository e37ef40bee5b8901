package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Zelak312/rsgs/network"
	"github.com/Zelak312/rsgs/testmode"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const minimalConfig = `
processFolder: /tmp/rsgs
databasePath: /tmp/rsgs.db
`

func TestGetConfigDefaults(t *testing.T) {
	config, err := GetConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}

	if config.BindAddress != "127.0.0.1" || config.Port != 80 || config.Workers != 1 {
		t.Errorf("Unexpected server defaults: %s:%d with %d workers", config.BindAddress, config.Port, config.Workers)
	}
	if config.Model.InputFrames != 2 || config.Model.Frames != 3 || config.Model.Stride != 32 {
		t.Errorf("Unexpected model defaults: %+v", config.Model)
	}
	if config.Model.FlowEstimator != "blockmatch" {
		t.Errorf("Expected blockmatch estimator by default, got %q", config.Model.FlowEstimator)
	}
	if config.Train.Optimizer.Type != "adam" || config.Train.Scheduler.Type != "MultiStepLR" {
		t.Errorf("Unexpected train defaults: %+v", config.Train)
	}
	if !*config.Train.GParamStrict || *config.Train.OptimizerReuse {
		t.Error("Expected strict loading without optimizer reuse by default")
	}
}

func TestGetConfigEnvOverride(t *testing.T) {
	t.Setenv("WORKERS", "3")
	config, err := GetConfig(writeConfig(t, minimalConfig+"workers: 2\n"))
	if err != nil {
		t.Fatal(err)
	}

	if config.Workers != 3 {
		t.Errorf("Expected env to override workers, got %d", config.Workers)
	}
}

func TestVerifyConfigRejects(t *testing.T) {
	cases := map[string]string{
		"no database":     "processFolder: /tmp/rsgs\n",
		"no process dir":  "databasePath: /tmp/rsgs.db\n",
		"few frames":      minimalConfig + "model:\n  frames: 2\n",
		"input frames":    minimalConfig + "model:\n  inputFrames: 3\n",
		"test mode":       minimalConfig + "model:\n  testMode: x4\n",
		"flow estimator":  minimalConfig + "model:\n  flowEstimator: raft\n",
		"optimizer betas": minimalConfig + "train:\n  optimizer:\n    betas: [0.9]\n",
		"scale":           minimalConfig + "model:\n  scale: 2\n  testMode: pad\n",
		"regularizer":     minimalConfig + "train:\n  regularizerClipStep: -1\n",
		"zero period":     minimalConfig + "train:\n  scheduler:\n    type: CosineAnnealingWarmRestarts\n    periods: [0]\n",
	}

	for name, content := range cases {
		if _, err := GetConfig(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected config to be rejected", name)
		}
	}
}

func TestModelOptions(t *testing.T) {
	config, err := GetConfig(writeConfig(t, minimalConfig+`
model:
  frames: 5
  diffPatchSize: 8
  testMode: split+x8
train:
  eDecay: 0.999
  fixIter: 100
  fixLrMul: 0.1
  fixTags: [flow]
  regularizerOrthStep: 10
  regularizerClipStep: 20
  optimizer:
    type: adamw
    lr: 0.0002
    betas: [0.8, 0.9]
path:
  pretrainedNetG: "5000"
`))
	if err != nil {
		t.Fatal(err)
	}

	opts, err := config.ModelOptions()
	if err != nil {
		t.Fatal(err)
	}

	if opts.Frames != 5 || opts.DiffPatch != 8 || opts.Test.Mode != testmode.SplitX8 {
		t.Errorf("Unexpected model options: %+v", opts)
	}
	if opts.Train.EDecay != 0.999 || opts.Train.Fix.Iter != 100 || opts.Train.Fix.LRMul != 0.1 {
		t.Errorf("Unexpected train options: %+v", opts.Train)
	}
	if len(opts.Train.Fix.Tags) != 1 || opts.Train.Fix.Tags[0] != network.TagFlow {
		t.Errorf("Expected the flow tag, got %v", opts.Train.Fix.Tags)
	}
	if opts.Train.Optimizer.Betas != [2]float64{0.8, 0.9} || opts.Train.Optimizer.Type != "adamw" {
		t.Errorf("Unexpected optimizer options: %+v", opts.Train.Optimizer)
	}
	if opts.Train.RegularizerOrthStep != 10 || opts.Train.RegularizerClipStep != 20 || opts.Train.CheckpointSave != 5000 {
		t.Errorf("Unexpected regularizer options: %+v", opts.Train)
	}
	if config.Paths().PretrainedG != "5000" {
		t.Errorf("Expected pretrained G label, got %q", config.Paths().PretrainedG)
	}
}
