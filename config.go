package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Zelak312/rsgs/flow"
	"github.com/Zelak312/rsgs/model"
	"github.com/Zelak312/rsgs/network"
	"github.com/Zelak312/rsgs/optim"
	"github.com/Zelak312/rsgs/testmode"
)

type Config struct {
	BindAddress   string           `yaml:"bindAddress"`
	Port          int32            `yaml:"port"`
	ProcessFolder string           `yaml:"processFolder"`
	DatabasePath  string           `yaml:"databasePath"`
	LogPath       string           `yaml:"logPath"`
	Workers       int              `yaml:"workers"`
	Model         ModelConfig      `yaml:"model"`
	Train         TrainConfig      `yaml:"train"`
	Pretrained    PretrainedConfig `yaml:"path"`
}

type ModelConfig struct {
	InputFrames   int    `yaml:"inputFrames"`
	Frames        int    `yaml:"frames"`
	DiffPatchSize int    `yaml:"diffPatchSize"`
	Stride        int    `yaml:"stride"`
	TestMode      string `yaml:"testMode"`
	Refield       int    `yaml:"refield"`
	MinSize       int    `yaml:"minSize"`
	Scale         int    `yaml:"scale"`
	Modulo        int    `yaml:"modulo"`
	// FlowEstimator is "blockmatch" or "zero"
	FlowEstimator string `yaml:"flowEstimator"`
	FlowRadius    int    `yaml:"flowRadius"`
	FlowBlock     int    `yaml:"flowBlock"`
}

type TrainConfig struct {
	EDecay         float64         `yaml:"eDecay"`
	FixIter        int             `yaml:"fixIter"`
	FixLrMul       float64         `yaml:"fixLrMul"`
	FixTags        []string        `yaml:"fixTags"`
	Optimizer      OptimizerConfig `yaml:"optimizer"`
	Scheduler      SchedulerConfig `yaml:"scheduler"`
	LossfnType     string          `yaml:"lossfnType"`
	GParamStrict   *bool           `yaml:"gParamStrict"`
	EParamStrict   *bool           `yaml:"eParamStrict"`
	OptimizerReuse *bool           `yaml:"optimizerReuse"`
	CheckpointSave int             `yaml:"checkpointSave"`
	PatchSize      int             `yaml:"patchSize"`
	FiniteDiffStep float64         `yaml:"finiteDiffStep"`
	// Zero disables a regularizer
	RegularizerOrthStep int `yaml:"regularizerOrthStep"`
	RegularizerClipStep int `yaml:"regularizerClipStep"`
}

type OptimizerConfig struct {
	Type        string    `yaml:"type"`
	LR          float64   `yaml:"lr"`
	Betas       []float64 `yaml:"betas"`
	WeightDecay float64   `yaml:"weightDecay"`
}

type SchedulerConfig struct {
	Type           string    `yaml:"type"`
	Milestones     []int     `yaml:"milestones"`
	Gamma          float64   `yaml:"gamma"`
	Periods        []int     `yaml:"periods"`
	RestartWeights []float64 `yaml:"restartWeights"`
	EtaMin         float64   `yaml:"etaMin"`
}

// PretrainedConfig names checkpoint labels stored in the database
type PretrainedConfig struct {
	NetG       string `yaml:"pretrainedNetG"`
	NetE       string `yaml:"pretrainedNetE"`
	OptimizerG string `yaml:"pretrainedOptimizerG"`
}

func boolDefault(v **bool, def bool) {
	if *v == nil {
		*v = &def
	}
}

// Verify config and set defaults
func verifyConfig(config *Config) error {
	if config == nil {
		return errors.New("cannot verify config, config is nil")
	}

	if config.BindAddress == "" {
		config.BindAddress = "127.0.0.1"
	}

	if config.Port == 0 {
		config.Port = 80
	}

	if config.ProcessFolder == "" {
		return errors.New("missing temp process folder in config")
	}

	if config.DatabasePath == "" {
		return errors.New("missing database path in config")
	}

	if config.LogPath == "" {
		config.LogPath = "./logs"
	}

	if config.Workers == 0 {
		config.Workers = 1
	}

	m := &config.Model
	if m.InputFrames == 0 {
		m.InputFrames = 2
	}

	// clips hold one top to bottom and one bottom to top video
	if m.InputFrames != 2 {
		return fmt.Errorf("model input frames must be 2, got %d", m.InputFrames)
	}

	if m.Frames == 0 {
		m.Frames = 3
	}

	if m.Frames < 3 {
		return fmt.Errorf("model frames must be at least 3, got %d", m.Frames)
	}

	if m.Stride == 0 {
		m.Stride = 32
	}

	if _, err := testmode.ParseMode(m.TestMode); err != nil {
		return err
	}

	if m.Refield == 0 {
		m.Refield = 32
	}

	if m.MinSize == 0 {
		m.MinSize = 256
	}

	if m.Scale == 0 {
		m.Scale = 1
	}

	// the generator keeps the input size
	if m.Scale != 1 {
		return fmt.Errorf("model scale must be 1, got %d", m.Scale)
	}

	if m.Modulo == 0 {
		m.Modulo = 1
	}

	switch m.FlowEstimator {
	case "":
		m.FlowEstimator = "blockmatch"
	case "blockmatch", "zero":
	default:
		return fmt.Errorf("unknown flow estimator %q", m.FlowEstimator)
	}

	if m.FlowRadius == 0 {
		m.FlowRadius = 2
	}

	if m.FlowBlock == 0 {
		m.FlowBlock = 8
	}

	t := &config.Train
	if t.FixLrMul == 0 {
		t.FixLrMul = 1
	}

	if t.Optimizer.Type == "" {
		t.Optimizer.Type = "adam"
	}

	if t.Optimizer.LR == 0 {
		t.Optimizer.LR = 1e-4
	}

	if len(t.Optimizer.Betas) == 0 {
		t.Optimizer.Betas = []float64{0.9, 0.99}
	}

	if len(t.Optimizer.Betas) != 2 {
		return fmt.Errorf("optimizer betas need two values, got %d", len(t.Optimizer.Betas))
	}

	if t.Scheduler.Type == "" {
		t.Scheduler.Type = "MultiStepLR"
	}

	if t.Scheduler.Gamma == 0 {
		t.Scheduler.Gamma = 0.5
	}

	for _, period := range t.Scheduler.Periods {
		if period <= 0 {
			return fmt.Errorf("scheduler periods must be positive, got %v", t.Scheduler.Periods)
		}
	}

	if t.LossfnType == "" {
		t.LossfnType = "1*charbonnier"
	}

	boolDefault(&t.GParamStrict, true)
	boolDefault(&t.EParamStrict, true)
	boolDefault(&t.OptimizerReuse, false)

	if t.CheckpointSave == 0 {
		t.CheckpointSave = 5000
	}

	if t.PatchSize == 0 {
		t.PatchSize = 64
	}

	if t.RegularizerOrthStep < 0 || t.RegularizerClipStep < 0 {
		return errors.New("regularizer steps must not be negative")
	}

	return nil
}

func GetConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	config := Config{}

	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return Config{}, err
	}

	// Override with env variables if they are passed in
	err = envconfig.ProcessWithOptions("", &config, envconfig.Options{SplitWords: true})
	if err != nil {
		return Config{}, err
	}

	err = verifyConfig(&config)
	if err != nil {
		return Config{}, err
	}

	return config, nil
}

// ModelOptions turns a verified config into the model settings
func (c *Config) ModelOptions() (model.Options, error) {
	mode, err := testmode.ParseMode(c.Model.TestMode)
	if err != nil {
		return model.Options{}, err
	}

	tags := make([]network.Tag, len(c.Train.FixTags))
	for i, tag := range c.Train.FixTags {
		tags[i] = network.Tag(tag)
	}

	t := c.Train
	return model.Options{
		InputFrames: c.Model.InputFrames,
		Frames:      c.Model.Frames,
		DiffPatch:   c.Model.DiffPatchSize,
		Stride:      c.Model.Stride,
		Test: testmode.Options{
			Mode:    mode,
			Refield: c.Model.Refield,
			MinSize: c.Model.MinSize,
			Scale:   c.Model.Scale,
			Modulo:  c.Model.Modulo,
		},
		Train: model.TrainOptions{
			EDecay: t.EDecay,
			Fix:    optim.Fixing{Iter: t.FixIter, Tags: tags, LRMul: t.FixLrMul},
			Optimizer: optim.Options{
				Type:        t.Optimizer.Type,
				LR:          t.Optimizer.LR,
				Betas:       [2]float64{t.Optimizer.Betas[0], t.Optimizer.Betas[1]},
				WeightDecay: t.Optimizer.WeightDecay,
			},
			Scheduler: optim.SchedulerOptions{
				Type:           t.Scheduler.Type,
				Milestones:     t.Scheduler.Milestones,
				Gamma:          t.Scheduler.Gamma,
				Periods:        t.Scheduler.Periods,
				RestartWeights: t.Scheduler.RestartWeights,
				EtaMin:         t.Scheduler.EtaMin,
			},
			LossFn:         t.LossfnType,
			GParamStrict:   *t.GParamStrict,
			EParamStrict:   *t.EParamStrict,
			OptimizerReuse: *t.OptimizerReuse,

			RegularizerOrthStep: t.RegularizerOrthStep,
			RegularizerClipStep: t.RegularizerClipStep,
			CheckpointSave:      t.CheckpointSave,
		},
	}, nil
}

// Estimator returns the configured flow estimator
func (c *Config) Estimator() flow.Estimator {
	if c.Model.FlowEstimator == "zero" {
		return flow.Zero{}
	}

	return flow.BlockMatch{Radius: c.Model.FlowRadius, Block: c.Model.FlowBlock}
}

// Paths returns the checkpoint labels to start from
func (c *Config) Paths() model.Paths {
	return model.Paths{
		PretrainedG:         c.Pretrained.NetG,
		PretrainedE:         c.Pretrained.NetE,
		PretrainedOptimizer: c.Pretrained.OptimizerG,
	}
}
