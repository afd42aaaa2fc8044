package detectron

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
)

// ConfigDumpFile is written to OUTPUT_DIR once a run is evaluated.
const ConfigDumpFile = "config.yaml"

// TrainRun is the input of RunTraining. Train and Val become
// DATASETS.TRAIN and DATASETS.TEST; Test is the dataset the final
// model is evaluated on.
type TrainRun struct {
	BaseConfig string
	Weights    string
	OutputDir  string
	Options    TrainOptions
	Resume     bool

	Train Dataset
	Val   Dataset
	Test  Dataset
}

type TrainResult struct {
	Config     *Config
	Model      *Model
	Metrics    Metrics
	ConfigPath string
}

// BuildTrainConfig loads the base config and sets the run's values on it.
func BuildTrainConfig(run TrainRun) (*Config, error) {
	cfg, err := LoadConfig(run.BaseConfig)
	if err != nil {
		return nil, err
	}

	cfg.Datasets.Train = Names{run.Train.Name}
	cfg.Datasets.Test = Names{run.Val.Name}
	cfg.OutputDir = run.OutputDir
	cfg.Model.Weights = run.Weights
	run.Options.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RunTraining registers the datasets, trains, evaluates on the test
// dataset and dumps the config, in that order. The first failing stage
// ends the run.
func RunTraining(ctx context.Context, fw Framework, run TrainRun) (*TrainResult, error) {
	if err := run.Options.Validate(); err != nil {
		return nil, err
	}

	for _, ds := range []Dataset{run.Train, run.Val, run.Test} {
		if err := fw.RegisterCOCO(ctx, ds); err != nil {
			return nil, fmt.Errorf("register %s: %w", ds.Name, err)
		}
		log.Printf("Registered dataset %s (%s)", ds.Name, ds.JSONFile)
	}

	cfg, err := BuildTrainConfig(run)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	trainer := NewTrainer(fw, cfg)
	from := trainer.ResumeOrLoad(run.Resume)
	log.Printf("Training %d iterations from %s", cfg.Solver.MaxIter, from)

	model, err := trainer.Train(ctx)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	log.Printf("Trained model saved as %s", model.Weights)

	metrics, err := fw.Evaluate(ctx, cfg, model.Weights, run.Test.Name)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	logMetrics(run.Test.Name, metrics)

	path := filepath.Join(cfg.OutputDir, ConfigDumpFile)
	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("save config: %w", err)
	}
	log.Printf("Config saved as %s", path)

	return &TrainResult{Config: cfg, Model: model, Metrics: metrics, ConfigPath: path}, nil
}

func logMetrics(dataset string, m Metrics) {
	tasks := make([]string, 0, len(m))
	for t := range m {
		tasks = append(tasks, t)
	}
	sort.Strings(tasks)

	for _, t := range tasks {
		keys := make([]string, 0, len(m[t]))
		for k := range m[t] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			log.Printf("%s %s %s = %.4f", dataset, t, k, m[t][k])
		}
	}
}
