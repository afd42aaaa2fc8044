package detectron

import (
	"context"
	"errors"
	"io/ioutil"
	"path/filepath"
	"strings"
)

// LastCheckpointFile in OUTPUT_DIR names the newest checkpoint of a run.
const LastCheckpointFile = "last_checkpoint"

type Trainer struct {
	fw         Framework
	cfg        *Config
	checkpoint string
	resume     bool
}

func NewTrainer(fw Framework, cfg *Config) *Trainer {
	return &Trainer{fw: fw, cfg: cfg, checkpoint: cfg.Model.Weights}
}

// ResumeOrLoad picks the checkpoint training starts from: the last one
// in OUTPUT_DIR when resume is set and one exists, MODEL.WEIGHTS
// otherwise.
func (t *Trainer) ResumeOrLoad(resume bool) string {
	t.checkpoint, t.resume = t.cfg.Model.Weights, false
	if resume {
		if p, ok := lastCheckpoint(t.cfg.OutputDir); ok {
			t.checkpoint, t.resume = p, true
		}
	}
	return t.checkpoint
}

func (t *Trainer) Train(ctx context.Context) (*Model, error) {
	if t.checkpoint == "" {
		return nil, errors.New("no weights to start training from")
	}
	return t.fw.Train(ctx, t.cfg, t.checkpoint, t.resume)
}

func lastCheckpoint(dir string) (string, bool) {
	data, err := ioutil.ReadFile(filepath.Join(dir, LastCheckpointFile))
	if err != nil {
		return "", false
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", false
	}
	return filepath.Join(dir, name), true
}

type Predictor struct {
	fw  Framework
	cfg *Config
}

func NewPredictor(fw Framework, cfg *Config) (*Predictor, error) {
	if cfg.Model.Weights == "" {
		return nil, errors.New("predictor needs MODEL.WEIGHTS")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Predictor{fw: fw, cfg: cfg}, nil
}

// Predict runs the model on an encoded image and keeps the instances
// scoring at least SCORE_THRESH_TEST.
func (p *Predictor) Predict(ctx context.Context, image []byte) ([]Instance, error) {
	if len(image) == 0 {
		return nil, errors.New("empty image")
	}

	instances, err := p.fw.Predict(ctx, p.cfg, image)
	if err != nil {
		return nil, err
	}

	thresh := p.cfg.Model.ROIHeads.ScoreThreshTest
	kept := instances[:0]
	for _, inst := range instances {
		if inst.Score >= thresh {
			kept = append(kept, inst)
		}
	}
	return kept, nil
}
