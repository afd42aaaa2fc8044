// Package detectron drives an external detection/segmentation framework.
// Models, training and evaluation live in the framework service; this
// package only builds its configuration and calls it.
package detectron

import (
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxBaseDepth = 8

// Names is a list of registered dataset names. Base configs often spell
// it as a python tuple string, e.g. ("coco_2017_train",).
type Names []string

func (n *Names) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var s []string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*n = s
	case yaml.ScalarNode:
		*n = parseTuple(value.Value)
	default:
		return fmt.Errorf("line %d: expected a list of dataset names", value.Line)
	}
	return nil
}

func parseTuple(s string) Names {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	ret := Names{}
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part != "" {
			ret = append(ret, part)
		}
	}
	return ret
}

type DatasetsConfig struct {
	Train Names                  `yaml:"TRAIN"`
	Test  Names                  `yaml:"TEST"`
	Extra map[string]interface{} `yaml:",inline"`
}

type DataLoaderConfig struct {
	NumWorkers int                    `yaml:"NUM_WORKERS"`
	Extra      map[string]interface{} `yaml:",inline"`
}

type SolverConfig struct {
	ImsPerBatch int                    `yaml:"IMS_PER_BATCH"`
	BaseLR      float64                `yaml:"BASE_LR"`
	MaxIter     int                    `yaml:"MAX_ITER"`
	Extra       map[string]interface{} `yaml:",inline"`
}

type ROIHeadsConfig struct {
	BatchSizePerImage int                    `yaml:"BATCH_SIZE_PER_IMAGE"`
	NumClasses        int                    `yaml:"NUM_CLASSES"`
	ScoreThreshTest   float64                `yaml:"SCORE_THRESH_TEST"`
	Extra             map[string]interface{} `yaml:",inline"`
}

type ModelConfig struct {
	Weights  string                 `yaml:"WEIGHTS"`
	ROIHeads ROIHeadsConfig         `yaml:"ROI_HEADS"`
	Extra    map[string]interface{} `yaml:",inline"`
}

// Config is the framework configuration. The fields this repository
// sets are typed; every other key is kept in the Extra maps and dumped
// back as loaded.
type Config struct {
	Datasets   DatasetsConfig         `yaml:"DATASETS"`
	DataLoader DataLoaderConfig       `yaml:"DATALOADER"`
	Solver     SolverConfig           `yaml:"SOLVER"`
	Model      ModelConfig            `yaml:"MODEL"`
	OutputDir  string                 `yaml:"OUTPUT_DIR"`
	Extra      map[string]interface{} `yaml:",inline"`
}

// DefaultConfig holds the framework defaults for the typed fields.
func DefaultConfig() *Config {
	return &Config{
		Datasets:   DatasetsConfig{Train: Names{}, Test: Names{}},
		DataLoader: DataLoaderConfig{NumWorkers: 4},
		Solver: SolverConfig{
			ImsPerBatch: 16,
			BaseLR:      0.001,
			MaxIter:     40000,
		},
		Model: ModelConfig{
			ROIHeads: ROIHeadsConfig{
				BatchSizePerImage: 512,
				NumClasses:        80,
				ScoreThreshTest:   0.05,
			},
		},
		OutputDir: "./output",
	}
}

// LoadConfig reads a config file over DefaultConfig. A _BASE_ key names
// another file, relative to the including one, that is loaded first and
// deep-merged under it.
func LoadConfig(path string) (*Config, error) {
	tree, err := loadTree(path, 0)
	if err != nil {
		return nil, err
	}

	data, err := yaml.Marshal(tree)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func loadTree(path string, depth int) (map[string]interface{}, error) {
	if depth > maxBaseDepth {
		return nil, fmt.Errorf("%s: _BASE_ chain too deep", path)
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if tree == nil {
		tree = make(map[string]interface{})
	}

	base, ok := tree["_BASE_"]
	if !ok {
		return tree, nil
	}
	delete(tree, "_BASE_")

	baseName, ok := base.(string)
	if !ok {
		return nil, fmt.Errorf("%s: _BASE_ must be a file name", path)
	}
	if !filepath.IsAbs(baseName) {
		baseName = filepath.Join(filepath.Dir(path), baseName)
	}

	baseTree, err := loadTree(baseName, depth+1)
	if err != nil {
		return nil, err
	}
	mergeTree(baseTree, tree)
	return baseTree, nil
}

func mergeTree(dst, src map[string]interface{}) {
	for k, v := range src {
		sm, ok := v.(map[string]interface{})
		if !ok {
			dst[k] = v
			continue
		}
		dm, ok := dst[k].(map[string]interface{})
		if !ok {
			dst[k] = v
			continue
		}
		mergeTree(dm, sm)
	}
}

func (c *Config) Validate() error {
	var errs []string
	if c.Model.ROIHeads.NumClasses <= 0 {
		errs = append(errs, "MODEL.ROI_HEADS.NUM_CLASSES must be positive")
	}
	if c.Model.ROIHeads.BatchSizePerImage <= 0 {
		errs = append(errs, "MODEL.ROI_HEADS.BATCH_SIZE_PER_IMAGE must be positive")
	}
	if t := c.Model.ROIHeads.ScoreThreshTest; t < 0 || t > 1 {
		errs = append(errs, "MODEL.ROI_HEADS.SCORE_THRESH_TEST must be within [0, 1]")
	}
	if c.Solver.ImsPerBatch <= 0 {
		errs = append(errs, "SOLVER.IMS_PER_BATCH must be positive")
	}
	if c.Solver.BaseLR <= 0 {
		errs = append(errs, "SOLVER.BASE_LR must be positive")
	}
	if c.Solver.MaxIter <= 0 {
		errs = append(errs, "SOLVER.MAX_ITER must be positive")
	}
	if c.DataLoader.NumWorkers < 0 {
		errs = append(errs, "DATALOADER.NUM_WORKERS must not be negative")
	}
	if c.OutputDir == "" {
		errs = append(errs, "OUTPUT_DIR is empty")
	}

	if len(errs) > 0 {
		return errors.New("invalid config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) Save(path string) error {
	data, err := c.Dump()
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, data, 0644)
}

// TrainOptions are the values the training driver sets on top of the
// base config.
type TrainOptions struct {
	BaseLR            float64
	ImsPerBatch       int
	MaxIter           int
	NumWorkers        int
	BatchSizePerImage int
	NumClasses        int
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		BaseLR:            0.0025,
		ImsPerBatch:       2,
		MaxIter:           3000,
		NumWorkers:        2,
		BatchSizePerImage: 128,
		NumClasses:        5,
	}
}

func (o TrainOptions) Validate() error {
	switch {
	case o.BaseLR <= 0:
		return errors.New("base learning rate must be positive")
	case o.ImsPerBatch <= 0:
		return errors.New("images per batch must be positive")
	case o.MaxIter <= 0:
		return errors.New("iteration count must be positive")
	case o.NumWorkers < 0:
		return errors.New("worker count must not be negative")
	case o.BatchSizePerImage <= 0:
		return errors.New("ROI batch size must be positive")
	case o.NumClasses <= 0:
		return errors.New("class count must be positive")
	}
	return nil
}

func (o TrainOptions) Apply(cfg *Config) {
	cfg.DataLoader.NumWorkers = o.NumWorkers
	cfg.Solver.ImsPerBatch = o.ImsPerBatch
	cfg.Solver.BaseLR = o.BaseLR
	cfg.Solver.MaxIter = o.MaxIter
	cfg.Model.ROIHeads.BatchSizePerImage = o.BatchSizePerImage
	cfg.Model.ROIHeads.NumClasses = o.NumClasses
}
