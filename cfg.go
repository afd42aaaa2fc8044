package main

import (
	"log"

	"github.com/model-collapse/supermarket-seg/coco"
	"github.com/model-collapse/supermarket-seg/detectron"
	"github.com/model-collapse/supermarket-seg/layout"
)

const scoreThresh = 0.8

// setupPredictor loads the config dumped by training and points it at
// the final weights of the same run.
func setupPredictor(fw detectron.Framework, conf layout.Config, v layout.Version) (*detectron.Predictor, *detectron.Config, error) {
	cfg, err := detectron.LoadConfig(conf.ConfigDump(v))
	if err != nil {
		return nil, nil, err
	}

	cfg.Model.ROIHeads.ScoreThreshTest = scoreThresh
	cfg.Model.Weights = conf.FinalWeights(v)

	p, err := detectron.NewPredictor(fw, cfg)
	if err != nil {
		return nil, nil, err
	}
	return p, cfg, nil
}

// loadClassNames reads the class names of the training split. Without
// them the visualizer labels instances by class index.
func loadClassNames(conf layout.Config, v layout.Version) []string {
	doc, err := coco.LoadAnnotations(conf.CleanedAnnotations(v, "train"))
	if err != nil {
		log.Printf("No class names, labelling by index: %v", err)
		return nil
	}
	return doc.ThingClasses()
}
