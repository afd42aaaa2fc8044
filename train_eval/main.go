// Command train_eval trains and evaluates a model on a cleaned dataset
// version through the detection framework service.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/model-collapse/supermarket-seg/coco"
	"github.com/model-collapse/supermarket-seg/detectron"
	"github.com/model-collapse/supermarket-seg/layout"
)

const (
	trainDataset = "supermarket_product_dataset_train"
	valDataset   = "supermarket_product_dataset_val"
	testDataset  = "supermarket_product_dataset_test"
)

func dataset(conf layout.Config, v layout.Version, name, split string) detectron.Dataset {
	return detectron.Dataset{
		Name:      name,
		JSONFile:  conf.CleanedAnnotations(v, split),
		ImageRoot: conf.SplitDir(v, split),
	}
}

func trainRun(conf layout.Config, v layout.Version) detectron.TrainRun {
	return detectron.TrainRun{
		BaseConfig: conf.BaseConfigFile(),
		Weights:    conf.BackboneWeightsFile(),
		OutputDir:  conf.OutputDir(v),
		Options:    detectron.DefaultTrainOptions(),
		Train:      dataset(conf, v, trainDataset, "train"),
		Val:        dataset(conf, v, valDataset, "valid"),
		Test:       dataset(conf, v, testDataset, "test"),
	}
}

// checkClassCount warns when the configured class count does not match
// the categories left in the cleaned training file.
func checkClassCount(run detectron.TrainRun) (int, error) {
	doc, err := coco.LoadAnnotations(run.Train.JSONFile)
	if err != nil {
		return 0, err
	}

	n := len(doc.Categories)
	if n != run.Options.NumClasses {
		log.Printf("Warning: NUM_CLASSES is %d but %s has %d categories", run.Options.NumClasses, run.Train.JSONFile, n)
	}
	return n, nil
}

func main() {
	version := layout.VersionFlag(flag.CommandLine)
	flag.Parse()

	conf, err := layout.LoadConfig(layout.ConfigPath())
	if err != nil {
		log.Fatal(err)
	}

	run := trainRun(conf, *version)
	if _, err := checkClassCount(run); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	fw := detectron.NewClient(conf.FrameworkURL, conf.FrameworkTimeout())
	if err := fw.Health(ctx); err != nil {
		log.Printf("Warning: framework service not available: %v", err)
	}

	res, err := detectron.RunTraining(ctx, fw, run)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Done: weights %s, config %s", res.Model.Weights, res.ConfigPath)
}
