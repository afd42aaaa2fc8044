package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"gocv.io/x/gocv"

	"github.com/model-collapse/supermarket-seg/detectron"
	"github.com/model-collapse/supermarket-seg/layout"
)

func readImage(path string) (img gocv.Mat, err error) {
	if _, err = os.Stat(path); err != nil {
		err = fmt.Errorf("image file not found: %w", err)
		return
	}

	img = gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		err = fmt.Errorf("cannot decode image %s", path)
	}
	return
}

func predict(ctx context.Context, p *detectron.Predictor, img gocv.Mat) ([]detectron.Instance, error) {
	data, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, err
	}
	return p.Predict(ctx, data)
}

func main() {
	version := layout.VersionFlag(flag.CommandLine)
	flag.Parse()

	conf, err := layout.LoadConfig(layout.ConfigPath())
	if err != nil {
		log.Fatal(err)
	}

	fw := detectron.NewClient(conf.FrameworkURL, conf.FrameworkTimeout())
	predictor, _, err := setupPredictor(fw, conf, *version)
	if err != nil {
		log.Fatal(err)
	}

	img, err := readImage(conf.ExampleImageFile())
	if err != nil {
		log.Fatal(err)
	}
	defer img.Close()

	instances, err := predict(context.Background(), predictor, img)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("#instances = %d", len(instances))

	vis := &Visualizer{
		ClassNames: loadClassNames(conf, *version),
		Scale:      1.0,
		MaskAlpha:  0.5,
	}
	out, err := vis.DrawInstancePredictions(img, instances)
	if err != nil {
		log.Fatal(err)
	}
	defer out.Close()

	path := conf.ExampleOutputFile(*version)
	if !gocv.IMWrite(path, out) {
		log.Fatalf("cannot write %s", path)
	}
	log.Printf("Result saved as: %s", path)
}
