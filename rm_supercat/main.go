// Command rm_supercat removes the unwanted category from the annotation
// files of every split of a dataset version.
package main

import (
	"flag"
	"log"

	"github.com/model-collapse/supermarket-seg/coco"
	"github.com/model-collapse/supermarket-seg/layout"
)

func main() {
	version := layout.VersionFlag(flag.CommandLine)
	flag.Parse()

	conf, err := layout.LoadConfig(layout.ConfigPath())
	if err != nil {
		log.Fatal(err)
	}

	root := conf.DatasetRoot(*version)
	log.Printf("Removing '%s' from %s", conf.UnwantedCategory, root)
	if err := coco.ProcessDataset(root, conf.UnwantedCategory); err != nil {
		log.Fatal(err)
	}
}
