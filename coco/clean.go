package coco

import (
	"fmt"
	"log"
	"path/filepath"
)

const (
	InputAnnotationFile   = "_annotations.coco.json"
	CleanedAnnotationFile = "annotations_without_supercategory.coco.json"
)

// Splits are processed in this order.
var Splits = []string{"train", "valid", "test"}

// Removal reports what RemoveSupercategory did.
type Removal struct {
	Name   string
	Before int
	After  int
}

func (r Removal) Removed() bool {
	return r.After < r.Before
}

// RemoveSupercategory drops every category named name, keeping the
// order of the rest. Category ids are not renumbered and annotations
// pointing at a removed id are left alone.
func RemoveSupercategory(doc *Document, name string) Removal {
	filtered := make([]Category, 0, len(doc.Categories))
	for _, c := range doc.Categories {
		if c.Name != name {
			filtered = append(filtered, c)
		}
	}

	r := Removal{Name: name, Before: len(doc.Categories), After: len(filtered)}
	if r.Removed() {
		log.Printf("[+] Removed '%s' category.", name)
	} else {
		log.Printf("[!] No category named '%s' was removed. Double-check the name.", name)
	}

	doc.Categories = filtered
	return r
}

// ProcessDataset cleans the annotation file of every split under root
// and writes the result next to it. It stops at the first failing split.
func ProcessDataset(root, unwanted string) error {
	for _, split := range Splits {
		in := filepath.Join(root, split, InputAnnotationFile)
		doc, err := LoadAnnotations(in)
		if err != nil {
			return fmt.Errorf("split %s: %w", split, err)
		}

		RemoveSupercategory(doc, unwanted)

		if n, err := doc.OrphanAnnotations(); err != nil {
			log.Printf("split %s: cannot check annotations: %v", split, err)
		} else if n > 0 {
			log.Printf("split %s: %d annotations reference a missing category", split, n)
		}

		out := filepath.Join(root, split, CleanedAnnotationFile)
		if err := SaveAnnotations(doc, out); err != nil {
			return fmt.Errorf("split %s: %w", split, err)
		}
	}

	return nil
}
