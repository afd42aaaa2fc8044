package coco

import (
	"encoding/json"
	"fmt"
)

type Image struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Annotation is one object instance. Segmentation is left raw since it
// holds either polygons or an RLE object.
type Annotation struct {
	ID           int64           `json:"id"`
	ImageID      int64           `json:"image_id"`
	CategoryID   int64           `json:"category_id"`
	BBox         []float64       `json:"bbox"`
	Area         float64         `json:"area"`
	Segmentation json.RawMessage `json:"segmentation"`
	IsCrowd      int             `json:"iscrowd"`
}

func (d *Document) Images() (ret []Image, err error) {
	err = d.decodeField("images", &ret)
	return
}

func (d *Document) Annotations() (ret []Annotation, err error) {
	err = d.decodeField("annotations", &ret)
	return
}

func (d *Document) decodeField(name string, v interface{}) error {
	raw, ok := d.fields[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("coco: %s: %w", name, err)
	}
	return nil
}

// OrphanAnnotations counts annotations whose category_id matches no
// category of the document.
func (d *Document) OrphanAnnotations() (int, error) {
	anns, err := d.Annotations()
	if err != nil {
		return 0, err
	}

	ids := make(map[int64]bool, len(d.Categories))
	for _, c := range d.Categories {
		if id, ok := c.ID(); ok {
			ids[id] = true
		}
	}

	n := 0
	for _, a := range anns {
		if !ids[a.CategoryID] {
			n++
		}
	}
	return n, nil
}
