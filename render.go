package main

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/llgcode/draw2d/draw2dimg"
	"gocv.io/x/gocv"

	"github.com/model-collapse/supermarket-seg/detectron"
)

var palette = []color.RGBA{
	{230, 25, 75, 255},
	{60, 180, 75, 255},
	{255, 225, 25, 255},
	{0, 130, 200, 255},
	{245, 130, 48, 255},
	{145, 30, 180, 255},
	{70, 240, 240, 255},
	{240, 50, 230, 255},
}

func instanceColor(i int) color.RGBA {
	return palette[i%len(palette)]
}

// Visualizer draws predicted instances over an image: filled masks,
// boxes and a "<class> <score>%" label per instance.
type Visualizer struct {
	ClassNames []string
	Scale      float64
	MaskAlpha  float64
}

func (v *Visualizer) label(inst detectron.Instance) string {
	name := strconv.Itoa(inst.Class)
	if inst.Class >= 0 && inst.Class < len(v.ClassNames) {
		name = v.ClassNames[inst.Class]
	}
	return fmt.Sprintf("%s %.0f%%", name, inst.Score*100)
}

func scaleBox(box [4]float64, scale float64) image.Rectangle {
	return image.Rect(
		int(box[0]*scale), int(box[1]*scale),
		int(box[2]*scale), int(box[3]*scale),
	)
}

// rasterizeMasks fills the polygons of every instance into a layer that
// is transparent everywhere else.
func rasterizeMasks(bounds image.Rectangle, instances []detectron.Instance, scale float64) *image.RGBA {
	layer := image.NewRGBA(bounds)
	gc := draw2dimg.NewGraphicContext(layer)

	for i, inst := range instances {
		gc.SetFillColor(instanceColor(i))
		for _, poly := range inst.Polygons {
			if len(poly) < 6 {
				continue
			}

			gc.BeginPath()
			gc.MoveTo(poly[0]*scale, poly[1]*scale)
			for j := 2; j+1 < len(poly); j += 2 {
				gc.LineTo(poly[j]*scale, poly[j+1]*scale)
			}
			gc.Close()
			gc.Fill()
		}
	}

	return layer
}

func drawBoundingBoxOnImage(img *gocv.Mat, bboxes []image.Rectangle, names []string) {
	for i, bbox := range bboxes {
		c := instanceColor(i)
		gocv.Rectangle(img, bbox, c, 2)

		org := image.Point{X: bbox.Min.X, Y: bbox.Min.Y - 4}
		if org.Y < 12 {
			org.Y = bbox.Min.Y + 14
		}
		gocv.PutText(img, names[i], org, gocv.FontHersheySimplex, 0.5, c, 1)
	}
}

// DrawInstancePredictions returns a new image; img is left as is.
func (v *Visualizer) DrawInstancePredictions(img gocv.Mat, instances []detectron.Instance) (r gocv.Mat, err error) {
	base, err := img.ToImage()
	if err != nil {
		return
	}

	scale := v.Scale
	if scale <= 0 {
		scale = 1
	}
	if scale != 1 {
		w := int(float64(base.Bounds().Dx()) * scale)
		base = imaging.Resize(base, w, 0, imaging.Lanczos)
	}

	masks := rasterizeMasks(base.Bounds(), instances, scale)
	blended := imaging.Overlay(base, masks, image.Pt(0, 0), v.MaskAlpha)

	r, err = gocv.ImageToMatRGB(blended)
	if err != nil {
		return
	}

	bboxes := make([]image.Rectangle, len(instances))
	names := make([]string, len(instances))
	for i, inst := range instances {
		bboxes[i] = scaleBox(inst.Box, scale)
		names[i] = v.label(inst)
		log.Printf("instance %d: %s at %v", i, names[i], bboxes[i])
	}
	drawBoundingBoxOnImage(&r, bboxes, names)

	return
}
