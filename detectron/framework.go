package detectron

import "context"

// Dataset is a COCO-style dataset registered under Name.
type Dataset struct {
	Name      string `json:"name"`
	JSONFile  string `json:"json_file"`
	ImageRoot string `json:"image_root"`
}

// Model is the result of a training run.
type Model struct {
	Weights    string `json:"weights"`
	Iterations int    `json:"iterations"`
}

// Metrics maps an evaluation task (bbox, segm) to its metric values.
type Metrics map[string]map[string]float64

// Instance is one predicted object. Box is x0, y0, x1, y1 in pixels;
// Polygons are flat x, y lists of the instance mask outline.
type Instance struct {
	Class    int         `json:"class"`
	Score    float64     `json:"score"`
	Box      [4]float64  `json:"box"`
	Polygons [][]float64 `json:"polygons,omitempty"`
}

// Framework is everything used of the detection framework.
type Framework interface {
	Health(ctx context.Context) error
	RegisterCOCO(ctx context.Context, ds Dataset) error
	// Train starts from checkpoint. With resume set it continues the
	// run that wrote checkpoint instead of only loading its weights.
	Train(ctx context.Context, cfg *Config, checkpoint string, resume bool) (*Model, error)
	Evaluate(ctx context.Context, cfg *Config, weights, dataset string) (Metrics, error)
	Predict(ctx context.Context, cfg *Config, image []byte) ([]Instance, error)
}
