// Package layout resolves dataset versions to paths on disk.
package layout

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/model-collapse/supermarket-seg/coco"
)

type Version string

const (
	V1 Version = "v1"
	V2 Version = "v2"
	V3 Version = "v3"

	DefaultVersion = V3
)

var Versions = []Version{V1, V2, V3}

func ParseVersion(s string) (Version, error) {
	for _, v := range Versions {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("invalid dataset version %q (choose from v1, v2, v3)", s)
}

type versionValue struct {
	v *Version
}

func (f versionValue) String() string {
	if f.v == nil {
		return string(DefaultVersion)
	}
	return string(*f.v)
}

func (f versionValue) Set(s string) error {
	v, err := ParseVersion(s)
	if err != nil {
		return err
	}
	*f.v = v
	return nil
}

// VersionFlag registers --version on fs.
func VersionFlag(fs *flag.FlagSet) *Version {
	v := DefaultVersion
	fs.Var(versionValue{&v}, "version", "Dataset version: v1, v2 or v3")
	return &v
}

type Config struct {
	ProjectRoot     string `json:"project_root"`
	DatasetPattern  string `json:"dataset_pattern"`
	OutputRoot      string `json:"output_root"`
	BaseConfig      string `json:"base_config"`
	BackboneWeights string `json:"backbone_weights"`
	ExampleImage    string `json:"example_image"`
	ExampleOutput   string `json:"example_output"`

	UnwantedCategory string `json:"unwanted_category"`

	FrameworkURL            string `json:"framework_url"`
	FrameworkTimeoutSeconds int    `json:"framework_timeout_seconds"`
}

func DefaultConfig() Config {
	return Config{
		ProjectRoot:      ".",
		DatasetPattern:   "datasets/supermarket_products_%s",
		OutputRoot:       "output",
		BaseConfig:       "config/mask_rcnn_R_50_FPN_3x.yaml",
		BackboneWeights:  "backbone/R-50.pkl",
		ExampleImage:     "examples/example_image.JPG",
		ExampleOutput:    "examples/example_output_%s.png",
		UnwantedCategory: "supermarket-product",
		FrameworkURL:     "http://localhost:5000",
	}
}

// LoadConfig reads path over the defaults. A missing file is not an
// error. PROJECT_ROOT and FRAMEWORK_URL override the file.
func LoadConfig(path string) (ret Config, err error) {
	ret = DefaultConfig()

	data, err := ioutil.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		err = nil
	case err != nil:
		return
	default:
		if err = json.Unmarshal(data, &ret); err != nil {
			err = fmt.Errorf("parse %s: %w", path, err)
			return
		}
		log.Printf("Loaded config from %s", path)
	}

	envOverride(&ret.ProjectRoot, "PROJECT_ROOT")
	envOverride(&ret.FrameworkURL, "FRAMEWORK_URL")
	return
}

// ConfigPath is conf.json unless CONFIG_PATH is set.
func ConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./conf.json"
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c Config) FrameworkTimeout() time.Duration {
	return time.Duration(c.FrameworkTimeoutSeconds) * time.Second
}

func (c Config) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectRoot, p)
}

func (c Config) DatasetRoot(v Version) string {
	return c.path(fmt.Sprintf(c.DatasetPattern, v))
}

func (c Config) SplitDir(v Version, split string) string {
	return filepath.Join(c.DatasetRoot(v), split)
}

func (c Config) InputAnnotations(v Version, split string) string {
	return filepath.Join(c.SplitDir(v, split), coco.InputAnnotationFile)
}

func (c Config) CleanedAnnotations(v Version, split string) string {
	return filepath.Join(c.SplitDir(v, split), coco.CleanedAnnotationFile)
}

func (c Config) OutputDir(v Version) string {
	return filepath.Join(c.path(c.OutputRoot), string(v))
}

func (c Config) ConfigDump(v Version) string {
	return filepath.Join(c.OutputDir(v), "config.yaml")
}

func (c Config) FinalWeights(v Version) string {
	return filepath.Join(c.OutputDir(v), "model_final.pth")
}

func (c Config) BaseConfigFile() string {
	return c.path(c.BaseConfig)
}

func (c Config) BackboneWeightsFile() string {
	return c.path(c.BackboneWeights)
}

func (c Config) ExampleImageFile() string {
	return c.path(c.ExampleImage)
}

func (c Config) ExampleOutputFile(v Version) string {
	return c.path(fmt.Sprintf(c.ExampleOutput, v))
}
