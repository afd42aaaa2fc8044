// Package coco reads, cleans and writes COCO-style annotation files.
package coco

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"sort"
	"strconv"
	"strings"
)

// Category is one entry of the "categories" list. A loaded category is
// written back exactly as it was read.
type Category struct {
	Name string

	id  json.RawMessage
	raw json.RawMessage
}

func NewCategory(id int64, name string) Category {
	return Category{Name: name, id: json.RawMessage(strconv.FormatInt(id, 10))}
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	// A name that is not a string never matches a name filter.
	var name string
	if raw, ok := fields["name"]; ok {
		if json.Unmarshal(raw, &name) != nil {
			name = ""
		}
	}

	c.Name = name
	c.id = fields["id"]
	c.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (c Category) MarshalJSON() ([]byte, error) {
	if len(c.raw) > 0 {
		return c.raw, nil
	}

	fields := map[string]interface{}{"name": c.Name}
	if len(c.id) > 0 {
		fields["id"] = c.id
	}
	return marshal(fields)
}

// ID reads the category id as an integer. Ids written as strings or as
// integral floats are accepted.
func (c Category) ID() (int64, bool) {
	s := strings.Trim(strings.TrimSpace(string(c.id)), `"`)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// Document is a decoded annotation file. Only the category list is
// decoded eagerly; every other top-level field is carried as raw JSON
// and written back untouched.
type Document struct {
	Categories []Category

	fields map[string]json.RawMessage
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	raw, ok := fields["categories"]
	if !ok {
		return errors.New("coco: document has no categories")
	}

	var cats []Category
	if err := json.Unmarshal(raw, &cats); err != nil {
		return fmt.Errorf("coco: categories: %w", err)
	}

	delete(fields, "categories")
	d.Categories = cats
	d.fields = fields
	return nil
}

func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.fields)+1)
	for k, v := range d.fields {
		out[k] = v
	}

	cats := d.Categories
	if cats == nil {
		cats = []Category{}
	}
	data, err := marshal(cats)
	if err != nil {
		return nil, err
	}
	out["categories"] = data

	return marshal(out)
}

// marshal is json.Marshal without HTML escaping, so strings such as
// "a&b" are written as loaded.
func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Field returns the raw value of a top-level field other than
// "categories", or nil if the document has no such field.
func (d *Document) Field(name string) json.RawMessage {
	return d.fields[name]
}

// ThingClasses returns the category names ordered by category id. The
// position of a name is the contiguous class index a model trained on
// this document predicts. Categories without a numeric id come last.
func (d *Document) ThingClasses() []string {
	cats := make([]Category, len(d.Categories))
	copy(cats, d.Categories)
	sort.SliceStable(cats, func(i, j int) bool {
		a, aok := cats[i].ID()
		b, bok := cats[j].ID()
		if aok != bok {
			return aok
		}
		return a < b
	})

	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	return names
}

func LoadAnnotations(path string) (ret *Document, err error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return
	}

	ret = &Document{}
	if err = json.Unmarshal(data, ret); err != nil {
		ret = nil
		err = fmt.Errorf("parse %s: %w", path, err)
	}
	return
}

// SaveAnnotations writes doc to path as a single JSON document. The
// write is not atomic.
func SaveAnnotations(doc *Document, path string) error {
	data, err := marshal(doc)
	if err != nil {
		return err
	}

	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return err
	}

	log.Printf("[+] Cleaned file saved as: %s", path)
	return nil
}
