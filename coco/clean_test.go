package coco

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const sampleDoc = `{"info":{"description":"supermarket"},"images":[{"id":1,"file_name":"a.jpg","width":640,"height":480}],"annotations":[{"id":7,"image_id":1,"category_id":1,"bbox":[1,2,3,4],"area":12,"segmentation":[[1,2,3,4,5,6]],"iscrowd":0}],"categories":[{"name":"supermarket-product","id":0},{"name":"apple","id":1},{"name":"bread","id":2}]}`

func parseDoc(t *testing.T, s string) *Document {
	t.Helper()
	var d Document
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &d
}

func names(cats []Category) []string {
	ret := make([]string, len(cats))
	for i, c := range cats {
		ret[i] = c.Name
	}
	return ret
}

func TestRemoveSupercategory(t *testing.T) {
	cases := []struct {
		name     string
		doc      string
		unwanted string
		want     []string
		wantIDs  []int64
		removed  bool
	}{
		{
			name:     "single match",
			doc:      sampleDoc,
			unwanted: "supermarket-product",
			want:     []string{"apple", "bread"},
			wantIDs:  []int64{1, 2},
			removed:  true,
		},
		{
			name:     "absent",
			doc:      sampleDoc,
			unwanted: "dairy",
			want:     []string{"supermarket-product", "apple", "bread"},
			wantIDs:  []int64{0, 1, 2},
			removed:  false,
		},
		{
			name:     "several matches",
			doc:      `{"categories":[{"name":"x","id":0},{"name":"a","id":1},{"name":"x","id":2},{"name":"b","id":3},{"name":"x","id":4}]}`,
			unwanted: "x",
			want:     []string{"a", "b"},
			wantIDs:  []int64{1, 3},
			removed:  true,
		},
		{
			name:     "empty list",
			doc:      `{"categories":[]}`,
			unwanted: "x",
			want:     []string{},
			wantIDs:  []int64{},
			removed:  false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := parseDoc(t, tc.doc)
			before := len(d.Categories)

			r := RemoveSupercategory(d, tc.unwanted)

			if r.Removed() != tc.removed {
				t.Fatalf("Removed() = %v, want %v", r.Removed(), tc.removed)
			}
			if r.Before != before || r.After != len(d.Categories) {
				t.Fatalf("unexpected report %+v for %d categories", r, len(d.Categories))
			}
			if got := names(d.Categories); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("categories = %v, want %v", got, tc.want)
			}
			for i, c := range d.Categories {
				if id, ok := c.ID(); !ok || id != tc.wantIDs[i] {
					t.Fatalf("category %q has id %d (%v), want %d", c.Name, id, ok, tc.wantIDs[i])
				}
			}
		})
	}
}

func TestRemoveSupercategoryKeepsOtherFields(t *testing.T) {
	var orig map[string]json.RawMessage
	if err := json.Unmarshal([]byte(sampleDoc), &orig); err != nil {
		t.Fatal(err)
	}

	d := parseDoc(t, sampleDoc)
	RemoveSupercategory(d, "supermarket-product")

	for _, key := range []string{"info", "images", "annotations"} {
		if !bytes.Equal(d.Field(key), orig[key]) {
			t.Fatalf("field %s changed: %s != %s", key, d.Field(key), orig[key])
		}
	}

	n, err := d.OrphanAnnotations()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected no orphan annotations, got %d", n)
	}
}

func TestRemoveSupercategoryLeavesOrphans(t *testing.T) {
	d := parseDoc(t, `{"annotations":[{"id":1,"image_id":1,"category_id":0},{"id":2,"image_id":1,"category_id":1}],"categories":[{"name":"x","id":0},{"name":"a","id":1}]}`)
	RemoveSupercategory(d, "x")

	anns, err := d.Annotations()
	if err != nil {
		t.Fatal(err)
	}
	if len(anns) != 2 {
		t.Fatalf("annotations must not be touched, got %d", len(anns))
	}
	n, err := d.OrphanAnnotations()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one orphan annotation, got %d", n)
	}
}

func TestRemoveSupercategoryLogs(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	RemoveSupercategory(parseDoc(t, sampleDoc), "supermarket-product")
	RemoveSupercategory(parseDoc(t, sampleDoc), "dairy")

	out := buf.String()
	for _, want := range []string{
		"[+] Removed 'supermarket-product' category.",
		"[!] No category named 'dairy' was removed. Double-check the name.",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("log %q does not contain %q", out, want)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")

	d := parseDoc(t, sampleDoc)
	RemoveSupercategory(d, "supermarket-product")
	if err := SaveAnnotations(d, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadAnnotations(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want, _ := json.Marshal(d)
	got, _ := json.Marshal(loaded)
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", got, want)
	}
	if names(loaded.Categories)[0] != "apple" {
		t.Fatalf("removed category came back: %v", names(loaded.Categories))
	}
}

func TestCategoryKeepsUnknownKeys(t *testing.T) {
	d := parseDoc(t, `{"categories":[{"name":"apple","id":1,"supercategory":"supermarket-product","color":"red"}]}`)

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}

	var out struct {
		Categories []map[string]interface{} `json:"categories"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	c := out.Categories[0]
	if c["color"] != "red" || c["supercategory"] != "supermarket-product" || c["name"] != "apple" {
		t.Fatalf("unexpected category %v", c)
	}
}

func TestSaveKeepsCategoryRecords(t *testing.T) {
	cases := []struct {
		name   string
		record string
	}{
		{"null supercategory", `{"name":"apple","supercategory":null,"id":1}`},
		{"no id", `{"name":"apple"}`},
		{"float id", `{"name":"apple","id":1.0}`},
		{"string id", `{"name":"apple","id":"1"}`},
		{"key order", `{"supercategory":"food","name":"apple","id":3,"color":"red"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.json")
			d := parseDoc(t, `{"categories":[{"name":"x","id":0},`+tc.record+`]}`)
			RemoveSupercategory(d, "x")
			if err := SaveAnnotations(d, path); err != nil {
				t.Fatal(err)
			}

			data, err := ioutil.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			var out struct {
				Categories []json.RawMessage `json:"categories"`
			}
			if err := json.Unmarshal(data, &out); err != nil {
				t.Fatal(err)
			}
			if len(out.Categories) != 1 || string(out.Categories[0]) != tc.record {
				t.Fatalf("categories = %s, want [%s]", data, tc.record)
			}
		})
	}
}

func TestLenientCategoryIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.json")
	doc := `{"annotations":[{"id":1,"image_id":1,"category_id":2}],"categories":[{"name":"supermarket-product","id":"0"},{"name":"bread","id":2.0},{"name":"apple","id":"1"},{"name":"odd"}]}`
	if err := ioutil.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := LoadAnnotations(path)
	if err != nil {
		t.Fatalf("LoadAnnotations: %v", err)
	}
	if r := RemoveSupercategory(d, "supermarket-product"); !r.Removed() {
		t.Fatal("category with a string id was not removed")
	}

	want := []string{"apple", "bread", "odd"}
	if got := d.ThingClasses(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ThingClasses() = %v, want %v", got, want)
	}
	if n, err := d.OrphanAnnotations(); err != nil || n != 0 {
		t.Fatalf("OrphanAnnotations() = %d, %v", n, err)
	}
	if _, ok := d.Categories[2].ID(); ok {
		t.Fatal("category without id must report no id")
	}
}

func TestSaveDoesNotEscapeHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	d := parseDoc(t, `{"info":{"description":"a&b <x>"},"categories":[{"name":"salt & pepper","id":1}]}`)
	if err := SaveAnnotations(d, path); err != nil {
		t.Fatal(err)
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"categories":[{"name":"salt & pepper","id":1}],"info":{"description":"a&b <x>"}}`
	if string(data) != want {
		t.Fatalf("saved %s, want %s", data, want)
	}
}

func TestNewCategory(t *testing.T) {
	d := parseDoc(t, `{"categories":[]}`)
	d.Categories = append(d.Categories, NewCategory(7, "milk"))

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"categories":[{"id":7,"name":"milk"}]}` {
		t.Fatalf("unexpected document %s", data)
	}
	if id, ok := d.Categories[0].ID(); !ok || id != 7 {
		t.Fatalf("ID() = %d, %v", id, ok)
	}
}

func TestImagesAndAnnotations(t *testing.T) {
	d := parseDoc(t, sampleDoc)

	imgs, err := d.Images()
	if err != nil {
		t.Fatal(err)
	}
	if len(imgs) != 1 || imgs[0].FileName != "a.jpg" || imgs[0].Width != 640 || imgs[0].Height != 480 {
		t.Fatalf("unexpected images %+v", imgs)
	}

	anns, err := d.Annotations()
	if err != nil {
		t.Fatal(err)
	}
	if len(anns) != 1 || anns[0].ImageID != 1 || anns[0].CategoryID != 1 || len(anns[0].BBox) != 4 {
		t.Fatalf("unexpected annotations %+v", anns)
	}

	empty := parseDoc(t, `{"categories":[]}`)
	if imgs, err := empty.Images(); err != nil || imgs != nil {
		t.Fatalf("missing images field: %v, %v", imgs, err)
	}

	bad := parseDoc(t, `{"images":"nope","categories":[]}`)
	if _, err := bad.Images(); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLoadAnnotationsErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadAnnotations(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := ioutil.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAnnotations(bad); err == nil {
		t.Fatal("expected parse error")
	}

	nocats := filepath.Join(dir, "nocats.json")
	if err := ioutil.WriteFile(nocats, []byte(`{"images":[]}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAnnotations(nocats); err == nil {
		t.Fatal("expected error for document without categories")
	}
}

func TestThingClasses(t *testing.T) {
	d := parseDoc(t, `{"categories":[{"name":"bread","id":2},{"name":"apple","id":1},{"name":"milk","id":5}]}`)
	want := []string{"apple", "bread", "milk"}
	if got := d.ThingClasses(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ThingClasses() = %v, want %v", got, want)
	}
	if d.Categories[0].Name != "bread" {
		t.Fatal("ThingClasses must not reorder the document")
	}
}

func writeSplit(t *testing.T, root, split, content string) {
	t.Helper()
	dir := filepath.Join(root, split)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(dir, InputAnnotationFile), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestProcessDataset(t *testing.T) {
	root := t.TempDir()
	for _, split := range Splits {
		writeSplit(t, root, split, sampleDoc)
	}

	if err := ProcessDataset(root, "supermarket-product"); err != nil {
		t.Fatalf("ProcessDataset: %v", err)
	}

	for _, split := range Splits {
		in, err := ioutil.ReadFile(filepath.Join(root, split, InputAnnotationFile))
		if err != nil {
			t.Fatal(err)
		}
		if string(in) != sampleDoc {
			t.Fatalf("input of split %s was modified", split)
		}

		out, err := LoadAnnotations(filepath.Join(root, split, CleanedAnnotationFile))
		if err != nil {
			t.Fatalf("split %s: %v", split, err)
		}
		if got := names(out.Categories); !reflect.DeepEqual(got, []string{"apple", "bread"}) {
			t.Fatalf("split %s: categories = %v", split, got)
		}
	}
}

func TestProcessDatasetStopsAtFirstFailure(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "train", sampleDoc)
	writeSplit(t, root, "valid", "{broken")
	writeSplit(t, root, "test", sampleDoc)

	if err := ProcessDataset(root, "supermarket-product"); err == nil {
		t.Fatal("expected error for broken valid split")
	}

	if _, err := os.Stat(filepath.Join(root, "train", CleanedAnnotationFile)); err != nil {
		t.Fatalf("train split should have been written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "test", CleanedAnnotationFile)); !os.IsNotExist(err) {
		t.Fatalf("test split must not be processed after a failure, stat err = %v", err)
	}
}

func TestProcessDatasetMissingSplit(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "train", sampleDoc)

	err := ProcessDataset(root, "supermarket-product")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
