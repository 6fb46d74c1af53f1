package dataset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pavelanni/rater/internal/model"
	"github.com/pavelanni/rater/internal/sampler"
)

var testModels = []model.ModelColumn{
	{Key: "m1", Column: "m1_out", Display: "M1"},
	{Key: "m2", Column: "m2_out", Display: "M2"},
}

const testCSV = `id,findings,indication,ground_truth,m1_out,m2_out
c1,"clear lungs","cough","normal","no acute","normal chest"

c2,effusion,dyspnea,"small effusion","effusion, left",
c2,dup,dup,dup,dup,dup
,missing id,x,x,x,x
bad::id,x,x,x,x,x
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestParseCSV(t *testing.T) {
	tbl, err := ParseCSV([]byte("\ufeffid,a\n1,x\n2\n"))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	want := []map[string]string{{"id": "1", "a": "x"}, {"id": "2"}}
	if diff := cmp.Diff(want, tbl.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if len(tbl.Hash) != 64 {
		t.Errorf("expected sha256 hex digest, got %q", tbl.Hash)
	}

	if _, err := ParseCSV(nil); err == nil {
		t.Error("expected error for empty file")
	}
}

func TestNormalize(t *testing.T) {
	tbl, err := ParseCSV([]byte(testCSV))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	cases := NewLoader(nil, testModels).Normalize("ds", tbl.Rows)
	if len(cases) != 5 {
		t.Fatalf("expected one case per row, got %d: %+v", len(cases), cases)
	}
	want := model.Case{
		ID:          "c2",
		Findings:    "effusion",
		Indication:  "dyspnea",
		GroundTruth: "small effusion",
		Models:      map[string]string{"m1": "effusion, left", "m2": ""},
	}
	if diff := cmp.Diff(want, cases[1]); diff != "" {
		t.Errorf("case mismatch (-want +got):\n%s", diff)
	}
	var usable []string
	for _, c := range cases {
		if Usable(c) {
			usable = append(usable, c.ID)
		}
	}
	if diff := cmp.Diff([]string{"c1", "c2", "c2"}, usable); diff != "" {
		t.Errorf("usable ids mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeKeepsIDVerbatim(t *testing.T) {
	c := NormalizeRow(map[string]string{"id": " c7 "}, testModels)
	if c.ID != " c7 " {
		t.Errorf("ID = %q, want it unchanged", c.ID)
	}
}

func idsOf(cases []model.Case) []string {
	ids := make([]string, len(cases))
	for i, c := range cases {
		ids[i] = c.ID
	}
	return ids
}

func TestSampleCasesMatchesSampler(t *testing.T) {
	var cases []model.Case
	for i := range 40 {
		cases = append(cases, model.Case{ID: fmt.Sprintf("r%d", i)})
	}
	key := "alice::rexgradient::sample"
	for _, n := range []int{0, 1, 15, 40, 55} {
		got := idsOf(SampleCases(cases, n, key))
		want := idsOf(sampler.Sample(cases, n, key))
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("n=%d mismatch (-want +got):\n%s", n, diff)
		}
	}
}

func TestSampleCasesPassesOverUnusableRows(t *testing.T) {
	cases := []model.Case{
		{ID: "c1"}, {ID: ""}, {ID: "c2"}, {ID: "bad::id"}, {ID: "c2"},
		{ID: "  "}, {ID: "c3"}, {ID: "c4"}, {ID: "c5"},
	}
	key := "bob::chexpert::sample"

	var want []string
	seen := map[string]bool{}
	for _, c := range sampler.Permute(cases, key) {
		if Usable(c) && !seen[c.ID] && len(want) < 4 {
			seen[c.ID] = true
			want = append(want, c.ID)
		}
	}
	got := idsOf(SampleCases(cases, 4, key))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sample mismatch (-want +got):\n%s", diff)
	}

	all := SampleCases(cases, 100, key)
	if len(all) != 5 {
		t.Errorf("expected the 5 distinct usable ids, got %v", idsOf(all))
	}
}

func TestLoaderFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "data/a.csv", testCSV)
	writeFile(t, dir, "data/b.csv", "id,findings\nz1,f\n")

	l := NewLoader(NewSource(dir), testModels)
	got, err := l.Load(context.Background(), []model.DatasetSpec{
		{Key: "a", File: "data/a.csv"},
		{Key: "b", File: "data/b.csv"},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got["a"].Cases) != 5 || len(got["b"].Cases) != 1 {
		t.Errorf("unexpected case counts: a=%d b=%d", len(got["a"].Cases), len(got["b"].Cases))
	}
	if got["a"].Hash == got["b"].Hash {
		t.Error("expected distinct source hashes")
	}
}

func TestLoaderMissingFile(t *testing.T) {
	l := NewLoader(NewSource(t.TempDir()), testModels)
	_, err := l.Load(context.Background(), []model.DatasetSpec{{Key: "mimic", File: "data/nope.csv"}})
	var le *model.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if le.Dataset != "mimic" || !strings.Contains(le.Hint(), "data/nope.csv") {
		t.Errorf("unexpected load error: %+v hint=%q", le, le.Hint())
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/a.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(testCSV))
	}))
	defer srv.Close()

	src := NewSource(srv.URL)
	if _, ok := src.(*HTTPSource); !ok {
		t.Fatalf("expected HTTPSource for %s, got %T", srv.URL, src)
	}
	tbl, err := src.Read(context.Background(), "data/a.csv")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(tbl.Rows) != 5 {
		t.Errorf("expected 5 rows, got %d", len(tbl.Rows))
	}
	if _, err := src.Read(context.Background(), "data/missing.csv"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestDefaultManifestValid(t *testing.T) {
	if err := Validate(DefaultManifest()); err != nil {
		t.Fatalf("default manifest invalid: %v", err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", `
sample_sizes: [2, 3]
default_sample_size: 3
models:
  - {key: m1, column: m1_out, display: M1}
phases:
  - name: eval
    kind: evaluation
    datasets:
      - {key: a, label: A, file: a.csv}
`)
	m, err := LoadManifest(filepath.Join(dir, "good.yaml"))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Phases[0].Scoring != model.ScoringPerModel {
		t.Errorf("expected default scoring per_model, got %q", m.Phases[0].Scoring)
	}

	writeFile(t, dir, "bad.yaml", `
sample_sizes: [5]
default_sample_size: 7
phases:
  - name: eval
    kind: evaluation
    datasets:
      - {key: a, file: a.csv}
      - {key: a, file: b.csv}
`)
	_, err = LoadManifest(filepath.Join(dir, "bad.yaml"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"default_sample_size", "duplicate dataset key", "none are defined"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}

	m, err = LoadManifest("")
	if err != nil || len(m.Phases) != 2 {
		t.Errorf("empty path should return default manifest, got %v, %v", m, err)
	}
}
