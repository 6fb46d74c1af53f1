package dataset

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/rater/internal/model"
	"github.com/pavelanni/rater/internal/sampler"
	"github.com/pavelanni/rater/internal/seed"
)

// Loaded is a dataset's normalized cases in source order.
type Loaded struct {
	Cases []model.Case
	Hash  string
}

// Loader reads dataset files and normalizes their rows.
type Loader struct {
	source Source
	models []model.ModelColumn
}

// NewLoader creates a Loader reading from src with the given model columns.
func NewLoader(src Source, models []model.ModelColumn) *Loader {
	return &Loader{source: src, models: models}
}

// Load reads every dataset concurrently. Any failure aborts the whole load with a
// *model.LoadError, so callers never see a partial result.
func (l *Loader) Load(ctx context.Context, specs []model.DatasetSpec) (map[string]Loaded, error) {
	results := make([]Loaded, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			t, err := l.source.Read(gctx, spec.File)
			if err != nil {
				return &model.LoadError{Dataset: spec.Key, Path: spec.File, Err: err}
			}
			results[i] = Loaded{Cases: l.Normalize(spec.Key, t.Rows), Hash: t.Hash}
			slog.Debug("loaded dataset", "dataset", spec.Key, "path", spec.File, "rows", len(t.Rows), "cases", len(results[i].Cases))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]Loaded, len(specs))
	for i, spec := range specs {
		out[spec.Key] = results[i]
	}
	return out, nil
}

// Normalize converts rows into cases, one per row in source order. Rows that
// cannot be rated are kept so the sampling shuffle runs over the same index
// range as earlier runs; SampleCases passes over them.
func (l *Loader) Normalize(datasetKey string, rows []map[string]string) []model.Case {
	cases := make([]model.Case, len(rows))
	unusable := 0
	for i, row := range rows {
		cases[i] = NormalizeRow(row, l.models)
		if !Usable(cases[i]) {
			unusable++
		}
	}
	if unusable > 0 {
		slog.Warn("dataset has rows without a usable id", "dataset", datasetKey, "rows", unusable)
	}
	return cases
}

// Usable reports whether c has an id that can key answers and seeds.
func Usable(c model.Case) bool {
	return strings.TrimSpace(c.ID) != "" && seed.ValidateField(c.ID) == nil
}

// SampleCases takes the first n usable cases of the seeded permutation of cases.
// Unusable rows, and ids already drawn, are passed over for the next row of the
// same permutation. Without such rows the result equals sampler.Sample.
func SampleCases(cases []model.Case, n int, key string) []model.Case {
	if n <= 0 {
		return []model.Case{}
	}
	out := make([]model.Case, 0, min(n, len(cases)))
	seen := make(map[string]bool, n)
	for _, c := range sampler.Permute(cases, key) {
		if len(out) == n {
			break
		}
		if !Usable(c) || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// NormalizeRow maps a header-keyed row to a case. Missing columns become empty strings.
func NormalizeRow(row map[string]string, models []model.ModelColumn) model.Case {
	c := model.Case{
		ID:          row["id"],
		Findings:    row["findings"],
		Indication:  row["indication"],
		GroundTruth: row["ground_truth"],
		Hardness:    row["hardness"],
		CoT:         row["cot"],
	}
	if len(models) > 0 {
		c.Models = make(map[string]string, len(models))
		for _, m := range models {
			c.Models[m.Key] = row[m.Column]
		}
	}
	return c
}
