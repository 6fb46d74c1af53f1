// Package dataset describes rating deployments and turns source tables into cases.
package dataset

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/rater/internal/model"
	"github.com/pavelanni/rater/internal/seed"
)

// DefaultManifest mirrors the radiology impression deployment: a chain-of-thought
// quality pass followed by blinded evaluation over three report datasets.
func DefaultManifest() model.Manifest {
	return model.Manifest{
		SampleSizes:       []int{10, 15, 20},
		DefaultSampleSize: 15,
		Models: []model.ModelColumn{
			{Key: "m1", Column: "m1_7B_23K_impression", Display: "M1 (Medical)"},
			{Key: "qwen8b_zs", Column: "qwen3_8b_base_impression", Display: "Qwen3-8B (Zero-shot)"},
			{Key: "qwen14b_zs", Column: "qwen3_14b_base_impression", Display: "Qwen3-14B (Zero-shot)"},
			{Key: "qwen8b_sft", Column: "qwen3_8b_lora_impression", Display: "Qwen3-8B (SFT)"},
			{Key: "qwen8b_rl", Column: "qwen3_8b_lora_rl_impression", Display: "Qwen3-8B (SFT+RL)"},
			{Key: "qwen14b_sft", Column: "qwen3_14b_lora_impression", Display: "Qwen3-14B (SFT)"},
			{Key: "qwen14b_rl", Column: "qwen3_14b_lora_rl_impression", Display: "Qwen3-14B (SFT+RL)"},
		},
		Phases: []model.PhaseSpec{
			{
				Name: "quality",
				Kind: model.PhaseQuality,
				Datasets: []model.DatasetSpec{
					{Key: "cot", Label: "CoT Quality", File: "data/cot_quality_samples.csv"},
				},
			},
			{
				Name:    "evaluation",
				Kind:    model.PhaseEvaluation,
				Scoring: model.ScoringPerModel,
				Datasets: []model.DatasetSpec{
					{Key: "rexgradient", Label: "RexGradient", File: "data/rexgradient_all_predictions_final.csv"},
					{Key: "chexpert", Label: "CheXpert", File: "data/chexpert_all_predictions_final.csv"},
					{Key: "mimic", Label: "MIMIC-CXR", File: "data/mimic_all_predictions_final.csv"},
				},
			},
		},
	}
}

// LoadManifest reads a YAML manifest from path. An empty path returns the default.
func LoadManifest(path string) (model.Manifest, error) {
	if path == "" {
		return DefaultManifest(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m model.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return model.Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	for i := range m.Phases {
		if m.Phases[i].Kind == model.PhaseEvaluation && m.Phases[i].Scoring == "" {
			m.Phases[i].Scoring = model.ScoringPerModel
		}
	}
	if err := Validate(m); err != nil {
		return model.Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Validate checks the manifest for structural mistakes.
func Validate(m model.Manifest) error {
	var errs []error
	if len(m.SampleSizes) == 0 {
		errs = append(errs, errors.New("sample_sizes is empty"))
	}
	for _, n := range m.SampleSizes {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("sample size %d must be positive", n))
		}
	}
	if !m.AllowsSampleSize(m.DefaultSampleSize) {
		errs = append(errs, fmt.Errorf("default_sample_size %d is not in sample_sizes", m.DefaultSampleSize))
	}
	if len(m.Phases) == 0 {
		errs = append(errs, errors.New("no phases defined"))
	}

	modelKeys := make(map[string]bool)
	for _, c := range m.Models {
		if c.Key == "" || c.Column == "" {
			errs = append(errs, fmt.Errorf("model %q needs key and column", c.Key))
		}
		if modelKeys[c.Key] {
			errs = append(errs, fmt.Errorf("duplicate model key %q", c.Key))
		}
		modelKeys[c.Key] = true
	}

	phaseNames := make(map[string]bool)
	datasetKeys := make(map[string]bool)
	for _, p := range m.Phases {
		if phaseNames[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate phase %q", p.Name))
		}
		phaseNames[p.Name] = true

		switch p.Kind {
		case model.PhaseQuality:
		case model.PhaseEvaluation:
			if len(m.Models) == 0 {
				errs = append(errs, fmt.Errorf("phase %q evaluates models but none are defined", p.Name))
			}
			if p.Scoring != model.ScoringPerModel && p.Scoring != model.ScoringOverall {
				errs = append(errs, fmt.Errorf("phase %q: unknown scoring %q", p.Name, p.Scoring))
			}
		default:
			errs = append(errs, fmt.Errorf("phase %q: unknown kind %q", p.Name, p.Kind))
		}

		if len(p.Datasets) == 0 {
			errs = append(errs, fmt.Errorf("phase %q has no datasets", p.Name))
		}
		for _, d := range p.Datasets {
			// Dataset keys scope sampling seeds, so they must be unique across phases.
			if datasetKeys[d.Key] {
				errs = append(errs, fmt.Errorf("duplicate dataset key %q", d.Key))
			}
			datasetKeys[d.Key] = true
			if d.Key == "" || d.File == "" {
				errs = append(errs, fmt.Errorf("phase %q: dataset needs key and file", p.Name))
			}
			if err := seed.ValidateField(d.Key); err != nil {
				errs = append(errs, fmt.Errorf("dataset key: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}
