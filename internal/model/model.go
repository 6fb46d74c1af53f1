package model

import (
	"slices"
	"time"
)

// SchemaVersion is the session shape written by this build.
const SchemaVersion = 4

// Status represents where a rater is in the workflow.
type Status string

const (
	StatusNew        Status = "new"
	StatusQuality    Status = "quality_active"
	StatusEvaluation Status = "evaluation_active"
	StatusComplete   Status = "complete"
)

// PhaseKind selects which answer fields a phase requires.
type PhaseKind string

const (
	// PhaseQuality asks for a hardness label and a chain-of-thought quality level.
	PhaseQuality PhaseKind = "quality"
	// PhaseEvaluation asks for scores of the blinded model outputs.
	PhaseEvaluation PhaseKind = "evaluation"
)

// Scoring selects how an evaluation phase is scored.
type Scoring string

const (
	// ScoringPerModel requires a score for every model output.
	ScoringPerModel Scoring = "per_model"
	// ScoringOverall requires a single overall score for the case.
	ScoringOverall Scoring = "overall"
)

// Hardness represents how difficult a case is to read.
type Hardness string

const (
	HardnessEasy   Hardness = "easy"
	HardnessMedium Hardness = "medium"
	HardnessHard   Hardness = "hard"
)

// Valid reports whether h is a known level.
func (h Hardness) Valid() bool {
	return h == HardnessEasy || h == HardnessMedium || h == HardnessHard
}

// CoTQuality represents the rater's judgment of a chain-of-thought.
type CoTQuality string

const (
	CoTPoor       CoTQuality = "poor"
	CoTAcceptable CoTQuality = "acceptable"
	CoTGood       CoTQuality = "good"
)

// Valid reports whether q is a known level.
func (q CoTQuality) Valid() bool {
	return q == CoTPoor || q == CoTAcceptable || q == CoTGood
}

// Score bounds for model and overall scores.
const (
	MinScore = 1
	MaxScore = 5
)

// ModelColumn maps a model key to its CSV column and display name.
type ModelColumn struct {
	Key     string `yaml:"key" json:"key"`
	Column  string `yaml:"column" json:"column"`
	Display string `yaml:"display" json:"display"`
}

// DatasetSpec names a dataset source file.
type DatasetSpec struct {
	Key   string `yaml:"key" json:"key"`
	Label string `yaml:"label" json:"label"`
	File  string `yaml:"file" json:"file"`
}

// PhaseSpec describes one phase of the workflow.
type PhaseSpec struct {
	Name     string        `yaml:"name" json:"name"`
	Kind     PhaseKind     `yaml:"kind" json:"kind"`
	Scoring  Scoring       `yaml:"scoring,omitempty" json:"scoring,omitempty"`
	Datasets []DatasetSpec `yaml:"datasets" json:"datasets"`
}

// Manifest is the static description of a rating deployment.
type Manifest struct {
	SampleSizes       []int         `yaml:"sample_sizes" json:"sample_sizes"`
	DefaultSampleSize int           `yaml:"default_sample_size" json:"default_sample_size"`
	Models            []ModelColumn `yaml:"models" json:"models"`
	Phases            []PhaseSpec   `yaml:"phases" json:"phases"`
}

// ModelKeys returns the model keys in manifest order.
func (m Manifest) ModelKeys() []string {
	keys := make([]string, len(m.Models))
	for i, c := range m.Models {
		keys[i] = c.Key
	}
	return keys
}

// AllowsSampleSize reports whether n is one of the configured sample sizes.
func (m Manifest) AllowsSampleSize(n int) bool {
	return slices.Contains(m.SampleSizes, n)
}

// Case is one sampled record. It is never modified after sampling.
type Case struct {
	ID          string            `json:"id"`
	Findings    string            `json:"findings"`
	Indication  string            `json:"indication"`
	GroundTruth string            `json:"ground_truth"`
	Hardness    string            `json:"hardness,omitempty"`
	CoT         string            `json:"cot,omitempty"`
	Models      map[string]string `json:"models,omitempty"`
}

// Answer is a rater's judgment of one case. A later save replaces it.
type Answer struct {
	Scores       map[string]int `json:"scores,omitempty"`
	OverallScore int            `json:"overall_score,omitempty"`
	Hardness     Hardness       `json:"hardness,omitempty"`
	CoTQuality   CoTQuality     `json:"cot_quality,omitempty"`
	Comment      string         `json:"comment,omitempty"`
	ShowGT       bool           `json:"show_gt,omitempty"`
	SavedAt      time.Time      `json:"saved_at"`
}

// DatasetState holds the sampled cases of one dataset and the answers given so far.
type DatasetState struct {
	Key        string            `json:"key"`
	Cases      []Case            `json:"cases"`
	Cursor     int               `json:"cursor"`
	Answers    map[string]Answer `json:"answers"`
	SourceHash string            `json:"source_hash,omitempty"`
	SampledAt  *time.Time        `json:"sampled_at,omitempty"`
}

// Done returns the number of answered cases.
func (d *DatasetState) Done() int { return len(d.Answers) }

// Complete reports whether every case has an answer.
func (d *DatasetState) Complete() bool { return len(d.Answers) >= len(d.Cases) }

// IndexOf returns the position of case id, or -1.
func (d *DatasetState) IndexOf(id string) int {
	return slices.IndexFunc(d.Cases, func(c Case) bool { return c.ID == id })
}

// ClampCursor keeps the cursor inside [0, len(cases)-1].
func (d *DatasetState) ClampCursor() {
	switch {
	case len(d.Cases) == 0 || d.Cursor < 0:
		d.Cursor = 0
	case d.Cursor >= len(d.Cases):
		d.Cursor = len(d.Cases) - 1
	}
}

// Phase is one stage of a rater's workflow.
type Phase struct {
	Name          string         `json:"name"`
	Kind          PhaseKind      `json:"kind"`
	Scoring       Scoring        `json:"scoring,omitempty"`
	Datasets      []DatasetState `json:"datasets"`
	ActiveDataset int            `json:"active_dataset"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// Total returns the number of cases across all datasets of the phase.
func (p *Phase) Total() int {
	n := 0
	for i := range p.Datasets {
		n += len(p.Datasets[i].Cases)
	}
	return n
}

// Done returns the number of answered cases across all datasets of the phase.
func (p *Phase) Done() int {
	n := 0
	for i := range p.Datasets {
		n += p.Datasets[i].Done()
	}
	return n
}

// Complete reports whether the answer count has reached the case count.
func (p *Phase) Complete() bool { return p.Done() >= p.Total() }

// Dataset returns the dataset with key and its index, or nil and -1.
func (p *Phase) Dataset(key string) (*DatasetState, int) {
	for i := range p.Datasets {
		if p.Datasets[i].Key == key {
			return &p.Datasets[i], i
		}
	}
	return nil, -1
}

// FirstIncomplete returns the index of the first dataset with unanswered cases, or -1.
func (p *Phase) FirstIncomplete() int {
	for i := range p.Datasets {
		if !p.Datasets[i].Complete() {
			return i
		}
	}
	return -1
}

// UserInfo identifies the rater.
type UserInfo struct {
	ID        string    `json:"id"`
	Meta      string    `json:"meta"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionConfig holds per-rater settings frozen at first sampling.
type SessionConfig struct {
	SampleSize int `json:"sample_size"`
}

// Position is the phase and dataset the rater is looking at.
type Position struct {
	Phase   int `json:"phase"`
	Dataset int `json:"dataset"`
}

// Transition records a phase completing.
type Transition struct {
	Phase string    `json:"phase"`
	From  Status    `json:"from"`
	To    Status    `json:"to"`
	At    time.Time `json:"at"`
}

// Audit counts saves and records transitions.
type Audit struct {
	LastSavedAt *time.Time   `json:"last_saved_at"`
	Saves       int          `json:"saves"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// Session is a rater's full state. One Session is owned per active rater.
type Session struct {
	Version int           `json:"version"`
	User    UserInfo      `json:"user"`
	Config  SessionConfig `json:"config"`
	Phases  []Phase       `json:"phases"`
	// Stage is the index of the furthest phase activated so far. It only grows;
	// len(Phases) means every phase is complete.
	Stage int      `json:"stage"`
	View  Position `json:"view"`
	Audit Audit    `json:"audit"`
}

// Status derives the workflow status from Stage.
func (s *Session) Status() Status {
	if s == nil || len(s.Phases) == 0 {
		return StatusNew
	}
	if s.Stage >= len(s.Phases) {
		return StatusComplete
	}
	return StatusForKind(s.Phases[s.Stage].Kind)
}

// StatusForKind maps a phase kind to the status active while it runs.
func StatusForKind(k PhaseKind) Status {
	if k == PhaseQuality {
		return StatusQuality
	}
	return StatusEvaluation
}

// Sampled reports whether any phase already holds cases.
func (s *Session) Sampled() bool {
	for i := range s.Phases {
		if s.Phases[i].Total() > 0 {
			return true
		}
	}
	return false
}

// Progress returns answered and total case counts over all phases.
func (s *Session) Progress() (done, total int) {
	for i := range s.Phases {
		done += s.Phases[i].Done()
		total += s.Phases[i].Total()
	}
	return done, total
}

// ViewPhase returns the phase being viewed, or nil.
func (s *Session) ViewPhase() *Phase {
	if s.View.Phase < 0 || s.View.Phase >= len(s.Phases) {
		return nil
	}
	return &s.Phases[s.View.Phase]
}

// ViewDataset returns the dataset being viewed, or nil.
func (s *Session) ViewDataset() *DatasetState {
	p := s.ViewPhase()
	if p == nil || s.View.Dataset < 0 || s.View.Dataset >= len(p.Datasets) {
		return nil
	}
	return &p.Datasets[s.View.Dataset]
}
