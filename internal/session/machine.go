// Package session implements the rating workflow over an explicit *model.Session:
// sampling cases into phases, recording answers, navigation and phase transitions.
// Nothing here persists or blocks on I/O except loading dataset sources.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/rater/internal/blind"
	"github.com/pavelanni/rater/internal/dataset"
	"github.com/pavelanni/rater/internal/model"
	"github.com/pavelanni/rater/internal/seed"
)

var (
	// ErrUnknownCase is returned when a case id is not in the viewed dataset.
	ErrUnknownCase = errors.New("case is not in the current dataset")
	// ErrUnknownDataset is returned when a dataset key is not in the viewed phase.
	ErrUnknownDataset = errors.New("dataset is not in the current phase")
	// ErrNoCases is returned when the viewed dataset holds no cases.
	ErrNoCases = errors.New("no cases")
)

// Loader produces normalized cases for dataset specs.
type Loader interface {
	Load(ctx context.Context, specs []model.DatasetSpec) (map[string]dataset.Loaded, error)
}

// Machine applies workflow operations to sessions. It holds no per-rater state.
type Machine struct {
	manifest model.Manifest
	loader   Loader
	now      func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a Machine for manifest reading cases through loader.
func New(manifest model.Manifest, loader Loader, opts ...Option) *Machine {
	m := &Machine{manifest: manifest, loader: loader, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Manifest returns the manifest the machine was built with.
func (m *Machine) Manifest() model.Manifest { return m.manifest }

// NewSession creates an unsampled session for userID.
func (m *Machine) NewSession(userID, meta string, sampleSize int) (*model.Session, error) {
	userID = strings.TrimSpace(userID)
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if sampleSize == 0 {
		sampleSize = m.manifest.DefaultSampleSize
	}
	if !m.manifest.AllowsSampleSize(sampleSize) {
		return nil, &model.ValidationError{Fields: []string{"sample_size"}}
	}

	s := &model.Session{
		Version: model.SchemaVersion,
		User:    model.UserInfo{ID: userID, Meta: meta, CreatedAt: m.now().UTC()},
		Config:  model.SessionConfig{SampleSize: sampleSize},
		Phases:  make([]model.Phase, len(m.manifest.Phases)),
	}
	for i, spec := range m.manifest.Phases {
		p := model.Phase{
			Name:     spec.Name,
			Kind:     spec.Kind,
			Scoring:  spec.Scoring,
			Datasets: make([]model.DatasetState, len(spec.Datasets)),
		}
		for j, ds := range spec.Datasets {
			p.Datasets[j] = model.DatasetState{Key: ds.Key, Answers: map[string]model.Answer{}}
		}
		s.Phases[i] = p
	}
	return s, nil
}

// Login resumes existing, or creates a session when existing is nil, and makes
// sure every dataset holds its cases. The sample size is frozen once any case
// has been sampled. On error existing is left untouched.
func (m *Machine) Login(ctx context.Context, existing *model.Session, userID, meta string, sampleSize int) (*model.Session, error) {
	if existing == nil {
		s, err := m.NewSession(userID, meta, sampleSize)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureCases(ctx, s); err != nil {
			return nil, err
		}
		m.resume(s)
		slog.Info("created session", "user", s.User.ID, "sample_size", s.Config.SampleSize)
		return s, nil
	}

	if meta = strings.TrimSpace(meta); meta != "" {
		existing.User.Meta = meta
	}
	if sampleSize != 0 && sampleSize != existing.Config.SampleSize {
		switch {
		case existing.Sampled():
			slog.Info("ignoring sample size change for sampled session",
				"user", existing.User.ID, "stored", existing.Config.SampleSize, "requested", sampleSize)
		case m.manifest.AllowsSampleSize(sampleSize):
			existing.Config.SampleSize = sampleSize
		default:
			return nil, &model.ValidationError{Fields: []string{"sample_size"}}
		}
	}
	if err := m.EnsureCases(ctx, existing); err != nil {
		return nil, err
	}
	m.resume(existing)
	return existing, nil
}

// EnsureCases samples every dataset that has no cases yet. Datasets that already
// hold cases are never re-read or re-sampled. All missing datasets are loaded
// before any is assigned, so a load failure leaves s unchanged.
func (m *Machine) EnsureCases(ctx context.Context, s *model.Session) error {
	var missing []model.DatasetSpec
	for _, ps := range m.manifest.Phases {
		for _, ds := range ps.Datasets {
			st := findDataset(s, ds.Key)
			if st == nil {
				return fmt.Errorf("session has no dataset %q", ds.Key)
			}
			if len(st.Cases) == 0 {
				missing = append(missing, ds)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	loaded, err := m.loader.Load(ctx, missing)
	if err != nil {
		return err
	}

	now := m.now().UTC()
	for _, ds := range missing {
		l := loaded[ds.Key]
		st := findDataset(s, ds.Key)
		st.Cases = dataset.SampleCases(l.Cases, s.Config.SampleSize, seed.Sample(s.User.ID, ds.Key).String())
		st.Cursor = 0
		st.SourceHash = l.Hash
		st.SampledAt = &now
		if st.Answers == nil {
			st.Answers = map[string]model.Answer{}
		}
		slog.Info("sampled dataset", "user", s.User.ID, "dataset", ds.Key, "available", len(l.Cases), "sampled", len(st.Cases))
	}
	m.settle(s)
	return nil
}

// CheckSources re-reads the sources of sampled datasets and returns the keys whose
// content changed since sampling. The session is not modified.
func (m *Machine) CheckSources(ctx context.Context, s *model.Session) ([]string, error) {
	var specs []model.DatasetSpec
	for _, ps := range m.manifest.Phases {
		for _, ds := range ps.Datasets {
			if st := findDataset(s, ds.Key); st != nil && len(st.Cases) > 0 && st.SourceHash != "" {
				specs = append(specs, ds)
			}
		}
	}
	if len(specs) == 0 {
		return nil, nil
	}
	loaded, err := m.loader.Load(ctx, specs)
	if err != nil {
		return nil, err
	}
	var drifted []string
	for _, ds := range specs {
		if loaded[ds.Key].Hash != findDataset(s, ds.Key).SourceHash {
			drifted = append(drifted, ds.Key)
		}
	}
	return drifted, nil
}

// Order returns the blinded model order for a case of datasetKey.
func (m *Machine) Order(s *model.Session, datasetKey, caseID string) []string {
	return blind.BuildOrder(s.User.ID, datasetKey, caseID, m.manifest.ModelKeys())
}

// resume points the view at the furthest active phase, or the last phase when
// everything is complete, and clamps cursors.
func (m *Machine) resume(s *model.Session) {
	for i := range s.Phases {
		for j := range s.Phases[i].Datasets {
			s.Phases[i].Datasets[j].ClampCursor()
		}
	}
	if len(s.Phases) == 0 {
		return
	}
	target := min(s.Stage, len(s.Phases)-1)
	p := &s.Phases[target]
	if p.ActiveDataset < 0 || p.ActiveDataset >= len(p.Datasets) {
		p.ActiveDataset = 0
	}
	s.View = model.Position{Phase: target, Dataset: p.ActiveDataset}
}

// settle advances Stage past every complete phase, recording each transition once.
// It reports whether Stage moved.
func (m *Machine) settle(s *model.Session) bool {
	moved := false
	for s.Stage < len(s.Phases) && s.Phases[s.Stage].Complete() {
		p := &s.Phases[s.Stage]
		from := s.Status()
		now := m.now().UTC()
		p.CompletedAt = &now
		s.Stage++
		s.Audit.Transitions = append(s.Audit.Transitions, model.Transition{
			Phase: p.Name,
			From:  from,
			To:    s.Status(),
			At:    now,
		})
		slog.Info("phase complete", "user", s.User.ID, "phase", p.Name, "from", from, "to", s.Status())
		moved = true
	}
	return moved
}

func findDataset(s *model.Session, key string) *model.DatasetState {
	for i := range s.Phases {
		if d, _ := s.Phases[i].Dataset(key); d != nil {
			return d
		}
	}
	return nil
}

func validateUserID(id string) error {
	if id == "" {
		return &model.ValidationError{Fields: []string{"user_id"}}
	}
	if err := seed.ValidateField(id); err != nil {
		return &model.ValidationError{Fields: []string{"user_id"}}
	}
	return nil
}
