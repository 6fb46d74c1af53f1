package session

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pavelanni/rater/internal/blind"
	"github.com/pavelanni/rater/internal/model"
)

// Outcome describes what a successful RecordAnswer did.
type Outcome struct {
	// Advanced is true when this save completed the active phase.
	Advanced bool
	From     model.Status
	To       model.Status
	// Updated is true when the case already had an answer that was replaced.
	Updated bool
}

// RecordAnswer validates a and stores it for caseID in the viewed dataset.
// Model scores are keyed by model key. On a *model.ValidationError nothing changes.
//
// After storing, the phase-completion check runs. The view then moves to the
// next case, or to the first unanswered case of the phase, or to the next phase.
func (m *Machine) RecordAnswer(s *model.Session, caseID string, a model.Answer) (Outcome, error) {
	p := s.ViewPhase()
	d := s.ViewDataset()
	if p == nil || d == nil {
		return Outcome{}, ErrNoCases
	}
	idx := d.IndexOf(caseID)
	if idx < 0 {
		return Outcome{}, fmt.Errorf("%w: %q in %s", ErrUnknownCase, caseID, d.Key)
	}
	if err := m.validate(s, p, d.Key, caseID, &a); err != nil {
		return Outcome{}, err
	}

	now := m.now().UTC()
	a.SavedAt = now
	_, updated := d.Answers[caseID]
	if d.Answers == nil {
		d.Answers = map[string]model.Answer{}
	}
	d.Answers[caseID] = a
	s.Audit.Saves++
	s.Audit.LastSavedAt = &now

	out := Outcome{From: s.Status(), Updated: updated}
	viewed := s.View.Phase
	if viewed == s.Stage && m.settle(s) {
		out.Advanced = true
		out.To = s.Status()
		m.enterStage(s)
		return out, nil
	}
	out.To = s.Status()

	switch {
	case idx < len(d.Cases)-1:
		d.Cursor = idx + 1
	case !p.Complete():
		next := p.FirstIncomplete()
		nd := &p.Datasets[next]
		nd.Cursor = firstUnanswered(nd)
		p.ActiveDataset = next
		s.View.Dataset = next
	case viewed < s.Stage:
		// Saved the last case of an earlier, already complete phase.
		m.enterStage(s)
	default:
		d.Cursor = idx
	}
	return out, nil
}

// ResolveLabels converts slot-label keyed scores for caseID of the viewed dataset
// into model-key scores.
func (m *Machine) ResolveLabels(s *model.Session, caseID string, byLabel map[string]int) (map[string]int, error) {
	d := s.ViewDataset()
	if d == nil {
		return nil, ErrNoCases
	}
	if d.IndexOf(caseID) < 0 {
		return nil, fmt.Errorf("%w: %q in %s", ErrUnknownCase, caseID, d.Key)
	}
	scores, err := blind.Resolve(m.Order(s, d.Key, caseID), byLabel)
	if err != nil {
		return nil, &model.ValidationError{Fields: []string{"scores: " + err.Error()}}
	}
	return scores, nil
}

// enterStage moves the view to the phase at Stage, if any remains.
func (m *Machine) enterStage(s *model.Session) {
	if s.Stage >= len(s.Phases) {
		return
	}
	p := &s.Phases[s.Stage]
	if next := p.FirstIncomplete(); next >= 0 {
		p.ActiveDataset = next
		p.Datasets[next].Cursor = firstUnanswered(&p.Datasets[next])
	}
	s.View = model.Position{Phase: s.Stage, Dataset: p.ActiveDataset}
}

// validate checks the fields the phase requires. Missing model scores are named
// by slot label so errors never reveal which model is which.
func (m *Machine) validate(s *model.Session, p *model.Phase, datasetKey, caseID string, a *model.Answer) error {
	var fields []string
	a.Comment = strings.TrimSpace(a.Comment)

	switch p.Kind {
	case model.PhaseQuality:
		if !a.Hardness.Valid() {
			fields = append(fields, "hardness")
		}
		if !a.CoTQuality.Valid() {
			fields = append(fields, "cot_quality")
		}
		a.Scores, a.OverallScore = nil, 0

	case model.PhaseEvaluation:
		if p.Scoring == model.ScoringOverall {
			if !validScore(a.OverallScore) {
				fields = append(fields, "overall_score")
			}
			a.Scores = nil
			break
		}
		order := m.Order(s, datasetKey, caseID)
		for _, slot := range blind.Slots(order) {
			if !validScore(a.Scores[slot.Model]) {
				fields = append(fields, "score "+slot.Label)
			}
		}
		for k := range a.Scores {
			if !slices.Contains(order, k) {
				fields = append(fields, "unknown score")
				break
			}
		}
		a.OverallScore = 0
		a.Hardness, a.CoTQuality = "", ""
	}

	if len(fields) > 0 {
		return &model.ValidationError{Fields: fields}
	}
	return nil
}

func validScore(v int) bool {
	return v >= model.MinScore && v <= model.MaxScore
}

func firstUnanswered(d *model.DatasetState) int {
	for i, c := range d.Cases {
		if _, ok := d.Answers[c.ID]; !ok {
			return i
		}
	}
	return d.Cursor
}
