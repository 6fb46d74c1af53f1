package session

import (
	"fmt"

	"github.com/pavelanni/rater/internal/model"
)

// Prev moves the view one case back. At the first case of a later phase it steps
// into the previous phase's last case; phase completion is not affected.
// It reports whether the view moved.
func (m *Machine) Prev(s *model.Session) bool {
	d := s.ViewDataset()
	if d == nil {
		return false
	}
	d.ClampCursor()
	if d.Cursor > 0 {
		d.Cursor--
		return true
	}
	if s.View.Dataset != 0 || s.View.Phase == 0 {
		return false
	}

	prev := &s.Phases[s.View.Phase-1]
	last := len(prev.Datasets) - 1
	if last < 0 {
		return false
	}
	pd := &prev.Datasets[last]
	if len(pd.Cases) > 0 {
		pd.Cursor = len(pd.Cases) - 1
	}
	prev.ActiveDataset = last
	s.View = model.Position{Phase: s.View.Phase - 1, Dataset: last}
	return true
}

// SelectDataset switches the view to another dataset of the viewed phase. The
// dataset's stored cursor is kept.
func (m *Machine) SelectDataset(s *model.Session, key string) error {
	p := s.ViewPhase()
	if p == nil {
		return ErrNoCases
	}
	d, i := p.Dataset(key)
	if d == nil {
		return fmt.Errorf("%w: %q", ErrUnknownDataset, key)
	}
	d.ClampCursor()
	p.ActiveDataset = i
	s.View.Dataset = i
	return nil
}
