package model

import "time"

// ExportDocument is the top-level JSON structure for a rater's results.
type ExportDocument struct {
	ExportID   string              `json:"export_id"`
	ExportedAt time.Time           `json:"exported_at"`
	Version    int                 `json:"version"`
	User       UserInfo            `json:"user"`
	Config     SessionConfig       `json:"config"`
	Status     Status              `json:"status"`
	Audit      Audit               `json:"audit"`
	ModelMap   map[string]ModelRef `json:"model_map"`
	Phases     []PhaseExport       `json:"phases"`
}

// ModelRef describes a model key in exports.
type ModelRef struct {
	Column  string `json:"column"`
	Display string `json:"display"`
}

// PhaseExport holds one phase's datasets for export.
type PhaseExport struct {
	Name        string          `json:"name"`
	Kind        PhaseKind       `json:"kind"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Datasets    []DatasetExport `json:"datasets"`
}

// DatasetExport lists case ids in sampled order and every answer.
type DatasetExport struct {
	Key     string            `json:"key"`
	Cases   []CaseRef         `json:"cases"`
	Answers map[string]Answer `json:"answers"`
}

// CaseRef identifies an exported case.
type CaseRef struct {
	ID string `json:"id"`
}

// BuildExport converts a session into its export document.
// Case order and answers are copied as stored.
func BuildExport(s *Session, models []ModelColumn, exportID string, now time.Time) ExportDocument {
	doc := ExportDocument{
		ExportID:   exportID,
		ExportedAt: now,
		Version:    s.Version,
		User:       s.User,
		Config:     s.Config,
		Status:     s.Status(),
		Audit:      s.Audit,
		ModelMap:   make(map[string]ModelRef, len(models)),
		Phases:     make([]PhaseExport, 0, len(s.Phases)),
	}
	for _, m := range models {
		doc.ModelMap[m.Key] = ModelRef{Column: m.Column, Display: m.Display}
	}
	for _, p := range s.Phases {
		pe := PhaseExport{
			Name:        p.Name,
			Kind:        p.Kind,
			CompletedAt: p.CompletedAt,
			Datasets:    make([]DatasetExport, 0, len(p.Datasets)),
		}
		for _, d := range p.Datasets {
			de := DatasetExport{
				Key:     d.Key,
				Cases:   make([]CaseRef, len(d.Cases)),
				Answers: make(map[string]Answer, len(d.Answers)),
			}
			for i, c := range d.Cases {
				de.Cases[i] = CaseRef{ID: c.ID}
			}
			for id, a := range d.Answers {
				de.Answers[id] = a
			}
			pe.Datasets = append(pe.Datasets, de)
		}
		doc.Phases = append(doc.Phases, pe)
	}
	return doc
}
