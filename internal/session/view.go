package session

import (
	"time"

	"github.com/pavelanni/rater/internal/blind"
	"github.com/pavelanni/rater/internal/model"
)

// Output is one blinded model output.
type Output struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// SavedAnswer is a stored answer as the rater sees it, with scores keyed by slot label.
type SavedAnswer struct {
	Scores       map[string]int   `json:"scores,omitempty"`
	OverallScore int              `json:"overall_score,omitempty"`
	Hardness     model.Hardness   `json:"hardness,omitempty"`
	CoTQuality   model.CoTQuality `json:"cot_quality,omitempty"`
	Comment      string           `json:"comment,omitempty"`
	ShowGT       bool             `json:"show_gt,omitempty"`
	SavedAt      string           `json:"saved_at"`
}

// DatasetProgress is the answered and total counts of one dataset.
type DatasetProgress struct {
	Key   string `json:"key"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// CaseView is everything needed to render the current case without revealing
// model identities.
type CaseView struct {
	User       string            `json:"user"`
	Status     model.Status      `json:"status"`
	Phase      string            `json:"phase"`
	Kind       model.PhaseKind   `json:"kind"`
	Scoring    model.Scoring     `json:"scoring,omitempty"`
	Dataset    string            `json:"dataset"`
	Index      int               `json:"index"`
	Count      int               `json:"count"`
	Done       int               `json:"done"`
	Total      int               `json:"total"`
	Datasets   []DatasetProgress `json:"datasets"`
	CaseID     string            `json:"case_id,omitempty"`
	Indication string            `json:"indication,omitempty"`
	Findings   string            `json:"findings,omitempty"`
	GT         string            `json:"ground_truth,omitempty"`
	CoT        string            `json:"cot,omitempty"`
	Outputs    []Output          `json:"outputs,omitempty"`
	Answer     *SavedAnswer      `json:"answer,omitempty"`
}

// Current builds the view of the case under the cursor.
func (m *Machine) Current(s *model.Session) CaseView {
	v := CaseView{User: s.User.ID, Status: s.Status()}
	v.Done, v.Total = s.Progress()

	p := s.ViewPhase()
	d := s.ViewDataset()
	if p == nil || d == nil {
		return v
	}
	v.Phase, v.Kind, v.Scoring = p.Name, p.Kind, p.Scoring
	v.Dataset = d.Key
	v.Count = len(d.Cases)
	for i := range p.Datasets {
		pd := &p.Datasets[i]
		v.Datasets = append(v.Datasets, DatasetProgress{Key: pd.Key, Done: pd.Done(), Total: len(pd.Cases)})
	}
	if len(d.Cases) == 0 {
		return v
	}

	d.ClampCursor()
	c := d.Cases[d.Cursor]
	v.Index = d.Cursor
	v.CaseID = c.ID
	v.Indication = c.Indication
	v.Findings = c.Findings
	v.GT = c.GroundTruth

	var slots []blind.Slot
	switch p.Kind {
	case model.PhaseQuality:
		v.CoT = c.CoT
	case model.PhaseEvaluation:
		slots = blind.Slots(m.Order(s, d.Key, c.ID))
		for _, sl := range slots {
			text := c.Models[sl.Model]
			if text == "" {
				text = "[EMPTY]"
			}
			v.Outputs = append(v.Outputs, Output{Label: sl.Label, Text: text})
		}
	}

	if a, ok := d.Answers[c.ID]; ok {
		sa := &SavedAnswer{
			OverallScore: a.OverallScore,
			Hardness:     a.Hardness,
			CoTQuality:   a.CoTQuality,
			Comment:      a.Comment,
			ShowGT:       a.ShowGT,
			SavedAt:      a.SavedAt.Format(time.RFC3339),
		}
		if len(a.Scores) > 0 {
			sa.Scores = make(map[string]int, len(a.Scores))
			for _, sl := range slots {
				if score, ok := a.Scores[sl.Model]; ok {
					sa.Scores[sl.Label] = score
				}
			}
		}
		v.Answer = sa
	}
	return v
}
