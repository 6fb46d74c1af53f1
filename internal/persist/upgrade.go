package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/rater/internal/model"
)

// ErrUnsupportedVersion is returned for snapshots newer than this build or older than version 3.
var ErrUnsupportedVersion = errors.New("unsupported session version")

// Upgrade decodes a stored snapshot of any supported version into the current
// session shape for manifest. It runs once per load; nothing else inspects
// old shapes.
func Upgrade(raw []byte, manifest model.Manifest) (*model.Session, error) {
	var head struct {
		Version  int             `json:"version"`
		Datasets json.RawMessage `json:"datasets"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	version := head.Version
	if version == 0 && len(head.Datasets) > 0 {
		version = 3
	}
	switch {
	case version == model.SchemaVersion:
		var s model.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode session v%d: %w", version, err)
		}
		normalize(&s)
		return &s, nil
	case version == 3:
		return upgradeV3(raw, manifest)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, head.Version)
	}
}

type legacySession struct {
	Version int `json:"version"`
	User    struct {
		ID        string `json:"id"`
		Meta      string `json:"meta"`
		CreatedAt string `json:"created_at"`
	} `json:"user"`
	Config struct {
		SampleSizePerDataset int `json:"sample_size_per_dataset"`
	} `json:"config"`
	Datasets map[string]legacyDataset `json:"datasets"`
	Audit    struct {
		LastSavedAt *string `json:"last_saved_at"`
	} `json:"audit"`
}

type legacyDataset struct {
	Cases   []model.Case            `json:"cases"`
	Cursor  int                     `json:"cursor"`
	Answers map[string]legacyAnswer `json:"answers"`
}

type legacyAnswer struct {
	Scores       map[string]int   `json:"scores"`
	OverallScore json.RawMessage  `json:"overall_score"`
	Hardness     model.Hardness   `json:"hardness"`
	CoTQuality   model.CoTQuality `json:"cot_quality"`
	Comment      string           `json:"comment"`
	ShowGT       bool             `json:"show_gt"`
	SavedAt      string           `json:"saved_at"`
}

// upgradeV3 maps the flat per-dataset layout onto the manifest's phases.
// Datasets the manifest no longer names are dropped.
func upgradeV3(raw []byte, manifest model.Manifest) (*model.Session, error) {
	var old legacySession
	if err := json.Unmarshal(raw, &old); err != nil {
		return nil, fmt.Errorf("decode session v3: %w", err)
	}

	s := &model.Session{
		Version: model.SchemaVersion,
		User: model.UserInfo{
			ID:        old.User.ID,
			Meta:      old.User.Meta,
			CreatedAt: parseTime(old.User.CreatedAt),
		},
		Config: model.SessionConfig{SampleSize: old.Config.SampleSizePerDataset},
		Phases: make([]model.Phase, len(manifest.Phases)),
	}
	if s.Config.SampleSize == 0 {
		s.Config.SampleSize = manifest.DefaultSampleSize
	}
	if old.Audit.LastSavedAt != nil {
		if t := parseTime(*old.Audit.LastSavedAt); !t.IsZero() {
			s.Audit.LastSavedAt = &t
		}
	}

	used := map[string]bool{}
	for i, spec := range manifest.Phases {
		p := model.Phase{
			Name:     spec.Name,
			Kind:     spec.Kind,
			Scoring:  spec.Scoring,
			Datasets: make([]model.DatasetState, len(spec.Datasets)),
		}
		for j, ds := range spec.Datasets {
			st := model.DatasetState{Key: ds.Key, Answers: map[string]model.Answer{}}
			if od, ok := old.Datasets[ds.Key]; ok {
				used[ds.Key] = true
				st.Cases = od.Cases
				st.Cursor = od.Cursor
				for id, a := range od.Answers {
					if st.IndexOf(id) < 0 {
						continue
					}
					st.Answers[id] = a.upgrade()
					s.Audit.Saves++
				}
			}
			p.Datasets[j] = st
		}
		s.Phases[i] = p
	}
	for key := range old.Datasets {
		if !used[key] {
			slog.Warn("dropping dataset not in manifest during upgrade", "user", s.User.ID, "dataset", key)
		}
	}

	s.Stage = leadingComplete(s)
	normalize(s)
	slog.Info("upgraded session", "user", s.User.ID, "from", 3, "to", model.SchemaVersion)
	return s, nil
}

func (a legacyAnswer) upgrade() model.Answer {
	return model.Answer{
		Scores:       a.Scores,
		OverallScore: parseScore(a.OverallScore),
		Hardness:     a.Hardness,
		CoTQuality:   a.CoTQuality,
		Comment:      a.Comment,
		ShowGT:       a.ShowGT,
		SavedAt:      parseTime(a.SavedAt),
	}
}

// leadingComplete counts phases from the start that hold cases and have every
// case answered.
func leadingComplete(s *model.Session) int {
	n := 0
	for i := range s.Phases {
		p := &s.Phases[i]
		if p.Total() == 0 || !p.Complete() {
			break
		}
		n++
	}
	return n
}

// normalize enforces invariants a stored snapshot may have lost.
func normalize(s *model.Session) {
	for i := range s.Phases {
		p := &s.Phases[i]
		for j := range p.Datasets {
			d := &p.Datasets[j]
			if d.Answers == nil {
				d.Answers = map[string]model.Answer{}
			}
			for id := range d.Answers {
				if d.IndexOf(id) < 0 {
					delete(d.Answers, id)
				}
			}
			d.ClampCursor()
		}
		if p.ActiveDataset < 0 || p.ActiveDataset >= len(p.Datasets) {
			p.ActiveDataset = 0
		}
	}
	if s.Stage > len(s.Phases) {
		s.Stage = len(s.Phases)
	}
	if s.View.Phase < 0 || s.View.Phase >= len(s.Phases) {
		s.View = model.Position{}
	}
}

// parseScore accepts a number or a numeric string; anything else is 0.
func parseScore(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(str))
	if err != nil {
		return 0
	}
	return n
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
