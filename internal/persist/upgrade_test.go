package persist

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pavelanni/rater/internal/model"
)

const v3Session = `{
  "version": 3,
  "user": {"id": "alice", "meta": "radiologist", "created_at": "2025-11-02T08:15:00.000Z"},
  "config": {"sample_size_per_dataset": 3},
  "datasets": {
    "rexgradient": {
      "cases": [
        {"id": "r7", "findings": "f7", "indication": "i7", "ground_truth": "g7", "models": {"m1": "a", "m2": "b"}},
        {"id": "r2", "findings": "f2", "indication": "i2", "ground_truth": "g2", "models": {"m1": "c", "m2": "d"}}
      ],
      "cursor": 1,
      "answers": {
        "r7": {"dataset": "rexgradient", "case_id": "r7", "saved_at": "2025-11-02T08:20:00.000Z", "show_gt": true, "overall_score": "4", "comment": "ok", "open_model": null},
        "ghost": {"overall_score": "2"}
      }
    },
    "retired": {"cases": [{"id": "x"}], "cursor": 0, "answers": {}}
  },
  "audit": {"last_saved_at": "2025-11-02T08:20:00.000Z"}
}`

func TestUpgradeV3(t *testing.T) {
	s, err := Upgrade([]byte(v3Session), testManifest())
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if s.Version != model.SchemaVersion {
		t.Errorf("expected version %d, got %d", model.SchemaVersion, s.Version)
	}
	if s.User.ID != "alice" || s.User.Meta != "radiologist" || s.User.CreatedAt.IsZero() {
		t.Errorf("unexpected user %+v", s.User)
	}
	if s.Config.SampleSize != 3 {
		t.Errorf("expected sample size 3, got %d", s.Config.SampleSize)
	}
	if len(s.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(s.Phases))
	}

	d, _ := s.Phases[1].Dataset("rexgradient")
	if d == nil {
		t.Fatal("rexgradient missing after upgrade")
	}
	ids := []string{d.Cases[0].ID, d.Cases[1].ID}
	if diff := cmp.Diff([]string{"r7", "r2"}, ids); diff != "" {
		t.Errorf("case order changed (-want +got):\n%s", diff)
	}
	if d.Cursor != 1 {
		t.Errorf("expected cursor 1, got %d", d.Cursor)
	}
	if len(d.Answers) != 1 {
		t.Fatalf("expected only the answer for a known case, got %v", d.Answers)
	}
	a := d.Answers["r7"]
	if a.OverallScore != 4 || !a.ShowGT || a.Comment != "ok" || a.SavedAt.IsZero() {
		t.Errorf("unexpected upgraded answer %+v", a)
	}

	if q, _ := s.Phases[0].Dataset("cot"); q == nil || len(q.Cases) != 0 {
		t.Errorf("quality dataset should exist unsampled, got %+v", q)
	}
	if s.Stage != 0 || s.Status() != model.StatusQuality {
		t.Errorf("expected quality phase active, got stage %d", s.Stage)
	}
	if s.Audit.LastSavedAt == nil || s.Audit.Saves != 1 {
		t.Errorf("unexpected audit %+v", s.Audit)
	}
}

func TestUpgradeCurrentVersion(t *testing.T) {
	s := testSession("bob", 1)
	s.Phases[0].Datasets[0].Cursor = 9
	s.Phases[0].Datasets[0].Answers["gone"] = model.Answer{}
	s.Phases[0].Datasets[0].Answers["q1"] = model.Answer{Hardness: model.HardnessEasy, CoTQuality: model.CoTGood}
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Upgrade(raw, testManifest())
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	d := got.Phases[0].Datasets[0]
	if d.Cursor != 1 {
		t.Errorf("expected clamped cursor 1, got %d", d.Cursor)
	}
	if _, ok := d.Answers["gone"]; ok {
		t.Error("answer for a case not in the list should be dropped")
	}
	if _, ok := d.Answers["q1"]; !ok {
		t.Error("valid answer lost")
	}
	if got.Stage != 1 {
		t.Errorf("expected stage 1, got %d", got.Stage)
	}
}

func TestUpgradeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"future version", `{"version": 99}`},
		{"ancient version", `{"version": 1, "phases": []}`},
		{"not json", `{"version":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Upgrade([]byte(tt.raw), testManifest()); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Upgrade([]byte(`{"version": 99}`), testManifest()); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{`"4"`, 4},
		{`5`, 5},
		{`""`, 0},
		{`null`, 0},
		{`"x"`, 0},
	}
	for _, tt := range tests {
		if got := parseScore(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("parseScore(%s) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
