package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pavelanni/rater/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty DB.
	if _, err := s.Get(ctx, "alice"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	count, err := s.SessionCount(ctx)
	if err != nil {
		t.Fatalf("SessionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 sessions, got %d", count)
	}

	// Put and get.
	if err := s.Put(ctx, "alice", []byte(`{"version":4}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != `{"version":4}` {
		t.Errorf("expected stored snapshot, got %q", data)
	}

	// Overwrite.
	if err := s.Put(ctx, "alice", []byte(`{"version":4,"stage":1}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	data, _ = s.Get(ctx, "alice")
	if string(data) != `{"version":4,"stage":1}` {
		t.Errorf("expected overwritten snapshot, got %q", data)
	}

	// Delete, twice.
	if err := s.Delete(ctx, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "alice"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := s.Get(ctx, "alice"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"bob", "alice", "bob"} {
		if err := s.Put(ctx, u, []byte(`{}`)); err != nil {
			t.Fatalf("Put(%s): %v", u, err)
		}
	}
	infos, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	saves := map[string]int{}
	for _, info := range infos {
		saves[info.UserID] = info.Saves
		if info.Size != 2 {
			t.Errorf("expected size 2 for %s, got %d", info.UserID, info.Size)
		}
		if info.UpdatedAt.IsZero() {
			t.Errorf("expected updated_at for %s", info.UserID)
		}
	}
	if saves["bob"] != 2 || saves["alice"] != 1 {
		t.Errorf("unexpected save counts: %v", saves)
	}

	snaps, err := s.AllSnapshots(ctx)
	if err != nil {
		t.Fatalf("AllSnapshots: %v", err)
	}
	if len(snaps) != 2 || snaps[0].UserID != "alice" || snaps[1].UserID != "bob" {
		t.Errorf("expected snapshots ordered by user, got %+v", snaps)
	}
}

func TestFingerprint(t *testing.T) {
	s := newTestStore(t)

	// Missing dataset returns nil.
	fp, err := s.GetFingerprint("cot")
	if err != nil {
		t.Fatalf("GetFingerprint: %v", err)
	}
	if fp != nil {
		t.Errorf("expected no fingerprint, got %+v", fp)
	}

	// Set fingerprint.
	if err := s.SetFingerprint(Fingerprint{DatasetKey: "cot", Path: "data/cot.csv", Hash: "abc123", Cases: 12}); err != nil {
		t.Fatalf("SetFingerprint: %v", err)
	}
	fp, err = s.GetFingerprint("cot")
	if err != nil {
		t.Fatalf("GetFingerprint: %v", err)
	}
	if fp == nil || fp.Hash != "abc123" || fp.Cases != 12 || fp.Path != "data/cot.csv" {
		t.Errorf("unexpected fingerprint %+v", fp)
	}

	// Update existing.
	if err := s.SetFingerprint(Fingerprint{DatasetKey: "cot", Path: "data/cot.csv", Hash: "def456", Cases: 13}); err != nil {
		t.Fatalf("SetFingerprint update: %v", err)
	}
	fp, _ = s.GetFingerprint("cot")
	if fp.Hash != "def456" || fp.Cases != 13 {
		t.Errorf("expected updated fingerprint, got %+v", fp)
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetMetadata("manifest_hash")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty value, got %q", v)
	}

	if err := s.SetMetadata("manifest_hash", "one"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata("manifest_hash", "two"); err != nil {
		t.Fatalf("SetMetadata update: %v", err)
	}
	v, _ = s.GetMetadata("manifest_hash")
	if v != "two" {
		t.Errorf("expected 'two', got %q", v)
	}
}
