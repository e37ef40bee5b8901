package main

import (
	"errors"
	"testing"

	"github.com/Zelak312/rsgs/model"
	"github.com/Zelak312/rsgs/tensor"
)

func TestSqliteClipLifecycle(t *testing.T) {
	s := newTestSqlite(t)

	a := Clip{Path: "a_fwd.mp4", ReversePath: "a_rev.mp4", OutputPath: "out/a"}
	b := Clip{Path: "b_fwd.mp4", ReversePath: "b_rev.mp4", OutputPath: "out/b"}
	for _, c := range []*Clip{&a, &b} {
		if _, err := s.InsertClip(c); err != nil {
			t.Fatal(err)
		}
	}
	if a.ID == 0 || b.ID == a.ID {
		t.Fatalf("Expected distinct ids, got %d and %d", a.ID, b.ID)
	}

	if err := s.UpdateClipRetries(&a, 3); err != nil {
		t.Fatal(err)
	}
	if retries, err := s.GetClipRetries(&a); err != nil || retries != 3 {
		t.Errorf("Expected 3 retries, got %d (%v)", retries, err)
	}

	if err := s.MarkClipAsDone(&a); err != nil {
		t.Fatal(err)
	}
	if err := s.FailClip(&b, "decoder output", "boom"); err != nil {
		t.Fatal(err)
	}

	clips, err := s.GetClips()
	if err != nil {
		t.Fatal(err)
	}
	if len(clips) != 0 {
		t.Errorf("Expected done and failed clips to leave the queue, got %v", clips)
	}

	failed, err := s.GetFailedClips()
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Clip.ReversePath != "b_rev.mp4" || failed[0].Error != "boom" {
		t.Errorf("Unexpected failed clips: %+v", failed)
	}
}

func TestSqliteCheckpoints(t *testing.T) {
	s := newTestSqlite(t)

	_, err := s.LoadCheckpoint(model.KindG, "100")
	if !errors.Is(err, model.ErrNoCheckpoint) {
		t.Fatalf("Expected ErrNoCheckpoint, got %v", err)
	}

	state := map[string]*tensor.Tensor{
		"mix":  tensor.FromSlice([]float64{1, 0, 0.5, -2}, 2, 2),
		"bias": tensor.FromSlice([]float64{0.25, 0.5, 0.75}, 3),
	}
	if err := s.SaveCheckpoint(model.KindG, "100", state); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadCheckpoint(model.KindG, "100")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 tensors, got %d", len(loaded))
	}
	for name, want := range state {
		got, ok := loaded[name]
		if !ok || !tensor.SameShape(got, want) || tensor.MaxAbsDiff(got, want) != 0 {
			t.Errorf("Tensor %s did not survive the round trip: %v", name, got)
		}
	}

	// saving again under the same label replaces the set
	if err := s.SaveCheckpoint(model.KindG, "100", map[string]*tensor.Tensor{"mix": state["mix"]}); err != nil {
		t.Fatal(err)
	}
	loaded, err = s.LoadCheckpoint(model.KindG, "100")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := loaded["bias"]; ok || len(loaded) != 1 {
		t.Errorf("Expected the old tensors to be replaced, got %d", len(loaded))
	}

	if _, err := s.LoadCheckpoint(model.KindE, "100"); !errors.Is(err, model.ErrNoCheckpoint) {
		t.Errorf("Expected kinds to be kept apart, got %v", err)
	}

	infos, err := s.GetCheckpoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Kind != model.KindG || infos[0].Label != "100" || infos[0].Tensors != 1 {
		t.Errorf("Unexpected checkpoint listing: %+v", infos)
	}
}

func TestSqliteLosses(t *testing.T) {
	s := newTestSqlite(t)

	if err := s.InsertLosses("run", 2, map[string]float64{"G_loss": 0.5, "charbonnier": 0.5}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertLosses("run", 1, map[string]float64{"G_loss": 0.75}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertLosses("other", 1, map[string]float64{"G_loss": 1}); err != nil {
		t.Fatal(err)
	}

	entries, err := s.GetLosses("run")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].Step != 1 || entries[0].Value != 0.75 || entries[1].Name != "G_loss" || entries[2].Name != "charbonnier" {
		t.Errorf("Expected entries ordered by step and name, got %+v", entries)
	}
}
