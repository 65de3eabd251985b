package archive

import (
	"os"
	"path/filepath"
	"testing"

	"voxelmind/internal/logging"
	"voxelmind/internal/trainer"
)

func writeCheckpoint(t *testing.T, root string) string {
	t.Helper()
	p := filepath.Join(root, "checkpoints", "shared-000000000900.ckpt.zst")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestGenerationsArchivesEachMilestoneOnce(t *testing.T) {
	root := t.TempDir()
	src := writeCheckpoint(t, root)
	g := NewGenerations(root, 10, logging.Discard())

	if _, ok, err := g.Archive(trainer.CheckpointInfo{Name: "shared", Path: src, Generation: 7}); err != nil || ok {
		t.Fatalf("below first milestone: ok=%v err=%v", ok, err)
	}
	dst, ok, err := g.Archive(trainer.CheckpointInfo{Name: "shared", Path: src, Generation: 12, Step: 900, BrainID: "b12"})
	if err != nil || !ok {
		t.Fatalf("first milestone: ok=%v err=%v", ok, err)
	}
	if filepath.Base(filepath.Dir(dst)) != "generation_010" {
		t.Fatalf("archived to %s", dst)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "weights" {
		t.Fatalf("archived content=%q err=%v", got, err)
	}
	if _, ok, _ := g.Archive(trainer.CheckpointInfo{Name: "shared", Path: src, Generation: 19}); ok {
		t.Fatalf("same milestone archived twice")
	}
	g.RecordCheckpoint(trainer.CheckpointInfo{Name: "agent-1", Path: src, Generation: 40})
	g.RecordCheckpoint(trainer.CheckpointInfo{Name: "shared", Path: src, Generation: 31})

	metas, err := List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 || metas[0].Milestone != 10 || metas[0].BrainID != "b12" || metas[1].Milestone != 30 {
		t.Fatalf("metas=%+v", metas)
	}
}

func TestGenerationsSkipsExistingArchiveAfterRestart(t *testing.T) {
	root := t.TempDir()
	src := writeCheckpoint(t, root)
	if _, ok, err := NewGenerations(root, 5, nil).Archive(trainer.CheckpointInfo{Path: src, Generation: 5}); err != nil || !ok {
		t.Fatalf("first run: ok=%v err=%v", ok, err)
	}
	if _, ok, err := NewGenerations(root, 5, nil).Archive(trainer.CheckpointInfo{Path: src, Generation: 6}); err != nil || ok {
		t.Fatalf("restart re-archived: ok=%v err=%v", ok, err)
	}
}
