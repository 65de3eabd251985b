package steplog

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"voxelmind/internal/trainer"
)

func TestStepsRoundTripAcrossRotation(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	for i := 1; i <= 3; i++ {
		if err := l.WriteStep(trainer.StepResult{AgentID: "a", Step: uint64(i), ActionName: "MINE", Reward: float64(i)}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	now = now.Add(2 * time.Minute)
	if err := l.WriteStep(trainer.StepResult{AgentID: "a", Step: 4}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, "steps"), "steps")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%v want 2 hourly files", files)
	}
	if filepath.Base(files[0]) != "steps-2026-03-01-10.jsonl.zst" {
		t.Fatalf("first file=%s", files[0])
	}

	var got []uint64
	for _, f := range files {
		if err := ReadSteps(f, func(s trainer.StepResult) error {
			got = append(got, s.Step)
			return nil
		}); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Fatalf("steps=%v", got)
	}
}

func TestAppendAfterReopen(t *testing.T) {
	dir := t.TempDir()
	at := func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	for run := 0; run < 2; run++ {
		l := New(dir)
		l.SetClock(at)
		l.RecordEpisode(trainer.EpisodeSummary{AgentID: "a", Seq: run + 1, Steps: 10, Cause: "death"})
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	files, err := ListFiles(filepath.Join(dir, "episodes"), "episodes")
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var seqs []int
	if err := ReadEpisodes(files[0], func(e trainer.EpisodeSummary) error {
		seqs = append(seqs, e.Seq)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("seqs=%v", seqs)
	}
}

func TestReadStopsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	for i := 0; i < 3; i++ {
		_ = l.WriteStep(trainer.StepResult{Step: uint64(i)})
	}
	_ = l.Close()
	files, _ := ListFiles(filepath.Join(dir, "steps"), "steps")
	if len(files) == 0 {
		t.Fatalf("no files written")
	}
	stop := errors.New("stop")
	n := 0
	err := ReadSteps(files[0], func(trainer.StepResult) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}
