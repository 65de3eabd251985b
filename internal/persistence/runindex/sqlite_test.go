package runindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"voxelmind/internal/brain"
	"voxelmind/internal/trainer"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqEpisode}

	s.RecordEpisode(trainer.EpisodeSummary{AgentID: "a"})
	s.RecordTrain(trainer.TrainRound{Round: 1})
	s.RecordCheckpoint(trainer.CheckpointInfo{Name: "shared"})

	st := s.Stats()
	if st.DropEpisodeTotal != 1 || st.DropTrainTotal != 1 || st.DropCheckpointTotal != 1 {
		t.Fatalf("drops=%+v want one of each", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "runs.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	if err := idx.StartRun("run-1", 42, []byte("seed: 42\n"), at); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	idx.RecordEpisode(trainer.EpisodeSummary{RunID: "run-1", AgentID: "a", Seq: 1, Steps: 10, TotalReward: 2, Cause: "death", EndedAt: at.Add(time.Second)})
	idx.RecordEpisode(trainer.EpisodeSummary{RunID: "run-1", AgentID: "a", Seq: 2, Steps: 30, TotalReward: 6, Cause: "max_steps", EndedAt: at.Add(2 * time.Second)})
	idx.RecordEpisode(trainer.EpisodeSummary{RunID: "run-1", AgentID: "b", Seq: 1, Steps: 5, TotalReward: -1, Cause: "death", EndedAt: at.Add(3 * time.Second)})
	idx.RecordTrain(trainer.TrainRound{RunID: "run-1", Round: 1, GlobalStep: 45, Samples: 32,
		Shared: brain.TrainResult{ActorLoss: 0.1, Generation: 1}, Personal: 2, At: at.Add(4 * time.Second)})
	idx.RecordCheckpoint(trainer.CheckpointInfo{RunID: "run-1", Name: "shared", Path: "/ck/shared-000000000045.ckpt.zst",
		Step: 45, Generation: 1, BrainID: "brain-1", At: at.Add(5 * time.Second)})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := idx.Stats(); st.DropEpisodeTotal+st.DropTrainTotal+st.DropCheckpointTotal != 0 || st.WriteErrorTotal != 0 {
		t.Fatalf("unexpected drops or errors: %+v", st)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	runs, err := r.Runs(ctx, 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs=%v err=%v", runs, err)
	}
	if runs[0].Seed != 42 || runs[0].Episodes != 3 || runs[0].Rounds != 1 || !runs[0].StartedAt.Equal(at) {
		t.Fatalf("run=%+v", runs[0])
	}

	eps, err := r.Episodes(ctx, "run-1", "a", 10)
	if err != nil || len(eps) != 2 {
		t.Fatalf("episodes=%v err=%v", eps, err)
	}
	if eps[0].Seq != 2 || eps[0].Cause != "max_steps" {
		t.Fatalf("newest episode=%+v", eps[0])
	}

	agents, err := r.Agents(ctx, "run-1")
	if err != nil || len(agents) != 2 {
		t.Fatalf("agents=%v err=%v", agents, err)
	}
	if a := agents[0]; a.AgentID != "a" || a.Episodes != 2 || a.Deaths != 1 || a.AvgSteps != 20 || a.AvgReward != 4 || a.Best != 6 {
		t.Fatalf("agent a=%+v", a)
	}

	cks, err := r.Checkpoints(ctx, "", 5)
	if err != nil || len(cks) != 1 || cks[0].Step != 45 || cks[0].BrainID != "brain-1" {
		t.Fatalf("checkpoints=%v err=%v", cks, err)
	}

	rounds, err := r.TrainRounds(ctx, "run-1", 5)
	if err != nil || len(rounds) != 1 || rounds[0].Personal != 2 || rounds[0].Shared.Generation != 1 {
		t.Fatalf("rounds=%v err=%v", rounds, err)
	}
}

func TestRecordAfterCloseIsIgnored(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "runs.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	idx.RecordEpisode(trainer.EpisodeSummary{AgentID: "a"})
	if err := idx.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
