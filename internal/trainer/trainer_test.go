package trainer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voxelmind/internal/actions"
	"voxelmind/internal/config"
	"voxelmind/internal/logging"
	"voxelmind/internal/observe"
	"voxelmind/internal/persistence/checkpoint"
	"voxelmind/internal/sandbox"
)

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Brain.Hidden = []int{16}
	cfg.Training.Epochs = 2
	cfg.Training.TrainEvery = 16
	cfg.Training.BatchSize = 16
	cfg.Training.MinBatch = 8
	cfg.Training.PersonalMinBatch = 8
	cfg.Training.MaxEpisodeSteps = 20
	cfg.Training.SaveEvery = 0
	cfg.Persistence.KeepCheckpoint = 2
	return cfg
}

type recorder struct {
	mu       sync.Mutex
	steps    []StepResult
	episodes []EpisodeSummary
	rounds   []TrainRound
	ckpts    []CheckpointInfo
}

func (r *recorder) WriteStep(s StepResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
	return nil
}

func (r *recorder) RecordEpisode(e EpisodeSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.episodes = append(r.episodes, e)
}

func (r *recorder) RecordTrain(t TrainRound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, t)
}

func (r *recorder) RecordCheckpoint(c CheckpointInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ckpts = append(r.ckpts, c)
}

func spawnSandbox(t *testing.T, tr *Trainer, w *sandbox.World, ids ...string) []*Agent {
	t.Helper()
	var out []*Agent
	for _, id := range ids {
		h, err := w.Join(id)
		if err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
		a, err := tr.Spawn(AgentSpec{ID: id, Provider: h, Actuator: h})
		if err != nil {
			t.Fatalf("spawn %s: %v", id, err)
		}
		out = append(out, a)
	}
	return out
}

func quietWorld() *sandbox.World {
	return sandbox.New(sandbox.Config{Seed: 7, NoHostiles: true, Weather: "CLEAR"})
}

func TestSpawnRejectsDuplicate(t *testing.T) {
	tr, err := New(testConfig(), Deps{Log: logging.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w := quietWorld()
	spawnSandbox(t, tr, w, "a")
	h, _ := w.Join("a2")
	if _, err := tr.Spawn(AgentSpec{ID: "a", Provider: h, Actuator: h}); !errors.Is(err, ErrDuplicateAgent) {
		t.Fatalf("expected ErrDuplicateAgent, got %v", err)
	}
	if _, err := tr.Spawn(AgentSpec{ID: "b"}); err == nil {
		t.Fatalf("expected error for spec without provider")
	}
}

func TestStepEpisodesAndTraining(t *testing.T) {
	rec := &recorder{}
	tr, err := New(testConfig(), Deps{Log: logging.Discard(), Index: rec, Steps: rec})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	agents := spawnSandbox(t, tr, quietWorld(), "a", "b")

	ctx := context.Background()
	for i := 0; i < 40; i++ {
		for _, a := range agents {
			res, err := a.Step(ctx)
			if err != nil {
				t.Fatalf("step %d %s: %v", i, a.ID(), err)
			}
			if _, ok := actions.Get(res.ActionIndex); !ok || res.ActionName == "" {
				t.Fatalf("bad action %d %q", res.ActionIndex, res.ActionName)
			}
			if res.Step != uint64(i+1) {
				t.Fatalf("step=%d want %d", res.Step, i+1)
			}
		}
	}

	st := tr.Stats()
	if st.TotalSteps != 80 || st.Agents != 2 {
		t.Fatalf("stats=%+v", st)
	}
	if st.EpisodesCompleted != 4 || st.AvgEpisodeLength != 20 {
		t.Fatalf("episodes=%d avg=%v want 4/20", st.EpisodesCompleted, st.AvgEpisodeLength)
	}
	if st.BufferSize != 80 {
		t.Fatalf("buffer=%d want 80", st.BufferSize)
	}
	if len(rec.steps) != 80 || len(rec.episodes) != 4 {
		t.Fatalf("recorded steps=%d episodes=%d", len(rec.steps), len(rec.episodes))
	}
	for _, e := range rec.episodes {
		if e.Cause != "max_steps" || e.Steps != 20 {
			t.Fatalf("episode=%+v", e)
		}
	}

	before := tr.Shared().Generation()
	round, err := tr.TrainOnce()
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if round.Shared.Skipped || round.Samples != 16 || round.Round != 1 {
		t.Fatalf("round=%+v", round)
	}
	if round.Personal != 2 {
		t.Fatalf("personal brains trained=%d want 2", round.Personal)
	}
	if tr.Shared().Generation() != before+1 {
		t.Fatalf("generation %d -> %d", before, tr.Shared().Generation())
	}
	if got := tr.ExplorationRate(); got >= testConfig().Exploration.Start {
		t.Fatalf("exploration did not decay: %v", got)
	}
	if len(rec.rounds) != 1 {
		t.Fatalf("recorded rounds=%d", len(rec.rounds))
	}
}

func TestStepRecordsObservedGeneration(t *testing.T) {
	rec := &recorder{}
	tr, err := New(testConfig(), Deps{Log: logging.Discard(), Steps: rec})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	agents := spawnSandbox(t, tr, quietWorld(), "a", "b")
	ctx := context.Background()
	run := func(n int) {
		for i := 0; i < n; i++ {
			for _, a := range agents {
				if _, err := a.Step(ctx); err != nil {
					t.Fatalf("step: %v", err)
				}
			}
		}
	}

	run(20)
	for _, tn := range tr.Store().Transitions() {
		if tn.Generation != 0 {
			t.Fatalf("transition generation=%d before training", tn.Generation)
		}
		v, err := tr.Shared().EvaluateState(tn.State)
		if err != nil || v != tn.Value {
			t.Fatalf("stored value %v, shared brain gives %v (err %v)", tn.Value, v, err)
		}
	}

	if _, err := tr.TrainOnce(); err != nil {
		t.Fatalf("train: %v", err)
	}
	gen := tr.Shared().Generation()
	if gen != 1 {
		t.Fatalf("shared generation=%d want 1", gen)
	}
	run(20)

	var fresh int
	for _, tn := range tr.Store().Transitions() {
		if tn.Generation == gen {
			fresh++
		}
	}
	if fresh != 40 {
		t.Fatalf("transitions at generation %d: %d want 40", gen, fresh)
	}
	last := rec.steps[len(rec.steps)-1]
	if last.SharedGen != gen {
		t.Fatalf("step shared_generation=%d want %d", last.SharedGen, gen)
	}
	a, _ := tr.Agent(last.AgentID)
	if last.PersonalGen != a.Personal().Generation() {
		t.Fatalf("step personal_generation=%d want %d", last.PersonalGen, a.Personal().Generation())
	}
}

func TestTrainSkipsBelowMinBatch(t *testing.T) {
	tr, err := New(testConfig(), Deps{Log: logging.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	round, err := tr.TrainOnce()
	if err != nil || !round.Shared.Skipped {
		t.Fatalf("round=%+v err=%v", round, err)
	}
	if tr.Stats().TrainRounds != 0 {
		t.Fatalf("skipped round counted")
	}
}

func TestCheckpointRestoresSharedBrain(t *testing.T) {
	dir := checkpoint.NewDir(t.TempDir())
	cfg := testConfig()
	tr, err := New(cfg, Deps{Log: logging.Discard(), Checkpoints: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	agents := spawnSandbox(t, tr, quietWorld(), "a")
	for i := 0; i < 20; i++ {
		if _, err := agents[0].Step(context.Background()); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if _, err := tr.TrainOnce(); err != nil {
		t.Fatalf("train: %v", err)
	}
	n, err := tr.Checkpoint()
	if err != nil || n != 2 {
		t.Fatalf("checkpoint n=%d err=%v", n, err)
	}
	names, err := dir.Names()
	if err != nil || len(names) != 2 {
		t.Fatalf("names=%v err=%v", names, err)
	}

	again, err := New(cfg, Deps{Log: logging.Discard(), Checkpoints: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again.Shared().ID() != tr.Shared().ID() || again.Shared().Generation() != tr.Shared().Generation() {
		t.Fatalf("restored %s/%d want %s/%d", again.Shared().ID(), again.Shared().Generation(),
			tr.Shared().ID(), tr.Shared().Generation())
	}

	h, _ := quietWorld().Join("a")
	a, err := again.Spawn(AgentSpec{ID: "a", Provider: h, Actuator: h})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if a.Personal().ID() != agents[0].Personal().ID() {
		t.Fatalf("personal brain not restored")
	}
}

func TestChildInheritsParentBrain(t *testing.T) {
	cfg := testConfig()
	cfg.Genetics.MutationRate = 0
	tr, err := New(cfg, Deps{Log: logging.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w := quietWorld()
	parent := spawnSandbox(t, tr, w, "parent")[0]
	h, _ := w.Join("child")
	child, err := tr.Spawn(AgentSpec{ID: "child", ParentID: "parent", Provider: h, Actuator: h})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if child.Personal().ParentID() != parent.Personal().ID() {
		t.Fatalf("child parent=%q want %q", child.Personal().ParentID(), parent.Personal().ID())
	}
}

func TestDeathEndsEpisode(t *testing.T) {
	tr, err := New(testConfig(), Deps{Log: logging.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w := sandbox.New(sandbox.Config{Seed: 1, MaxHP: 1, MaxHunger: 1, HungerEvery: 1, NoHostiles: true, Weather: "CLEAR"})
	a := spawnSandbox(t, tr, w, "a")[0]

	ctx := context.Background()
	var ended StepResult
	for i := 0; i < 5; i++ {
		res, err := a.Step(ctx)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if res.EpisodeEnded {
			ended = res
			break
		}
	}
	if !ended.Terminal || !ended.EpisodeEnded {
		t.Fatalf("expected terminal step, got %+v", ended)
	}
	if ended.Breakdown.Death >= 0 {
		t.Fatalf("death penalty missing: %+v", ended.Breakdown)
	}
	ts := tr.Store().Transitions()
	if len(ts) == 0 || !ts[len(ts)-1].Terminal {
		t.Fatalf("terminal transition not stored")
	}

	// The next step starts a fresh episode on the respawned body.
	res, err := a.Step(ctx)
	if err != nil {
		t.Fatalf("step after death: %v", err)
	}
	if res.Terminal {
		t.Fatalf("respawned agent reported terminal")
	}
}

func TestRunUntilCancelled(t *testing.T) {
	dir := checkpoint.NewDir(t.TempDir())
	rec := &recorder{}
	tr, err := New(testConfig(), Deps{Log: logging.Discard(), Checkpoints: dir, Index: rec})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	spawnSandbox(t, tr, quietWorld(), "a", "b", "c")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := tr.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run err=%v", err)
	}
	if tr.Stats().TotalSteps == 0 {
		t.Fatalf("no steps taken")
	}
	names, err := dir.Names()
	if err != nil || len(names) != 4 {
		t.Fatalf("checkpoint names=%v err=%v", names, err)
	}
}

func TestRunWithoutAgents(t *testing.T) {
	tr, err := New(testConfig(), Deps{Log: logging.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := tr.Run(context.Background()); err == nil {
		t.Fatalf("expected error without agents")
	}
}

func TestMemoryProviderFillsSnapshot(t *testing.T) {
	var calls int
	mem := memoryFunc(func(ctx context.Context, id string) (observe.MemorySummary, bool) {
		calls++
		return observe.MemorySummary{Present: true, Entries: 3}, true
	})
	tr, err := New(testConfig(), Deps{Log: logging.Discard(), Memory: mem})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a := spawnSandbox(t, tr, quietWorld(), "a")[0]
	if _, err := a.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	if calls < 2 {
		t.Fatalf("memory provider calls=%d want >= 2", calls)
	}
}

type memoryFunc func(ctx context.Context, id string) (observe.MemorySummary, bool)

func (f memoryFunc) Summary(ctx context.Context, id string) (observe.MemorySummary, bool) {
	return f(ctx, id)
}

func TestMultiIndexFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := MultiIndex{a, nil, b}
	m.RecordEpisode(EpisodeSummary{AgentID: "x", Seq: 1})
	m.RecordTrain(TrainRound{Round: 1})
	m.RecordCheckpoint(CheckpointInfo{Name: "shared"})
	for _, r := range []*recorder{a, b} {
		if len(r.episodes) != 1 || len(r.rounds) != 1 || len(r.ckpts) != 1 {
			t.Fatalf("recorder got episodes=%d rounds=%d ckpts=%d", len(r.episodes), len(r.rounds), len(r.ckpts))
		}
	}
}
