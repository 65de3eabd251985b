package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want ErrNotExist, got %v", err)
	}
	if cfg.Training.BatchSize != Defaults().Training.BatchSize {
		t.Fatalf("defaults not returned")
	}
}

func TestLoad_OverlaysAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mind.yaml")
	raw := `
seed: 42
brain:
  hidden: [32]
  gamma: 0.9
replay:
  capacity: 100
  alpha: 0.7
  prioritized: false
training:
  batch_size: 16
  min_batch: 64
goals:
  eval_every: 5
  completion_bonus: 3
reward:
  damage_weight: 3
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Seed != 42 || len(cfg.Brain.Hidden) != 1 || cfg.Brain.Gamma != 0.9 {
		t.Fatalf("brain: %+v", cfg.Brain)
	}
	if cfg.Brain.LearningRate != Defaults().Brain.LearningRate {
		t.Fatalf("unset field lost its default")
	}
	if cfg.Replay.Capacity != 100 || cfg.Replay.Alpha != 0.7 || cfg.Replay.Prioritized {
		t.Fatalf("replay: %+v", cfg.Replay)
	}
	if cfg.Training.MinBatch != 16 {
		t.Fatalf("min_batch not clamped to batch size: %d", cfg.Training.MinBatch)
	}
	if cfg.Goals.EvalEvery != 5 || cfg.Goals.CompletionBonus != 3 || cfg.Goals.SafetyCritical != 0.2 {
		t.Fatalf("goals: %+v", cfg.Goals)
	}
	if cfg.Reward.DamageWeight != 3 || cfg.Reward.HealWeight != 0.5 {
		t.Fatalf("reward: %+v", cfg.Reward)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("brain:\n  gamma: 1.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	raw, err := Defaults().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "rt.yaml")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Replay.BetaSteps != Defaults().Replay.BetaSteps || cfg.Exploration != Defaults().Exploration {
		t.Fatalf("round trip changed values")
	}
}

func TestWorldMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ws.yaml")
	if err := os.WriteFile(path, []byte("world:\n  mode: WS\n  url: ws://world:8080/v1/ws\n  agents: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.Mode != WorldRemote || cfg.World.Agents != 2 || cfg.World.ActTimeoutMS != Defaults().World.ActTimeoutMS {
		t.Fatalf("world: %+v", cfg.World)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("world:\n  mode: carrier_pigeon\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
}

func TestMirrorNeedsEndpointAndBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Persistence.Mirror.Enabled = true
	cfg.Persistence.Mirror.Endpoint = "acct.r2.cloudflarestorage.com"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("mirror without bucket: %v", err)
	}
	cfg.Persistence.Mirror.Bucket = "brains"
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Persistence.Mirror.Workers != 2 {
		t.Fatalf("workers=%d want default 2", cfg.Persistence.Mirror.Workers)
	}
}
