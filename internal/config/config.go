// Package config loads the runner configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"voxelmind/internal/brain"
	"voxelmind/internal/goals"
	"voxelmind/internal/replay"
	"voxelmind/internal/reward"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Seed int64 `yaml:"seed"`

	Brain       brain.Hyper   `yaml:"brain"`
	Replay      Replay        `yaml:"replay"`
	Training    Training      `yaml:"training"`
	Exploration Exploration   `yaml:"exploration"`
	Goals       Goals         `yaml:"goals"`
	Reward      reward.Config `yaml:"reward"`
	Genetics    Genetics      `yaml:"genetics"`
	Persistence Persistence   `yaml:"persistence"`
	World       World         `yaml:"world"`
}

type Replay struct {
	replay.Config `yaml:",inline"`
	Prioritized   bool `yaml:"prioritized"`
}

type Training struct {
	Epochs           int     `yaml:"epochs"`
	TrainEvery       int     `yaml:"train_every"` // aggregate steps between training rounds
	BatchSize        int     `yaml:"batch_size"`
	MinBatch         int     `yaml:"min_batch"`
	PersonalMinBatch int     `yaml:"personal_min_batch"`
	PersonalWeight   float64 `yaml:"personal_weight"` // weight of the personal policy in the action mix
	SaveEvery        int     `yaml:"save_every"`
	MaxEpisodeSteps  int     `yaml:"max_episode_steps"`
}

type Exploration struct {
	Start float64 `yaml:"start"`
	Min   float64 `yaml:"min"`
	Decay float64 `yaml:"decay"` // multiplicative, applied once per training round
}

type Goals struct {
	goals.Config `yaml:",inline"`
	EvalEvery    int `yaml:"eval_every"`
}

type Genetics struct {
	MutationRate     float64 `yaml:"mutation_rate"`
	MutationStrength float64 `yaml:"mutation_strength"`
}

type Persistence struct {
	DataDir        string `yaml:"data_dir"`
	Index          bool   `yaml:"index"`
	StepLog        bool   `yaml:"step_log"`
	KeepCheckpoint int    `yaml:"keep_checkpoints"`
	Mirror         Mirror `yaml:"mirror"`
	// ArchiveEvery keeps a copy of the shared brain every N generations; 0 disables.
	ArchiveEvery   uint64 `yaml:"archive_every"`
}

// Mirror uploads saved checkpoints to an S3-compatible bucket (R2). Credentials
// come from VM_R2_ACCESS_KEY_ID and VM_R2_SECRET_ACCESS_KEY.
type Mirror struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Workers  int    `yaml:"workers"`
}

const (
	WorldSandbox = "sandbox"
	WorldRemote  = "ws"
)

// World selects where agents live: the in-process sandbox or a remote world
// reached over websocket.
type World struct {
	Mode         string `yaml:"mode"`
	URL          string `yaml:"url"`
	Agents       int    `yaml:"agents"`
	Strict       bool   `yaml:"strict"`
	ActTimeoutMS int    `yaml:"act_timeout_ms"`
}

func Defaults() Config {
	return Config{
		Seed:   1,
		Brain:  brain.DefaultHyper(),
		Replay: Replay{Config: replay.DefaultConfig(), Prioritized: true},
		Training: Training{
			Epochs:           4,
			TrainEvery:       256,
			BatchSize:        128,
			MinBatch:         64,
			PersonalMinBatch: 32,
			PersonalWeight:   0.3,
			SaveEvery:        5000,
			MaxEpisodeSteps:  2000,
		},
		Exploration: Exploration{Start: 0.3, Min: 0.02, Decay: 0.995},
		Goals:       Goals{Config: goals.DefaultConfig(), EvalEvery: 10},
		Reward:      reward.DefaultConfig(),
		Genetics:    Genetics{MutationRate: 0.05, MutationStrength: 0.1},
		Persistence: Persistence{DataDir: "./data", Index: true, StepLog: true, KeepCheckpoint: 5},
		World:       World{Mode: WorldSandbox, URL: "ws://localhost:8080/v1/ws", Agents: 4, ActTimeoutMS: 5000},
	}
}

// Load overlays the YAML file at path onto Defaults. A missing file yields the
// defaults together with an error wrapping os.ErrNotExist.
func Load(path string) (Config, error) {
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Defaults(), fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Defaults(), fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Normalize fills zero values with defaults and clamps ranges that have an obvious fix.
func (c *Config) Normalize() {
	d := Defaults()
	if len(c.Brain.Hidden) == 0 {
		c.Brain.Hidden = d.Brain.Hidden
	}
	if c.Replay.Capacity <= 0 {
		c.Replay.Capacity = d.Replay.Capacity
	}
	if c.Replay.Epsilon <= 0 {
		c.Replay.Epsilon = d.Replay.Epsilon
	}
	if c.Training.Epochs <= 0 {
		c.Training.Epochs = d.Training.Epochs
	}
	if c.Training.TrainEvery <= 0 {
		c.Training.TrainEvery = d.Training.TrainEvery
	}
	if c.Training.BatchSize <= 0 {
		c.Training.BatchSize = d.Training.BatchSize
	}
	if c.Training.MinBatch <= 0 || c.Training.MinBatch > c.Training.BatchSize {
		c.Training.MinBatch = c.Training.BatchSize
	}
	if c.Training.PersonalMinBatch <= 0 {
		c.Training.PersonalMinBatch = d.Training.PersonalMinBatch
	}
	if c.Goals.EvalEvery <= 0 {
		c.Goals.EvalEvery = d.Goals.EvalEvery
	}
	if c.Goals.HistorySize <= 0 {
		c.Goals.HistorySize = d.Goals.HistorySize
	}
	if c.Exploration.Min > c.Exploration.Start {
		c.Exploration.Min = c.Exploration.Start
	}
	if c.Persistence.DataDir == "" {
		c.Persistence.DataDir = d.Persistence.DataDir
	}
	if c.Persistence.Mirror.Workers <= 0 {
		c.Persistence.Mirror.Workers = 2
	}
	c.World.Mode = strings.ToLower(strings.TrimSpace(c.World.Mode))
	if c.World.Mode == "" {
		c.World.Mode = d.World.Mode
	}
	if c.World.Agents <= 0 {
		c.World.Agents = d.World.Agents
	}
	if c.World.ActTimeoutMS <= 0 {
		c.World.ActTimeoutMS = d.World.ActTimeoutMS
	}
}

func (c Config) Validate() error {
	b := c.Brain
	switch {
	case b.LearningRate <= 0 || b.ValueLearningRate <= 0:
		return fmt.Errorf("%w: brain learning rates must be > 0", ErrInvalid)
	case b.Gamma < 0 || b.Gamma > 1:
		return fmt.Errorf("%w: brain.gamma %v outside [0,1]", ErrInvalid, b.Gamma)
	case b.Lambda < 0 || b.Lambda > 1:
		return fmt.Errorf("%w: brain.lambda %v outside [0,1]", ErrInvalid, b.Lambda)
	case b.ClipEpsilon <= 0 || b.ClipEpsilon >= 1:
		return fmt.Errorf("%w: brain.clip_epsilon %v outside (0,1)", ErrInvalid, b.ClipEpsilon)
	case b.EntropyCoef < 0 || b.ValueCoef < 0 || b.MaxGradNorm < 0:
		return fmt.Errorf("%w: brain coefficients must be >= 0", ErrInvalid)
	}
	for _, h := range b.Hidden {
		if h <= 0 {
			return fmt.Errorf("%w: brain.hidden sizes must be > 0", ErrInvalid)
		}
	}
	r := c.Replay
	if r.Alpha < 0 || r.Beta0 < 0 || r.Beta0 > 1 {
		return fmt.Errorf("%w: replay alpha/beta0 out of range", ErrInvalid)
	}
	if w := c.Training.PersonalWeight; w < 0 || w > 1 {
		return fmt.Errorf("%w: training.personal_weight %v outside [0,1]", ErrInvalid, w)
	}
	e := c.Exploration
	if e.Start < 0 || e.Start > 1 || e.Min < 0 || e.Decay <= 0 || e.Decay > 1 {
		return fmt.Errorf("%w: exploration out of range", ErrInvalid)
	}
	if g := c.Genetics; g.MutationRate < 0 || g.MutationRate > 1 || g.MutationStrength < 0 {
		return fmt.Errorf("%w: genetics out of range", ErrInvalid)
	}
	if m := c.Persistence.Mirror; m.Enabled && (strings.TrimSpace(m.Endpoint) == "" || strings.TrimSpace(m.Bucket) == "") {
		return fmt.Errorf("%w: persistence.mirror needs endpoint and bucket", ErrInvalid)
	}
	switch c.World.Mode {
	case WorldSandbox:
	case WorldRemote:
		if strings.TrimSpace(c.World.URL) == "" {
			return fmt.Errorf("%w: world.url required in ws mode", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: world.mode %q", ErrInvalid, c.World.Mode)
	}
	return nil
}

// Marshal renders the config as YAML.
func (c Config) Marshal() ([]byte, error) { return yaml.Marshal(c) }
