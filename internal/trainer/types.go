// Package trainer runs agents against their worlds, collects experience into the
// shared replay store and trains the shared and personal brains.
package trainer

import (
	"context"
	"time"

	"voxelmind/internal/actions"
	"voxelmind/internal/brain"
	"voxelmind/internal/goals"
	"voxelmind/internal/observe"
	"voxelmind/internal/reward"
)

// Provider yields the agent's next observation, blocking until one is available.
type Provider interface {
	Next(ctx context.Context) (observe.Snapshot, error)
}

type ProviderFunc func(ctx context.Context) (observe.Snapshot, error)

func (f ProviderFunc) Next(ctx context.Context) (observe.Snapshot, error) { return f(ctx) }

type AgentSpec struct {
	ID       string
	ParentID string // personal brain is inherited from this agent when set
	Provider Provider
	Actuator actions.Actuator
}

// StepResult reports one decision step.
type StepResult struct {
	AgentID      string           `json:"agent_id"`
	RunID        string           `json:"run_id"`
	Step         uint64           `json:"step"`
	GlobalStep   uint64           `json:"global_step"`
	Tick         uint64           `json:"tick"`
	ActionIndex  int              `json:"action"`
	ActionName   string           `json:"action_name"`
	Value        float64          `json:"value"`
	LogProb      float64          `json:"log_prob"`
	SharedGen    uint64           `json:"shared_generation"`
	PersonalGen  uint64           `json:"personal_generation"`
	Success      bool             `json:"success"`
	WasExploring bool             `json:"exploring"`
	Reward       float64          `json:"reward"`
	Breakdown    reward.Breakdown `json:"breakdown"`
	GoalBonus    float64          `json:"goal_bonus,omitempty"`
	Goal         string           `json:"goal,omitempty"`
	GoalState    goals.State      `json:"goal_state,omitempty"`
	GoalChanged  bool             `json:"goal_changed,omitempty"`
	Terminal     bool             `json:"terminal,omitempty"`
	EpisodeEnded bool             `json:"episode_ended,omitempty"`
}

// EpisodeSummary is emitted when an agent's episode ends.
type EpisodeSummary struct {
	RunID       string    `json:"run_id"`
	AgentID     string    `json:"agent_id"`
	Seq         int       `json:"seq"`
	Steps       int       `json:"steps"`
	TotalReward float64   `json:"total_reward"`
	Cause       string    `json:"cause"` // "death", "max_steps" or "shutdown"
	EndedAt     time.Time `json:"ended_at"`
}

// TrainRound is one batched training pass.
type TrainRound struct {
	RunID      string            `json:"run_id"`
	Round      int               `json:"round"`
	GlobalStep uint64            `json:"global_step"`
	Samples    int               `json:"samples"`
	Shared     brain.TrainResult `json:"shared"`
	Personal   int               `json:"personal"` // personal brains updated
	Err        string            `json:"err,omitempty"`
	At         time.Time         `json:"at"`
}

type CheckpointInfo struct {
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Step       uint64    `json:"step"`
	Generation uint64    `json:"generation"`
	BrainID    string    `json:"brain_id"`
	At         time.Time `json:"at"`
}

// StepSink receives every step result. Errors are logged, never fatal.
type StepSink interface {
	WriteStep(StepResult) error
}

// Index records run history. Calls must not block.
type Index interface {
	RecordEpisode(EpisodeSummary)
	RecordTrain(TrainRound)
	RecordCheckpoint(CheckpointInfo)
}

type Stats struct {
	RunID             string  `json:"run_id"`
	Agents            int     `json:"agents"`
	TotalSteps        uint64  `json:"total_steps"`
	EpisodesCompleted int     `json:"episodes_completed"`
	AvgReward         float64 `json:"avg_reward"`
	AvgEpisodeLength  float64 `json:"avg_episode_length"`
	BufferSize        int     `json:"buffer_size"`
	ExplorationRate   float64 `json:"exploration_rate"`
	TrainRounds       int     `json:"train_rounds"`
	SharedGeneration  uint64  `json:"shared_generation"`
}

// MultiIndex fans every record out to each non-nil index in order.
type MultiIndex []Index

func (m MultiIndex) RecordEpisode(e EpisodeSummary) {
	for _, idx := range m {
		if idx != nil {
			idx.RecordEpisode(e)
		}
	}
}

func (m MultiIndex) RecordTrain(r TrainRound) {
	for _, idx := range m {
		if idx != nil {
			idx.RecordTrain(r)
		}
	}
}

func (m MultiIndex) RecordCheckpoint(c CheckpointInfo) {
	for _, idx := range m {
		if idx != nil {
			idx.RecordCheckpoint(c)
		}
	}
}
