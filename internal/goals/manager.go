// Package goals is the per-agent meta-controller: it keeps one active goal per agent,
// steers action selection with per-action multipliers and pays a bonus on completion.
package goals

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voxelmind/internal/actions"
	"voxelmind/internal/observe"
	"voxelmind/internal/psyche"
)

type State string

const (
	StateSelecting State = "selecting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateAbandoned State = "abandoned"
)

type Config struct {
	CompletionBonus float64 `yaml:"completion_bonus"`
	Jitter          float64 `yaml:"jitter"`
	HistorySize     int     `yaml:"history_size"`

	// Critical need thresholds forcing an emergency goal.
	SafetyCritical float64 `yaml:"safety_critical"`
	HungerCritical float64 `yaml:"hunger_critical"`
	RestCritical   float64 `yaml:"rest_critical"`
}

func DefaultConfig() Config {
	return Config{
		CompletionBonus: 10,
		Jitter:          0.05,
		HistorySize:     16,
		SafetyCritical:  0.2,
		HungerCritical:  0.15,
		RestCritical:    0.1,
	}
}

// Outcome reports what one evaluation did.
type Outcome struct {
	Previous      string
	PreviousState State // terminal state of Previous when Changed
	Current       string
	Changed       bool
	Bonus         float64
}

// Record is one finished goal in an agent's history.
type Record struct {
	GoalID   string
	State    State
	Started  time.Time
	Finished time.Time
}

// Tracker is the per-agent goal state.
type Tracker struct {
	rng *rand.Rand

	state   State
	goal    int // catalog index, -1 when none
	started time.Time
	start   observe.Snapshot
	history []Record
}

type Manager struct {
	cfg     Config
	catalog []Goal
	log     logrus.FieldLogger

	mu       sync.Mutex
	trackers map[string]*Tracker
}

func NewManager(cfg Config, log logrus.FieldLogger) *Manager {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	return &Manager{cfg: cfg, catalog: Catalog(), log: log, trackers: map[string]*Tracker{}}
}

func (m *Manager) Goals() []Goal { return append([]Goal(nil), m.catalog...) }

// Track registers an agent at spawn. rng drives selection jitter for this agent only.
func (m *Manager) Track(agentID string, rng *rand.Rand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackers[agentID] = &Tracker{rng: rng, state: StateSelecting, goal: -1}
}

func (m *Manager) Forget(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trackers, agentID)
}

// Evaluate advances the agent's state machine. Unknown agents are ignored.
func (m *Manager) Evaluate(agentID string, snap observe.Snapshot, r observe.Reading, now time.Time) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.trackers[agentID]
	if t == nil {
		return Outcome{}
	}
	snap = snap.WithPsyche(r)
	prev := m.idOf(t.goal)

	if em, ok := m.emergencyFor(r); ok && t.goal != em {
		if t.goal >= 0 {
			m.finish(t, StateAbandoned, now)
		}
		m.begin(t, em, snap, now)
		m.log.WithFields(logrus.Fields{"agent": agentID, "goal": m.catalog[em].ID, "previous": prev}).Info("emergency goal")
		return Outcome{Previous: prev, PreviousState: StateAbandoned, Current: m.catalog[em].ID, Changed: true}
	}

	if t.goal < 0 {
		m.begin(t, m.selectGoal(t, r), snap, now)
		return Outcome{Current: m.idOf(t.goal), Changed: true, PreviousState: StateSelecting}
	}

	g := m.catalog[t.goal]
	switch {
	case g.Success != nil && g.Success(t.start, snap):
		m.finish(t, StateCompleted, now)
		m.begin(t, m.selectGoal(t, r), snap, now)
		m.log.WithFields(logrus.Fields{"agent": agentID, "goal": g.ID}).Debug("goal completed")
		return Outcome{Previous: g.ID, PreviousState: StateCompleted, Current: m.idOf(t.goal), Changed: true, Bonus: m.cfg.CompletionBonus}
	case g.Duration > 0 && now.Sub(t.started) > g.Duration:
		m.finish(t, StateTimedOut, now)
		m.begin(t, m.selectGoal(t, r), snap, now)
		return Outcome{Previous: g.ID, PreviousState: StateTimedOut, Current: m.idOf(t.goal), Changed: true}
	}
	return Outcome{Previous: g.ID, Current: g.ID}
}

// View describes the agent's active goal for the given snapshot.
func (m *Manager) View(agentID string, snap observe.Snapshot, now time.Time) observe.GoalView {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.trackers[agentID]
	if t == nil || t.goal < 0 {
		return observe.GoalView{}
	}
	g := m.catalog[t.goal]
	v := observe.GoalView{ID: g.ID, Emergency: g.Emergency}
	if g.Duration > 0 {
		v.Elapsed = math.Min(1, float64(now.Sub(t.started))/float64(g.Duration))
	}
	if g.Progress != nil {
		v.Progress = g.Progress(t.start, snap)
	}
	return v
}

func (m *Manager) Active(agentID string) (string, State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.trackers[agentID]
	if t == nil {
		return "", ""
	}
	return m.idOf(t.goal), t.state
}

func (m *Manager) History(agentID string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.trackers[agentID]
	if t == nil {
		return nil
	}
	return append([]Record(nil), t.history...)
}

// BiasVector is 1.0 everywhere except where the active goal declares a multiplier.
func (m *Manager) BiasVector(agentID string) []float64 {
	bias := make([]float64, actions.Count())
	for i := range bias {
		bias[i] = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.trackers[agentID]
	if t == nil || t.goal < 0 {
		return bias
	}
	for name, mult := range m.catalog[t.goal].Bias {
		if i, ok := actions.IndexOf(name); ok {
			bias[i] = mult
		}
	}
	return bias
}

// ApplyBias returns probs[i]*bias[i] renormalized. When the product carries no
// mass, or the lengths differ, probs is returned unchanged.
func ApplyBias(probs, bias []float64) []float64 {
	out := append([]float64(nil), probs...)
	if len(bias) != len(probs) {
		return out
	}
	var sum float64
	for i := range out {
		b := bias[i]
		if b < 0 || math.IsNaN(b) || math.IsInf(b, 0) {
			b = 0
		}
		out[i] *= b
		sum += out[i]
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return append([]float64(nil), probs...)
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func (m *Manager) emergencyFor(r observe.Reading) (int, bool) {
	if !r.Present {
		return -1, false
	}
	var id string
	switch {
	case r.Need(psyche.NeedSafety) < m.cfg.SafetyCritical:
		id = SeekSafety
	case r.Need(psyche.NeedHunger) < m.cfg.HungerCritical:
		id = EatNow
	case r.Need(psyche.NeedRest) < m.cfg.RestCritical:
		id = CollapseRest
	default:
		return -1, false
	}
	i, ok := IndexOf(id)
	return i, ok
}

// selectGoal scores every non-emergency goal as 1 + sum((1-need)*weight) + jitter.
func (m *Manager) selectGoal(t *Tracker, r observe.Reading) int {
	best, bestScore := -1, math.Inf(-1)
	for i, g := range m.catalog {
		if g.Emergency {
			continue
		}
		score := 1.0
		for n := 0; n < observe.NumNeeds; n++ {
			if w, ok := g.NeedWeights[psyche.Need(n)]; ok {
				score += (1 - r.Need(psyche.Need(n))) * w
			}
		}
		if m.cfg.Jitter > 0 && t.rng != nil {
			score += t.rng.Float64() * m.cfg.Jitter
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func (m *Manager) begin(t *Tracker, goal int, snap observe.Snapshot, now time.Time) {
	t.goal = goal
	t.start = snap
	t.started = now
	t.state = StateActive
	if goal < 0 {
		t.state = StateSelecting
	}
}

func (m *Manager) finish(t *Tracker, st State, now time.Time) {
	t.state = st
	t.history = append(t.history, Record{GoalID: m.idOf(t.goal), State: st, Started: t.started, Finished: now})
	if n := m.cfg.HistorySize; n > 0 && len(t.history) > n {
		t.history = append(t.history[:0], t.history[len(t.history)-n:]...)
	}
	t.goal = -1
}

func (m *Manager) idOf(i int) string {
	if i < 0 || i >= len(m.catalog) {
		return ""
	}
	return m.catalog[i].ID
}
