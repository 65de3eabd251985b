package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voxelmind/internal/actions"
	"voxelmind/internal/brain"
	"voxelmind/internal/features"
	"voxelmind/internal/goals"
	"voxelmind/internal/observe"
	"voxelmind/internal/psyche"
	"voxelmind/internal/replay"
	"voxelmind/internal/reward"
)

const retryDelay = 200 * time.Millisecond

// Agent is one learner. Step is serialized per agent.
type Agent struct {
	t        *Trainer
	id       string
	parentID string
	provider Provider
	actuator actions.Actuator
	psyche   *psyche.State
	personal *brain.Brain

	mu            sync.Mutex
	episode       *replay.Episode
	rng           *rand.Rand
	prev          observe.Snapshot
	hasPrev       bool
	steps         uint64
	episodeSeq    int
	episodeSteps  int
	episodeReward float64
}

func (a *Agent) ID() string             { return a.id }
func (a *Agent) ParentID() string       { return a.parentID }
func (a *Agent) Personal() *brain.Brain { return a.personal }
func (a *Agent) Psyche() *psyche.State  { return a.psyche }

func (a *Agent) Steps() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.steps
}

// Step runs one decision: encode, select, execute, observe, reward, store.
// Errors from the provider end the step without recording a transition.
func (a *Agent) Step(ctx context.Context) (StepResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.t
	log := t.log.WithField("agent", a.id)

	if !a.hasPrev {
		snap, err := a.observe(ctx)
		if err != nil {
			return StepResult{}, err
		}
		a.prev, a.hasPrev = snap, true
		t.goals.Evaluate(a.id, snap, snap.Psyche, timeOf(snap))
		a.prev = a.prev.WithGoal(t.goals.View(a.id, a.prev, timeOf(a.prev)))
	}

	state := t.enc.Encode(a.prev)
	d, err := a.decide(state)
	if err != nil {
		log.WithError(err).WithField("kind", kindOf(err)).Warn("action selection failed, idling")
		d = decision{action: actions.Idle}
	}

	name := actions.NameOf(d.action)
	ok, err := actions.Execute(ctx, d.action, a.actuator)
	if err != nil {
		log.WithError(err).WithField("action", name).Warn("actuator error")
		ok = false
	}

	cur, err := a.observe(ctx)
	if err != nil {
		return StepResult{}, err
	}

	bd := t.reward.Compute(reward.Input{Prev: a.prev, Cur: cur, Action: name, Success: ok})
	r := bd.Total()
	a.psyche.Observe(cur, psyche.Act{Name: name, Category: actions.CategoryOf(d.action), Success: ok})

	res := StepResult{
		AgentID:      a.id,
		RunID:        t.runID,
		Step:         a.steps + 1,
		Tick:         cur.Tick,
		ActionIndex:  d.action,
		ActionName:   name,
		Value:        d.value,
		LogProb:      d.logProb,
		SharedGen:    d.sharedGen,
		PersonalGen:  d.personalGen,
		Success:      ok,
		WasExploring: d.exploring,
		Breakdown:    bd,
	}

	dead := cur.Vitals.Dead
	if dead || (a.steps+1)%uint64(t.cfg.Goals.EvalEvery) == 0 {
		out := t.goals.Evaluate(a.id, cur, cur.Psyche, timeOf(cur))
		res.GoalBonus = out.Bonus
		res.GoalChanged = out.Changed
		r += out.Bonus
		if out.Changed {
			log.WithFields(logrus.Fields{"from": out.Previous, "outcome": out.PreviousState, "to": out.Current}).Debug("goal changed")
		}
	}
	res.Goal, res.GoalState = t.goals.Active(a.id)
	cur = cur.WithGoal(t.goals.View(a.id, cur, timeOf(cur)))

	next := t.enc.Encode(cur)
	a.episode.Append(replay.Transition{
		State:           state,
		Action:          d.action,
		Reward:          r,
		NextState:       next,
		Terminal:        dead,
		LogProb:         d.logProb,
		PersonalLogProb: d.personalLogProb,
		Value:           d.value,
		Generation:      d.sharedGen,
	})
	a.steps++
	a.episodeSteps++
	a.episodeReward += r

	res.Reward = r
	res.Terminal = dead
	switch {
	case dead:
		a.endEpisodeLocked("death", timeOf(cur))
		a.hasPrev = false
		res.EpisodeEnded = true
	case t.cfg.Training.MaxEpisodeSteps > 0 && a.episodeSteps >= t.cfg.Training.MaxEpisodeSteps:
		a.endEpisodeLocked("max_steps", timeOf(cur))
		res.EpisodeEnded = true
	}
	if !dead {
		a.prev = cur
	}

	res.GlobalStep = t.noteStep(r)
	if t.deps.Steps != nil {
		if err := t.deps.Steps.WriteStep(res); err != nil {
			log.WithError(err).Debug("step sink write failed")
		}
	}
	return res, nil
}

// observe fetches and decorates the next snapshot with psyche, memory and goal context.
func (a *Agent) observe(ctx context.Context) (observe.Snapshot, error) {
	snap, err := a.provider.Next(ctx)
	if err != nil {
		return observe.Snapshot{}, err
	}
	if snap.AgentID == "" {
		snap.AgentID = a.id
	}
	if m := a.t.deps.Memory; m != nil && !snap.Memory.Present {
		if sum, ok := m.Summary(ctx, a.id); ok {
			snap.Memory = sum
		}
	}
	return a.psyche.Decorate(snap), nil
}

type decision struct {
	action          int
	value           float64
	logProb         float64
	personalLogProb float64
	exploring       bool
	sharedGen       uint64
	personalGen     uint64
}

// decide mixes shared and personal policies, applies the goal bias and either
// samples (exploring) or takes the argmax.
func (a *Agent) decide(state features.Vector) (decision, error) {
	t := a.t
	sd, err := t.shared.SelectAction(state, false, nil)
	if err != nil {
		return decision{}, err
	}
	pd, err := a.personal.SelectAction(state, false, nil)
	if err != nil {
		return decision{}, err
	}
	shared, personal := sd.Probs, pd.Probs
	w := t.cfg.Training.PersonalWeight
	mixed := make([]float64, len(shared))
	for i := range mixed {
		mixed[i] = (1-w)*shared[i] + w*personal[i]
	}
	probs := goals.ApplyBias(mixed, t.goals.BiasVector(a.id))

	d := decision{
		value:       sd.Value,
		exploring:   a.rng.Float64() < t.ExplorationRate(),
		sharedGen:   sd.Generation,
		personalGen: pd.Generation,
	}
	if d.exploring {
		d.action = brain.Sample(probs, a.rng)
	} else {
		d.action = brain.Argmax(probs)
	}
	d.logProb = safeLog(shared[d.action])
	d.personalLogProb = safeLog(personal[d.action])
	return d, nil
}

func (a *Agent) endEpisode(cause string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endEpisodeLocked(cause, at)
}

// endEpisodeLocked drains the episode into the shared store. A non-terminal tail
// is bootstrapped with the shared value of its next state.
func (a *Agent) endEpisodeLocked(cause string, at time.Time) {
	last, ok := a.episode.Last()
	if !ok {
		return
	}
	var bootstrap float64
	if !last.Terminal && last.NextState != nil {
		if v, err := a.t.shared.EvaluateState(last.NextState); err == nil {
			bootstrap = v
		}
	}
	h := a.t.cfg.Brain
	steps := a.episode.Drain(h.Gamma, h.Lambda, bootstrap)
	a.t.store.Push(steps...)
	a.episodeSeq++
	sum := EpisodeSummary{
		RunID:       a.t.runID,
		AgentID:     a.id,
		Seq:         a.episodeSeq,
		Steps:       len(steps),
		TotalReward: a.episodeReward,
		Cause:       cause,
		EndedAt:     at,
	}
	a.episodeSteps, a.episodeReward = 0, 0
	a.t.noteEpisode(sum)
	a.t.log.WithFields(logrus.Fields{"agent": a.id, "steps": sum.Steps, "reward": sum.TotalReward, "cause": cause}).Info("episode ended")
}

func (a *Agent) loop(ctx context.Context) {
	for ctx.Err() == nil {
		if _, err := a.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.t.log.WithError(err).WithField("agent", a.id).Warn("step failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		}
	}
}

func timeOf(s observe.Snapshot) time.Time {
	if s.At.IsZero() {
		return time.Now()
	}
	return s.At
}

func safeLog(p float64) float64 { return math.Log(math.Max(p, 1e-12)) }

func kindOf(err error) string {
	switch {
	case errors.Is(err, brain.ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, brain.ErrNumericInstability):
		return "numeric_instability"
	case errors.Is(err, brain.ErrDisposed):
		return "disposed"
	}
	return fmt.Sprintf("%T", err)
}
