package trainer

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voxelmind/internal/brain"
	"voxelmind/internal/replay"
)

// TrainOnce runs one batched round: a prioritized (or uniform) draw from the
// shared store trains the shared brain, each personal brain trains on its own
// most recent transitions in parallel, and the drawn priorities are refreshed
// from the updated critic. Rounds are serialized.
func (t *Trainer) TrainOnce() (TrainRound, error) {
	t.trainMu.Lock()
	defer t.trainMu.Unlock()

	tc := t.cfg.Training
	round := TrainRound{RunID: t.runID, GlobalStep: t.steps.Load(), At: time.Now().UTC()}
	if t.store.Len() < tc.MinBatch {
		round.Shared.Skipped = true
		return round, nil
	}

	var samples []replay.Sample
	if t.cfg.Replay.Prioritized {
		samples = t.store.SamplePrioritized(tc.BatchSize, t.trainRng)
	} else {
		samples = t.store.SampleUniform(tc.BatchSize, t.trainRng)
	}
	batch := make([]replay.Transition, len(samples))
	weights := make([]float64, len(samples))
	ids := make([]uint64, len(samples))
	for i, s := range samples {
		batch[i], weights[i], ids[i] = s.Transition, s.Weight, s.ID
	}
	round.Samples = len(samples)

	var wg sync.WaitGroup
	var personal int
	var pmu sync.Mutex
	for _, a := range t.Agents() {
		owned := t.store.Owned(a.id)
		if len(owned) < tc.PersonalMinBatch {
			continue
		}
		if len(owned) > tc.BatchSize {
			owned = owned[len(owned)-tc.BatchSize:]
		}
		wg.Add(1)
		go func(a *Agent, owned []replay.Transition) {
			defer wg.Done()
			res, err := a.personal.TrainPPO(toBatch(owned, nil, true), tc.Epochs)
			if err != nil {
				t.log.WithError(err).WithFields(logrus.Fields{"agent": a.id, "kind": kindOf(err)}).Warn("personal training skipped")
				return
			}
			if !res.Skipped {
				pmu.Lock()
				personal++
				pmu.Unlock()
			}
		}(a, owned)
	}

	sb := toBatch(batch, weights, false)
	res, err := t.shared.TrainPPO(sb, tc.Epochs)
	wg.Wait()
	round.Shared = res
	round.Personal = personal
	if err != nil {
		round.Err = err.Error()
		t.log.WithError(err).WithField("kind", kindOf(err)).Warn("shared training skipped")
	} else {
		t.refreshPriorities(ids, sb)
	}

	t.mu.Lock()
	t.rounds++
	round.Round = t.rounds
	if err == nil {
		t.explore = math.Max(t.cfg.Exploration.Min, t.explore*t.cfg.Exploration.Decay)
	}
	t.mu.Unlock()

	if t.deps.Index != nil {
		t.deps.Index.RecordTrain(round)
	}
	t.log.WithFields(logrus.Fields{
		"round":      round.Round,
		"samples":    round.Samples,
		"actor_loss": res.ActorLoss,
		"critic":     res.CriticLoss,
		"entropy":    res.Entropy,
		"kl":         res.ApproxKL,
		"personal":   personal,
	}).Debug("training round")
	return round, err
}

// refreshPriorities sets each drawn transition's priority from |return - V(s)|.
func (t *Trainer) refreshPriorities(ids []uint64, b brain.Batch) {
	values, err := t.shared.EvaluateBatch(b.States)
	if err != nil {
		t.log.WithError(err).Warn("priority refresh skipped")
		return
	}
	td := make([]float64, len(values))
	for i, v := range values {
		td[i] = b.Returns[i] - v
	}
	t.store.UpdatePriorities(ids, td)
}

// toBatch builds a PPO batch with standardized advantages. personal selects the
// personal behaviour log-probabilities.
func toBatch(ts []replay.Transition, weights []float64, personal bool) brain.Batch {
	b := brain.Batch{
		States:      make([][]float64, len(ts)),
		Actions:     make([]int, len(ts)),
		OldLogProbs: make([]float64, len(ts)),
		Advantages:  make([]float64, len(ts)),
		Returns:     make([]float64, len(ts)),
		Weights:     weights,
	}
	for i, tr := range ts {
		b.States[i] = tr.State
		b.Actions[i] = tr.Action
		b.OldLogProbs[i] = tr.LogProb
		if personal {
			b.OldLogProbs[i] = tr.PersonalLogProb
		}
		b.Advantages[i] = tr.Advantage
		b.Returns[i] = tr.Return
	}
	brain.StandardizeAdvantages(b.Advantages)
	return b
}
