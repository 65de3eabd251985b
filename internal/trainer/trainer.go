package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voxelmind/internal/actions"
	"voxelmind/internal/brain"
	"voxelmind/internal/config"
	"voxelmind/internal/features"
	"voxelmind/internal/goals"
	"voxelmind/internal/persistence/checkpoint"
	"voxelmind/internal/psyche"
	"voxelmind/internal/replay"
	"voxelmind/internal/reward"
)

var ErrDuplicateAgent = errors.New("agent already spawned")

type Deps struct {
	Log         logrus.FieldLogger
	Checkpoints *checkpoint.Dir // nil disables checkpointing
	Index       Index
	Steps       StepSink
	Memory      psyche.MemoryProvider
}

type Trainer struct {
	cfg   config.Config
	log   logrus.FieldLogger
	deps  Deps
	runID string

	enc    *features.Encoder
	reward *reward.Function
	goals  *goals.Manager
	store  *replay.Store
	shared *brain.Brain

	mu      sync.Mutex
	agents  map[string]*Agent
	spawned int
	explore float64
	rounds  int

	episodes     int
	episodeSteps int
	rewardSum    float64

	steps      atomic.Uint64
	sinceTrain atomic.Int64
	sinceSave  atomic.Int64
	trainSig   chan struct{}
	saveSig    chan struct{}

	trainMu  sync.Mutex
	trainRng *rand.Rand
}

func New(cfg config.Config, deps Deps) (*Trainer, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		deps.Log = l
	}
	t := &Trainer{
		cfg:      cfg,
		log:      deps.Log,
		deps:     deps,
		runID:    uuid.NewString(),
		enc:      features.New(),
		reward:   reward.New(cfg.Reward),
		goals:    goals.NewManager(cfg.Goals.Config, deps.Log),
		store:    replay.NewStore(cfg.Replay.Config),
		agents:   map[string]*Agent{},
		explore:  cfg.Exploration.Start,
		trainSig: make(chan struct{}, 1),
		saveSig:  make(chan struct{}, 1),
		trainRng: rand.New(rand.NewSource(cfg.Seed)),
	}

	shared, err := t.restoreShared()
	if err != nil {
		return nil, err
	}
	if shared == nil {
		shared, err = brain.New(features.Width, actions.Count(), cfg.Brain, rand.New(rand.NewSource(cfg.Seed)))
		if err != nil {
			return nil, err
		}
	}
	t.shared = shared
	t.log.WithFields(logrus.Fields{
		"run":        t.runID,
		"brain":      shared.ID(),
		"generation": shared.Generation(),
		"features":   features.Width,
		"actions":    actions.Count(),
	}).Info("trainer ready")
	return t, nil
}

// restoreShared loads the newest shared checkpoint whose shape still matches.
func (t *Trainer) restoreShared() (*brain.Brain, error) {
	if t.deps.Checkpoints == nil {
		return nil, nil
	}
	ck, path, err := t.deps.Checkpoints.Latest(sharedName)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ck.Params.Input != features.Width || ck.Params.Output != actions.Count() {
		t.log.WithFields(logrus.Fields{"path": path, "input": ck.Params.Input, "output": ck.Params.Output}).
			Warn("ignoring shared checkpoint with stale shape")
		return nil, nil
	}
	b, err := brain.FromParams(ck.Params)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", path, err)
	}
	t.log.WithFields(logrus.Fields{"path": path, "generation": b.Generation()}).Info("restored shared brain")
	return b, nil
}

func (t *Trainer) RunID() string         { return t.runID }
func (t *Trainer) Shared() *brain.Brain  { return t.shared }
func (t *Trainer) Store() *replay.Store  { return t.store }
func (t *Trainer) Goals() *goals.Manager { return t.goals }

// Spawn registers an agent. Its personal brain is restored from a checkpoint,
// cloned from its parent's personal brain, or cloned from the shared brain, in
// that order of preference. Clones are mutated per the genetics settings.
func (t *Trainer) Spawn(spec AgentSpec) (*Agent, error) {
	if spec.ID == "" || spec.Provider == nil || spec.Actuator == nil {
		return nil, errors.New("trainer: agent spec needs id, provider and actuator")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.agents[spec.ID]; ok {
		return nil, fmt.Errorf("%s: %w", spec.ID, ErrDuplicateAgent)
	}
	seed := t.cfg.Seed + int64(t.spawned) + 1
	rng := rand.New(rand.NewSource(seed))

	personal, src, err := t.personalFor(spec, rng)
	if err != nil {
		return nil, err
	}
	a := &Agent{
		t:        t,
		id:       spec.ID,
		parentID: spec.ParentID,
		provider: spec.Provider,
		actuator: spec.Actuator,
		psyche:   psyche.New(spec.ID),
		personal: personal,
		episode:  replay.NewEpisode(spec.ID),
		rng:      rng,
	}
	t.goals.Track(spec.ID, rand.New(rand.NewSource(seed*7919)))
	t.agents[spec.ID] = a
	t.spawned++
	t.log.WithFields(logrus.Fields{"agent": spec.ID, "parent": spec.ParentID, "brain": personal.ID(), "source": src}).Info("agent spawned")
	return a, nil
}

func (t *Trainer) personalFor(spec AgentSpec, rng *rand.Rand) (*brain.Brain, string, error) {
	if t.deps.Checkpoints != nil {
		if ck, _, err := t.deps.Checkpoints.Latest(spec.ID); err == nil &&
			ck.Params.Input == features.Width && ck.Params.Output == actions.Count() {
			if b, err := brain.FromParams(ck.Params); err == nil {
				return b, "checkpoint", nil
			}
		}
	}
	g := t.cfg.Genetics
	if parent, ok := t.agents[spec.ParentID]; ok && spec.ParentID != "" {
		b, err := parent.personal.Clone(g.MutationRate, g.MutationStrength, rng)
		if err == nil {
			return b, "parent", nil
		}
		t.log.WithError(err).WithField("agent", spec.ID).Warn("parent clone failed, using shared brain")
	}
	b, err := t.shared.Clone(g.MutationRate, g.MutationStrength, rng)
	if err != nil {
		return nil, "", err
	}
	return b, "shared", nil
}

// Despawn removes an agent, flushing its partial episode into the store.
func (t *Trainer) Despawn(id string) bool {
	t.mu.Lock()
	a, ok := t.agents[id]
	delete(t.agents, id)
	t.mu.Unlock()
	if !ok {
		return false
	}
	a.endEpisode("shutdown", time.Now())
	t.goals.Forget(id)
	a.personal.Dispose()
	return true
}

func (t *Trainer) Agent(id string) (*Agent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.agents[id]
	return a, ok
}

// Agents returns the spawned agents ordered by id.
func (t *Trainer) Agents() []*Agent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Agent, 0, len(t.agents))
	for _, a := range t.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (t *Trainer) ExplorationRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.explore
}

func (t *Trainer) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Stats{
		RunID:             t.runID,
		Agents:            len(t.agents),
		TotalSteps:        t.steps.Load(),
		EpisodesCompleted: t.episodes,
		BufferSize:        t.store.Len(),
		ExplorationRate:   t.explore,
		TrainRounds:       t.rounds,
		SharedGeneration:  t.shared.Generation(),
	}
	if st.TotalSteps > 0 {
		st.AvgReward = t.rewardSum / float64(st.TotalSteps)
	}
	if t.episodes > 0 {
		st.AvgEpisodeLength = float64(t.episodeSteps) / float64(t.episodes)
	}
	return st
}

// noteStep updates run counters and raises the training and save signals.
func (t *Trainer) noteStep(r float64) uint64 {
	t.mu.Lock()
	t.rewardSum += r
	t.mu.Unlock()
	n := t.steps.Add(1)
	if t.sinceTrain.Add(1) >= int64(t.cfg.Training.TrainEvery) {
		signal(t.trainSig)
	}
	if t.cfg.Training.SaveEvery > 0 && t.sinceSave.Add(1) >= int64(t.cfg.Training.SaveEvery) {
		signal(t.saveSig)
	}
	return n
}

func (t *Trainer) noteEpisode(s EpisodeSummary) {
	t.mu.Lock()
	t.episodes++
	t.episodeSteps += s.Steps
	t.mu.Unlock()
	if t.deps.Index != nil {
		t.deps.Index.RecordEpisode(s)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run steps every spawned agent concurrently until ctx is done. A scheduler
// goroutine trains and checkpoints when the step counters signal it. A final
// checkpoint is written on the way out.
func (t *Trainer) Run(ctx context.Context) error {
	agents := t.Agents()
	if len(agents) == 0 {
		return errors.New("trainer: no agents")
	}
	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(a *Agent) {
			defer wg.Done()
			a.loop(ctx)
		}(a)
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		t.schedule(ctx)
	}()

	wg.Wait()
	<-schedDone
	for _, a := range agents {
		a.endEpisode("shutdown", time.Now())
	}
	if _, err := t.Checkpoint(); err != nil {
		t.log.WithError(err).Warn("final checkpoint failed")
	}
	return ctx.Err()
}

func (t *Trainer) schedule(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.trainSig:
			t.sinceTrain.Store(0)
			if _, err := t.TrainOnce(); err != nil {
				t.log.WithError(err).Warn("training round failed")
			}
		case <-t.saveSig:
			t.sinceSave.Store(0)
			if _, err := t.Checkpoint(); err != nil {
				t.log.WithError(err).Warn("checkpoint failed, continuing in memory")
			}
		}
	}
}

const sharedName = "shared"

// Checkpoint saves the shared brain and every personal brain. It returns the
// number of files written.
func (t *Trainer) Checkpoint() (int, error) {
	d := t.deps.Checkpoints
	if d == nil {
		return 0, nil
	}
	step := t.steps.Load()
	now := time.Now().UTC()
	save := func(name, agentID, kind string, b *brain.Brain) error {
		p, err := b.Params()
		if err != nil {
			return err
		}
		path, err := d.Save(name, checkpoint.Checkpoint{
			Header: checkpoint.Header{
				Kind:       kind,
				AgentID:    agentID,
				BrainID:    p.ID,
				ParentID:   p.ParentID,
				Generation: p.Generation,
				Step:       step,
				SavedAt:    now,
			},
			Params: p,
		})
		if err != nil {
			return err
		}
		if _, err := d.Prune(name, t.cfg.Persistence.KeepCheckpoint); err != nil {
			t.log.WithError(err).WithField("name", name).Warn("prune checkpoints")
		}
		if t.deps.Index != nil {
			t.deps.Index.RecordCheckpoint(CheckpointInfo{
				RunID: t.runID, Name: name, Path: path, Step: step,
				Generation: p.Generation, BrainID: p.ID, At: now,
			})
		}
		return nil
	}

	n := 0
	if err := save(sharedName, "", "shared", t.shared); err != nil {
		return n, fmt.Errorf("save shared: %w", err)
	}
	n++
	var errs []error
	for _, a := range t.Agents() {
		if err := save(a.id, a.id, "personal", a.personal); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", a.id, err))
			continue
		}
		n++
	}
	t.log.WithFields(logrus.Fields{"step": step, "files": n}).Debug("checkpoint written")
	return n, errors.Join(errs...)
}
