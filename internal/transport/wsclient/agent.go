package wsclient

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voxelmind/internal/observe"
	"voxelmind/internal/protocol"
)

const defaultActTimeout = 5 * time.Second

// Agent adapts a Session to the trainer: Next yields decoded snapshots and
// Execute turns action names into ACT requests against the last snapshot.
type Agent struct {
	s       *Session
	log     *logrus.Entry
	timeout time.Duration
	now     func() time.Time

	mu         sync.Mutex
	dec        *observe.VoxelDecoder
	paletteGen uint64
	connGen    uint64
	seq        uint64
	last       observe.Snapshot
	hasLast    bool
	reqSeq     uint64
	rng        *rand.Rand
}

type AgentOption func(*Agent)

// WithActTimeout bounds how long Execute waits for an action outcome.
func WithActTimeout(d time.Duration) AgentOption {
	return func(a *Agent) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithClock(now func() time.Time) AgentOption {
	return func(a *Agent) { a.now = now }
}

func NewAgent(s *Session, opts ...AgentOption) *Agent {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s.cfg.AgentName))
	a := &Agent{
		s:       s,
		log:     s.log,
		timeout: defaultActTimeout,
		now:     time.Now,
		dec:     observe.NewVoxelDecoder(nil),
		rng:     rand.New(rand.NewSource(int64(h.Sum64()))),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Agent) Session() *Session { return a.s }

// Next blocks for the next OBS and converts it. Voxels that cannot be decoded
// are left out of the snapshot.
func (a *Agent) Next(ctx context.Context) (observe.Snapshot, error) {
	a.mu.Lock()
	seq := a.seq
	a.mu.Unlock()

	obs, seq, gen, err := a.s.NextObs(ctx, seq)
	if err != nil {
		return observe.Snapshot{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq = seq
	if gen != a.connGen {
		a.dec.Reset()
		a.connGen = gen
	}
	if palette, pg := a.s.Palette(); pg != a.paletteGen {
		a.dec.SetPalette(palette)
		a.paletteGen = pg
	}
	vox, err := a.dec.Decode(obs.Voxels)
	if err != nil {
		a.log.WithError(err).WithField("tick", obs.Tick).Debug("voxel decode failed")
		a.dec.Reset()
		vox = nil
	}
	snap := observe.FromObs(obs, vox, a.now())
	a.last, a.hasLast = snap, true
	return snap, nil
}

// Execute reports false when the action has no valid target, the request is
// rejected, or no outcome arrives before the timeout. A request rejected with a
// transient code is sent once more.
func (a *Agent) Execute(ctx context.Context, name string) bool {
	a.mu.Lock()
	if !a.hasLast {
		a.mu.Unlock()
		return false
	}
	plan, ok := planAction(name, a.last, a.rng)
	a.mu.Unlock()
	if !ok || plan.idle {
		return ok
	}
	for attempt := 0; ; attempt++ {
		ok, code := a.send(ctx, name, plan)
		if ok || attempt > 0 || !protocol.IsTransient(code) {
			return ok
		}
	}
}

func (a *Agent) send(ctx context.Context, name string, p plan) (bool, string) {
	a.mu.Lock()
	a.reqSeq++
	id := fmt.Sprintf("%s_%d", p.prefix(), a.reqSeq)
	a.mu.Unlock()

	act := p.act(id)
	log := a.log.WithFields(logrus.Fields{"action": name, "ref": id})
	results, err := a.s.Act(act)
	if err != nil {
		log.WithError(err).Debug("act send failed")
		return false, ""
	}

	wait, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var r protocol.ActionResult
	select {
	case r = <-results:
	case <-wait.Done():
		a.s.Forget(act)
		return false, ""
	}
	if !r.OK {
		logRejection(log, r.Code, "action rejected")
		return false, r.Code
	}
	if r.TaskID == "" {
		return true, ""
	}
	select {
	case done := <-results:
		if !done.OK {
			logRejection(log, done.Code, "task failed")
		}
		return done.OK, done.Code
	case <-wait.Done():
		a.s.Forget(act, r.TaskID)
		_, _ = a.s.Act(protocol.ActMsg{Cancel: []string{r.TaskID}})
		return false, ""
	}
}

func logRejection(log *logrus.Entry, code, msg string) {
	if !protocol.IsKnownCode(code) {
		log.WithField("code", code).Warn(msg + " with unknown code")
		return
	}
	log.WithField("code", code).Debug(msg)
}
