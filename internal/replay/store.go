package replay

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

type Config struct {
	Capacity  int     `yaml:"capacity"`
	Alpha     float64 `yaml:"alpha"`
	Beta0     float64 `yaml:"beta0"`
	BetaSteps int     `yaml:"beta_steps"` // prioritized draws until beta reaches 1
	Epsilon   float64 `yaml:"epsilon"`
}

func DefaultConfig() Config {
	return Config{Capacity: 50000, Alpha: 0.6, Beta0: 0.4, BetaSteps: 10000, Epsilon: 1e-3}
}

// Sample is one drawn transition. ID stays valid until the slot is overwritten.
type Sample struct {
	ID         uint64
	Transition Transition
	Weight     float64
}

// Store is a fixed-capacity circular buffer shared by every agent. Readers may
// run concurrently; Push and UpdatePriorities serialize.
type Store struct {
	cfg Config

	mu      sync.RWMutex
	slots   []Transition
	ids     []uint64
	total   uint64 // transitions ever pushed; next id
	maxPrio float64
	draws   int
}

func NewStore(cfg Config) *Store {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	return &Store{
		cfg:     cfg,
		slots:   make([]Transition, 0, cfg.Capacity),
		ids:     make([]uint64, 0, cfg.Capacity),
		maxPrio: 1,
	}
}

func (s *Store) Capacity() int { return s.cfg.Capacity }

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// Push appends transitions, evicting the oldest once full. New entries get the
// current maximum priority so they are drawn at least once soon.
func (s *Store) Push(ts ...Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range ts {
		t.Priority = s.maxPrio
		id := s.total
		s.total++
		if len(s.slots) < s.cfg.Capacity {
			s.slots = append(s.slots, t)
			s.ids = append(s.ids, id)
			continue
		}
		slot := int(id % uint64(s.cfg.Capacity))
		s.slots[slot] = t
		s.ids[slot] = id
	}
}

// Transitions returns the stored transitions oldest first.
func (s *Store) Transitions() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transition, 0, len(s.slots))
	start := 0
	if len(s.slots) == s.cfg.Capacity {
		start = int(s.total % uint64(s.cfg.Capacity))
	}
	for i := 0; i < len(s.slots); i++ {
		out = append(out, s.slots[(start+i)%len(s.slots)])
	}
	return out
}

// Owned returns the stored transitions of one agent, oldest first.
func (s *Store) Owned(agentID string) []Transition {
	var out []Transition
	for _, t := range s.Transitions() {
		if t.Owner == agentID {
			out = append(out, t)
		}
	}
	return out
}

// SampleUniform draws n transitions with replacement, all with weight 1.
func (s *Store) SampleUniform(n int, rng *rand.Rand) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.slots) == 0 || n <= 0 {
		return nil
	}
	out := make([]Sample, n)
	for i := range out {
		k := rng.Intn(len(s.slots))
		out[i] = Sample{ID: s.ids[k], Transition: s.slots[k], Weight: 1}
	}
	return out
}

// SamplePrioritized draws n transitions with probability priority/sum(priority) and
// returns importance weights (N*p)^-beta normalized by the batch maximum. Each call
// advances beta toward 1.
func (s *Store) SamplePrioritized(n int, rng *rand.Rand) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.slots) == 0 || n <= 0 {
		return nil
	}
	cum := make([]float64, len(s.slots))
	var total float64
	for i, t := range s.slots {
		total += t.Priority
		cum[i] = total
	}
	beta := s.betaLocked()
	s.draws++

	out := make([]Sample, n)
	N := float64(len(s.slots))
	maxW := 0.0
	for i := range out {
		u := rng.Float64() * total
		k := sort.Search(len(cum), func(i int) bool { return cum[i] > u })
		if k >= len(cum) {
			k = len(cum) - 1
		}
		p := s.slots[k].Priority / total
		w := math.Pow(N*p, -beta)
		out[i] = Sample{ID: s.ids[k], Transition: s.slots[k], Weight: w}
		maxW = math.Max(maxW, w)
	}
	if maxW > 0 {
		for i := range out {
			out[i].Weight /= maxW
		}
	}
	return out
}

// Beta is the importance-sampling exponent the next prioritized draw will use.
func (s *Store) Beta() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.betaLocked()
}

func (s *Store) betaLocked() float64 {
	if s.cfg.BetaSteps <= 0 {
		return 1
	}
	b := s.cfg.Beta0 + (1-s.cfg.Beta0)*float64(s.draws)/float64(s.cfg.BetaSteps)
	return math.Min(1, b)
}

// UpdatePriorities sets priority = (|td|+eps)^alpha for each still-resident id.
// Non-finite errors and evicted ids are skipped.
func (s *Store) UpdatePriorities(ids []uint64, tdErrors []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range ids {
		if i >= len(tdErrors) {
			break
		}
		td := tdErrors[i]
		if math.IsNaN(td) || math.IsInf(td, 0) {
			continue
		}
		k, ok := s.slotLocked(id)
		if !ok {
			continue
		}
		p := PriorityFor(td, s.cfg.Alpha, s.cfg.Epsilon)
		s.slots[k].Priority = p
		if p > s.maxPrio {
			s.maxPrio = p
		}
	}
}

// Probability is the chance a single prioritized draw returns id.
func (s *Store) Probability(id uint64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.slotLocked(id)
	if !ok {
		return 0
	}
	var total float64
	for _, t := range s.slots {
		total += t.Priority
	}
	if total <= 0 {
		return 0
	}
	return s.slots[k].Priority / total
}

// IDs lists resident ids oldest first.
func (s *Store) IDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]uint64(nil), s.ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Store) slotLocked(id uint64) (int, bool) {
	if id >= s.total || s.total-id > uint64(len(s.slots)) {
		return 0, false
	}
	k := int(id % uint64(s.cfg.Capacity))
	if k >= len(s.slots) || s.ids[k] != id {
		return 0, false
	}
	return k, true
}

func PriorityFor(td, alpha, eps float64) float64 {
	return math.Pow(math.Abs(td)+eps, alpha)
}
