package replay

import (
	"math"
	"math/rand"
	"testing"
)

func trajectory() *Episode {
	e := NewEpisode("A1")
	rs := []float64{1, -0.5, 2, 0.25, 3}
	vs := []float64{0.3, 0.1, -0.2, 0.8, 0.5}
	for i := range rs {
		e.Append(Transition{Reward: rs[i], Value: vs[i], Terminal: i == len(rs)-1})
	}
	return e
}

func TestReturns_TerminalAndRecurrence(t *testing.T) {
	e := trajectory()
	gamma := 0.9
	g := e.Returns(gamma, 123)
	steps := e.Steps()
	last := len(g) - 1
	if g[last] != steps[last].Reward {
		t.Fatalf("last return %v != r_L %v", g[last], steps[last].Reward)
	}
	for i := 0; i < last; i++ {
		want := steps[i].Reward + gamma*g[i+1]
		if math.Abs(g[i]-want) > 1e-12 {
			t.Fatalf("G_%d=%v want %v", i, g[i], want)
		}
	}
}

func TestReturns_BootstrapNonTerminalTail(t *testing.T) {
	e := NewEpisode("A1")
	e.Append(Transition{Reward: 1})
	g := e.Returns(0.5, 4)
	if g[0] != 3 {
		t.Fatalf("got %v want 3", g[0])
	}
}

func TestAdvantages_LambdaLimits(t *testing.T) {
	e := trajectory()
	gamma := 0.95
	steps := e.Steps()

	td := e.Advantages(gamma, 0, 0)
	for i, s := range steps {
		nextV := 0.0
		if !s.Terminal {
			nextV = steps[i+1].Value
		}
		want := s.Reward + gamma*nextV - s.Value
		if math.Abs(td[i]-want) > 1e-12 {
			t.Fatalf("lambda=0 A_%d=%v want delta %v", i, td[i], want)
		}
	}

	mc := e.Advantages(gamma, 1, 0)
	g := e.Returns(gamma, 0)
	for i, s := range steps {
		if math.Abs(mc[i]-(g[i]-s.Value)) > 1e-9 {
			t.Fatalf("lambda=1 A_%d=%v want %v", i, mc[i], g[i]-s.Value)
		}
	}
}

func TestDrain_ClearsAndFills(t *testing.T) {
	e := trajectory()
	out := e.Drain(0.9, 0.95, 0)
	if e.Len() != 0 {
		t.Fatalf("episode not cleared")
	}
	if len(out) != 5 || out[4].Return != 3 || out[0].Owner != "A1" {
		t.Fatalf("drained: %+v", out[4])
	}
}

func TestStore_CircularOverwrite(t *testing.T) {
	s := NewStore(Config{Capacity: 4, Alpha: 0.6, Beta0: 0.4, BetaSteps: 10, Epsilon: 1e-3})
	for i := 0; i < 6; i++ {
		s.Push(Transition{Reward: float64(i)})
	}
	if s.Len() != 4 {
		t.Fatalf("len: %d", s.Len())
	}
	ts := s.Transitions()
	for i, tr := range ts {
		if tr.Reward != float64(i+2) {
			t.Fatalf("slot %d reward %v want %v", i, tr.Reward, float64(i+2))
		}
	}
	ids := s.IDs()
	if ids[0] != 2 || ids[3] != 5 {
		t.Fatalf("ids: %v", ids)
	}
	if s.Probability(0) != 0 {
		t.Fatalf("evicted id still resolvable")
	}
}

func TestStore_PriorityMonotonicInTD(t *testing.T) {
	s := NewStore(Config{Capacity: 8, Alpha: 0.6, Beta0: 0.4, BetaSteps: 10, Epsilon: 1e-3})
	for i := 0; i < 4; i++ {
		s.Push(Transition{})
	}
	s.UpdatePriorities([]uint64{0, 1, 2, 3}, []float64{0.1, -0.5, 2, 4})
	prev := -1.0
	for id := uint64(0); id < 4; id++ {
		p := s.Probability(id)
		if p <= prev {
			t.Fatalf("probability not increasing with |td| at %d: %v <= %v", id, p, prev)
		}
		prev = p
	}
}

func TestStore_PrioritizedWeightsAndBeta(t *testing.T) {
	s := NewStore(Config{Capacity: 8, Alpha: 1, Beta0: 0.5, BetaSteps: 2, Epsilon: 1e-3})
	for i := 0; i < 4; i++ {
		s.Push(Transition{Reward: float64(i)})
	}
	s.UpdatePriorities([]uint64{0, 1, 2, 3}, []float64{0, 0, 0, 10})
	rng := rand.New(rand.NewSource(1))
	batch := s.SamplePrioritized(64, rng)
	hits, maxW := 0, 0.0
	for _, b := range batch {
		if b.ID == 3 {
			hits++
		}
		maxW = math.Max(maxW, b.Weight)
		if b.Weight <= 0 || b.Weight > 1 {
			t.Fatalf("weight out of range: %v", b.Weight)
		}
	}
	if maxW != 1 {
		t.Fatalf("weights not normalized by batch max: %v", maxW)
	}
	if hits < 60 {
		t.Fatalf("high-priority sample drawn %d/64 times", hits)
	}
	if b := s.Beta(); math.Abs(b-0.75) > 1e-12 {
		t.Fatalf("beta after one draw: %v", b)
	}
	s.SamplePrioritized(1, rng)
	s.SamplePrioritized(1, rng)
	if s.Beta() != 1 {
		t.Fatalf("beta must cap at 1: %v", s.Beta())
	}
}

func TestStore_NewInsertGetsMaxPriority(t *testing.T) {
	s := NewStore(DefaultConfig())
	s.Push(Transition{})
	s.UpdatePriorities([]uint64{0}, []float64{9})
	s.Push(Transition{})
	if math.Abs(s.Probability(0)-s.Probability(1)) > 1e-12 {
		t.Fatalf("new insert not at max priority: %v vs %v", s.Probability(0), s.Probability(1))
	}
}

func TestStore_Owned(t *testing.T) {
	s := NewStore(DefaultConfig())
	s.Push(Transition{Owner: "A"}, Transition{Owner: "B"}, Transition{Owner: "A"})
	if n := len(s.Owned("A")); n != 2 {
		t.Fatalf("owned: %d", n)
	}
	if got := s.SampleUniform(3, rand.New(rand.NewSource(2))); len(got) != 3 || got[0].Weight != 1 {
		t.Fatalf("uniform: %+v", got)
	}
}
