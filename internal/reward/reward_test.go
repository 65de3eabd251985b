package reward

import (
	"math"
	"testing"

	"voxelmind/internal/observe"
	"voxelmind/internal/psyche"
)

func alive(hp int) observe.Snapshot {
	return observe.Snapshot{
		AgentID: "A1",
		Tick:    10,
		Vitals:  observe.Vitals{HP: hp, MaxHP: 20, Hunger: 15, MaxHunger: 20, Stamina: 1},
	}
}

func calm() observe.Reading {
	r := observe.Reading{Present: true, CellVisits: 1}
	for i := range r.Needs {
		r.Needs[i] = 1
	}
	return r
}

func TestHealthDamageWeighted(t *testing.T) {
	f := New(DefaultConfig())
	b := f.Compute(Input{Prev: alive(20), Cur: alive(16)})
	if b.Health != -8 {
		t.Fatalf("health: got %v want -8", b.Health)
	}
	if b.Total() != -8 {
		t.Fatalf("total: got %v want -8 (%+v)", b.Total(), b)
	}
}

func TestHealthDamageDampenedUnderStress(t *testing.T) {
	f := New(DefaultConfig())
	cur := alive(16)
	r := calm()
	r.Moods[psyche.MoodStress] = 0.7
	cur.Psyche = r
	b := f.Compute(Input{Prev: alive(20), Cur: cur})
	if math.Abs(b.Health-(-5.6)) > 1e-9 {
		t.Fatalf("health: got %v want -5.6", b.Health)
	}
}

func TestHealingWeightedLess(t *testing.T) {
	f := New(DefaultConfig())
	b := f.Compute(Input{Prev: alive(10), Cur: alive(14)})
	if b.Health != 2 {
		t.Fatalf("healing: got %v want 2", b.Health)
	}
}

func TestCapAppliesBeforeBoost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HealthCap = 5
	f := New(cfg)
	cur := alive(16)
	r := calm()
	r.Needs[psyche.NeedSafety] = 0.1
	cur.Psyche = r
	b := f.Compute(Input{Prev: alive(20), Cur: cur})
	if math.Abs(b.Health-(-7.5)) > 1e-9 {
		t.Fatalf("health: got %v want -7.5 (cap 5 then x1.5)", b.Health)
	}
}

func TestMissingContextContributesZero(t *testing.T) {
	f := New(DefaultConfig())
	cur := alive(5)
	cur = cur.WithInventory([]observe.ItemStack{{Item: "STONE_PICKAXE", Count: 1}})
	b := f.Compute(Input{Cur: cur})
	if b.Health != 0 || b.Food != 0 || b.Tools != 0 || b.Inventory != 0 || b.Movement != 0 {
		t.Fatalf("delta terms without prev: %+v", b)
	}
	if b.Discovery != 0 || b.Clustering != 0 || b.Comfort != 0 {
		t.Fatalf("context terms without context: %+v", b)
	}
}

func TestDeathPenaltyOnce(t *testing.T) {
	f := New(DefaultConfig())
	dead := alive(0)
	dead.Vitals.Dead = true
	b := f.Compute(Input{Prev: alive(3), Cur: dead})
	if b.Death != -10 || b.Survival != 0 {
		t.Fatalf("death: %+v", b)
	}
	b = f.Compute(Input{Prev: dead, Cur: dead})
	if b.Death != 0 {
		t.Fatalf("death penalized twice: %v", b.Death)
	}
}

func TestDiscoveryOnlyInUnvisitedCell(t *testing.T) {
	f := New(DefaultConfig())
	cur := alive(20)
	r := calm()
	r.CellVisits = 0
	cur.Psyche = r
	if b := f.Compute(Input{Prev: alive(20), Cur: cur}); b.Discovery <= 0 {
		t.Fatalf("no discovery reward in new cell")
	}
	r.CellVisits = 3
	cur.Psyche = r
	if b := f.Compute(Input{Prev: alive(20), Cur: cur}); b.Discovery != 0 {
		t.Fatalf("discovery in visited cell: %v", b.Discovery)
	}
}

func TestToolAcquisition(t *testing.T) {
	f := New(DefaultConfig())
	prev := alive(20)
	cur := alive(20).WithInventory([]observe.ItemStack{{Item: "STONE_PICKAXE", Count: 1}})
	b := f.Compute(Input{Prev: prev, Cur: cur, Action: "CRAFT_TOOL", Success: true})
	if b.Tools != 2 || b.Inventory <= 0 || b.Creativity <= 0 {
		t.Fatalf("tool terms: %+v", b)
	}
}

func TestBondedNeighboursAmplifyClustering(t *testing.T) {
	f := New(DefaultConfig())
	ents := []observe.Entity{{ID: "B", Type: "AGENT", Pos: observe.Vec3{X: 2}}}
	plain := alive(20).WithEntities(ents)
	bonded := plain.WithRelationships([]observe.Relationship{{AgentID: "B", Affinity: 0.8}})

	p := f.Compute(Input{Prev: alive(20), Cur: plain})
	q := f.Compute(Input{Prev: alive(20), Cur: bonded})
	if p.Clustering <= 0 || q.Clustering <= p.Clustering {
		t.Fatalf("clustering: plain=%v bonded=%v", p.Clustering, q.Clustering)
	}

	far := alive(20).WithEntities([]observe.Entity{{ID: "B", Type: "AGENT", Pos: observe.Vec3{X: 30}}})
	if b := f.Compute(Input{Prev: alive(20), Cur: far}); b.Clustering != 0 {
		t.Fatalf("far agent counted: %v", b.Clustering)
	}
}

func TestSevereStatusPenalized(t *testing.T) {
	f := New(DefaultConfig())
	cur := alive(20).WithStatus([]string{"STARVING", "BURNING"})
	b := f.Compute(Input{Prev: alive(20), Cur: cur})
	if math.Abs(b.Status-(-0.6)) > 1e-9 {
		t.Fatalf("status: %v", b.Status)
	}
}

func TestFailedActionPenalty(t *testing.T) {
	f := New(DefaultConfig())
	b := f.Compute(Input{Prev: alive(20), Cur: alive(20), Action: "MINE", Success: false})
	if b.Failure != -0.01 {
		t.Fatalf("failure: %v", b.Failure)
	}
}
