package features

import (
	"math"
	"testing"

	"voxelmind/internal/goals"
	"voxelmind/internal/observe"
)

func richSnapshot() observe.Snapshot {
	blocks := make([]string, 7*7*7)
	for i := range blocks {
		blocks[i] = "STONE"
	}
	r := observe.Reading{Present: true}
	for i := range r.Needs {
		r.Needs[i] = 0.5
	}
	r.Moods[0] = 0.9
	s := observe.Snapshot{
		AgentID:  "A1",
		Tick:     500,
		Pos:      observe.Vec3{X: 10, Y: 40, Z: -3},
		Yaw:      90,
		Vitals:   observe.Vitals{HP: 12, MaxHP: 20, Hunger: 3, MaxHunger: 20, Stamina: 0.4, Age: 1e9},
		MainHand: "STONE_PICKAXE",
		World:    observe.WorldInfo{TimeOfDay: 0.5, Weather: "STORM", Biome: "FOREST", SeasonDay: 44, ActiveEvent: "METEOR", EventTicksLeft: 100},
		Rules:    observe.LocalRules{Present: true, Role: "MEMBER", CanBuild: true, MarketTax: 0.1},
		Fun:      observe.FunScore{Present: true, Novelty: 1000, Social: -3},
		Memory:   observe.MemorySummary{Present: true, Entries: 100, Places: 5, Agents: 2, PositiveRatio: 0.8},
		Goal:     observe.GoalView{ID: goals.ExploreArea, Progress: 0.3, Elapsed: 2},
		Psyche:   r,
	}
	return s.
		WithInventory([]observe.ItemStack{{Item: "LOG", Count: 500}, {Item: "STONE_PICKAXE", Count: 1}, {Item: "NOT_AN_ITEM", Count: 3}}).
		WithStatus([]string{"HUNGRY", "BURNING"}).
		WithVoxels(observe.NewVoxels(observe.Vec3{X: 10, Y: 40, Z: -3}, 3, blocks)).
		WithEntities([]observe.Entity{
			{ID: "B", Type: "AGENT", Pos: observe.Vec3{X: 12, Y: 40, Z: -3}},
			{ID: "Z", Type: "HOSTILE", Pos: observe.Vec3{X: 100, Y: 40, Z: 60}, Count: 1},
		}).
		WithRelationships([]observe.Relationship{{AgentID: "B", Affinity: 0.9, Trust: 2, Interactions: 400, LastSeenTick: 600}}).
		WithSkills([]observe.Skill{{Name: "mining", Level: 20, XP: 4000}}).
		WithEvents([]string{"DAMAGE", "DAMAGE", "CHAT", "UNKNOWN_EVENT"}).
		WithTasks([]observe.Task{{Kind: "MINE", Progress: 1.5}})
}

func checkBounded(t *testing.T, v Vector) {
	t.Helper()
	if len(v) != Width {
		t.Fatalf("len=%d want %d", len(v), Width)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) || x < -1 || x > 1 {
			t.Fatalf("v[%d]=%v out of range", i, x)
		}
	}
}

func TestSegmentsCoverWidth(t *testing.T) {
	off := 0
	for _, s := range Segments {
		if s.Offset != off {
			t.Fatalf("segment %s offset %d want %d", s.Name, s.Offset, off)
		}
		off += s.Width
	}
	if off != Width || Width != 747 {
		t.Fatalf("width=%d sum=%d", Width, off)
	}
}

func TestEncode_EmptySnapshot(t *testing.T) {
	v := New().Encode(observe.Snapshot{})
	checkBounded(t, v)
	for _, name := range []string{"neighborhood", "entities", "goal", "social", "psyche", "skills"} {
		for i, x := range SegmentOf(v, name) {
			if x != 0 {
				t.Fatalf("absent %s[%d]=%v, want 0", name, i, x)
			}
		}
	}
}

func TestEncode_RichSnapshotBounded(t *testing.T) {
	checkBounded(t, New().Encode(richSnapshot()))
}

func TestEncode_Deterministic(t *testing.T) {
	e := New()
	a := e.Encode(richSnapshot())
	b := e.Encode(richSnapshot())
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("index %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEncode_EntitiesNearestFirstTiesByID(t *testing.T) {
	s := observe.Snapshot{}.WithEntities([]observe.Entity{
		{ID: "far", Type: "ITEM", Pos: observe.Vec3{X: 9}},
		{ID: "z", Type: "AGENT", Pos: observe.Vec3{X: 1}},
		{ID: "a", Type: "AGENT", Pos: observe.Vec3{X: -1}},
	})
	ents := SegmentOf(New().Encode(s), "entities")
	if ents[0] >= 0 {
		t.Fatalf("first entity should be id a at dx=-1, got dx feature %v", ents[0])
	}
	if ents[entityFeatures] <= 0 {
		t.Fatalf("second entity should be id z at dx=+1")
	}
	if ents[2*entityFeatures+5] != 1 {
		t.Fatalf("third entity should be the item")
	}
	if ents[3*entityFeatures+3] != 0 {
		t.Fatalf("unused entity slots must be zero")
	}
}

func TestEncode_NeighborhoodScanOrder(t *testing.T) {
	blocks := make([]string, 7*7*7)
	for i := range blocks {
		blocks[i] = "AIR"
	}
	// dx=+1, dy=-1, dz=-3 relative to the center
	blocks[((2*7)+0)*7+4] = "LAVA"
	s := observe.Snapshot{}.WithVoxels(observe.NewVoxels(observe.Vec3{}, 3, blocks))
	grid := SegmentOf(New().Encode(s), "neighborhood")
	if grid[4*gridChannels+2] != 1 {
		t.Fatalf("hazard channel not set at expected cell")
	}
	var set int
	for _, x := range grid {
		if x != 0 {
			set++
		}
	}
	if set != 1 {
		t.Fatalf("expected one set entry, got %d", set)
	}
}

func TestEncode_GoalOneHot(t *testing.T) {
	s := observe.Snapshot{Goal: observe.GoalView{ID: goals.ExploreArea, Progress: 0.5}}
	g := SegmentOf(New().Encode(s), "goal")
	idx, _ := goals.IndexOf(goals.ExploreArea)
	for i := 0; i < goals.NumGoals; i++ {
		want := 0.0
		if i == idx {
			want = 1
		}
		if g[i] != want {
			t.Fatalf("goal[%d]=%v want %v", i, g[i], want)
		}
	}
	if g[goals.NumGoals] != 0.5 {
		t.Fatalf("progress: %v", g[goals.NumGoals])
	}
}
