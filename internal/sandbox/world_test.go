package sandbox

import (
	"context"
	"reflect"
	"testing"

	"voxelmind/internal/actions"
	"voxelmind/internal/observe"
)

// clearAround empties the 5x5 cells around the agent so terrain cannot interfere.
func clearAround(t *testing.T, w *World, id string) observe.Vec3 {
	t.Helper()
	p, ok := w.Position(id)
	if !ok {
		t.Fatalf("agent %s not joined", id)
	}
	for dz := -2; dz <= 2; dz++ {
		for dx := -2; dx <= 2; dx++ {
			w.SetBlock(observe.Vec3{X: p.X + dx, Z: p.Z + dz}, "AIR")
		}
	}
	return p
}

func TestWorldDeterministic(t *testing.T) {
	ctx := context.Background()
	run := func() []observe.Snapshot {
		w := New(Config{Seed: 42, DayTicks: 60})
		a, err := w.Join("a")
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		b, err := w.Join("b")
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		var out []observe.Snapshot
		for i := 0; i < 200; i++ {
			name := actions.NameOf(i % actions.Count())
			a.Execute(ctx, name)
			b.Execute(ctx, actions.NameOf((i*7)%actions.Count()))
			s, err := a.Next(ctx)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			out = append(out, s)
		}
		return out
	}
	first, second := run(), run()
	for i := range first {
		if !reflect.DeepEqual(first[i], second[i]) {
			t.Fatalf("snapshot %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestJoinDuplicate(t *testing.T) {
	w := New(DefaultConfig())
	if _, err := w.Join("a"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := w.Join("a"); err == nil {
		t.Fatalf("expected duplicate join error")
	}
}

func TestMoveBlockedBySolid(t *testing.T) {
	ctx := context.Background()
	w := New(Config{Seed: 3, NoHostiles: true})
	h, _ := w.Join("a")
	p := clearAround(t, w, "a")

	if !h.Execute(ctx, "MOVE_NORTH") {
		t.Fatalf("move into air failed")
	}
	if got, _ := w.Position("a"); got != (observe.Vec3{X: p.X, Z: p.Z - 1}) {
		t.Fatalf("pos=%+v want north of %+v", got, p)
	}
	w.SetBlock(observe.Vec3{X: p.X, Z: p.Z - 2}, "STONE")
	if h.Execute(ctx, "MOVE_NORTH") {
		t.Fatalf("move into stone should fail")
	}
}

func TestCraftChainEquipsPickaxe(t *testing.T) {
	ctx := context.Background()
	w := New(Config{Seed: 5, NoHostiles: true})
	h, _ := w.Join("a")
	if err := w.Give("a", "LOG", 2); err != nil {
		t.Fatalf("give: %v", err)
	}
	for _, name := range []string{"CRAFT_PLANKS", "CRAFT_PLANKS", "CRAFT_STICKS", "CRAFT_TOOL"} {
		if !h.Execute(ctx, name) {
			t.Fatalf("%s failed", name)
		}
	}
	s, _ := h.Next(ctx)
	if s.MainHand != "WOOD_PICKAXE" {
		t.Fatalf("main hand=%q want WOOD_PICKAXE", s.MainHand)
	}
	if s.Count("PLANK") != 3 || s.Count("STICK") != 2 {
		t.Fatalf("plank=%d stick=%d", s.Count("PLANK"), s.Count("STICK"))
	}

	// The pickaxe is held, so the next recipe is the axe; then materials run out.
	if !h.Execute(ctx, "CRAFT_TOOL") {
		t.Fatalf("axe craft failed")
	}
	if h.Execute(ctx, "CRAFT_TOOL") {
		t.Fatalf("crafted without materials")
	}
	s, _ = h.Next(ctx)
	if s.Count("WOOD_PICKAXE") != 1 || s.Count("WOOD_AXE") != 1 {
		t.Fatalf("inventory=%+v", s.Inventory())
	}
}

func TestMineNeedsPickaxe(t *testing.T) {
	ctx := context.Background()
	w := New(Config{Seed: 9, NoHostiles: true})
	h, _ := w.Join("a")
	p := clearAround(t, w, "a")
	w.SetBlock(observe.Vec3{X: p.X, Z: p.Z - 1}, "STONE")

	if h.Execute(ctx, "MINE") {
		t.Fatalf("mined stone by hand")
	}
	_ = w.Give("a", "WOOD_PICKAXE", 1)
	if !h.Execute(ctx, "MINE") {
		t.Fatalf("mine with pickaxe failed")
	}
	s, _ := h.Next(ctx)
	if s.Count("STONE") != 1 {
		t.Fatalf("stone=%d want 1", s.Count("STONE"))
	}
	if w.Block(observe.Vec3{X: p.X, Z: p.Z - 1}) != "AIR" {
		t.Fatalf("mined block not cleared")
	}
}

func TestStarvationKillsThenRespawns(t *testing.T) {
	ctx := context.Background()
	w := New(Config{Seed: 1, MaxHP: 1, MaxHunger: 1, HungerEvery: 1, NoHostiles: true, Weather: "CLEAR"})
	h, _ := w.Join("a")
	_, _ = h.Next(ctx)

	h.Execute(ctx, "IDLE") // hunger 1 -> 0
	s, _ := h.Next(ctx)
	if s.Vitals.Hunger != 0 || s.Vitals.Dead || !s.HasStatus("STARVING") {
		t.Fatalf("after first tick: %+v status=%v", s.Vitals, s.Status())
	}
	h.Execute(ctx, "IDLE") // starvation damage
	s, _ = h.Next(ctx)
	if !s.Vitals.Dead || !s.HasEvent("DAMAGE") {
		t.Fatalf("expected death by starvation: %+v events=%v", s.Vitals, s.Events())
	}
	if h.Execute(ctx, "IDLE") {
		t.Fatalf("dead agent acted")
	}
	s, _ = h.Next(ctx)
	if s.Vitals.Dead || s.Vitals.HP != 1 || !s.HasEvent("RESPAWN") {
		t.Fatalf("expected respawn: %+v events=%v", s.Vitals, s.Events())
	}
}

func TestColdAtNightUnlessTorch(t *testing.T) {
	ctx := context.Background()
	w := New(Config{Seed: 2, DayTicks: 1000, ColdEvery: 1, Weather: "COLD", NoHostiles: true})
	h, _ := w.Join("a")
	clearAround(t, w, "a")

	h.Execute(ctx, "IDLE")
	s, _ := h.Next(ctx)
	if s.Vitals.HP != 19 || !s.HasStatus("COLD") {
		t.Fatalf("expected cold damage: hp=%d status=%v", s.Vitals.HP, s.Status())
	}
	_ = w.Give("a", "TORCH", 1)
	if !h.Execute(ctx, "PLACE_TORCH") {
		t.Fatalf("place torch failed")
	}
	h.Execute(ctx, "IDLE")
	s, _ = h.Next(ctx)
	if s.Vitals.HP != 19 || s.HasStatus("COLD") {
		t.Fatalf("torch should block cold: hp=%d status=%v", s.Vitals.HP, s.Status())
	}
}

func TestTradeAndChat(t *testing.T) {
	ctx := context.Background()
	w := New(Config{Seed: 4, NoHostiles: true})
	a, _ := w.Join("a")
	b, _ := w.Join("b")
	p := clearAround(t, w, "a")
	if err := w.Teleport("b", observe.Vec3{X: p.X + 1, Z: p.Z}); err != nil {
		t.Fatalf("teleport: %v", err)
	}
	_ = w.Give("a", "BERRIES", 3)
	_, _ = b.Next(ctx)

	if !a.Execute(ctx, "SAY") {
		t.Fatalf("say with listener failed")
	}
	if !a.Execute(ctx, "OFFER_TRADE") {
		t.Fatalf("trade failed")
	}
	sb, _ := b.Next(ctx)
	if sb.Count("BERRIES") != 1 || !sb.HasEvent("TRADE_DONE") || !sb.HasEvent("CHAT") {
		t.Fatalf("receiver berries=%d events=%v", sb.Count("BERRIES"), sb.Events())
	}
	sa, _ := a.Next(ctx)
	if len(sa.Entities()) == 0 || sa.Entities()[0].ID != "b" {
		t.Fatalf("expected b in view: %+v", sa.Entities())
	}
}

func TestShelterRoofsAgent(t *testing.T) {
	ctx := context.Background()
	w := New(Config{Seed: 6, NoHostiles: true})
	h, _ := w.Join("a")
	_ = w.Give("a", "PLANK", 4)
	if !h.Execute(ctx, "BUILD_SHELTER") {
		t.Fatalf("build shelter failed")
	}
	s, _ := h.Next(ctx)
	if s.BlockAt(observe.Vec3{Y: 2}) != "PLANK" {
		t.Fatalf("roof=%q want PLANK", s.BlockAt(observe.Vec3{Y: 2}))
	}
	if s.Count("PLANK") != 0 {
		t.Fatalf("planks not consumed")
	}
}

func TestSnapshotClock(t *testing.T) {
	ctx := context.Background()
	w := New(Config{Seed: 1, NoHostiles: true})
	h, _ := w.Join("a")
	h.Execute(ctx, "IDLE")
	h.Execute(ctx, "IDLE")
	s, _ := h.Next(ctx)
	if s.Tick != 2 || !s.At.Equal(Epoch.Add(2*w.Config().TickDur)) {
		t.Fatalf("tick=%d at=%v", s.Tick, s.At)
	}
	if !s.HasVoxels() || s.Vitals.MaxHP != 20 {
		t.Fatalf("missing voxels or vitals")
	}
}
