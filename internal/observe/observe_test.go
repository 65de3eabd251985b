package observe

import (
	"math"
	"testing"
	"time"

	"voxelmind/internal/encoding"
	"voxelmind/internal/protocol"
)

func TestSnapshot_AccessorsReturnCopies(t *testing.T) {
	items := []ItemStack{{Item: "STONE", Count: 3}, {Item: "PLANK", Count: 2}, {Item: "STONE", Count: 1}}
	s := Snapshot{}.WithInventory(items)
	items[0].Count = 99

	if got := s.Count("STONE"); got != 4 {
		t.Fatalf("STONE: got %d want 4", got)
	}
	inv := s.Inventory()
	inv[0].Count = 1000
	if got := s.TotalItems(); got != 6 {
		t.Fatalf("total: got %d want 6", got)
	}
	if inv2 := s.Inventory(); inv2[0].Item != "PLANK" {
		t.Fatalf("inventory not sorted: %+v", inv2)
	}
}

func TestSnapshot_EntityTagsCopied(t *testing.T) {
	tags := []string{"FRIEND"}
	s := Snapshot{}.WithEntities([]Entity{{ID: "A2", Type: "AGENT", Tags: tags}})
	tags[0] = "HOSTILE"
	if s.Entities()[0].Hostile() {
		t.Fatalf("entity tags aliased caller slice")
	}
	s.Entities()[0].Tags[0] = "HOSTILE"
	if s.Entities()[0].Tags[0] != "FRIEND" {
		t.Fatalf("accessor leaked internal slice")
	}
}

func TestVoxelDecoder_ScanOrder(t *testing.T) {
	palette := []string{"AIR", "STONE", "LOG"}
	r := 1
	dim := 2*r + 1
	ids := make([]uint16, dim*dim*dim)
	// dx=+1, dy=-1, dz=0
	ids[((-1+r)*dim+(0+r))*dim+(1+r)] = 2
	d := NewVoxelDecoder(palette)
	v, err := d.Decode(protocol.VoxelsObs{Center: [3]int{5, 10, 5}, Radius: r, Encoding: "RLE", Data: encoding.EncodeRLE(ids)})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := v.At(Vec3{X: 1, Y: -1, Z: 0}); got != "LOG" {
		t.Fatalf("At: got %q want LOG", got)
	}
	if got := v.At(Vec3{X: 0, Y: 0, Z: 0}); got != "AIR" {
		t.Fatalf("center: got %q", got)
	}
	if got := v.At(Vec3{X: 2}); got != "" {
		t.Fatalf("outside cube: got %q", got)
	}

	v, err = d.Decode(protocol.VoxelsObs{Radius: r, Encoding: "DELTA", Ops: []protocol.VoxelDeltaOp{{D: [3]int{0, 0, 0}, B: 1}}})
	if err != nil {
		t.Fatalf("Decode delta: %v", err)
	}
	if v.At(Vec3{}) != "STONE" || v.At(Vec3{X: 1, Y: -1}) != "LOG" {
		t.Fatalf("delta not applied on base grid")
	}
}

func TestVoxelDecoder_DeltaWithoutBase(t *testing.T) {
	d := NewVoxelDecoder(nil)
	if _, err := d.Decode(protocol.VoxelsObs{Radius: 1, Encoding: "DELTA"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFromObs(t *testing.T) {
	obs := protocol.ObsMsg{
		Type:    protocol.TypeObs,
		Tick:    40,
		AgentID: "A1",
		World:   protocol.WorldObs{TimeOfDay: 0.9, Weather: "STORM", ActiveEvent: "BANDIT_CAMP", ActiveEventEndsTick: 100},
		Self:    protocol.SelfObs{Pos: [3]int{1, 2, 3}, HP: 15, Hunger: 5, Stamina: 1.4, Status: []string{"NONE", "COLD"}},
		Inventory: []protocol.ItemStack{
			{Item: "PLANK", Count: 4},
		},
		Equipment: protocol.EquipmentObs{MainHand: "NONE"},
		Entities: []protocol.EntityObs{
			{ID: "A1", Type: "AGENT"},
			{ID: "A2", Type: "AGENT", Pos: [3]int{3, 2, 3}},
		},
		Events: []protocol.Event{{"type": "ACTION_RESULT"}},
		Memory: []protocol.MemoryKV{{Key: "place:home", Value: "safe spot"}},
	}
	s := FromObs(obs, nil, time.Unix(0, 0))
	if s.Pos != (Vec3{1, 2, 3}) || s.Vitals.HP != 15 || s.Vitals.Stamina != 1 {
		t.Fatalf("self: %+v", s)
	}
	if s.MainHand != "" {
		t.Fatalf("main hand: %q", s.MainHand)
	}
	if s.NumEntities() != 1 {
		t.Fatalf("self entity not filtered: %d", s.NumEntities())
	}
	if !s.HasStatus("COLD") || s.HasStatus("NONE") {
		t.Fatalf("status: %v", s.Status())
	}
	if s.World.EventTicksLeft != 60 {
		t.Fatalf("event ticks: %d", s.World.EventTicksLeft)
	}
	if !s.Memory.Present || s.Memory.Places != 1 || s.Memory.PositiveRatio != 1 {
		t.Fatalf("memory: %+v", s.Memory)
	}
	if s.HasVoxels() {
		t.Fatalf("unexpected voxels")
	}
}

func TestGeometry(t *testing.T) {
	if c := (Vec3{X: -1, Z: 8}).Cell(); c != (Cell{X: -1, Z: 1}) {
		t.Fatalf("cell: %+v", c)
	}
	if d := HorizontalDistance(Vec3{0, 5, 0}, Vec3{3, 0, 4}); math.Abs(d-5) > 1e-9 {
		t.Fatalf("distance: %v", d)
	}
	c, ok := Centroid([]Vec3{{0, 0, 0}, {2, 0, 2}})
	if !ok || math.Abs(c.X()-1) > 1e-9 || math.Abs(c.Y()-1) > 1e-9 {
		t.Fatalf("centroid: %v", c)
	}
}

func TestSkillLevels(t *testing.T) {
	if LevelForXP(39.9) != 1 || LevelForXP(40) != 2 {
		t.Fatalf("levels: %d %d", LevelForXP(39.9), LevelForXP(40))
	}
	sk := Skill{Level: 1, XP: 25}
	if p := sk.Progress(); math.Abs(p-0.5) > 1e-9 {
		t.Fatalf("progress: %v", p)
	}
	var r Reading
	if r.Need(NeedHunger) != 1 || r.Mood(MoodStress) != 0 {
		t.Fatalf("absent reading must be neutral")
	}
}
