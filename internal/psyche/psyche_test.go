package psyche

import (
	"testing"

	"voxelmind/internal/observe"
)

func baseSnap() observe.Snapshot {
	return observe.Snapshot{
		AgentID: "A1",
		Vitals:  observe.Vitals{HP: 20, MaxHP: 20, Hunger: 20, MaxHunger: 20, Stamina: 1},
		World:   observe.WorldInfo{TimeOfDay: 0.5, Weather: "CLEAR"},
	}
}

func TestNew_StartsNeutral(t *testing.T) {
	s := New("A1")
	r := s.ReadingAt(observe.Vec3{})
	if !r.Present {
		t.Fatalf("reading must be present")
	}
	if r.Need(NeedHunger) != 1 || r.Need(NeedSafety) != 1 {
		t.Fatalf("needs: %+v", r.Needs)
	}
	if r.CellVisits != 0 || r.CellsExplored != 0 {
		t.Fatalf("cells: %+v", r)
	}
}

func TestObserve_TracksCellsAndHunger(t *testing.T) {
	s := New("A1")
	snap := baseSnap()
	snap.Vitals.Hunger = 5
	s.Observe(snap, Act{Name: "IDLE", Success: true})

	r := s.ReadingAt(snap.Pos)
	if r.CellVisits != 1 || r.CellsExplored != 1 {
		t.Fatalf("cells after one step: %+v", r)
	}
	if got := r.Need(NeedHunger); got != 0.25 {
		t.Fatalf("hunger need: got %v want 0.25", got)
	}
	far := observe.Vec3{X: 40}
	if s.ReadingAt(far).CellVisits != 0 {
		t.Fatalf("unvisited cell reports visits")
	}
}

func TestObserve_HostileRaisesFear(t *testing.T) {
	s := New("A1")
	snap := baseSnap().WithEntities([]observe.Entity{{ID: "B", Type: "HOSTILE", Pos: observe.Vec3{X: 1}}})
	before := s.ReadingAt(snap.Pos)
	for i := 0; i < 5; i++ {
		s.Observe(snap, Act{Name: "IDLE", Success: true})
	}
	after := s.ReadingAt(snap.Pos)
	if after.Mood(MoodFear) <= before.Mood(MoodFear) {
		t.Fatalf("fear did not rise: %v -> %v", before.Mood(MoodFear), after.Mood(MoodFear))
	}
	if after.Need(NeedSafety) >= 1 {
		t.Fatalf("safety should drop near hostiles: %v", after.Need(NeedSafety))
	}
}

func TestObserve_BondsAndSkills(t *testing.T) {
	s := New("A1")
	snap := baseSnap().WithEntities([]observe.Entity{{ID: "A2", Type: "AGENT", Pos: observe.Vec3{X: 2}}})
	for i := 0; i < 10; i++ {
		s.Observe(snap, Act{Name: "SAY", Category: SkillSocial, Success: true})
	}
	rels := s.Relationships()
	if len(rels) != 1 || rels[0].AgentID != "A2" {
		t.Fatalf("relationships: %+v", rels)
	}
	if rels[0].Interactions != 10 || rels[0].Affinity <= 0 {
		t.Fatalf("bond not strengthened: %+v", rels[0])
	}
	var social observe.Skill
	for _, sk := range s.Skills() {
		if sk.Name == SkillSocial {
			social = sk
		}
	}
	if social.XP != 10 || social.Level != 1 {
		t.Fatalf("social skill: %+v", social)
	}
}

func TestDecorate(t *testing.T) {
	s := New("A1")
	d := s.Decorate(baseSnap())
	if !d.Psyche.Present || len(d.Skills()) != len(SkillNames) {
		t.Fatalf("decorate: %+v", d.Psyche)
	}
}
