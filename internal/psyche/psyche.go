// Package psyche tracks the long-lived internal state of one agent: needs, moods,
// bonds with other agents, skill experience and which parts of the world it has seen.
package psyche

import (
	"context"
	"math"
	"sort"
	"sync"

	"voxelmind/internal/observe"
)

type (
	Need = observe.Need
	Mood = observe.Mood
)

const (
	NeedHunger      = observe.NeedHunger
	NeedSafety      = observe.NeedSafety
	NeedRest        = observe.NeedRest
	NeedSocial      = observe.NeedSocial
	NeedAchievement = observe.NeedAchievement
	NeedCreativity  = observe.NeedCreativity
	NeedCuriosity   = observe.NeedCuriosity
	NeedComfort     = observe.NeedComfort
	NeedExploration = observe.NeedExploration
	NeedAutonomy    = observe.NeedAutonomy

	MoodStress     = observe.MoodStress
	MoodFear       = observe.MoodFear
	MoodBoredom    = observe.MoodBoredom
	MoodLoneliness = observe.MoodLoneliness
	MoodHappiness  = observe.MoodHappiness
	MoodCuriosity  = observe.MoodCuriosity
	MoodAnger      = observe.MoodAnger
	MoodPride      = observe.MoodPride
	MoodCalm       = observe.MoodCalm
	MoodExcitement = observe.MoodExcitement
)

// Skill names, one per action category.
const (
	SkillMining    = "mining"
	SkillGathering = "gathering"
	SkillCrafting  = "crafting"
	SkillBuilding  = "building"
	SkillSocial    = "social"
	SkillSurvival  = "survival"
)

var SkillNames = []string{SkillMining, SkillGathering, SkillCrafting, SkillBuilding, SkillSocial, SkillSurvival}

const (
	nearbyRadius  = 8.0
	dangerRadius  = 6.0
	repeatToBored = 4
)

// Act is what the agent just did, as seen by the psyche.
type Act struct {
	Name     string
	Category string // skill name or ""
	Success  bool
}

// MemoryProvider supplies episodic-memory summaries on a best-effort basis.
type MemoryProvider interface {
	Summary(ctx context.Context, agentID string) (observe.MemorySummary, bool)
}

type State struct {
	mu sync.Mutex

	agentID string
	needs   [observe.NumNeeds]float64
	moods   [observe.NumMoods]float64
	bonds   map[string]*observe.Relationship
	xp      map[string]float64
	cells   map[observe.Cell]int

	lastAction string
	repeats    int
	lastKinds  int
}

// New builds the psyche of a freshly spawned agent.
func New(agentID string) *State {
	s := &State{
		agentID: agentID,
		bonds:   map[string]*observe.Relationship{},
		xp:      map[string]float64{},
		cells:   map[observe.Cell]int{},
	}
	for i := range s.needs {
		s.needs[i] = 0.7
	}
	s.needs[NeedHunger] = 1
	s.needs[NeedSafety] = 1
	s.needs[NeedRest] = 1
	s.moods[MoodCalm] = 0.6
	s.moods[MoodHappiness] = 0.5
	return s
}

func (s *State) AgentID() string { return s.agentID }

// ReadingAt copies the current state. CellVisits reports visits to pos's cell so far.
func (s *State) ReadingAt(pos observe.Vec3) observe.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return observe.Reading{
		Present:       true,
		Needs:         s.needs,
		Moods:         s.moods,
		CellVisits:    s.cells[pos.Cell()],
		CellsExplored: len(s.cells),
	}
}

// Relationships returns bonds sorted by agent id.
func (s *State) Relationships() []observe.Relationship {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]observe.Relationship, 0, len(s.bonds))
	for _, b := range s.bonds {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (s *State) Skills() []observe.Skill {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]observe.Skill, 0, len(SkillNames))
	for _, name := range SkillNames {
		xp := s.xp[name]
		out = append(out, observe.Skill{Name: name, Level: observe.LevelForXP(xp), XP: xp})
	}
	return out
}

// Decorate attaches the psyche-derived views (reading, bonds, skills) to a snapshot.
func (s *State) Decorate(snap observe.Snapshot) observe.Snapshot {
	return snap.WithPsyche(s.ReadingAt(snap.Pos)).
		WithRelationships(s.Relationships()).
		WithSkills(s.Skills())
}

// Observe folds the outcome of one step into the state.
func (s *State) Observe(snap observe.Snapshot, act Act) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cell := snap.Pos.Cell()
	newCell := s.cells[cell] == 0
	s.cells[cell]++

	if act.Name == s.lastAction {
		s.repeats++
	} else {
		s.repeats = 0
	}
	s.lastAction = act.Name

	nearAgents, hostileProx := 0, 0.0
	for _, e := range snap.Entities() {
		d := observe.Distance(e.Pos, snap.Pos)
		if e.Hostile() && d < dangerRadius {
			hostileProx = math.Max(hostileProx, 1-d/dangerRadius)
		}
		if e.Type == "AGENT" && d <= nearbyRadius {
			nearAgents++
			s.touchBond(e, snap.Tick, act)
		}
	}
	night := isNight(snap.World.TimeOfDay)

	// physiological needs follow the body directly
	if snap.Vitals.MaxHunger > 0 {
		s.needs[NeedHunger] = snap.HungerRatio()
	}
	safety := snap.HPRatio() - 0.5*hostileProx
	if night && snap.Count("TORCH") == 0 {
		safety -= 0.1
	}
	if snap.World.Weather == "STORM" {
		safety -= 0.1
	}
	if snap.World.ActiveEvent == "BANDIT_CAMP" {
		safety -= 0.1
	}
	if snap.Vitals.MaxHP == 0 {
		safety = s.needs[NeedSafety]
	}
	s.needs[NeedSafety] = clamp01(safety)
	s.needs[NeedRest] = blend(s.needs[NeedRest], snap.Vitals.Stamina, 0.5)

	// psychological needs decay and are replenished by matching activity
	s.needs[NeedSocial] -= 0.005
	s.needs[NeedSocial] += 0.02 * math.Min(float64(nearAgents), 3)
	s.needs[NeedAchievement] -= 0.003
	s.needs[NeedCreativity] -= 0.002
	s.needs[NeedCuriosity] -= 0.004
	s.needs[NeedExploration] -= 0.004
	if newCell {
		s.needs[NeedCuriosity] += 0.1
		s.needs[NeedExploration] += 0.15
	}
	if act.Success {
		s.needs[NeedAutonomy] += 0.01
		switch act.Category {
		case SkillCrafting:
			s.needs[NeedAchievement] += 0.1
			s.needs[NeedCreativity] += 0.05
		case SkillBuilding:
			s.needs[NeedCreativity] += 0.15
			s.needs[NeedAchievement] += 0.05
		case SkillMining, SkillGathering:
			s.needs[NeedAchievement] += 0.03
		case SkillSocial:
			s.needs[NeedSocial] += 0.1
		}
		s.xp[act.Category] += 1
	} else if act.Name != "" {
		s.needs[NeedAutonomy] -= 0.02
		s.xp[act.Category] += 0.2
	}
	delete(s.xp, "")
	comfort := 0.8
	if night {
		comfort -= 0.2
	}
	if snap.World.Weather == "COLD" || snap.HasStatus("COLD") {
		comfort -= 0.3
	}
	if snap.World.Weather == "STORM" {
		comfort -= 0.2
	}
	if snap.BlockAt(observe.Vec3{Y: 2}) != "" && snap.BlockAt(observe.Vec3{Y: 2}) != "AIR" {
		comfort += 0.2 // roof overhead
	}
	s.needs[NeedComfort] = blend(s.needs[NeedComfort], comfort, 0.2)
	for i := range s.needs {
		s.needs[i] = clamp01(s.needs[i])
	}

	// moods track needs with inertia
	urgent := math.Min(s.needs[NeedSafety], math.Min(s.needs[NeedHunger], s.needs[NeedRest]))
	s.moods[MoodStress] = blend(s.moods[MoodStress], 1-urgent, 0.3)
	s.moods[MoodFear] = blend(s.moods[MoodFear], math.Max(hostileProx, 1-snap.HPRatio()), 0.4)
	if newCell {
		s.moods[MoodBoredom] -= 0.2
	} else if s.repeats >= repeatToBored {
		s.moods[MoodBoredom] += 0.03
	} else {
		s.moods[MoodBoredom] += 0.01
	}
	s.moods[MoodLoneliness] = blend(s.moods[MoodLoneliness], 1-s.needs[NeedSocial], 0.1)
	s.moods[MoodHappiness] = blend(s.moods[MoodHappiness], mean(s.needs[:]), 0.1)
	novelty := 0.2
	if newCell {
		novelty = 1
	}
	s.moods[MoodCuriosity] = blend(s.moods[MoodCuriosity], novelty, 0.2)
	s.moods[MoodAnger] *= 0.95
	s.moods[MoodPride] *= 0.97
	s.moods[MoodExcitement] *= 0.9
	if act.Name != "" && !act.Success {
		s.moods[MoodAnger] += 0.05
	}
	if act.Success && (act.Category == SkillCrafting || act.Category == SkillBuilding) {
		s.moods[MoodPride] += 0.2
	}
	kinds := len(snap.Inventory())
	if kinds > s.lastKinds {
		s.moods[MoodExcitement] += 0.2
	}
	s.lastKinds = kinds
	s.moods[MoodCalm] = blend(s.moods[MoodCalm], 1-0.5*(s.moods[MoodStress]+s.moods[MoodFear]), 0.2)
	for i := range s.moods {
		s.moods[i] = clamp01(s.moods[i])
	}
}

func (s *State) touchBond(e observe.Entity, tick uint64, act Act) {
	b, ok := s.bonds[e.ID]
	if !ok {
		b = &observe.Relationship{AgentID: e.ID, Trust: 0.5}
		s.bonds[e.ID] = b
	}
	b.Familiarity = clamp01(b.Familiarity + 0.02)
	b.LastSeenTick = tick
	if e.Reputation != 0 {
		b.Trust = blend(b.Trust, clamp01(0.5+0.5*e.Reputation), 0.1)
	}
	if act.Category == SkillSocial {
		b.Interactions++
		if act.Success {
			b.Affinity = clampSigned(b.Affinity + 0.05)
			b.Trust = clamp01(b.Trust + 0.02)
		} else {
			b.Affinity = clampSigned(b.Affinity - 0.02)
		}
	}
}

func isNight(tod float64) bool { return tod < 0.25 || tod > 0.75 }

func blend(cur, target, k float64) float64 { return cur + (target-cur)*k }

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp01(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func clampSigned(x float64) float64 {
	if x < -1 {
		return -1
	}
	if x > 1 {
		return 1
	}
	return x
}
