package observe

import "math"

// Need values live in [0,1]; 1 means fully satisfied, 0 means critical.
type Need int

const (
	NeedHunger Need = iota
	NeedSafety
	NeedRest
	NeedSocial
	NeedAchievement
	NeedCreativity
	NeedCuriosity
	NeedComfort
	NeedExploration
	NeedAutonomy

	NumNeeds = 10
)

var needNames = [NumNeeds]string{
	"hunger", "safety", "rest", "social", "achievement",
	"creativity", "curiosity", "comfort", "exploration", "autonomy",
}

func (n Need) String() string {
	if n < 0 || int(n) >= NumNeeds {
		return "unknown"
	}
	return needNames[n]
}

func ParseNeed(s string) (Need, bool) {
	for i, name := range needNames {
		if name == s {
			return Need(i), true
		}
	}
	return 0, false
}

// Mood intensities live in [0,1].
type Mood int

const (
	MoodStress Mood = iota
	MoodFear
	MoodBoredom
	MoodLoneliness
	MoodHappiness
	MoodCuriosity
	MoodAnger
	MoodPride
	MoodCalm
	MoodExcitement

	NumMoods = 10
)

var moodNames = [NumMoods]string{
	"stress", "fear", "boredom", "loneliness", "happiness",
	"curiosity", "anger", "pride", "calm", "excitement",
}

func (m Mood) String() string {
	if m < 0 || int(m) >= NumMoods {
		return "unknown"
	}
	return moodNames[m]
}

// Reading is a point-in-time copy of an agent's psychological state.
// Present=false means no psyche is attached and every consumer must fall back to neutral values.
type Reading struct {
	Present bool
	Needs   [NumNeeds]float64
	Moods   [NumMoods]float64

	// CellVisits is how often the agent had been in its current discovery cell before this step.
	CellVisits    int
	CellsExplored int
}

func (r Reading) Need(n Need) float64 {
	if !r.Present || n < 0 || int(n) >= NumNeeds {
		return 1
	}
	return r.Needs[n]
}

func (r Reading) Mood(m Mood) float64 {
	if !r.Present || m < 0 || int(m) >= NumMoods {
		return 0
	}
	return r.Moods[m]
}

// Relationship is the agent's bond with another agent.
type Relationship struct {
	AgentID      string
	Affinity     float64 // -1..1
	Trust        float64 // 0..1
	Familiarity  float64 // 0..1
	Interactions int
	LastSeenTick uint64
}

type Skill struct {
	Name  string
	Level int
	XP    float64
}

// XPForLevel is the cumulative XP at which level l is reached.
func XPForLevel(l int) float64 {
	if l <= 0 {
		return 0
	}
	return 10 * float64(l) * float64(l)
}

func LevelForXP(xp float64) int {
	if xp <= 0 || math.IsNaN(xp) {
		return 0
	}
	return int(math.Floor(math.Sqrt(xp / 10)))
}

// Progress is the fraction of the way from the current level to the next.
func (s Skill) Progress() float64 {
	lo := XPForLevel(s.Level)
	hi := XPForLevel(s.Level + 1)
	if hi <= lo {
		return 0
	}
	return clamp01((s.XP - lo) / (hi - lo))
}
