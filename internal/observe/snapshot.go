package observe

import (
	"sort"
	"time"
)

type Vec3 struct{ X, Y, Z int }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func VecFromArray(a [3]int) Vec3 { return Vec3{X: a[0], Y: a[1], Z: a[2]} }

type Vitals struct {
	HP        int
	MaxHP     int
	Hunger    int // 0 = starving, MaxHunger = full
	MaxHunger int
	Stamina   float64 // 0..1
	Dead      bool
	Age       uint64 // ticks since spawn
}

type ItemStack struct {
	Item  string
	Count int
}

type Entity struct {
	ID         string
	Type       string // "AGENT", "ITEM", "CHEST", "HOSTILE", ...
	Pos        Vec3
	Tags       []string
	Reputation float64
	Item       string
	Count      int
}

func (e Entity) Hostile() bool {
	if e.Type == "HOSTILE" || e.Type == "BANDIT" {
		return true
	}
	for _, t := range e.Tags {
		if t == "HOSTILE" {
			return true
		}
	}
	return false
}

type WorldInfo struct {
	TimeOfDay      float64 // 0..1
	Weather        string
	Biome          string
	SeasonDay      int
	ActiveEvent    string
	EventTicksLeft uint64
}

type LocalRules struct {
	Present   bool
	Role      string
	CanBuild  bool
	CanBreak  bool
	CanDamage bool
	MarketTax float64
}

type FunScore struct {
	Present    bool
	Novelty    int
	Creation   int
	Social     int
	Influence  int
	Narrative  int
	RiskRescue int
}

type MemorySummary struct {
	Present       bool
	Entries       int
	Places        int
	Agents        int
	PositiveRatio float64
	RecentDanger  bool
}

type Task struct {
	Kind     string
	Progress float64
}

// GoalView is the active-goal context attached by the goal manager. A zero ID means no goal.
type GoalView struct {
	ID        string
	Progress  float64 // 0..1
	Elapsed   float64 // fraction of the duration budget used
	Emergency bool
}

// Voxels is a cube of block names around Center, ordered dy outer, dz middle, dx inner.
type Voxels struct {
	Center Vec3
	Radius int
	blocks []string
}

func NewVoxels(center Vec3, radius int, blocks []string) *Voxels {
	dim := 2*radius + 1
	out := make([]string, dim*dim*dim)
	copy(out, blocks)
	return &Voxels{Center: center, Radius: radius, blocks: out}
}

// At returns the block at offset d from Center, or "" when outside the cube.
func (v *Voxels) At(d Vec3) string {
	if v == nil {
		return ""
	}
	r := v.Radius
	if d.X < -r || d.X > r || d.Y < -r || d.Y > r || d.Z < -r || d.Z > r {
		return ""
	}
	dim := 2*r + 1
	i := ((d.Y+r)*dim+(d.Z+r))*dim + (d.X + r)
	return v.blocks[i]
}

// Snapshot is an immutable read of world and agent state at one decision instant.
// Scalar fields are copied with the value; collections are private and read through
// accessors that return copies.
type Snapshot struct {
	AgentID string
	Tick    uint64
	At      time.Time

	Pos      Vec3
	Yaw      int
	Vitals   Vitals
	MainHand string

	World  WorldInfo
	Rules  LocalRules
	Fun    FunScore
	Memory MemorySummary
	Goal   GoalView
	Psyche Reading

	inventory     []ItemStack
	status        []string
	entities      []Entity
	voxels        *Voxels
	relationships []Relationship
	skills        []Skill
	events        []string
	tasks         []Task
}

func (s Snapshot) WithInventory(items []ItemStack) Snapshot {
	merged := map[string]int{}
	for _, it := range items {
		if it.Item == "" || it.Count <= 0 {
			continue
		}
		merged[it.Item] += it.Count
	}
	out := make([]ItemStack, 0, len(merged))
	for k, n := range merged {
		out = append(out, ItemStack{Item: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	s.inventory = out
	return s
}

func (s Snapshot) WithStatus(status []string) Snapshot {
	out := make([]string, 0, len(status))
	for _, st := range status {
		if st == "" || st == "NONE" {
			continue
		}
		out = append(out, st)
	}
	s.status = out
	return s
}

func (s Snapshot) WithEntities(ents []Entity) Snapshot {
	out := make([]Entity, len(ents))
	for i, e := range ents {
		e.Tags = append([]string(nil), e.Tags...)
		out[i] = e
	}
	s.entities = out
	return s
}

func (s Snapshot) WithVoxels(v *Voxels) Snapshot {
	if v == nil {
		s.voxels = nil
		return s
	}
	s.voxels = NewVoxels(v.Center, v.Radius, v.blocks)
	return s
}

func (s Snapshot) WithRelationships(rels []Relationship) Snapshot {
	s.relationships = append([]Relationship(nil), rels...)
	return s
}

func (s Snapshot) WithSkills(skills []Skill) Snapshot {
	s.skills = append([]Skill(nil), skills...)
	return s
}

func (s Snapshot) WithEvents(types []string) Snapshot {
	s.events = append([]string(nil), types...)
	return s
}

func (s Snapshot) WithTasks(tasks []Task) Snapshot {
	s.tasks = append([]Task(nil), tasks...)
	return s
}

func (s Snapshot) WithGoal(g GoalView) Snapshot {
	s.Goal = g
	return s
}

func (s Snapshot) WithPsyche(r Reading) Snapshot {
	s.Psyche = r
	return s
}

func (s Snapshot) Inventory() []ItemStack { return append([]ItemStack(nil), s.inventory...) }

func (s Snapshot) Count(item string) int {
	i := sort.Search(len(s.inventory), func(i int) bool { return s.inventory[i].Item >= item })
	if i < len(s.inventory) && s.inventory[i].Item == item {
		return s.inventory[i].Count
	}
	return 0
}

// TotalItems is the sum of all stack counts ("inventory size").
func (s Snapshot) TotalItems() int {
	n := 0
	for _, it := range s.inventory {
		n += it.Count
	}
	return n
}

func (s Snapshot) Status() []string { return append([]string(nil), s.status...) }

func (s Snapshot) HasStatus(name string) bool {
	for _, st := range s.status {
		if st == name {
			return true
		}
	}
	return false
}

func (s Snapshot) Entities() []Entity { return s.WithEntities(s.entities).entities }

func (s Snapshot) NumEntities() int { return len(s.entities) }

func (s Snapshot) Voxels() (*Voxels, bool) {
	if s.voxels == nil {
		return nil, false
	}
	return NewVoxels(s.voxels.Center, s.voxels.Radius, s.voxels.blocks), true
}

// BlockAt reads the neighborhood without copying; "" when voxels are absent.
func (s Snapshot) BlockAt(d Vec3) string { return s.voxels.At(d) }

func (s Snapshot) HasVoxels() bool { return s.voxels != nil }

func (s Snapshot) Relationships() []Relationship {
	return append([]Relationship(nil), s.relationships...)
}

func (s Snapshot) Relationship(agentID string) (Relationship, bool) {
	for _, r := range s.relationships {
		if r.AgentID == agentID {
			return r, true
		}
	}
	return Relationship{}, false
}

func (s Snapshot) Skills() []Skill { return append([]Skill(nil), s.skills...) }

func (s Snapshot) SkillLevel(name string) int {
	for _, sk := range s.skills {
		if sk.Name == name {
			return sk.Level
		}
	}
	return 0
}

func (s Snapshot) Events() []string { return append([]string(nil), s.events...) }

func (s Snapshot) HasEvent(t string) bool {
	for _, e := range s.events {
		if e == t {
			return true
		}
	}
	return false
}

func (s Snapshot) Tasks() []Task { return append([]Task(nil), s.tasks...) }

// HPRatio and HungerRatio guard against zero maxima from partial payloads.
func (s Snapshot) HPRatio() float64 {
	if s.Vitals.MaxHP <= 0 {
		return 0
	}
	return clamp01(float64(s.Vitals.HP) / float64(s.Vitals.MaxHP))
}

func (s Snapshot) HungerRatio() float64 {
	if s.Vitals.MaxHunger <= 0 {
		return 0
	}
	return clamp01(float64(s.Vitals.Hunger) / float64(s.Vitals.MaxHunger))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
