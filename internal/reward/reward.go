// Package reward shapes the scalar training signal from two successive snapshots
// and the agent's psychological state.
//
// Every term is evaluated in the same order: base value, then the term's cap,
// then the need-driven boost. A boost can therefore push a term past its cap.
package reward

import (
	"math"

	"github.com/paulmach/orb/planar"

	"voxelmind/internal/observe"
	"voxelmind/internal/psyche"
)

type Config struct {
	SurvivalBonus float64 `yaml:"survival_bonus"`
	SurvivalTau   float64 `yaml:"survival_tau"` // ticks to approach the full bonus
	SafetyBoost   float64 `yaml:"safety_boost"`

	DamageWeight    float64 `yaml:"damage_weight"`
	HealWeight      float64 `yaml:"heal_weight"`
	StressThreshold float64 `yaml:"stress_threshold"`
	StressDamping   float64 `yaml:"stress_damping"`
	HealthCap       float64 `yaml:"health_cap"`

	FoodLossWeight float64 `yaml:"food_loss_weight"`
	FoodGainWeight float64 `yaml:"food_gain_weight"`
	FoodCap        float64 `yaml:"food_cap"`

	NeedUnmet    float64 `yaml:"need_unmet"`    // need value below which a matching boost applies
	NeedCritical float64 `yaml:"need_critical"` // safety level for the survival boost
	UnmetBoost   float64 `yaml:"unmet_boost"`

	InventoryWeight float64 `yaml:"inventory_weight"`
	InventoryCap    float64 `yaml:"inventory_cap"`
	ToolBonus       float64 `yaml:"tool_bonus"`
	ToolCap         float64 `yaml:"tool_cap"`
	AchievementMult float64 `yaml:"achievement_mult"`
	CreativityMult  float64 `yaml:"creativity_mult"`

	MovementWeight  float64 `yaml:"movement_weight"`
	MovementCap     float64 `yaml:"movement_cap"`
	DiscoveryBonus  float64 `yaml:"discovery_bonus"`
	CuriosityMult   float64 `yaml:"curiosity_mult"`
	BoredomMult     float64 `yaml:"boredom_mult"`
	ExplorationMult float64 `yaml:"exploration_mult"`

	ClusterRadius float64 `yaml:"cluster_radius"`
	ClusterWeight float64 `yaml:"cluster_weight"`
	ClusterCap    float64 `yaml:"cluster_cap"`
	CoopBonus     float64 `yaml:"coop_bonus"`
	CoopCap       float64 `yaml:"coop_cap"`
	BondAffinity  float64 `yaml:"bond_affinity"`
	BondAmplify   float64 `yaml:"bond_amplify"`
	SocialMult    float64 `yaml:"social_mult"`
	LonelyMult    float64 `yaml:"lonely_mult"`

	ComfortBonus  float64 `yaml:"comfort_bonus"`
	CreativeBonus float64 `yaml:"creative_bonus"`
	RestBonus     float64 `yaml:"rest_bonus"`

	SkillLevelBonus float64 `yaml:"skill_level_bonus"`
	SkillCap        float64 `yaml:"skill_cap"`

	StatusPenalty map[string]float64 `yaml:"status_penalty"`
	StatusCap     float64            `yaml:"status_cap"`

	DeathPenalty   float64 `yaml:"death_penalty"`
	FailurePenalty float64 `yaml:"failure_penalty"`
}

func DefaultConfig() Config {
	return Config{
		SurvivalBonus: 0.05,
		SurvivalTau:   500,
		SafetyBoost:   1.5,

		DamageWeight:    2.0,
		HealWeight:      0.5,
		StressThreshold: 0.7,
		StressDamping:   0.7,
		HealthCap:       20,

		FoodLossWeight: 0.4,
		FoodGainWeight: 0.25,
		FoodCap:        5,

		NeedUnmet:    0.4,
		NeedCritical: 0.3,
		UnmetBoost:   1.5,

		InventoryWeight: 0.1,
		InventoryCap:    1.0,
		ToolBonus:       2.0,
		ToolCap:         4.0,
		AchievementMult: 0.5,
		CreativityMult:  0.5,

		MovementWeight:  0.02,
		MovementCap:     0.2,
		DiscoveryBonus:  0.5,
		CuriosityMult:   0.5,
		BoredomMult:     0.5,
		ExplorationMult: 0.5,

		ClusterRadius: 8,
		ClusterWeight: 0.05,
		ClusterCap:    0.3,
		CoopBonus:     0.3,
		CoopCap:       0.6,
		BondAffinity:  0.3,
		BondAmplify:   1.5,
		SocialMult:    0.5,
		LonelyMult:    0.5,

		ComfortBonus:  0.05,
		CreativeBonus: 0.3,
		RestBonus:     0.2,

		SkillLevelBonus: 1.0,
		SkillCap:        3.0,

		StatusPenalty: map[string]float64{"STARVING": 0.3, "BURNING": 0.3, "POISONED": 0.2},
		StatusCap:     1.0,

		DeathPenalty:   10,
		FailurePenalty: 0.01,
	}
}

type Input struct {
	Prev    observe.Snapshot
	Cur     observe.Snapshot
	Action  string
	Success bool
}

// Breakdown lists every term of one reward.
type Breakdown struct {
	Survival    float64
	Health      float64
	Food        float64
	Inventory   float64
	Tools       float64
	Movement    float64
	Discovery   float64
	Clustering  float64
	Cooperation float64
	Comfort     float64
	Creativity  float64
	Rest        float64
	SkillUp     float64
	Status      float64
	Death       float64
	Failure     float64
}

func (b Breakdown) Total() float64 {
	var sum float64
	for _, t := range b.Terms() {
		sum += t.Value
	}
	return sum
}

type Term struct {
	Name  string
	Value float64
}

func (b Breakdown) Terms() []Term {
	return []Term{
		{"survival", b.Survival},
		{"health", b.Health},
		{"food", b.Food},
		{"inventory", b.Inventory},
		{"tools", b.Tools},
		{"movement", b.Movement},
		{"discovery", b.Discovery},
		{"clustering", b.Clustering},
		{"cooperation", b.Cooperation},
		{"comfort", b.Comfort},
		{"creativity", b.Creativity},
		{"rest", b.Rest},
		{"skill_up", b.SkillUp},
		{"status", b.Status},
		{"death", b.Death},
		{"failure", b.Failure},
	}
}

type Function struct{ cfg Config }

func New(cfg Config) *Function { return &Function{cfg: cfg} }

// Compute is pure. Terms whose context is missing contribute zero; non-finite
// terms are zeroed.
func (f *Function) Compute(in Input) Breakdown {
	c := f.cfg
	prev, cur := in.Prev, in.Cur
	r := cur.Psyche
	hasPrev := prev.AgentID != "" || prev.Tick != 0 || prev.Vitals.MaxHP != 0

	var b Breakdown

	if !cur.Vitals.Dead {
		base := c.SurvivalBonus
		if c.SurvivalTau > 0 {
			base *= 1 - math.Exp(-float64(cur.Vitals.Age)/c.SurvivalTau)
		}
		b.Survival = boostIf(capAbs(base, c.SurvivalBonus), r.Present && r.Need(psyche.NeedSafety) < c.NeedCritical, c.SafetyBoost)
	}

	if hasPrev {
		b.Health = f.healthTerm(float64(cur.Vitals.HP-prev.Vitals.HP), r)

		dh := float64(cur.Vitals.Hunger - prev.Vitals.Hunger)
		base := dh * c.FoodGainWeight
		if dh < 0 {
			base = dh * c.FoodLossWeight
		}
		b.Food = boostIf(capAbs(base, c.FoodCap), f.unmet(r, psyche.NeedHunger), c.UnmetBoost)

		if gain := cur.TotalItems() - prev.TotalItems(); gain > 0 {
			base := capAbs(float64(gain)*c.InventoryWeight, c.InventoryCap)
			b.Inventory = base * (1 + deficit(r, psyche.NeedAchievement)*c.AchievementMult)
		}

		if gain := toolCount(cur) - toolCount(prev); gain > 0 {
			base := capAbs(float64(gain)*c.ToolBonus, c.ToolCap)
			b.Tools = base * (1 + deficit(r, psyche.NeedAchievement)*c.AchievementMult + deficit(r, psyche.NeedCreativity)*c.CreativityMult)
		}

		if moved := observe.HorizontalDistance(prev.Pos, cur.Pos); moved > 0 {
			base := capAbs(moved*c.MovementWeight, c.MovementCap)
			b.Movement = base * (1 + r.Mood(psyche.MoodBoredom)*c.BoredomMult + deficit(r, psyche.NeedExploration)*c.ExplorationMult)
		}

		for _, sk := range cur.Skills() {
			if up := sk.Level - prev.SkillLevel(sk.Name); up > 0 && len(prev.Skills()) > 0 {
				b.SkillUp += float64(up) * c.SkillLevelBonus
			}
		}
		b.SkillUp = capAbs(b.SkillUp, c.SkillCap)

		if cur.Vitals.Dead && !prev.Vitals.Dead {
			b.Death = -c.DeathPenalty
		}
	}

	if r.Present && r.CellVisits == 0 {
		b.Discovery = c.DiscoveryBonus * (1 + r.Mood(psyche.MoodCuriosity)*c.CuriosityMult + deficit(r, psyche.NeedExploration)*c.ExplorationMult)
	}

	near, bonded, cohesion := f.neighbours(cur)
	socialBoost := 1 + deficit(r, psyche.NeedSocial)*c.SocialMult + r.Mood(psyche.MoodLoneliness)*c.LonelyMult
	if near > 0 {
		base := (float64(near-bonded) + float64(bonded)*c.BondAmplify) * c.ClusterWeight * (0.5 + 0.5*cohesion)
		b.Clustering = capAbs(base, c.ClusterCap) * socialBoost
	}
	if in.Success && near > 0 && isCooperative(in.Action) {
		base := c.CoopBonus
		if bonded > 0 {
			base *= c.BondAmplify
		}
		b.Cooperation = capAbs(base, c.CoopCap) * socialBoost
	}

	night := cur.World.TimeOfDay < 0.25 || cur.World.TimeOfDay > 0.75
	if night && cur.HasVoxels() && observe.IsSolidBlock(cur.BlockAt(observe.Vec3{Y: 2})) {
		b.Comfort = c.ComfortBonus * (1 + deficit(r, psyche.NeedComfort))
	}
	if in.Success && isCreative(in.Action) {
		b.Creativity = c.CreativeBonus * (1 + deficit(r, psyche.NeedCreativity)*c.CreativityMult)
	}
	if in.Success && in.Action == "REST" && hasPrev && prev.Vitals.Stamina < 0.5 {
		b.Rest = boostIf(c.RestBonus, f.unmet(r, psyche.NeedRest), c.UnmetBoost)
	}

	for _, st := range cur.Status() {
		b.Status -= c.StatusPenalty[st]
	}
	b.Status = capAbs(b.Status, c.StatusCap)

	if in.Action != "" && !in.Success {
		b.Failure = -c.FailurePenalty
	}

	sanitize(&b)
	return b
}

// healthTerm weights damage by DamageWeight (dampened under high stress) and
// healing by HealWeight, caps, then boosts when safety is unmet.
func (f *Function) healthTerm(delta float64, r observe.Reading) float64 {
	c := f.cfg
	var base float64
	switch {
	case delta < 0:
		base = delta * c.DamageWeight
		if r.Present && r.Mood(psyche.MoodStress) >= c.StressThreshold {
			base *= c.StressDamping
		}
	case delta > 0:
		base = delta * c.HealWeight
	default:
		return 0
	}
	return boostIf(capAbs(base, c.HealthCap), f.unmet(r, psyche.NeedSafety), c.UnmetBoost)
}

// neighbours counts agents within ClusterRadius, how many of them are bonded,
// and how close the agent stands to the group's horizontal centroid (1 = at it).
func (f *Function) neighbours(s observe.Snapshot) (near, bonded int, cohesion float64) {
	group := []observe.Vec3{s.Pos}
	for _, e := range s.Entities() {
		if e.Type != "AGENT" || observe.Distance(e.Pos, s.Pos) > f.cfg.ClusterRadius {
			continue
		}
		near++
		group = append(group, e.Pos)
		if rel, ok := s.Relationship(e.ID); ok && rel.Affinity > f.cfg.BondAffinity {
			bonded++
		}
	}
	if near == 0 || f.cfg.ClusterRadius <= 0 {
		return near, bonded, 0
	}
	c, _ := observe.Centroid(group)
	d := planar.Distance(s.Pos.Flat(), c)
	return near, bonded, 1 - math.Min(1, d/f.cfg.ClusterRadius)
}

func (f *Function) unmet(r observe.Reading, n psyche.Need) bool {
	return r.Present && r.Need(n) < f.cfg.NeedUnmet
}

// deficit is 1-need, or 0 without a psyche.
func deficit(r observe.Reading, n psyche.Need) float64 {
	if !r.Present {
		return 0
	}
	return 1 - r.Need(n)
}

func boostIf(x float64, cond bool, mult float64) float64 {
	if cond && mult > 0 {
		return x * mult
	}
	return x
}

// capAbs bounds |x| by limit; a non-positive limit disables the cap.
func capAbs(x, limit float64) float64 {
	if limit <= 0 {
		return x
	}
	return math.Max(-limit, math.Min(limit, x))
}

func toolCount(s observe.Snapshot) int {
	n := 0
	for _, it := range s.Inventory() {
		if observe.IsTool(it.Item) {
			n += it.Count
		}
	}
	return n
}

func isCooperative(action string) bool {
	switch action {
	case "SAY", "OFFER_TRADE", "FOLLOW_AGENT":
		return true
	}
	return false
}

func isCreative(action string) bool {
	switch action {
	case "BUILD_SHELTER", "PLACE_BLOCK", "PLACE_TORCH", "CRAFT_TOOL":
		return true
	}
	return false
}

func sanitize(b *Breakdown) {
	for _, p := range []*float64{
		&b.Survival, &b.Health, &b.Food, &b.Inventory, &b.Tools, &b.Movement, &b.Discovery,
		&b.Clustering, &b.Cooperation, &b.Comfort, &b.Creativity, &b.Rest, &b.SkillUp,
		&b.Status, &b.Death, &b.Failure,
	} {
		if math.IsNaN(*p) || math.IsInf(*p, 0) {
			*p = 0
		}
	}
}
