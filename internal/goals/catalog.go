package goals

import (
	"time"

	"voxelmind/internal/observe"
	"voxelmind/internal/psyche"
)

const (
	GatherResources = "GATHER_RESOURCES"
	ExploreArea     = "EXPLORE_AREA"
	FindFood        = "FIND_FOOD"
	CraftTools      = "CRAFT_TOOLS"
	BuildShelter    = "BUILD_SHELTER"
	Socialize       = "SOCIALIZE"
	TradeGoods      = "TRADE_GOODS"
	RestUp          = "REST_UP"
	LightUp         = "LIGHT_UP"
	ImproveSkill    = "IMPROVE_SKILL"

	SeekSafety   = "SEEK_SAFETY"
	EatNow       = "EAT_NOW"
	CollapseRest = "COLLAPSE_REST"

	NumGoals = 13
)

const (
	gatherThreshold  = 5
	exploreCells     = 3
	exploreDistance  = 24
	foodThreshold    = 2
	shelterXP        = 3
	socialXP         = 2
	tradeXP          = 3
	restedStamina    = 0.95
	safeNeed         = 0.5
	fedRatio         = 0.5
	recoveredStamina = 0.6
)

// Goal is a temporally-extended objective. Success and Progress are pure functions
// of the snapshot at selection time and the current one.
type Goal struct {
	ID          string
	Description string
	Duration    time.Duration
	Bias        map[string]float64
	NeedWeights map[psyche.Need]float64
	Emergency   bool

	Success  func(start, cur observe.Snapshot) bool
	Progress func(start, cur observe.Snapshot) float64
}

// Catalog returns every goal in stable index order. The returned slice is freshly built.
func Catalog() []Goal {
	return []Goal{
		{
			ID:          GatherResources,
			Description: "collect at least five more items",
			Duration:    3 * time.Minute,
			Bias:        map[string]float64{"GATHER": 2.0, "MINE": 1.8, "EXPLORE": 1.2, "IDLE": 0.5},
			NeedWeights: map[psyche.Need]float64{psyche.NeedAchievement: 1.0, psyche.NeedAutonomy: 0.3},
			Success: func(start, cur observe.Snapshot) bool {
				return cur.TotalItems()-start.TotalItems() >= gatherThreshold
			},
			Progress: func(start, cur observe.Snapshot) float64 {
				return ratio(float64(cur.TotalItems()-start.TotalItems()), gatherThreshold)
			},
		},
		{
			ID:          ExploreArea,
			Description: "visit new parts of the world",
			Duration:    3 * time.Minute,
			Bias: map[string]float64{
				"EXPLORE": 2.5, "MOVE_NORTH": 1.4, "MOVE_SOUTH": 1.4, "MOVE_EAST": 1.4, "MOVE_WEST": 1.4, "IDLE": 0.3, "REST": 0.5,
			},
			NeedWeights: map[psyche.Need]float64{psyche.NeedExploration: 1.0, psyche.NeedCuriosity: 0.8},
			Success: func(start, cur observe.Snapshot) bool {
				return cur.Psyche.CellsExplored-start.Psyche.CellsExplored >= exploreCells ||
					observe.HorizontalDistance(start.Pos, cur.Pos) >= exploreDistance
			},
			Progress: func(start, cur observe.Snapshot) float64 {
				return ratio(float64(cur.Psyche.CellsExplored-start.Psyche.CellsExplored), exploreCells)
			},
		},
		{
			ID:          FindFood,
			Description: "stock up on food",
			Duration:    2 * time.Minute,
			Bias:        map[string]float64{"GATHER": 2.0, "EAT": 1.5, "OPEN_CONTAINER": 1.3, "EXPLORE": 1.3},
			NeedWeights: map[psyche.Need]float64{psyche.NeedHunger: 1.5},
			Success: func(start, cur observe.Snapshot) bool {
				return foodCount(cur)-foodCount(start) >= foodThreshold ||
					(start.HungerRatio() < 0.8 && cur.HungerRatio() >= 0.8)
			},
			Progress: func(start, cur observe.Snapshot) float64 {
				return ratio(float64(foodCount(cur)-foodCount(start)), foodThreshold)
			},
		},
		{
			ID:          CraftTools,
			Description: "craft a new tool",
			Duration:    3 * time.Minute,
			Bias:        map[string]float64{"CRAFT_PLANKS": 1.8, "CRAFT_STICKS": 1.8, "CRAFT_TOOL": 2.5, "GATHER": 1.3, "SMELT": 1.3},
			NeedWeights: map[psyche.Need]float64{psyche.NeedAchievement: 0.8, psyche.NeedCreativity: 0.6},
			Success: func(start, cur observe.Snapshot) bool {
				return toolCount(cur) > toolCount(start)
			},
		},
		{
			ID:          BuildShelter,
			Description: "put up a shelter",
			Duration:    4 * time.Minute,
			Bias:        map[string]float64{"BUILD_SHELTER": 2.5, "PLACE_BLOCK": 1.8, "CRAFT_PLANKS": 1.3, "GATHER": 1.2},
			NeedWeights: map[psyche.Need]float64{psyche.NeedComfort: 1.0, psyche.NeedCreativity: 0.7, psyche.NeedSafety: 0.4},
			Success: func(start, cur observe.Snapshot) bool {
				return skillXP(cur, psyche.SkillBuilding)-skillXP(start, psyche.SkillBuilding) >= shelterXP
			},
			Progress: func(start, cur observe.Snapshot) float64 {
				return ratio(skillXP(cur, psyche.SkillBuilding)-skillXP(start, psyche.SkillBuilding), shelterXP)
			},
		},
		{
			ID:          Socialize,
			Description: "spend time with other agents",
			Duration:    2 * time.Minute,
			Bias:        map[string]float64{"SAY": 2.0, "FOLLOW_AGENT": 2.0, "OFFER_TRADE": 1.2, "FLEE": 0.5},
			NeedWeights: map[psyche.Need]float64{psyche.NeedSocial: 1.2},
			Success: func(start, cur observe.Snapshot) bool {
				return skillXP(cur, psyche.SkillSocial)-skillXP(start, psyche.SkillSocial) >= socialXP
			},
			Progress: func(start, cur observe.Snapshot) float64 {
				return ratio(skillXP(cur, psyche.SkillSocial)-skillXP(start, psyche.SkillSocial), socialXP)
			},
		},
		{
			ID:          TradeGoods,
			Description: "complete a trade",
			Duration:    3 * time.Minute,
			Bias:        map[string]float64{"OFFER_TRADE": 2.5, "SAY": 1.3, "FOLLOW_AGENT": 1.3},
			NeedWeights: map[psyche.Need]float64{psyche.NeedSocial: 0.5, psyche.NeedAchievement: 0.5, psyche.NeedAutonomy: 0.3},
			Success: func(start, cur observe.Snapshot) bool {
				return cur.HasEvent("TRADE_DONE") ||
					skillXP(cur, psyche.SkillSocial)-skillXP(start, psyche.SkillSocial) >= tradeXP
			},
		},
		{
			ID:          RestUp,
			Description: "recover stamina",
			Duration:    90 * time.Second,
			Bias:        map[string]float64{"REST": 3.0, "IDLE": 1.5, "EXPLORE": 0.4, "MINE": 0.6},
			NeedWeights: map[psyche.Need]float64{psyche.NeedRest: 1.5, psyche.NeedComfort: 0.3},
			Success: func(start, cur observe.Snapshot) bool {
				return cur.Vitals.Stamina >= restedStamina && cur.Vitals.Stamina > start.Vitals.Stamina
			},
			Progress: func(start, cur observe.Snapshot) float64 {
				return ratio(cur.Vitals.Stamina, restedStamina)
			},
		},
		{
			ID:          LightUp,
			Description: "place a torch",
			Duration:    2 * time.Minute,
			Bias:        map[string]float64{"PLACE_TORCH": 3.0, "CRAFT_STICKS": 1.3, "MINE": 1.2},
			NeedWeights: map[psyche.Need]float64{psyche.NeedSafety: 0.6, psyche.NeedComfort: 0.6},
			Success: func(start, cur observe.Snapshot) bool {
				return start.Count("TORCH") > cur.Count("TORCH")
			},
		},
		{
			ID:          ImproveSkill,
			Description: "reach the next level in any skill",
			Duration:    5 * time.Minute,
			Bias:        map[string]float64{"MINE": 1.3, "GATHER": 1.3, "CRAFT_TOOL": 1.3, "PLACE_BLOCK": 1.3, "IDLE": 0.5},
			NeedWeights: map[psyche.Need]float64{psyche.NeedAchievement: 0.6, psyche.NeedAutonomy: 0.6},
			Success: func(start, cur observe.Snapshot) bool {
				for _, sk := range cur.Skills() {
					if sk.Level > start.SkillLevel(sk.Name) {
						return true
					}
				}
				return false
			},
		},
		{
			ID:          SeekSafety,
			Description: "get away from danger",
			Duration:    time.Minute,
			Bias:        map[string]float64{"FLEE": 3.0, "BUILD_SHELTER": 1.5, "PLACE_TORCH": 1.3, "SAY": 0.3, "MINE": 0.3, "GATHER": 0.5},
			Emergency:   true,
			Success: func(_, cur observe.Snapshot) bool {
				return cur.Psyche.Need(psyche.NeedSafety) >= safeNeed
			},
		},
		{
			ID:          EatNow,
			Description: "eat something immediately",
			Duration:    time.Minute,
			Bias:        map[string]float64{"EAT": 4.0, "GATHER": 1.5, "OPEN_CONTAINER": 1.3},
			Emergency:   true,
			Success: func(_, cur observe.Snapshot) bool {
				return cur.HungerRatio() >= fedRatio
			},
		},
		{
			ID:          CollapseRest,
			Description: "stop and recover",
			Duration:    time.Minute,
			Bias:        map[string]float64{"REST": 4.0, "IDLE": 2.0, "EXPLORE": 0.2, "FLEE": 0.5},
			Emergency:   true,
			Success: func(_, cur observe.Snapshot) bool {
				return cur.Vitals.Stamina >= recoveredStamina
			},
		},
	}
}

var ids = func() map[string]int {
	m := map[string]int{}
	for i, g := range Catalog() {
		m[g.ID] = i
	}
	return m
}()

// IndexOf maps a goal id to its catalog index.
func IndexOf(id string) (int, bool) {
	i, ok := ids[id]
	return i, ok
}

func foodCount(s observe.Snapshot) int {
	n := 0
	for _, it := range s.Inventory() {
		if observe.IsFood(it.Item) {
			n += it.Count
		}
	}
	return n
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

func skillXP(s observe.Snapshot, name string) float64 {
	for _, sk := range s.Skills() {
		if sk.Name == name {
			return sk.XP
		}
	}
	return 0
}

func ratio(x, target float64) float64 {
	if target <= 0 || x <= 0 {
		return 0
	}
	if x >= target {
		return 1
	}
	return x / target
}
