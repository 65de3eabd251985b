package wsclient

import (
	"math/rand"
	"sort"

	"voxelmind/internal/actions"
	"voxelmind/internal/observe"
	"voxelmind/internal/protocol"
)

const (
	stepDistance    = 4
	exploreDistance = 12
	fleeDistance    = 8
	hostileRange    = 12.0
	socialRange     = 8.0
	reachRange      = 3.0
	scanRadius      = 3
)

// Recipe and blueprint ids as published by the world catalogs.
const (
	RecipePlank      = "plank_from_log"
	RecipeStick      = "stick_from_plank"
	RecipeTorch      = "torch"
	BlueprintShelter = "house_small"
)

var toolRecipes = []struct {
	item, recipe string
	needs        map[string]int
}{
	{"IRON_PICKAXE", "iron_pickaxe", map[string]int{"IRON_INGOT": 3, "STICK": 2}},
	{"STONE_PICKAXE", "stone_pickaxe", map[string]int{"STONE": 3, "STICK": 2}},
	{"WOOD_PICKAXE", "wood_pickaxe", map[string]int{"PLANK": 3, "STICK": 2}},
	{"STONE_AXE", "stone_axe", map[string]int{"STONE": 3, "STICK": 2}},
	{"WOOD_AXE", "wood_axe", map[string]int{"PLANK": 3, "STICK": 2}},
}

// dirs are north, south, east, west.
var dirs = [4]observe.Vec3{{Z: -1}, {Z: 1}, {X: 1}, {X: -1}}

type plan struct {
	idle    bool
	instant *protocol.InstantReq
	task    *protocol.TaskReq
}

func (p plan) prefix() string {
	if p.instant != nil {
		return "I"
	}
	return "K"
}

func (p plan) act(id string) protocol.ActMsg {
	var m protocol.ActMsg
	if p.instant != nil {
		in := *p.instant
		in.ID = id
		m.Instants = []protocol.InstantReq{in}
	}
	if p.task != nil {
		tr := *p.task
		tr.ID = id
		m.Tasks = []protocol.TaskReq{tr}
	}
	return m
}

func instant(in protocol.InstantReq) (plan, bool) { return plan{instant: &in}, true }
func task(tr protocol.TaskReq) (plan, bool)       { return plan{task: &tr}, true }

// planAction maps an action name to a world request. ok is false when the
// action has nothing to act on in s.
func planAction(name string, s observe.Snapshot, rng *rand.Rand) (plan, bool) {
	i, known := actions.IndexOf(name)
	if !known {
		return plan{}, false
	}
	switch i {
	case actions.Idle:
		return plan{idle: true}, true

	case actions.MoveNorth, actions.MoveSouth, actions.MoveEast, actions.MoveWest:
		d := dirs[i-actions.MoveNorth]
		return moveTo(s.Pos.Add(scale(d, stepDistance)))

	case actions.Explore:
		d := scale(dirs[rng.Intn(len(dirs))], exploreDistance)
		side := rng.Intn(2*stepDistance+1) - stepDistance
		if d.X == 0 {
			d.X = side
		} else {
			d.Z = side
		}
		return moveTo(s.Pos.Add(d))

	case actions.Mine:
		p, ok := nearestBlock(s, func(b string) bool { return observe.IsResourceBlock(b) && observe.IsSolidBlock(b) })
		if !ok {
			p, ok = nearestBlock(s, minable)
		}
		if !ok {
			return plan{}, false
		}
		return task(protocol.TaskReq{Type: "MINE", BlockPos: p.ToArray()})

	case actions.Gather:
		if e, ok := nearestEntity(s, reachRange*2, func(e observe.Entity) bool { return e.Type == "ITEM" }); ok {
			return task(protocol.TaskReq{Type: "GATHER", TargetID: e.ID})
		}
		p, ok := nearestBlock(s, gatherable)
		if !ok {
			return plan{}, false
		}
		return task(protocol.TaskReq{Type: "MINE", BlockPos: p.ToArray()})

	case actions.PlaceBlock:
		item := placeable(s)
		p, ok := freeNeighbour(s)
		if item == "" || !ok {
			return plan{}, false
		}
		return task(protocol.TaskReq{Type: "PLACE", ItemID: item, BlockPos: p.ToArray()})

	case actions.CraftPlanks:
		return craft(s, RecipePlank, map[string]int{"LOG": 1})

	case actions.CraftSticks:
		return craft(s, RecipeStick, map[string]int{"PLANK": 2})

	case actions.CraftTool:
		for _, r := range toolRecipes {
			if s.Count(r.item) > 0 {
				continue
			}
			if p, ok := craft(s, r.recipe, r.needs); ok {
				return p, ok
			}
		}
		return plan{}, false

	case actions.Smelt:
		if s.Count("COAL") == 0 {
			return plan{}, false
		}
		for _, in := range []string{"IRON_ORE", "COPPER_ORE", "RAW_MEAT"} {
			if s.Count(in) > 0 {
				return task(protocol.TaskReq{Type: "SMELT", ItemID: in, Count: 1})
			}
		}
		return plan{}, false

	case actions.Eat:
		if s.Vitals.Hunger >= s.Vitals.MaxHunger {
			return plan{}, false
		}
		food := bestFood(s)
		if food == "" {
			return plan{}, false
		}
		return instant(protocol.InstantReq{Type: "EAT", ItemID: food, Count: 1})

	case actions.Rest:
		return task(protocol.TaskReq{Type: "STOP"})

	case actions.Flee:
		h, ok := nearestEntity(s, hostileRange, observe.Entity.Hostile)
		if !ok {
			return plan{}, false
		}
		away := observe.Vec3{X: sign(s.Pos.X - h.Pos.X), Z: sign(s.Pos.Z - h.Pos.Z)}
		if away.X == 0 && away.Z == 0 {
			away = dirs[rng.Intn(len(dirs))]
		}
		return moveTo(s.Pos.Add(scale(away, fleeDistance)))

	case actions.FollowAgent:
		e, ok := nearestEntity(s, socialRange*2, isAgent)
		if !ok {
			return plan{}, false
		}
		return task(protocol.TaskReq{Type: "FOLLOW", TargetID: e.ID, Distance: 2})

	case actions.Say:
		text := "hello"
		if s.HungerRatio() < 0.3 {
			text = "anyone have food?"
		} else if s.NumEntities() == 0 {
			text = "exploring"
		}
		return instant(protocol.InstantReq{Type: "SAY", Channel: "LOCAL", Text: text})

	case actions.OfferTrade:
		e, ok := nearestEntity(s, socialRange, isAgent)
		item := mostAbundant(s)
		if !ok || item == "" {
			return plan{}, false
		}
		return instant(protocol.InstantReq{Type: "OFFER_TRADE", To: e.ID, Offer: [][]interface{}{{item, 1}}})

	case actions.BuildShelter:
		if !s.Rules.Present || s.Rules.CanBuild {
			return task(protocol.TaskReq{Type: "BUILD_BLUEPRINT", BlueprintID: BlueprintShelter, Anchor: s.Pos.Add(dirs[0]).ToArray()})
		}
		return plan{}, false

	case actions.PlaceTorch:
		if s.Count("TORCH") == 0 {
			return craft(s, RecipeTorch, map[string]int{"STICK": 1, "COAL": 1})
		}
		p, ok := freeNeighbour(s)
		if !ok {
			return plan{}, false
		}
		return task(protocol.TaskReq{Type: "PLACE", ItemID: "TORCH", BlockPos: p.ToArray()})

	case actions.OpenContainer:
		e, ok := nearestEntity(s, reachRange, func(e observe.Entity) bool { return e.Type == "CHEST" })
		if !ok {
			return plan{}, false
		}
		return task(protocol.TaskReq{Type: "OPEN", TargetID: e.ID})
	}
	return plan{}, false
}

func moveTo(p observe.Vec3) (plan, bool) {
	return task(protocol.TaskReq{Type: "MOVE_TO", Target: p.ToArray(), Tolerance: 1.2})
}

func craft(s observe.Snapshot, recipe string, needs map[string]int) (plan, bool) {
	for item, n := range needs {
		if s.Count(item) < n {
			return plan{}, false
		}
	}
	return task(protocol.TaskReq{Type: "CRAFT", RecipeID: recipe, Count: 1})
}

func minable(b string) bool {
	return observe.IsSolidBlock(b) && b != "BEDROCK" && b != "UNKNOWN"
}

func gatherable(b string) bool {
	switch b {
	case "LOG", "BERRY_BUSH", "LEAVES", "DIRT", "SAND", "CLAY":
		return true
	}
	return false
}

func isAgent(e observe.Entity) bool { return e.Type == "AGENT" }

// nearestBlock scans the decoded neighbourhood for the closest matching block,
// breaking ties by scan order (dy, dz, dx ascending).
func nearestBlock(s observe.Snapshot, match func(string) bool) (observe.Vec3, bool) {
	v, ok := s.Voxels()
	if !ok {
		return observe.Vec3{}, false
	}
	r := scanRadius
	if v.Radius < r {
		r = v.Radius
	}
	var (
		best  observe.Vec3
		bestD = -1.0
	)
	for dy := -r; dy <= r; dy++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				d := observe.Vec3{X: dx, Y: dy, Z: dz}
				if !match(v.At(d)) {
					continue
				}
				p := v.Center.Add(d)
				dist := observe.Distance(s.Pos, p)
				if bestD < 0 || dist < bestD {
					best, bestD = p, dist
				}
			}
		}
	}
	return best, bestD >= 0
}

// freeNeighbour is the first air cell beside the agent, facing direction first.
// Without voxels the facing cell is assumed free.
func freeNeighbour(s observe.Snapshot) (observe.Vec3, bool) {
	order := make([]observe.Vec3, 0, len(dirs))
	order = append(order, facing(s.Yaw))
	for _, d := range dirs {
		if d != order[0] {
			order = append(order, d)
		}
	}
	v, ok := s.Voxels()
	if !ok {
		return s.Pos.Add(order[0]), true
	}
	for _, d := range order {
		p := s.Pos.Add(d)
		if v.At(p.Sub(v.Center)) == "AIR" {
			return p, true
		}
	}
	return observe.Vec3{}, false
}

func facing(yaw int) observe.Vec3 {
	switch ((yaw%360)+360)%360/90 {
	case 1:
		return dirs[2]
	case 2:
		return dirs[1]
	case 3:
		return dirs[3]
	}
	return dirs[0]
}

// nearestEntity picks the closest match within maxDist, ties by id.
func nearestEntity(s observe.Snapshot, maxDist float64, match func(observe.Entity) bool) (observe.Entity, bool) {
	var cands []observe.Entity
	for _, e := range s.Entities() {
		if match(e) && observe.Distance(s.Pos, e.Pos) <= maxDist {
			cands = append(cands, e)
		}
	}
	if len(cands) == 0 {
		return observe.Entity{}, false
	}
	sort.Slice(cands, func(i, j int) bool {
		di, dj := observe.Distance(s.Pos, cands[i].Pos), observe.Distance(s.Pos, cands[j].Pos)
		if di != dj {
			return di < dj
		}
		return cands[i].ID < cands[j].ID
	})
	return cands[0], true
}

func placeable(s observe.Snapshot) string {
	for _, it := range s.Inventory() {
		if it.Count > 0 && observe.IsPlaceable(it.Item) && it.Item != "TORCH" && it.Item != "CHEST" {
			return it.Item
		}
	}
	return ""
}

func bestFood(s observe.Snapshot) string {
	best, bestV := "", 0
	for _, it := range s.Inventory() {
		if it.Count <= 0 {
			continue
		}
		if v := observe.FoodValue(it.Item); v > bestV || (v == bestV && v > 0 && it.Item < best) {
			best, bestV = it.Item, v
		}
	}
	return best
}

func mostAbundant(s observe.Snapshot) string {
	best, bestN := "", 0
	for _, it := range s.Inventory() {
		if it.Count > bestN {
			best, bestN = it.Item, it.Count
		}
	}
	return best
}

func scale(d observe.Vec3, n int) observe.Vec3 {
	return observe.Vec3{X: d.X * n, Y: d.Y * n, Z: d.Z * n}
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
