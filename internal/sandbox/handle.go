package sandbox

import (
	"context"
	"fmt"
	"sort"

	"voxelmind/internal/observe"
)

// Handle is one agent's view of the world. It implements the trainer's
// Provider and the actions.Actuator contracts.
type Handle struct {
	w  *World
	id string
}

func (h *Handle) ID() string { return h.id }

// Next returns the current observation. A death is reported once; the
// following call respawns the agent.
func (h *Handle) Next(ctx context.Context) (observe.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return observe.Snapshot{}, err
	}
	w := h.w
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.bodies[h.id]
	if !ok {
		return observe.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknown, h.id)
	}
	if b.dead && b.reported {
		w.respawn(b)
	}
	if b.dead {
		b.reported = true
	}
	return w.snapshot(b), nil
}

// Execute applies the named action and advances the world by one tick. Dead
// or departed agents fail every action.
func (h *Handle) Execute(ctx context.Context, name string) bool {
	if ctx.Err() != nil {
		return false
	}
	w := h.w
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.bodies[h.id]
	if !ok || b.dead {
		return false
	}
	fn, known := handlers[name]
	ok = known && fn(w, b)
	b.events = append(b.events, "ACTION_RESULT")
	w.advance(b)
	return ok
}

type handler func(w *World, b *body) bool

var handlers = map[string]handler{
	"IDLE":           func(w *World, b *body) bool { return true },
	"MOVE_NORTH":     func(w *World, b *body) bool { return w.move(b, 0) },
	"MOVE_SOUTH":     func(w *World, b *body) bool { return w.move(b, 1) },
	"MOVE_EAST":      func(w *World, b *body) bool { return w.move(b, 2) },
	"MOVE_WEST":      func(w *World, b *body) bool { return w.move(b, 3) },
	"EXPLORE":        (*World).explore,
	"MINE":           (*World).mine,
	"GATHER":         (*World).gather,
	"PLACE_BLOCK":    (*World).placeBlock,
	"CRAFT_PLANKS":   func(w *World, b *body) bool { return craft(b, need{"LOG", 1}, "PLANK", 4) },
	"CRAFT_STICKS":   func(w *World, b *body) bool { return craft(b, need{"PLANK", 2}, "STICK", 4) },
	"CRAFT_TOOL":     (*World).craftTool,
	"SMELT":          (*World).smelt,
	"EAT":            (*World).eat,
	"REST":           (*World).rest,
	"FLEE":           (*World).flee,
	"FOLLOW_AGENT":   (*World).follow,
	"SAY":            (*World).say,
	"OFFER_TRADE":    (*World).offerTrade,
	"BUILD_SHELTER":  (*World).buildShelter,
	"PLACE_TORCH":    (*World).placeTorch,
	"OPEN_CONTAINER": (*World).openContainer,
}

// Stamina costs per action, in thousandths.
const (
	costMove    = 5
	costExplore = 15
	costMine    = 20
	costGather  = 10
	costBuild   = 25
	restGain    = 150
)

var yaws = [...]int{0, 180, 90, 270}

func (w *World) spend(b *body, cost int) bool {
	if b.stamina < cost {
		return false
	}
	b.stamina -= cost
	return true
}

func (w *World) canEnter(p observe.Vec3) bool {
	return w.inBounds(p) && passable(w.blockAt(p))
}

func (w *World) move(b *body, dir int) bool {
	next := b.pos.Add(dirs[dir])
	b.yaw = yaws[dir]
	if !w.canEnter(next) || !w.spend(b, costMove) {
		return false
	}
	b.pos = next
	return true
}

// explore walks up to three cells in a direction drawn from the agent's age.
func (w *World) explore(b *body) bool {
	if !w.spend(b, costExplore) {
		return false
	}
	start := int(hash3(w.cfg.Seed, int(b.age), b.seq, 3) % uint64(len(dirs)))
	for i := range dirs {
		dir := (start + i) % len(dirs)
		moved := 0
		for moved < 3 && w.canEnter(b.pos.Add(dirs[dir])) {
			b.pos = b.pos.Add(dirs[dir])
			moved++
		}
		if moved > 0 {
			b.yaw = yaws[dir]
			return true
		}
	}
	return false
}

func pickaxeTier(inv map[string]int) int {
	tier := 0
	for _, p := range [...]string{"WOOD_PICKAXE", "STONE_PICKAXE", "IRON_PICKAXE"} {
		if inv[p] > 0 {
			tier = max(tier, observe.ToolTier(p))
		}
	}
	return tier
}

// adjacent returns the first neighbour cell, facing direction first, whose block satisfies ok.
func (w *World) adjacent(b *body, ok func(string) bool) (observe.Vec3, string, bool) {
	for _, d := range w.facingOrder(b) {
		p := b.pos.Add(d)
		if !w.inBounds(p) {
			continue
		}
		if blk := w.blockAt(p); ok(blk) {
			return p, blk, true
		}
	}
	return observe.Vec3{}, "", false
}

func (w *World) facingOrder(b *body) []observe.Vec3 {
	out := make([]observe.Vec3, 0, len(dirs))
	for i, y := range yaws {
		if y == b.yaw {
			out = append(out, dirs[i])
		}
	}
	for i, y := range yaws {
		if y != b.yaw {
			out = append(out, dirs[i])
		}
	}
	return out
}

func (w *World) mine(b *body) bool {
	tier := pickaxeTier(b.inv)
	p, blk, ok := w.adjacent(b, func(s string) bool {
		t := mineTier(s)
		return t >= 0 && t <= tier
	})
	if !ok || !w.spend(b, costMine) {
		return false
	}
	w.placed[p] = "AIR"
	b.inv[blockDrop(blk)]++
	return true
}

func (w *World) gather(b *body) bool {
	p, blk, ok := w.adjacent(b, gatherable)
	if !ok || !w.spend(b, costGather) {
		return false
	}
	w.placed[p] = "AIR"
	n := 1
	if blk == "BERRY_BUSH" {
		n = 2
	}
	b.inv[blockDrop(blk)] += n
	return true
}

var buildOrder = [...]string{"DIRT", "STONE", "PLANK", "SAND", "GRAVEL", "LOG", "BRICK", "GLASS", "CLAY"}

func (w *World) placeBlock(b *body) bool {
	item := ""
	for _, it := range buildOrder {
		if b.inv[it] > 0 {
			item = it
			break
		}
	}
	if item == "" {
		return false
	}
	p, ok := w.freeNeighbour(b)
	if !ok || !w.spend(b, costMove) {
		return false
	}
	w.placed[p] = item
	take(b, item, 1)
	return true
}

// freeNeighbour is an AIR neighbour cell not occupied by another agent.
func (w *World) freeNeighbour(b *body) (observe.Vec3, bool) {
	for _, d := range w.facingOrder(b) {
		p := b.pos.Add(d)
		if !w.inBounds(p) || w.blockAt(p) != "AIR" || w.occupied(p) {
			continue
		}
		return p, true
	}
	return observe.Vec3{}, false
}

func (w *World) occupied(p observe.Vec3) bool {
	for _, o := range w.bodies {
		if !o.dead && o.pos == p {
			return true
		}
	}
	return false
}

type need struct {
	item  string
	count int
}

func has(b *body, needs ...need) bool {
	for _, n := range needs {
		if b.inv[n.item] < n.count {
			return false
		}
	}
	return true
}

func take(b *body, item string, n int) {
	b.inv[item] -= n
	if b.inv[item] <= 0 {
		delete(b.inv, item)
	}
}

func craft(b *body, in need, out string, n int) bool {
	if !has(b, in) {
		return false
	}
	take(b, in.item, in.count)
	b.inv[out] += n
	return true
}

type recipe struct {
	tool  string
	needs []need
}

// Tool recipes in preference order.
var toolRecipes = [...]recipe{
	{"IRON_PICKAXE", []need{{"IRON_INGOT", 3}, {"STICK", 2}}},
	{"STONE_PICKAXE", []need{{"STONE", 3}, {"STICK", 2}}},
	{"WOOD_PICKAXE", []need{{"PLANK", 3}, {"STICK", 2}}},
	{"STONE_AXE", []need{{"STONE", 3}, {"STICK", 2}}},
	{"WOOD_AXE", []need{{"PLANK", 3}, {"STICK", 2}}},
}

// craftTool makes the first recipe that is an upgrade over what the agent holds.
func (w *World) craftTool(b *body) bool {
	for _, r := range toolRecipes {
		if b.inv[r.tool] > 0 || bestTier(b.inv, toolKind(r.tool)) >= observe.ToolTier(r.tool) {
			continue
		}
		if !has(b, r.needs...) {
			continue
		}
		for _, n := range r.needs {
			take(b, n.item, n.count)
		}
		b.inv[r.tool]++
		return true
	}
	return false
}

func toolKind(tool string) string {
	for i := len(tool) - 1; i >= 0; i-- {
		if tool[i] == '_' {
			return tool[i:]
		}
	}
	return tool
}

func bestTier(inv map[string]int, kind string) int {
	t := 0
	for item, n := range inv {
		if n > 0 && observe.IsTool(item) && toolKind(item) == kind {
			t = max(t, observe.ToolTier(item))
		}
	}
	return t
}

var smeltRecipes = [...]struct{ in, out string }{
	{"IRON_ORE", "IRON_INGOT"},
	{"COPPER_ORE", "COPPER_INGOT"},
	{"RAW_MEAT", "COOKED_MEAT"},
}

func (w *World) smelt(b *body) bool {
	if b.inv["COAL"] <= 0 {
		return false
	}
	for _, r := range smeltRecipes {
		if b.inv[r.in] > 0 {
			take(b, r.in, 1)
			take(b, "COAL", 1)
			b.inv[r.out]++
			return true
		}
	}
	return false
}

// eat consumes the most nourishing food held, ties broken by name.
func (w *World) eat(b *body) bool {
	if b.hunger >= w.cfg.MaxHunger {
		return false
	}
	best := ""
	for item, n := range b.inv {
		if n <= 0 || !observe.IsFood(item) {
			continue
		}
		if best == "" || observe.FoodValue(item) > observe.FoodValue(best) ||
			(observe.FoodValue(item) == observe.FoodValue(best) && item < best) {
			best = item
		}
	}
	if best == "" {
		return false
	}
	take(b, best, 1)
	b.hunger = min(w.cfg.MaxHunger, b.hunger+observe.FoodValue(best))
	return true
}

func (w *World) rest(b *body) bool {
	gained := false
	if b.stamina < maxStamina {
		b.stamina = min(maxStamina, b.stamina+restGain)
		gained = true
	}
	if b.hp < w.cfg.MaxHP && b.hunger*2 > w.cfg.MaxHunger {
		b.hp++
		gained = true
	}
	return gained
}

func (w *World) nearestHostile(b *body, within float64) (*hostile, bool) {
	var best *hostile
	bestDist := within
	for _, h := range w.hostiles {
		if d := observe.HorizontalDistance(h.pos, b.pos); d <= bestDist {
			best, bestDist = h, d
		}
	}
	return best, best != nil
}

func (w *World) nearestAgent(b *body, within float64) (*body, bool) {
	others := make([]*body, 0, len(w.bodies))
	for _, o := range w.bodies {
		if o != b && !o.dead {
			others = append(others, o)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i].id < others[j].id })
	var best *body
	bestDist := within
	for _, o := range others {
		if d := observe.HorizontalDistance(o.pos, b.pos); d < bestDist || (best == nil && d <= bestDist) {
			best, bestDist = o, d
		}
	}
	return best, best != nil
}

// flee takes up to two steps that each increase the distance to the nearest hostile.
func (w *World) flee(b *body) bool {
	h, ok := w.nearestHostile(b, 8)
	if !ok || !w.spend(b, costMove*2) {
		return false
	}
	moved := false
	for step := 0; step < 2; step++ {
		best, bestDist := b.pos, observe.HorizontalDistance(b.pos, h.pos)
		for _, d := range dirs {
			c := b.pos.Add(d)
			if !w.canEnter(c) {
				continue
			}
			if dist := observe.HorizontalDistance(c, h.pos); dist > bestDist {
				best, bestDist = c, dist
			}
		}
		if best == b.pos {
			break
		}
		b.pos, moved = best, true
	}
	return moved
}

func (w *World) follow(b *body) bool {
	o, ok := w.nearestAgent(b, entityRange)
	if !ok || observe.HorizontalDistance(o.pos, b.pos) <= 1 {
		return false
	}
	next, ok := w.stepToward(b.pos, o.pos)
	if !ok || w.occupied(next) || !w.spend(b, costMove) {
		return false
	}
	b.pos = next
	return true
}

func (w *World) say(b *body) bool {
	heard := false
	for _, o := range w.bodies {
		if o == b || o.dead || observe.HorizontalDistance(o.pos, b.pos) > hearRange {
			continue
		}
		o.events = append(o.events, "CHAT")
		heard = true
	}
	return heard
}

// offerTrade hands one unit of the most abundant item to the nearest agent in range.
func (w *World) offerTrade(b *body) bool {
	o, ok := w.nearestAgent(b, tradeRange)
	if !ok {
		return false
	}
	item, count := "", 0
	for it, n := range b.inv {
		if n > count || (n == count && it < item) {
			item, count = it, n
		}
	}
	if count == 0 {
		return false
	}
	take(b, item, 1)
	o.inv[item]++
	b.events = append(b.events, "TRADE_DONE")
	o.events = append(o.events, "TRADE_DONE")
	return true
}

var shelterMaterials = [...]string{"PLANK", "STONE", "DIRT", "LOG"}

// buildShelter roofs the cell two blocks above the agent.
func (w *World) buildShelter(b *body) bool {
	roof := b.pos.Add(observe.Vec3{Y: 2})
	if w.blockAt(roof) != "AIR" {
		return false
	}
	for _, m := range shelterMaterials {
		if b.inv[m] >= 4 {
			if !w.spend(b, costBuild) {
				return false
			}
			take(b, m, 4)
			w.placed[roof] = m
			return true
		}
	}
	return false
}

// placeTorch places a held torch, crafting one from a stick and coal when needed.
func (w *World) placeTorch(b *body) bool {
	p, ok := w.freeNeighbour(b)
	if !ok {
		return false
	}
	switch {
	case b.inv["TORCH"] > 0:
		take(b, "TORCH", 1)
	case has(b, need{"STICK", 1}, need{"COAL", 1}):
		take(b, "STICK", 1)
		take(b, "COAL", 1)
	default:
		return false
	}
	w.placed[p] = "TORCH"
	return true
}

func (w *World) openContainer(b *body) bool {
	p, _, ok := w.adjacent(b, func(s string) bool { return s == "CHEST" })
	if !ok {
		return false
	}
	for _, st := range lootAt(w.cfg.Seed, p) {
		b.inv[st.Item] += st.Count
	}
	w.placed[p] = "AIR"
	b.events = append(b.events, "CONTAINER")
	return true
}
