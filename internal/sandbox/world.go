// Package sandbox is a deterministic in-process grid world. It serves the same
// Provider and Actuator contracts as a live world session, for offline training
// and tests.
package sandbox

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"voxelmind/internal/observe"
)

var (
	ErrExists  = errors.New("sandbox: agent already joined")
	ErrUnknown = errors.New("sandbox: unknown agent")
)

// Epoch is the wall time of tick 0.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type Config struct {
	Seed        int64
	DayTicks    int
	TickDur     time.Duration
	Radius      int // half extent of the playable square, centered on the origin
	ViewRadius  int
	MaxHP       int
	MaxHunger   int
	HungerEvery int // agent ticks per hunger point
	ColdEvery   int
	Weather     string // fixed weather, "" rotates daily
	MaxHostiles int
	NoHostiles  bool
}

func DefaultConfig() Config {
	return Config{
		Seed:        1,
		DayTicks:    1200,
		TickDur:     200 * time.Millisecond,
		Radius:      48,
		ViewRadius:  3,
		MaxHP:       20,
		MaxHunger:   20,
		HungerEvery: 100,
		ColdEvery:   50,
		MaxHostiles: 4,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.DayTicks <= 0 {
		c.DayTicks = d.DayTicks
	}
	if c.TickDur <= 0 {
		c.TickDur = d.TickDur
	}
	if c.Radius <= 0 {
		c.Radius = d.Radius
	}
	if c.ViewRadius <= 0 {
		c.ViewRadius = d.ViewRadius
	}
	if c.MaxHP <= 0 {
		c.MaxHP = d.MaxHP
	}
	if c.MaxHunger <= 0 {
		c.MaxHunger = d.MaxHunger
	}
	if c.HungerEvery <= 0 {
		c.HungerEvery = d.HungerEvery
	}
	if c.ColdEvery <= 0 {
		c.ColdEvery = d.ColdEvery
	}
	if c.MaxHostiles <= 0 {
		c.MaxHostiles = d.MaxHostiles
	}
}

const (
	maxStamina    = 1000
	hostileDamage = 2
	hostileSpawn  = 40 // world ticks between night spawns
	hostileSight  = 10
	hearRange     = 8
	tradeRange    = 3
	entityRange   = 16
)

type body struct {
	id       string
	seq      int
	pos      observe.Vec3
	yaw      int
	hp       int
	hunger   int
	stamina  int // 0..maxStamina
	age      uint64
	inv      map[string]int
	dead     bool
	reported bool
	cold     bool
	events   []string
}

type hostile struct {
	id  string
	pos observe.Vec3
}

// World is safe for concurrent use. Every executed action advances the world
// clock by one tick; survival rules run against the acting agent.
type World struct {
	cfg Config

	mu       sync.Mutex
	tick     uint64
	placed   map[observe.Vec3]string
	bodies   map[string]*body
	joined   int
	hostiles []*hostile
	spawned  int
}

func New(cfg Config) *World {
	cfg.normalize()
	return &World{
		cfg:    cfg,
		placed: map[observe.Vec3]string{},
		bodies: map[string]*body{},
	}
}

func (w *World) Config() Config { return w.cfg }

func (w *World) Tick() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tick
}

// Join places a new agent at its spawn point.
func (w *World) Join(id string) (*Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.bodies[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	b := &body{id: id, seq: w.joined}
	w.joined++
	w.respawn(b)
	w.bodies[id] = b
	return &Handle{w: w, id: id}, nil
}

func (w *World) Leave(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.bodies, id)
}

// SetBlock overrides the terrain at p.
func (w *World) SetBlock(p observe.Vec3, block string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.placed[p] = block
}

func (w *World) Block(p observe.Vec3) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blockAt(p)
}

// Give adds n of item to the agent's inventory.
func (w *World) Give(id, item string, n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.bodies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	b.inv[item] += n
	return nil
}

func (w *World) Position(id string) (observe.Vec3, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.bodies[id]
	if !ok {
		return observe.Vec3{}, false
	}
	return b.pos, true
}

// Teleport moves a living agent, used by scenario setup.
func (w *World) Teleport(id string, p observe.Vec3) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.bodies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	b.pos = p
	return nil
}

func (w *World) blockAt(p observe.Vec3) string {
	if b, ok := w.placed[p]; ok {
		return b
	}
	return generated(w.cfg.Seed, p)
}

func (w *World) inBounds(p observe.Vec3) bool {
	r := w.cfg.Radius
	return p.X >= -r && p.X <= r && p.Z >= -r && p.Z <= r
}

func (w *World) nearBlock(pos observe.Vec3, block string, dist int) bool {
	for dy := -dist; dy <= dist; dy++ {
		for dz := -dist; dz <= dist; dz++ {
			for dx := -dist; dx <= dist; dx++ {
				if w.blockAt(observe.Vec3{X: pos.X + dx, Y: pos.Y + dy, Z: pos.Z + dz}) == block {
					return true
				}
			}
		}
	}
	return false
}

func (w *World) timeOfDay() float64 {
	day := uint64(w.cfg.DayTicks)
	return float64(w.tick%day) / float64(day)
}

func isNight(tod float64) bool { return tod < 0.25 || tod > 0.75 }

func (w *World) day() int { return int(w.tick / uint64(w.cfg.DayTicks)) }

func (w *World) weather() string {
	if w.cfg.Weather != "" {
		return w.cfg.Weather
	}
	switch hash2(w.cfg.Seed, w.day(), 7) % 10 {
	case 6, 7:
		return "RAIN"
	case 8:
		return "STORM"
	case 9:
		return "COLD"
	}
	return "CLEAR"
}

func staminaRecovery(weather string, hunger int) int {
	rec := 2
	if weather == "STORM" || weather == "COLD" {
		rec = 1
	}
	if hunger == 0 {
		return 0
	}
	if hunger < 5 && rec > 1 {
		rec = 1
	}
	return rec
}

// respawn resets b at a free cell near its deterministic home.
func (w *World) respawn(b *body) {
	home := observe.Vec3{
		X: int(hash2(w.cfg.Seed, b.seq, 11)%17) - 8,
		Z: int(hash2(w.cfg.Seed, b.seq, 13)%17) - 8,
	}
	b.pos = w.freeCellNear(home)
	b.yaw = 0
	b.hp = w.cfg.MaxHP
	b.hunger = w.cfg.MaxHunger
	b.stamina = maxStamina
	b.age = 0
	b.inv = map[string]int{}
	b.dead, b.reported, b.cold = false, false, false
	b.events = append(b.events, "RESPAWN")
}

func (w *World) freeCellNear(p observe.Vec3) observe.Vec3 {
	for r := 0; r <= w.cfg.Radius; r++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				if abs(dx) != r && abs(dz) != r {
					continue
				}
				c := observe.Vec3{X: p.X + dx, Z: p.Z + dz}
				if w.inBounds(c) && w.blockAt(c) == "AIR" {
					return c
				}
			}
		}
	}
	w.placed[p] = "AIR"
	return p
}

// advance runs one tick of survival against b after it acted.
func (w *World) advance(b *body) {
	w.tick++
	b.age++
	weather := w.weather()
	night := isNight(w.timeOfDay())

	if b.age%uint64(w.cfg.HungerEvery) == 0 {
		if b.hunger > 0 {
			b.hunger--
		} else {
			w.damage(b, 1)
		}
	}

	b.cold = weather == "COLD" && night && !w.nearBlock(b.pos, "TORCH", 3)
	if b.cold && b.age%uint64(w.cfg.ColdEvery) == 0 {
		w.damage(b, 1)
	}

	b.stamina = min(maxStamina, b.stamina+staminaRecovery(weather, b.hunger))
	w.stepHostiles(b, night)

	if b.hp <= 0 && !b.dead {
		b.hp = 0
		b.dead = true
	}
}

func (w *World) damage(b *body, n int) {
	if b.dead {
		return
	}
	b.hp -= n
	b.events = append(b.events, "DAMAGE")
}

// stepHostiles despawns hostiles at day, spawns them at night and moves the
// ones that can see b one step toward it.
func (w *World) stepHostiles(b *body, night bool) {
	if !night {
		w.hostiles = w.hostiles[:0]
		return
	}
	if w.cfg.NoHostiles {
		return
	}
	if w.tick%hostileSpawn == 0 && len(w.hostiles) < w.cfg.MaxHostiles {
		dir := dirs[hash2(w.cfg.Seed, int(w.tick), b.seq)%uint64(len(dirs))]
		p := b.pos.Add(observe.Vec3{X: dir.X * 6, Z: dir.Z * 6})
		if w.inBounds(p) && passable(w.blockAt(p)) {
			w.spawned++
			w.hostiles = append(w.hostiles, &hostile{id: fmt.Sprintf("hostile-%d", w.spawned), pos: p})
		}
	}
	for _, h := range w.hostiles {
		if observe.HorizontalDistance(h.pos, b.pos) > hostileSight {
			continue
		}
		if observe.HorizontalDistance(h.pos, b.pos) > 1.5 {
			if next, ok := w.stepToward(h.pos, b.pos); ok {
				h.pos = next
			}
		}
		if observe.HorizontalDistance(h.pos, b.pos) <= 1.5 {
			w.damage(b, hostileDamage)
		}
	}
}

var dirs = [...]observe.Vec3{{Z: -1}, {Z: 1}, {X: 1}, {X: -1}}

// stepToward picks the passable neighbour of from that is closest to to.
func (w *World) stepToward(from, to observe.Vec3) (observe.Vec3, bool) {
	best, found := from, false
	bestDist := observe.HorizontalDistance(from, to)
	for _, d := range dirs {
		c := from.Add(d)
		if !w.inBounds(c) || !passable(w.blockAt(c)) {
			continue
		}
		if dist := observe.HorizontalDistance(c, to); dist < bestDist {
			best, bestDist, found = c, dist, true
		}
	}
	return best, found
}

// snapshot reads b and drains its pending events.
func (w *World) snapshot(b *body) observe.Snapshot {
	tod := w.timeOfDay()
	s := observe.Snapshot{
		AgentID: b.id,
		Tick:    w.tick,
		At:      Epoch.Add(time.Duration(w.tick) * w.cfg.TickDur),
		Pos:     b.pos,
		Yaw:     b.yaw,
		Vitals: observe.Vitals{
			HP:        b.hp,
			MaxHP:     w.cfg.MaxHP,
			Hunger:    b.hunger,
			MaxHunger: w.cfg.MaxHunger,
			Stamina:   float64(b.stamina) / maxStamina,
			Dead:      b.dead,
			Age:       b.age,
		},
		MainHand: mainHand(b.inv),
		World: observe.WorldInfo{
			TimeOfDay: tod,
			Weather:   w.weather(),
			Biome:     biomeAt(w.cfg.Seed, b.pos.X, b.pos.Z),
			SeasonDay: w.day()%30 + 1,
		},
		Rules: observe.LocalRules{Present: true, Role: "WILD", CanBuild: true, CanBreak: true, CanDamage: true},
	}

	inv := make([]observe.ItemStack, 0, len(b.inv))
	for item, n := range b.inv {
		inv = append(inv, observe.ItemStack{Item: item, Count: n})
	}
	s = s.WithInventory(inv)
	s = s.WithStatus(w.status(b))
	s = s.WithEntities(w.entitiesNear(b))
	s = s.WithVoxels(w.voxels(b.pos))
	s = s.WithEvents(b.events)
	b.events = nil
	return s
}

func (w *World) status(b *body) []string {
	var out []string
	switch {
	case b.hunger == 0:
		out = append(out, "STARVING")
	case b.hunger*4 <= w.cfg.MaxHunger:
		out = append(out, "HUNGRY")
	}
	if b.stamina < maxStamina/5 {
		out = append(out, "TIRED")
	}
	if b.cold {
		out = append(out, "COLD")
	}
	return out
}

func (w *World) entitiesNear(b *body) []observe.Entity {
	var out []observe.Entity
	for _, o := range w.bodies {
		if o == b || o.dead || observe.HorizontalDistance(o.pos, b.pos) > entityRange {
			continue
		}
		out = append(out, observe.Entity{ID: o.id, Type: "AGENT", Pos: o.pos})
	}
	for _, h := range w.hostiles {
		if observe.HorizontalDistance(h.pos, b.pos) > entityRange {
			continue
		}
		out = append(out, observe.Entity{ID: h.id, Type: "HOSTILE", Pos: h.pos, Tags: []string{"HOSTILE"}})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) voxels(center observe.Vec3) *observe.Voxels {
	r := w.cfg.ViewRadius
	blocks := make([]string, 0, (2*r+1)*(2*r+1)*(2*r+1))
	for dy := -r; dy <= r; dy++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				p := center.Add(observe.Vec3{X: dx, Y: dy, Z: dz})
				if !w.inBounds(p) {
					blocks = append(blocks, "BEDROCK")
					continue
				}
				blocks = append(blocks, w.blockAt(p))
			}
		}
	}
	return observe.NewVoxels(center, r, blocks)
}

// mainHand is the best tool held, ties broken by name.
func mainHand(inv map[string]int) string {
	best, tier := "", 0
	for item, n := range inv {
		if n <= 0 || !observe.IsTool(item) {
			continue
		}
		t := observe.ToolTier(item)
		if t > tier || (t == tier && item < best) {
			best, tier = item, t
		}
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
