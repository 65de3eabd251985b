package features

import (
	"hash/fnv"
	"math"
	"sort"

	"voxelmind/internal/goals"
	"voxelmind/internal/observe"
	"voxelmind/internal/psyche"
)

var statusEffects = [...]string{"STARVING", "HUNGRY", "TIRED", "STORM", "COLD", "POISONED", "BURNING"}

var weathers = [...]string{"CLEAR", "STORM", "COLD", "RAIN", "SNOW", "FOG"}

var eventTypes = [...]string{
	"ACTION_RESULT", "TASK_DONE", "TASK_FAIL", "EVENT_GOAL", "WORLD_EVENT", "TRADE_DONE", "TRADE_OFFER", "TRADE_DECLINED",
	"DAMAGE", "CHAT", "FINE", "FUN", "CONTAINER", "LAW", "RESPAWN", "SEASON_ROLLOVER",
}

var taskKinds = [...]string{"MOVE_TO", "MINE", "GATHER", "CRAFT", "SMELT", "BUILD_BLUEPRINT", "PLACE", "FOLLOW"}

var roles = [...]string{"WILD", "OWNER", "MEMBER", "VISITOR"}

// Saturation constants.
const (
	itemSat        = 64
	totalSat       = 256
	toolSat        = 8
	foodSat        = 32
	blockSat       = 128
	oreSat         = 32
	inventorySlots = 36
	entityRange    = 16
	interactSat    = 50
	eventSat       = 4
	funScale       = 50
	memorySat      = 64
	placesSat      = 16
	agentsSat      = 16
	ageScale       = 20000
	altScale       = 64
	offsetScale    = 8
	seasonLength   = 30
	eventScale     = 600
	recencyScale   = 200
)

// Encoder is stateless; a single value may be shared across goroutines.
type Encoder struct{}

func New() *Encoder { return &Encoder{} }

// Encode always returns a fresh Width-long vector with entries in [-1,1].
func (e *Encoder) Encode(s observe.Snapshot) Vector {
	v := make(Vector, Width)
	parts := []func(*slot, observe.Snapshot){
		encodeVitals,
		encodeInventory,
		encodeNeighborhood,
		encodeEntities,
		encodeEnvironment,
		encodeGoal,
		encodeSocial,
		encodePsyche,
		encodeSkills,
		encodeSensors,
	}
	for i, seg := range Segments {
		parts[i](&slot{buf: v[seg.Offset : seg.Offset+seg.Width]}, s)
	}
	sanitize(v)
	return v
}

func encodeVitals(w *slot, s observe.Snapshot) {
	w.put(s.HPRatio())
	w.put(s.HungerRatio())
	w.put(clamp(s.Vitals.Stamina, 0, 1))
	w.flag(s.Vitals.Dead)
	w.put(squash(float64(s.Vitals.Age), ageScale))
	yaw := float64(s.Yaw) * math.Pi / 180
	w.put(math.Sin(yaw))
	w.put(math.Cos(yaw))
	w.put(squash(float64(s.Pos.Y), altScale))
	for _, st := range statusEffects {
		w.flag(s.HasStatus(st))
	}
	w.flag(s.MainHand != "")
}

func encodeInventory(w *slot, s observe.Snapshot) {
	var tools, food, blocks, ores int
	for _, it := range s.Inventory() {
		if idx, ok := observe.ItemIndex(it.Item); ok {
			w.buf[idx] = sat(float64(it.Count), itemSat)
		}
		switch {
		case observe.IsTool(it.Item):
			tools += it.Count
		case observe.IsFood(it.Item):
			food += it.Count
		case observe.IsOre(it.Item):
			ores += it.Count
		}
		if observe.IsPlaceable(it.Item) {
			blocks += it.Count
		}
	}
	distinct := len(s.Inventory())
	w.skip(len(observe.ItemVocabulary))
	w.put(sat(float64(s.TotalItems()), totalSat))
	w.put(sat(float64(distinct), float64(len(observe.ItemVocabulary))))
	w.put(sat(float64(tools), toolSat))
	w.put(sat(float64(food), foodSat))
	w.put(sat(float64(blocks), blockSat))
	w.put(sat(float64(ores), oreSat))
	w.flag(observe.IsTool(s.MainHand))
	w.put(1 - sat(float64(distinct), inventorySlots))
}

// encodeNeighborhood samples dy outer, dz middle, dx inner, three channels per cell.
func encodeNeighborhood(w *slot, s observe.Snapshot) {
	vox, ok := s.Voxels()
	if !ok {
		return
	}
	rel := s.Pos.Sub(vox.Center)
	for dy := -1; dy <= 1; dy++ {
		for dz := -gridRadiusXZ; dz <= gridRadiusXZ; dz++ {
			for dx := -gridRadiusXZ; dx <= gridRadiusXZ; dx++ {
				b := vox.At(rel.Add(observe.Vec3{X: dx, Y: dy, Z: dz}))
				w.flag(observe.IsSolidBlock(b))
				w.flag(observe.IsResourceBlock(b))
				w.flag(observe.IsHazardBlock(b))
			}
		}
	}
}

func encodeEntities(w *slot, s observe.Snapshot) {
	ents := s.Entities()
	dist := make(map[string]float64, len(ents))
	for _, e := range ents {
		dist[e.ID] = observe.Distance(e.Pos, s.Pos)
	}
	sort.SliceStable(ents, func(i, j int) bool {
		di, dj := dist[ents[i].ID], dist[ents[j].ID]
		if di != dj {
			return di < dj
		}
		return ents[i].ID < ents[j].ID
	})
	if len(ents) > maxEntities {
		ents = ents[:maxEntities]
	}
	for _, e := range ents {
		d := e.Pos.Sub(s.Pos)
		w.put(squash(float64(d.X), offsetScale))
		w.put(squash(float64(d.Y), offsetScale))
		w.put(squash(float64(d.Z), offsetScale))
		w.put(sat(dist[e.ID], entityRange))
		w.flag(e.Type == "AGENT")
		w.flag(e.Type == "ITEM")
		w.flag(e.Type == "CHEST")
		w.flag(e.Hostile())
		w.put(clamp(e.Reputation, -1, 1))
		w.put(sat(float64(e.Count), itemSat))
	}
}

func encodeEnvironment(w *slot, s observe.Snapshot) {
	tod := s.World.TimeOfDay * 2 * math.Pi
	w.put(math.Sin(tod))
	w.put(math.Cos(tod))
	w.flag(s.World.TimeOfDay < 0.25 || s.World.TimeOfDay > 0.75)
	for _, wx := range weathers {
		w.flag(s.World.Weather == wx)
	}
	w.put(float64(s.World.SeasonDay%seasonLength) / seasonLength)
	bucket := -1
	if s.World.Biome != "" {
		h := fnv.New32a()
		_, _ = h.Write([]byte(s.World.Biome))
		bucket = int(h.Sum32() % 4)
	}
	for i := 0; i < 4; i++ {
		w.flag(i == bucket)
	}
	w.flag(s.World.ActiveEvent != "")
	if s.World.ActiveEvent != "" {
		w.put(1 - sat(float64(s.World.EventTicksLeft), eventScale))
	} else {
		w.put(0)
	}
}

func encodeGoal(w *slot, s observe.Snapshot) {
	idx, ok := goals.IndexOf(s.Goal.ID)
	if !ok {
		return
	}
	for i := 0; i < goals.NumGoals; i++ {
		w.flag(i == idx)
	}
	w.put(clamp(s.Goal.Progress, 0, 1))
	w.put(clamp(s.Goal.Elapsed, 0, 1))
	w.flag(s.Goal.Emergency)
}

func encodeSocial(w *slot, s observe.Snapshot) {
	rels := s.Relationships()
	sort.SliceStable(rels, func(i, j int) bool {
		ai, aj := math.Abs(rels[i].Affinity), math.Abs(rels[j].Affinity)
		if ai != aj {
			return ai > aj
		}
		return rels[i].AgentID < rels[j].AgentID
	})
	if len(rels) > maxRelationships {
		rels = rels[:maxRelationships]
	}
	for _, r := range rels {
		w.put(clamp(r.Affinity, -1, 1))
		w.put(clamp(r.Trust, 0, 1))
		w.put(clamp(r.Familiarity, 0, 1))
		w.put(sat(float64(r.Interactions), interactSat))
		age := 0.0
		if s.Tick >= r.LastSeenTick {
			age = float64(s.Tick - r.LastSeenTick)
		}
		w.put(1 / (1 + age/recencyScale))
		w.flag(r.Affinity > 0.3)
	}
}

func encodePsyche(w *slot, s observe.Snapshot) {
	r := s.Psyche
	if !r.Present {
		return
	}
	var sum, urgency float64
	for _, n := range r.Needs {
		sum += n
		urgency = math.Max(urgency, 1-n)
		w.put(n)
	}
	for _, m := range r.Moods {
		w.put(m)
	}
	w.put(urgency)
	w.put(sum / float64(len(r.Needs)))
	w.put(r.Mood(psyche.MoodStress) * r.Mood(psyche.MoodFear))
	w.put(r.Mood(psyche.MoodLoneliness) * (1 - r.Need(psyche.NeedSocial)))
}

func encodeSkills(w *slot, s observe.Snapshot) {
	skills := s.Skills()
	if len(skills) == 0 {
		return
	}
	for _, name := range psyche.SkillNames {
		var sk observe.Skill
		for _, c := range skills {
			if c.Name == name {
				sk = c
			}
		}
		w.put(sat(float64(sk.Level), 10))
		w.put(sk.Progress())
	}
}

func encodeSensors(w *slot, s observe.Snapshot) {
	events := s.Events()
	for _, et := range eventTypes {
		n := 0
		for _, e := range events {
			if e == et {
				n++
			}
		}
		w.put(sat(float64(n), eventSat))
	}

	tasks := s.Tasks()
	for _, k := range taskKinds {
		p := 0.0
		for _, t := range tasks {
			if t.Kind == k {
				p = math.Max(p, clamp(t.Progress, 0, 1))
			}
		}
		w.put(p)
	}

	if lr := s.Rules; lr.Present {
		w.put(1)
		for _, r := range roles {
			w.flag(lr.Role == r)
		}
		w.flag(lr.CanBuild)
		w.flag(lr.CanBreak)
		w.put(clamp(lr.MarketTax, 0, 1))
	} else {
		w.skip(8)
	}

	if f := s.Fun; f.Present {
		for _, x := range []int{f.Novelty, f.Creation, f.Social, f.Influence, f.Narrative, f.RiskRescue} {
			w.put(squash(float64(x), funScale))
		}
	} else {
		w.skip(6)
	}

	if m := s.Memory; m.Present {
		w.put(1)
		w.put(sat(float64(m.Entries), memorySat))
		w.put(sat(float64(m.Places), placesSat))
		w.put(sat(float64(m.Agents), agentsSat))
		w.put(clamp(m.PositiveRatio, 0, 1))
		w.put(1 - clamp(m.PositiveRatio, 0, 1))
		w.flag(m.RecentDanger)
		if m.Entries > 0 {
			w.put(float64(m.Places) / float64(m.Entries))
			w.put(float64(m.Agents) / float64(m.Entries))
		} else {
			w.skip(2)
		}
		w.flag(m.Entries >= memorySat)
	}
}
