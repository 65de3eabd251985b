package observe

import (
	"fmt"
	"strings"
	"time"

	"voxelmind/internal/encoding"
	"voxelmind/internal/protocol"
)

const (
	DefaultMaxHP     = 20
	DefaultMaxHunger = 20
)

// VoxelDecoder turns OBS voxel payloads into block names. It keeps the last
// full grid so DELTA payloads can be applied on top of it. Not safe for concurrent use.
type VoxelDecoder struct {
	palette []string

	radius int
	ids    []uint16
}

func NewVoxelDecoder(palette []string) *VoxelDecoder {
	return &VoxelDecoder{palette: append([]string(nil), palette...)}
}

func (d *VoxelDecoder) SetPalette(palette []string) {
	d.palette = append(d.palette[:0], palette...)
}

func (d *VoxelDecoder) Reset() {
	d.ids = nil
	d.radius = 0
}

// Decode returns nil, nil for an empty payload.
func (d *VoxelDecoder) Decode(v protocol.VoxelsObs) (*Voxels, error) {
	if v.Radius <= 0 {
		return nil, nil
	}
	dim := 2*v.Radius + 1
	total := dim * dim * dim

	switch strings.ToUpper(v.Encoding) {
	case "", "RLE":
		if v.Data == "" {
			return nil, nil
		}
		ids, err := encoding.DecodeRLEInto(v.Data, total)
		if err != nil {
			return nil, fmt.Errorf("voxels: %w", err)
		}
		d.ids = ids
		d.radius = v.Radius
	case "DELTA":
		if d.ids == nil || d.radius != v.Radius {
			return nil, fmt.Errorf("voxels: delta without base grid")
		}
		r := v.Radius
		for _, op := range v.Ops {
			dx, dy, dz := op.D[0], op.D[1], op.D[2]
			if dx < -r || dx > r || dy < -r || dy > r || dz < -r || dz > r {
				continue
			}
			d.ids[((dy+r)*dim+(dz+r))*dim+(dx+r)] = op.B
		}
	default:
		return nil, fmt.Errorf("voxels: unknown encoding %q", v.Encoding)
	}

	blocks := make([]string, total)
	for i, id := range d.ids {
		if int(id) < len(d.palette) {
			blocks[i] = d.palette[id]
		} else {
			blocks[i] = "UNKNOWN"
		}
	}
	return &Voxels{Center: VecFromArray(v.Center), Radius: v.Radius, blocks: blocks}, nil
}

// FromObs builds a snapshot from an OBS message. vox may be nil when the
// neighborhood could not be decoded.
func FromObs(obs protocol.ObsMsg, vox *Voxels, at time.Time) Snapshot {
	s := Snapshot{
		AgentID: obs.AgentID,
		Tick:    obs.Tick,
		At:      at,
		Pos:     VecFromArray(obs.Self.Pos),
		Yaw:     obs.Self.Yaw,
		Vitals: Vitals{
			HP:        obs.Self.HP,
			MaxHP:     DefaultMaxHP,
			Hunger:    obs.Self.Hunger,
			MaxHunger: DefaultMaxHunger,
			Stamina:   clamp01(obs.Self.Stamina),
			Dead:      obs.Self.HP <= 0,
		},
		MainHand: obs.Equipment.MainHand,
		World: WorldInfo{
			TimeOfDay:   obs.World.TimeOfDay,
			Weather:     obs.World.Weather,
			Biome:       obs.World.Biome,
			SeasonDay:   obs.World.SeasonDay,
			ActiveEvent: obs.World.ActiveEvent,
		},
	}
	if obs.World.ActiveEventEndsTick > obs.Tick {
		s.World.EventTicksLeft = obs.World.ActiveEventEndsTick - obs.Tick
	}
	if obs.Equipment.MainHand == "NONE" {
		s.MainHand = ""
	}

	if obs.LocalRules.Role != "" || len(obs.LocalRules.Permissions) > 0 {
		s.Rules = LocalRules{
			Present:   true,
			Role:      obs.LocalRules.Role,
			CanBuild:  obs.LocalRules.Permissions["can_build"],
			CanBreak:  obs.LocalRules.Permissions["can_break"],
			CanDamage: obs.LocalRules.Permissions["can_damage"],
			MarketTax: obs.LocalRules.Tax["market"],
		}
	}
	if f := obs.FunScore; f != nil {
		s.Fun = FunScore{
			Present:    true,
			Novelty:    f.Novelty,
			Creation:   f.Creation,
			Social:     f.Social,
			Influence:  f.Influence,
			Narrative:  f.Narrative,
			RiskRescue: f.RiskRescue,
		}
	}
	if len(obs.Memory) > 0 {
		s.Memory = summarizeMemory(obs.Memory)
	}

	items := make([]ItemStack, 0, len(obs.Inventory))
	for _, it := range obs.Inventory {
		items = append(items, ItemStack{Item: it.Item, Count: it.Count})
	}
	ents := make([]Entity, 0, len(obs.Entities))
	for _, e := range obs.Entities {
		if e.ID == obs.AgentID {
			continue
		}
		ents = append(ents, Entity{
			ID:         e.ID,
			Type:       e.Type,
			Pos:        VecFromArray(e.Pos),
			Tags:       e.Tags,
			Reputation: e.ReputationHint,
			Item:       e.Item,
			Count:      e.Count,
		})
	}
	evs := make([]string, 0, len(obs.Events))
	for _, e := range obs.Events {
		if t := e.Type(); t != "" {
			evs = append(evs, t)
		}
	}
	tasks := make([]Task, 0, len(obs.Tasks))
	for _, t := range obs.Tasks {
		tasks = append(tasks, Task{Kind: t.Kind, Progress: t.Progress})
	}

	s = s.WithInventory(items).
		WithStatus(obs.Self.Status).
		WithEntities(ents).
		WithEvents(evs).
		WithTasks(tasks)
	if vox != nil {
		s.voxels = vox
	}
	return s
}

func summarizeMemory(kvs []protocol.MemoryKV) MemorySummary {
	m := MemorySummary{Present: true, Entries: len(kvs)}
	pos := 0
	for _, kv := range kvs {
		k := strings.ToLower(kv.Key)
		v := strings.ToLower(kv.Value)
		switch {
		case strings.HasPrefix(k, "place") || strings.HasPrefix(k, "home") || strings.HasPrefix(k, "loc"):
			m.Places++
		case strings.HasPrefix(k, "agent") || strings.HasPrefix(k, "friend") || strings.HasPrefix(k, "rival"):
			m.Agents++
		}
		if strings.Contains(k, "danger") || strings.Contains(v, "danger") || strings.Contains(v, "attack") {
			m.RecentDanger = true
		}
		if strings.Contains(v, "good") || strings.Contains(v, "friend") || strings.Contains(v, "safe") {
			pos++
		}
	}
	m.PositiveRatio = float64(pos) / float64(len(kvs))
	return m
}
