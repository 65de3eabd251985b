package sandbox

import "voxelmind/internal/observe"

func floorDiv(a, b int) int {
	// b > 0
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func hashString(s string) int {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return int(uint32(h))
}

const biomeRegion = 32

func biomeAt(seed int64, x, z int) string {
	switch hash2(seed^0x5bd1e995, floorDiv(x, biomeRegion), floorDiv(z, biomeRegion)) % 3 {
	case 0:
		return "PLAINS"
	case 1:
		return "FOREST"
	default:
		return "DESERT"
	}
}

// generated is the untouched terrain. The world is one walkable layer at y=0:
// every (x,z) cell holds a single block or AIR, ground below, sky above.
func generated(seed int64, p observe.Vec3) string {
	switch {
	case p.Y > 0:
		return "AIR"
	case p.Y == -1:
		if biomeAt(seed, p.X, p.Z) == "DESERT" {
			return "SAND"
		}
		return "DIRT"
	case p.Y < -1:
		return "STONE"
	}

	biome := biomeAt(seed, p.X, p.Z)
	roll := hash2(seed, p.X, p.Z) % 1000
	switch {
	case roll < 10:
		return "CRYSTAL_ORE"
	case roll < 30:
		return "IRON_ORE"
	case roll < 60:
		return "COPPER_ORE"
	case roll < 100:
		return "COAL_ORE"
	case roll < 180:
		return "STONE"
	case roll < 240:
		if biome == "DESERT" {
			return "SAND"
		}
		return "LOG"
	case roll < 300:
		if biome == "DESERT" {
			return "SAND"
		}
		return "DIRT"
	case roll < 320:
		return "GRAVEL"
	case roll < 345:
		if biome == "DESERT" {
			return "CACTUS"
		}
		return "BERRY_BUSH"
	case roll < 348:
		return "CHEST"
	case roll < 360:
		if biome == "PLAINS" {
			return "WATER"
		}
	}
	return "AIR"
}

// blockDrop is the item a broken block yields, "" for none.
func blockDrop(block string) string {
	switch block {
	case "COAL_ORE":
		return "COAL"
	case "CRYSTAL_ORE":
		return "CRYSTAL_SHARD"
	case "BERRY_BUSH":
		return "BERRIES"
	case "AIR", "WATER", "CACTUS", "CHEST":
		return ""
	}
	return block
}

// mineTier is the pickaxe tier needed to break block, or -1 when MINE does not apply.
func mineTier(block string) int {
	switch block {
	case "STONE", "COAL_ORE", "COPPER_ORE", "GRAVEL":
		return 1
	case "IRON_ORE", "CRYSTAL_ORE":
		return 2
	}
	return -1
}

func gatherable(block string) bool {
	switch block {
	case "LOG", "BERRY_BUSH", "DIRT", "SAND", "CLAY":
		return true
	}
	return false
}

func passable(block string) bool {
	switch block {
	case "WATER", "LAVA", "CACTUS":
		return false
	}
	return !observe.IsSolidBlock(block)
}

var lootTables = [...][]observe.ItemStack{
	{{Item: "BREAD", Count: 2}, {Item: "TORCH", Count: 2}},
	{{Item: "IRON_INGOT", Count: 2}, {Item: "STICK", Count: 2}},
	{{Item: "APPLE", Count: 3}, {Item: "COAL", Count: 2}},
	{{Item: "COOKED_MEAT", Count: 1}, {Item: "PLANK", Count: 4}},
}

func lootAt(seed int64, p observe.Vec3) []observe.ItemStack {
	return lootTables[hash3(seed, p.X, p.Y, p.Z)%uint64(len(lootTables))]
}
