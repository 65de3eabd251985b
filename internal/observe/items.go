package observe

import "strings"

// ItemVocabulary is the fixed item list the inventory histogram is built against.
// Append only.
var ItemVocabulary = [...]string{
	"LOG", "PLANK", "STICK", "STONE", "DIRT", "GRASS", "SAND", "GRAVEL",
	"GLASS", "BRICK", "CLAY", "LEAVES", "SAPLING", "WOOL", "STRING", "BONE",
	"COAL", "COAL_ORE", "IRON_ORE", "IRON_INGOT", "COPPER_ORE", "COPPER_INGOT", "CRYSTAL_ORE", "CRYSTAL_SHARD",
	"BERRIES", "BREAD", "WHEAT", "APPLE", "RAW_MEAT", "COOKED_MEAT", "FISH", "SEEDS",
	"WOOD_PICKAXE", "STONE_PICKAXE", "IRON_PICKAXE", "WOOD_AXE", "STONE_AXE", "IRON_AXE", "WOOD_SHOVEL", "STONE_SHOVEL",
	"IRON_SHOVEL", "TORCH", "CHEST", "CRAFTING_BENCH", "FURNACE", "SIGN", "BULLETIN_BOARD", "CLAIM_TOTEM",
	"CONVEYOR", "SWITCH", "SENSOR", "BATTERY", "BUCKET", "WATER_BUCKET", "FLINT", "LEATHER",
}

var itemIndex = func() map[string]int {
	m := make(map[string]int, len(ItemVocabulary))
	for i, it := range ItemVocabulary {
		m[it] = i
	}
	return m
}()

func ItemIndex(item string) (int, bool) {
	i, ok := itemIndex[item]
	return i, ok
}

var foods = map[string]int{
	"BERRIES": 4, "BREAD": 8, "APPLE": 4, "RAW_MEAT": 3, "COOKED_MEAT": 10, "FISH": 6,
}

// FoodValue is the hunger restored by eating one item, 0 for non-food.
func FoodValue(item string) int { return foods[item] }

func IsFood(item string) bool { return foods[item] > 0 }

func IsTool(item string) bool {
	return strings.HasSuffix(item, "_PICKAXE") || strings.HasSuffix(item, "_AXE") || strings.HasSuffix(item, "_SHOVEL")
}

func IsOre(item string) bool { return strings.HasSuffix(item, "_ORE") }

// IsPlaceable reports items that become blocks when placed.
func IsPlaceable(item string) bool {
	switch item {
	case "LOG", "PLANK", "STONE", "DIRT", "SAND", "GRAVEL", "GLASS", "BRICK", "CLAY",
		"TORCH", "CHEST", "CRAFTING_BENCH", "FURNACE", "SIGN", "BULLETIN_BOARD", "CLAIM_TOTEM",
		"CONVEYOR", "SWITCH", "SENSOR", "BATTERY":
		return true
	}
	return false
}

// ToolTier is 0 for bare hands, 1 wood, 2 stone, 3 iron.
func ToolTier(item string) int {
	if !IsTool(item) {
		return 0
	}
	switch {
	case strings.HasPrefix(item, "IRON_"):
		return 3
	case strings.HasPrefix(item, "STONE_"):
		return 2
	default:
		return 1
	}
}

// Block classes used for the neighborhood grid.

func IsSolidBlock(b string) bool {
	switch b {
	case "", "AIR", "WATER", "LAVA", "TORCH", "UNKNOWN":
		return false
	}
	return true
}

func IsResourceBlock(b string) bool {
	switch b {
	case "LOG", "BERRY_BUSH", "SAND", "CLAY", "GRAVEL", "WHEAT":
		return true
	}
	return IsOre(b)
}

func IsHazardBlock(b string) bool {
	switch b {
	case "LAVA", "FIRE", "CACTUS", "WATER":
		return true
	}
	return false
}
