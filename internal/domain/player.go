package domain

// InventoryCap is the maximum number of items a player may hold.
const InventoryCap = 100

// DefaultBuildingMaxLevel applies to buildings missing from BuildingMaxLevels.
const DefaultBuildingMaxLevel = 50

// BuildingMaxLevels holds the level ceiling of every known building.
var BuildingMaxLevels = map[string]int{
	"iron_mine":      50,
	"lumber_mill":    50,
	"crystal_cavern": 50,
	"forge":          50,
	"enchant_tower":  30,
	"trade_port":     30,
}

// MaxBuildingLevel returns the level ceiling for a building.
func MaxBuildingLevel(name string) int {
	if max, ok := BuildingMaxLevels[name]; ok {
		return max
	}
	return DefaultBuildingMaxLevel
}

// Player is the authoritative record of a player's economy state
type Player struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Gold      int64               `json:"gold"`
	Resources Resources           `json:"resources"`
	Inventory []Item              `json:"inventory"`
	Stats     PlayerStats         `json:"stats"`
	Buildings map[string]Building `json:"buildings,omitempty"`
}

// Resources are the named non-gold currencies
type Resources struct {
	Iron    int64 `json:"iron"`
	Wood    int64 `json:"wood"`
	Crystal int64 `json:"crystal"`
	Gems    int64 `json:"gems"`
}

// PlayerStats are lifetime counters reported by the game client.
// TotalPlayTime is in seconds.
type PlayerStats struct {
	TotalItemsCrafted int64 `json:"totalItemsCrafted"`
	MonstersKilled    int64 `json:"monstersKilled"`
	TotalPlayTime     int64 `json:"totalPlayTime"`
	QuestsCompleted   int64 `json:"questsCompleted,omitempty"`
}

// Building is a single building owned by a player
type Building struct {
	Level int `json:"level"`
}

// Item is an inventory item. Only ID is used for ownership checks.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Rarity   string `json:"rarity,omitempty"`
	Level    int    `json:"level,omitempty"`
	Attack   int    `json:"attack,omitempty"`
	Defense  int    `json:"defense,omitempty"`
	Magic    int    `json:"magic,omitempty"`
}

// HasItem reports whether the inventory contains an item with the given id.
func (p *Player) HasItem(itemID string) bool {
	return p.itemIndex(itemID) >= 0
}

// FindItem returns a copy of the first item with the given id.
func (p *Player) FindItem(itemID string) (Item, bool) {
	i := p.itemIndex(itemID)
	if i < 0 {
		return Item{}, false
	}
	return p.Inventory[i], true
}

// RemoveItem takes the first item with the given id out of the inventory.
func (p *Player) RemoveItem(itemID string) (Item, bool) {
	i := p.itemIndex(itemID)
	if i < 0 {
		return Item{}, false
	}
	item := p.Inventory[i]
	p.Inventory = append(p.Inventory[:i], p.Inventory[i+1:]...)
	return item, true
}

func (p *Player) itemIndex(itemID string) int {
	for i, item := range p.Inventory {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

// PlayTimeHours converts the play time counter to hours.
func (s PlayerStats) PlayTimeHours() float64 {
	return float64(s.TotalPlayTime) / 3600
}
