package validation

import (
	"fmt"
	"sort"

	"github.com/realm-tycoon/economy-server/internal/domain"
)

type resourceField struct {
	name string
	ptr  func(*domain.Resources) *int64
}

var resourceFields = []resourceField{
	{"iron", func(r *domain.Resources) *int64 { return &r.Iron }},
	{"wood", func(r *domain.Resources) *int64 { return &r.Wood }},
	{"crystal", func(r *domain.Resources) *int64 { return &r.Crystal }},
	{"gems", func(r *domain.Resources) *int64 { return &r.Gems }},
}

// CheckPlayerIntegrity lists every invariant the record violates. Buildings
// are reported in name order so the output is stable.
func CheckPlayerIntegrity(p *domain.Player) []string {
	var issues []string

	if p.Gold < 0 {
		issues = append(issues, "Negative gold detected")
	}
	for _, f := range resourceFields {
		if *f.ptr(&p.Resources) < 0 {
			issues = append(issues, fmt.Sprintf("Negative %s detected", f.name))
		}
	}
	if len(p.Inventory) > domain.InventoryCap {
		issues = append(issues, fmt.Sprintf("Inventory overflow: %d/%d", len(p.Inventory), domain.InventoryCap))
	}
	for _, name := range buildingNames(p) {
		level := p.Buildings[name].Level
		maxLevel := domain.MaxBuildingLevel(name)
		if level > maxLevel {
			issues = append(issues, fmt.Sprintf("Building %s over max level: %d/%d", name, level, maxLevel))
		}
		if level < 0 {
			issues = append(issues, fmt.Sprintf("Building %s has negative level", name))
		}
	}

	return issues
}

// CorrectPlayer clamps the record back into its invariant ranges in place and
// reports whether anything changed. The inventory keeps its first entries.
func CorrectPlayer(p *domain.Player) bool {
	changed := false

	if p.Gold < 0 {
		p.Gold = 0
		changed = true
	}
	for _, f := range resourceFields {
		if v := f.ptr(&p.Resources); *v < 0 {
			*v = 0
			changed = true
		}
	}
	if len(p.Inventory) > domain.InventoryCap {
		p.Inventory = p.Inventory[:domain.InventoryCap]
		changed = true
	}
	for name, b := range p.Buildings {
		maxLevel := domain.MaxBuildingLevel(name)
		switch {
		case b.Level > maxLevel:
			b.Level = maxLevel
		case b.Level < 0:
			b.Level = 0
		default:
			continue
		}
		p.Buildings[name] = b
		changed = true
	}

	return changed
}

func buildingNames(p *domain.Player) []string {
	names := make([]string, 0, len(p.Buildings))
	for name := range p.Buildings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
