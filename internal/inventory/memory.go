package inventory

import (
	"context"
	"sync"
)

// DemoStoreID identifies the seeded demo store.
const DemoStoreID = "demo-store"

// Memory is an in-process Gateway, used for the demo store and in tests.
type Memory struct {
	mu       sync.RWMutex
	items    map[string][]Item
	policies map[string]Policy
}

func NewMemory() *Memory {
	return &Memory{items: map[string][]Item{}, policies: map[string]Policy{}}
}

// NewDemoMemory returns a Memory gateway seeded with the demo hardware store.
func NewDemoMemory() *Memory {
	m := NewMemory()
	m.Put(DemoStoreID, DemoItems()...)
	m.SetPolicy(DemoStoreID, Policy{PreferNoDamage: true, SafetyDisclaimers: true})
	return m
}

// Put replaces or adds items for a store, keyed by SKU.
func (m *Memory) Put(storeID string, items ...Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.items[storeID]
	for _, it := range items {
		replaced := false
		for i := range cur {
			if cur[i].SKU == it.SKU {
				cur[i] = it
				replaced = true
				break
			}
		}
		if !replaced {
			cur = append(cur, it)
		}
	}
	m.items[storeID] = cur
}

func (m *Memory) SetPolicy(storeID string, p Policy) {
	m.mu.Lock()
	m.policies[storeID] = p
	m.mu.Unlock()
}

func (m *Memory) InStock(ctx context.Context, storeID string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return FilterInStock(m.items[storeID]), nil
}

func (m *Memory) Policy(ctx context.Context, storeID string) (Policy, error) {
	if err := ctx.Err(); err != nil {
		return Policy{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policies[storeID], nil
}

// DemoItems is the demo hardware store catalogue.
func DemoItems() []Item {
	return []Item{
		{
			SKU:         "CMD-STRIPS-LG",
			Name:        "Command Large Picture Hanging Strips (8-Pack)",
			Description: "Heavy duty damage-free strips. Holds up to 16 lbs.",
			Category:    "hanging",
			Price:       12.99,
			Stock:       38,
			Location:    Location{Aisle: "A3", Bin: "13"},
			Tags:        []string{"no-damage", "rental-friendly", "no-tools"},
			Attributes:  map[string]any{AttrWeightCapacity: 16.0, "removable": true, AttrRequiresDrill: false},
		},
		{
			SKU:         "MONKEY-HOOK-10",
			Name:        "Monkey Hooks Picture Hangers (10-Pack)",
			Description: "Push into drywall. Holds up to 35 lbs. Leaves tiny hole.",
			Category:    "hanging",
			Price:       9.99,
			Stock:       25,
			Location:    Location{Aisle: "A3", Bin: "14"},
			Tags:        []string{"no-tools", "minimal-damage", "drywall-only"},
			Attributes:  map[string]any{AttrWeightCapacity: 35.0, AttrRequiresDrill: false, AttrSurfaces: []string{"drywall"}},
		},
		{
			SKU:         "DRYWALL-ANCHOR-50",
			Name:        "Drywall Anchors Assorted (50-Pack)",
			Description: "Plastic expansion anchors. Requires drilling. Holds 20-75 lbs.",
			Category:    "hardware",
			Price:       12.99,
			Stock:       30,
			Location:    Location{Aisle: "B2", Bin: "5"},
			Tags:        []string{"drilling-required", "drywall", "anchors"},
			Attributes:  map[string]any{AttrWeightCapacity: 75.0, AttrRequiresDrill: true, AttrSurfaces: []string{"drywall"}},
		},
		{
			SKU:         "STUD-FINDER-DIG",
			Name:        "Digital Stud Finder with LCD",
			Description: "Detects wood/metal studs, AC wiring, and pipes.",
			Category:    "tools",
			Price:       29.99,
			Stock:       12,
			Location:    Location{Aisle: "C1", Bin: "22"},
			Tags:        []string{"tools", "safety", "detection"},
			Attributes:  map[string]any{"detects": []string{"wood studs", "metal studs", "AC wiring"}},
		},
		{
			SKU:         "VELCRO-STRIPS-15",
			Name:        "Industrial Velcro Strips (15-Pack)",
			Description: "Heavy duty strips. Holds up to 10 lbs. Removable.",
			Category:    "adhesives",
			Price:       11.99,
			Stock:       40,
			Location:    Location{Aisle: "A4", Bin: "3"},
			Tags:        []string{"no-damage", "rental-friendly", "adhesive"},
			Attributes:  map[string]any{AttrWeightCapacity: 10.0, "removable": true},
		},
	}
}
