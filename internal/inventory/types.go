package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnauthorized is returned by a Gateway when the backing store rejects the caller's credentials.
var ErrUnauthorized = errors.New("inventory: unauthorized")

// Gateway answers inventory questions for one store. Implementations are read-only.
type Gateway interface {
	// InStock returns the items of the store with a positive stock count.
	InStock(ctx context.Context, storeID string) ([]Item, error)
	// Policy returns the recommendation policy configured for the store.
	Policy(ctx context.Context, storeID string) (Policy, error)
}

// Location is where an item sits on the shop floor. Bin is optional.
type Location struct {
	Aisle string `json:"aisle"`
	Bin   string `json:"bin,omitempty"`
}

func (l Location) String() string {
	if l.Bin == "" {
		return "Aisle " + l.Aisle
	}
	return "Aisle " + l.Aisle + ", Bin " + l.Bin
}

// Item is one stocked product.
type Item struct {
	SKU         string         `json:"sku"`
	Name        string         `json:"name"`
	Price       float64        `json:"price"`
	Stock       int            `json:"stock"`
	Location    Location       `json:"location"`
	Category    string         `json:"category"`
	Tags        []string       `json:"tags"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Description string         `json:"description"`
}

// Well-known attribute keys.
const (
	AttrWeightCapacity = "weight_capacity_lbs"
	AttrRequiresDrill  = "requires_drill"
	AttrSurfaces       = "surface_types"
)

// WeightCapacity reports the rated load in pounds, if the item declares one.
func (it Item) WeightCapacity() (float64, bool) {
	return number(it.Attributes[AttrWeightCapacity])
}

// RequiresDrill reports whether installing the item needs a drill, if declared.
func (it Item) RequiresDrill() (bool, bool) {
	switch v := it.Attributes[AttrRequiresDrill].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	}
	return false, false
}

// Surfaces lists the declared compatible surfaces.
func (it Item) Surfaces() []string {
	switch v := it.Attributes[AttrSurfaces].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		return strings.Split(v, ",")
	}
	return nil
}

// HasTag reports whether the item carries tag, case-insensitively.
func (it Item) HasTag(tag string) bool {
	for _, t := range it.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Policy holds store-level recommendation defaults. Zero value means standard recommendations
// with drilling treated as a last resort.
type Policy struct {
	PreferNoDamage       bool   `json:"preferNoDamage"`
	PreferNoTools        bool   `json:"preferNoTools"`
	SuggestDrillingFirst bool   `json:"suggestDrillingFirst"`
	SafetyDisclaimers    bool   `json:"safetyDisclaimers"`
	CustomInstructions   string `json:"customInstructions,omitempty"`
}

// FilterInStock drops items with no stock.
func FilterInStock(items []Item) []Item {
	out := items[:0:0]
	for _, it := range items {
		if it.Stock > 0 {
			out = append(out, it)
		}
	}
	return out
}

func storeErr(backend, storeID string, err error) error {
	return fmt.Errorf("%s inventory for store %q: %w", backend, storeID, err)
}
