package grounding

import (
	"strings"

	"github.com/chadiek/store-assistant/internal/inventory"
)

// DropReason explains why a recommended SKU was removed.
type DropReason string

const (
	DropNotAllowed DropReason = "not_allowed"
	DropConstraint DropReason = "constraint"
	DropDuplicate  DropReason = "duplicate"
)

type Drop struct {
	SKU    string
	Reason DropReason
}

// Result is validated output plus the full records of the surviving recommendations.
type Result struct {
	Output    Output
	Mentioned []inventory.Item
	Dropped   []Drop
}

// Validate enforces that every recommended SKU belongs to the turn's allowed set and does not
// contradict a hard customer constraint. Offending SKUs are dropped individually, along with
// their reasons. An emptied recommendation list is a valid outcome.
func Validate(out Output, c Context) Result {
	res := Result{Output: Output{
		ResponseText:       out.ResponseText,
		RecommendedSKUs:    []string{},
		ProductReasons:     map[string]string{},
		FollowupQuestion:   out.FollowupQuestion,
		SuggestedQuestions: out.SuggestedQuestions,
	}}
	if strings.TrimSpace(res.Output.ResponseText) == "" {
		res.Output.ResponseText = DefaultResponseText
	}

	reasons := make(map[string]string, len(out.ProductReasons))
	for k, v := range out.ProductReasons {
		if canon, ok := c.Allowed.Resolve(k); ok {
			reasons[canon] = v
		}
	}

	seen := make(map[string]bool, len(out.RecommendedSKUs))
	for _, raw := range out.RecommendedSKUs {
		sku, ok := c.Allowed.Resolve(raw)
		if !ok {
			res.Dropped = append(res.Dropped, Drop{SKU: raw, Reason: DropNotAllowed})
			continue
		}
		if seen[sku] {
			res.Dropped = append(res.Dropped, Drop{SKU: sku, Reason: DropDuplicate})
			continue
		}
		seen[sku] = true
		item, _ := c.Allowed.Item(sku)
		if Violates(item, c.Constraints) {
			res.Dropped = append(res.Dropped, Drop{SKU: sku, Reason: DropConstraint})
			continue
		}
		res.Output.RecommendedSKUs = append(res.Output.RecommendedSKUs, sku)
		res.Mentioned = append(res.Mentioned, item)
		if r, ok := reasons[sku]; ok {
			res.Output.ProductReasons[sku] = r
		}
	}
	return res
}

// Violates reports whether an item's declared attributes contradict a hard constraint.
// Unknown attributes never disqualify an item.
func Violates(it inventory.Item, c Constraints) bool {
	if c.MaxWeightLbs != nil {
		if capLbs, ok := it.WeightCapacity(); ok && capLbs < *c.MaxWeightLbs {
			return true
		}
	}
	if c.NoDrilling || c.NoTools {
		if drill, ok := it.RequiresDrill(); (ok && drill) || (!ok && it.HasTag("drilling-required")) {
			return true
		}
	}
	if c.MaxPrice != nil && it.Price > *c.MaxPrice {
		return true
	}
	if c.SurfaceType != "" {
		if surfaces := it.Surfaces(); len(surfaces) > 0 && !containsFold(surfaces, c.SurfaceType) {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}
