package grounding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/chadiek/store-assistant/internal/inventory"
)

// Context is everything a provider needs for one turn. It is built fresh per turn and never mutated.
type Context struct {
	StoreID     string
	Allowed     AllowedSet
	Items       []inventory.Item
	Policy      inventory.Policy
	Constraints Constraints

	InventoryText  string
	PolicyText     string
	ConstraintText string

	// Transcript is the current customer utterance.
	Transcript string
	// History holds the prior turns, already truncated to the window.
	History []Turn
}

// AllowedSKUs lists the whitelist in inventory order.
func (c Context) AllowedSKUs() []string { return c.Allowed.SKUs() }

// Request is the input of one assembly.
type Request struct {
	StoreID   string
	Utterance string
	History   []Turn
}

// Assembler merges inventory, store policy and customer constraints into a Context.
type Assembler struct {
	gateway       inventory.Gateway
	historyWindow int
}

func NewAssembler(gw inventory.Gateway, historyWindow int) *Assembler {
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}
	return &Assembler{gateway: gw, historyWindow: historyWindow}
}

// Assemble fetches inventory and policy concurrently and renders the prompt sections.
func (a *Assembler) Assemble(ctx context.Context, req Request) (Context, error) {
	if a.gateway == nil {
		return Context{}, errors.New("assembler: no inventory gateway")
	}
	var (
		items  []inventory.Item
		policy inventory.Policy
	)
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		items, err = a.gateway.InStock(ctx, req.StoreID)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		policy, err = a.gateway.Policy(ctx, req.StoreID)
		return err
	})
	if err := p.Wait(); err != nil {
		return Context{}, fmt.Errorf("assemble context: %w", err)
	}
	return Build(req, inventory.FilterInStock(items), policy, a.historyWindow), nil
}

// Build is the pure part of assembly: the same inputs always produce the same Context.
func Build(req Request, items []inventory.Item, policy inventory.Policy, historyWindow int) Context {
	allowed := NewAllowedSet(items)
	kept := make([]inventory.Item, 0, allowed.Len())
	for _, sku := range allowed.SKUs() {
		it, _ := allowed.Item(sku)
		kept = append(kept, it)
	}
	cons := ExtractConstraints(req.Utterance)
	return Context{
		StoreID:        req.StoreID,
		Allowed:        allowed,
		Items:          kept,
		Policy:         policy,
		Constraints:    cons,
		InventoryText:  InventoryText(kept),
		PolicyText:     PolicyText(policy),
		ConstraintText: cons.Text(),
		Transcript:     strings.TrimSpace(req.Utterance),
		History:        LastTurns(req.History, historyWindow),
	}
}

// InventoryText serializes items, one record each. Only these items are ever shown to a model.
func InventoryText(items []inventory.Item) string {
	if len(items) == 0 {
		return "AVAILABLE INVENTORY: No matching products found in inventory."
	}
	skus := make([]string, len(items))
	records := make([]string, len(items))
	for i, it := range items {
		skus[i] = it.SKU
		records[i] = itemRecord(it)
	}
	return "AVAILABLE INVENTORY (ONLY recommend from this list):\n" +
		"ALLOWED SKUs: [" + strings.Join(skus, ", ") + "]\n\n" +
		strings.Join(records, "\n\n")
}

func itemRecord(it inventory.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- SKU: %s\n", it.SKU)
	fmt.Fprintf(&b, "  Name: %s\n", it.Name)
	fmt.Fprintf(&b, "  Price: $%.2f\n", it.Price)
	fmt.Fprintf(&b, "  Stock: %d units\n", it.Stock)
	fmt.Fprintf(&b, "  Location: %s\n", it.Location)
	fmt.Fprintf(&b, "  Category: %s\n", it.Category)
	fmt.Fprintf(&b, "  Tags: %s\n", strings.Join(it.Tags, ", "))
	if w, ok := it.WeightCapacity(); ok {
		fmt.Fprintf(&b, "  Weight Capacity: %s lbs\n", formatNumber(w))
	} else {
		b.WriteString("  Weight Capacity: N/A\n")
	}
	if s := it.Surfaces(); len(s) > 0 {
		fmt.Fprintf(&b, "  Surfaces: %s\n", strings.Join(s, ", "))
	} else {
		b.WriteString("  Surfaces: various\n")
	}
	drill := "No"
	if d, _ := it.RequiresDrill(); d || it.HasTag("drilling-required") {
		drill = "Yes"
	}
	fmt.Fprintf(&b, "  Requires Drill: %s\n", drill)
	fmt.Fprintf(&b, "  Description: %s", it.Description)
	return b.String()
}

// PolicyText renders the store policy section of the prompt.
func PolicyText(p inventory.Policy) string {
	var lines []string
	if p.PreferNoDamage {
		lines = append(lines, "- Prefer damage-free/rental-friendly options")
	}
	if p.PreferNoTools {
		lines = append(lines, "- Prefer no-tools-required options")
	}
	if !p.SuggestDrillingFirst {
		lines = append(lines, "- Only suggest drilling as a last resort")
	}
	if p.SafetyDisclaimers {
		lines = append(lines, "- Include safety disclaimers for electrical/plumbing tasks")
	}
	if s := strings.TrimSpace(p.CustomInstructions); s != "" {
		lines = append(lines, "- "+s)
	}
	if len(lines) == 0 {
		return "STORE POLICIES: Standard recommendations."
	}
	return "STORE POLICIES:\n" + strings.Join(lines, "\n")
}
