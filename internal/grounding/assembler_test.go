package grounding

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/store-assistant/internal/inventory"
)

type failingGateway struct {
	inventory.Gateway
	err error
}

func (f failingGateway) Policy(ctx context.Context, storeID string) (inventory.Policy, error) {
	return inventory.Policy{}, f.err
}

type leakyGateway struct{ items []inventory.Item }

func (l leakyGateway) InStock(context.Context, string) ([]inventory.Item, error) { return l.items, nil }
func (l leakyGateway) Policy(context.Context, string) (inventory.Policy, error) {
	return inventory.Policy{}, nil
}

func TestAssemble_DemoStore(t *testing.T) {
	a := NewAssembler(inventory.NewDemoMemory(), 0)
	history := make([]Turn, 0, 10)
	for i := 0; i < 5; i++ {
		history = append(history, Turn{Role: RoleUser, Content: "q"}, Turn{Role: RoleAssistant, Content: "a"})
	}

	c, err := a.Assemble(context.Background(), Request{
		StoreID:   inventory.DemoStoreID,
		Utterance: "  I need to hang a 20lb picture with no drilling ",
		History:   history,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"CMD-STRIPS-LG", "MONKEY-HOOK-10", "DRYWALL-ANCHOR-50", "STUD-FINDER-DIG", "VELCRO-STRIPS-15"}, c.AllowedSKUs())
	assert.Len(t, c.History, DefaultHistoryWindow)
	assert.Equal(t, "I need to hang a 20lb picture with no drilling", c.Transcript)
	assert.True(t, c.Constraints.NoDrilling)
	assert.Contains(t, c.ConstraintText, "at least 20 lbs")
	assert.Contains(t, c.PolicyText, "Prefer damage-free/rental-friendly options")
	assert.Contains(t, c.PolicyText, "Only suggest drilling as a last resort")
	assert.Contains(t, c.InventoryText, "ALLOWED SKUs: [CMD-STRIPS-LG, MONKEY-HOOK-10, DRYWALL-ANCHOR-50, STUD-FINDER-DIG, VELCRO-STRIPS-15]")
	assert.Contains(t, c.InventoryText, "Location: Aisle A3, Bin 14")
	assert.Contains(t, c.InventoryText, "Weight Capacity: 35 lbs")
}

func TestAssemble_ZeroStockNeverOffered(t *testing.T) {
	gw := leakyGateway{items: []inventory.Item{
		{SKU: "IN", Name: "In stock", Stock: 3, Location: inventory.Location{Aisle: "A1"}},
		{SKU: "OUT", Name: "Sold out", Stock: 0, Location: inventory.Location{Aisle: "A2"}},
	}}
	c, err := NewAssembler(gw, 6).Assemble(context.Background(), Request{StoreID: "s", Utterance: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"IN"}, c.AllowedSKUs())
	assert.NotContains(t, c.InventoryText, "OUT")
}

func TestAssemble_GatewayErrorWrapped(t *testing.T) {
	gw := failingGateway{Gateway: inventory.NewDemoMemory(), err: inventory.ErrUnauthorized}
	_, err := NewAssembler(gw, 6).Assemble(context.Background(), Request{StoreID: "s", Utterance: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, inventory.ErrUnauthorized))
}

func TestBuild_Deterministic(t *testing.T) {
	req := Request{StoreID: "s", Utterance: "under $20 for drywall, no tools", History: []Turn{{Role: RoleUser, Content: "hello"}}}
	items := inventory.DemoItems()
	pol := inventory.Policy{PreferNoTools: true, CustomInstructions: "Mention the returns desk."}

	a := Build(req, items, pol, 6)
	b := Build(req, items, pol, 6)
	assert.Equal(t, a.InventoryText, b.InventoryText)
	assert.Equal(t, a.PolicyText, b.PolicyText)
	assert.Equal(t, a.ConstraintText, b.ConstraintText)
	assert.Equal(t, a.History, b.History)
}

func TestInventoryText_Empty(t *testing.T) {
	assert.Equal(t, "AVAILABLE INVENTORY: No matching products found in inventory.", InventoryText(nil))
}

func TestInventoryText_Record(t *testing.T) {
	txt := InventoryText([]inventory.Item{inventory.DemoItems()[2]})
	want := strings.Join([]string{
		"- SKU: DRYWALL-ANCHOR-50",
		"  Name: Drywall Anchors Assorted (50-Pack)",
		"  Price: $12.99",
		"  Stock: 30 units",
		"  Location: Aisle B2, Bin 5",
		"  Category: hardware",
		"  Tags: drilling-required, drywall, anchors",
		"  Weight Capacity: 75 lbs",
		"  Surfaces: drywall",
		"  Requires Drill: Yes",
		"  Description: Plastic expansion anchors. Requires drilling. Holds 20-75 lbs.",
	}, "\n")
	assert.True(t, strings.HasSuffix(txt, want), txt)
}

func TestPolicyText(t *testing.T) {
	assert.Equal(t, "STORE POLICIES: Standard recommendations.", PolicyText(inventory.Policy{SuggestDrillingFirst: true}))
	assert.Equal(t,
		"STORE POLICIES:\n- Prefer no-tools-required options\n- Only suggest drilling as a last resort\n- Include safety disclaimers for electrical/plumbing tasks\n- Mention the returns desk.",
		PolicyText(inventory.Policy{PreferNoTools: true, SafetyDisclaimers: true, CustomInstructions: " Mention the returns desk. "}))
}

func TestLastTurns(t *testing.T) {
	h := []Turn{{Content: "1"}, {Content: "2"}, {Content: "3"}}
	assert.Equal(t, []Turn{{Content: "2"}, {Content: "3"}}, LastTurns(h, 2))
	out := LastTurns(h, 10)
	out[0].Content = "changed"
	assert.Equal(t, "1", h[0].Content)
}
