package grounding

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/store-assistant/internal/inventory"
)

func demoContext(utterance string) Context {
	return Build(Request{StoreID: inventory.DemoStoreID, Utterance: utterance}, inventory.DemoItems(), inventory.Policy{}, 6)
}

func TestValidate_DropsUnknownSKUsAndTheirReasons(t *testing.T) {
	c := demoContext("what do you have for hanging pictures?")
	out := Output{
		ResponseText:    "Try these.",
		RecommendedSKUs: []string{"MONKEY-HOOK-10", "GHOST-SKU-1", "cmd-strips-lg", "MONKEY-HOOK-10"},
		ProductReasons: map[string]string{
			"MONKEY-HOOK-10":   "holds 35 lbs",
			"GHOST-SKU-1":      "does not exist",
			"CMD-STRIPS-LG":    "damage free",
			"VELCRO-STRIPS-15": "not recommended, stray reason",
		},
	}
	res := Validate(out, c)

	assert.Equal(t, []string{"MONKEY-HOOK-10", "CMD-STRIPS-LG"}, res.Output.RecommendedSKUs)
	assert.Equal(t, map[string]string{"MONKEY-HOOK-10": "holds 35 lbs", "CMD-STRIPS-LG": "damage free"}, res.Output.ProductReasons)
	require.Len(t, res.Mentioned, 2)
	assert.Equal(t, "Monkey Hooks Picture Hangers (10-Pack)", res.Mentioned[0].Name)
	assert.Contains(t, res.Dropped, Drop{SKU: "GHOST-SKU-1", Reason: DropNotAllowed})
	assert.Contains(t, res.Dropped, Drop{SKU: "MONKEY-HOOK-10", Reason: DropDuplicate})
}

func TestValidate_EmptyingIsNotAnError(t *testing.T) {
	c := demoContext("anything")
	res := Validate(Output{ResponseText: "Here you go", RecommendedSKUs: []string{"NOPE"}}, c)
	assert.Empty(t, res.Output.RecommendedSKUs)
	assert.NotNil(t, res.Output.RecommendedSKUs)
	assert.Empty(t, res.Output.ProductReasons)
	assert.Empty(t, res.Mentioned)
	assert.Equal(t, "Here you go", res.Output.ResponseText)
}

func TestValidate_DefaultsEmptyResponseText(t *testing.T) {
	res := Validate(Output{}, demoContext("x"))
	assert.Equal(t, DefaultResponseText, res.Output.ResponseText)
}

func TestValidate_PictureWithoutDrilling(t *testing.T) {
	utterances := []string{
		"I need to hang a 20lb picture with no drilling",
		"I want to hang a wooden frame on drywall, 20 lbs, no drilling",
		"I need something versatile to hang a 20lb picture with no drilling",
	}
	for _, u := range utterances {
		t.Run(u, func(t *testing.T) {
			c := demoContext(u)
			assert.True(t, c.Allowed.Contains("CMD-STRIPS-LG"))
			assert.True(t, c.Allowed.Contains("MONKEY-HOOK-10"))

			out := Output{
				ResponseText:    "Monkey hooks or command strips will work.",
				RecommendedSKUs: []string{"CMD-STRIPS-LG", "MONKEY-HOOK-10", "DRYWALL-ANCHOR-50"},
				ProductReasons:  map[string]string{"CMD-STRIPS-LG": "no damage", "MONKEY-HOOK-10": "35 lb, no drill", "DRYWALL-ANCHOR-50": "strong"},
			}
			res := Validate(out, c)
			assert.Equal(t, []string{"MONKEY-HOOK-10"}, res.Output.RecommendedSKUs)
			assert.Equal(t, map[string]string{"MONKEY-HOOK-10": "35 lb, no drill"}, res.Output.ProductReasons)
			assert.ElementsMatch(t, []Drop{
				{SKU: "CMD-STRIPS-LG", Reason: DropConstraint},
				{SKU: "DRYWALL-ANCHOR-50", Reason: DropConstraint},
			}, res.Dropped)
		})
	}
}

func TestViolates(t *testing.T) {
	items := inventory.DemoItems()
	byID := map[string]inventory.Item{}
	for _, it := range items {
		byID[it.SKU] = it
	}
	w, p := 12.0, 10.0
	assert.True(t, Violates(byID["VELCRO-STRIPS-15"], Constraints{MaxWeightLbs: &w}))
	assert.False(t, Violates(byID["CMD-STRIPS-LG"], Constraints{MaxWeightLbs: &w}))
	// no declared capacity, so weight cannot disqualify it
	assert.False(t, Violates(byID["STUD-FINDER-DIG"], Constraints{MaxWeightLbs: &w}))
	assert.True(t, Violates(byID["DRYWALL-ANCHOR-50"], Constraints{NoTools: true}))
	assert.True(t, Violates(byID["CMD-STRIPS-LG"], Constraints{MaxPrice: &p}))
	assert.False(t, Violates(byID["MONKEY-HOOK-10"], Constraints{MaxPrice: &p}))
	assert.True(t, Violates(byID["MONKEY-HOOK-10"], Constraints{SurfaceType: "brick"}))
	assert.False(t, Violates(byID["CMD-STRIPS-LG"], Constraints{SurfaceType: "brick"}))
	assert.False(t, Violates(byID["CMD-STRIPS-LG"], Constraints{NoDamage: true}))
}

// Whatever the model returns, surviving SKUs are members of the allowed set and
// reasons only describe surviving SKUs.
func TestValidate_GroundingInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	c := demoContext("I need a 12 lb hanger under $15 with no drilling")
	pool := append(c.AllowedSKUs(), "FAKE-1", "FAKE-2", "monkey-hook-10", " VELCRO-STRIPS-15 ", "")

	for i := 0; i < 500; i++ {
		n := rng.Intn(8)
		out := Output{ResponseText: "r", ProductReasons: map[string]string{}}
		for j := 0; j < n; j++ {
			sku := pool[rng.Intn(len(pool))]
			out.RecommendedSKUs = append(out.RecommendedSKUs, sku)
			if rng.Intn(2) == 0 {
				out.ProductReasons[sku] = fmt.Sprintf("reason %d", j)
			}
		}
		out.ProductReasons[pool[rng.Intn(len(pool))]] = "stray"

		res := Validate(out, c)
		kept := map[string]bool{}
		for _, sku := range res.Output.RecommendedSKUs {
			require.True(t, c.Allowed.Contains(sku), sku)
			item, _ := c.Allowed.Item(sku)
			require.False(t, Violates(item, c.Constraints), sku)
			require.False(t, kept[sku], "duplicate %s", sku)
			kept[sku] = true
		}
		for sku := range res.Output.ProductReasons {
			require.True(t, kept[sku], sku)
		}
		require.Len(t, res.Mentioned, len(res.Output.RecommendedSKUs))
	}
}
