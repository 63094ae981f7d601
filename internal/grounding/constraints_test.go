package grounding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractConstraints(t *testing.T) {
	cases := []struct {
		name      string
		utterance string
		check     func(t *testing.T, c Constraints)
	}{
		{"picture no drilling", "I need to hang a 20lb picture with no drilling", func(t *testing.T, c Constraints) {
			assert.True(t, c.NoDrilling)
			assert.False(t, c.NoTools)
			assert.False(t, c.NoDamage)
			require.NotNil(t, c.MaxWeightLbs)
			assert.Equal(t, 20.0, *c.MaxWeightLbs)
			assert.Nil(t, c.MaxPrice)
		}},
		{"renter budget", "I'm renting and want something under $15 for plaster walls", func(t *testing.T, c Constraints) {
			assert.True(t, c.NoDamage)
			require.NotNil(t, c.MaxPrice)
			assert.Equal(t, 15.0, *c.MaxPrice)
			assert.Equal(t, "plaster", c.SurfaceType)
		}},
		{"no tools", "I don't have any tools, what can hold a 12 pound mirror?", func(t *testing.T, c Constraints) {
			assert.True(t, c.NoTools)
			require.NotNil(t, c.MaxWeightLbs)
			assert.Equal(t, 12.0, *c.MaxWeightLbs)
			assert.Empty(t, c.SurfaceType)
		}},
		{"weight is not a budget", "something that holds up to 35 lbs", func(t *testing.T, c Constraints) {
			assert.Nil(t, c.MaxPrice)
			require.NotNil(t, c.MaxWeightLbs)
			assert.Equal(t, 35.0, *c.MaxWeightLbs)
		}},
		{"heaviest weight wins", "two frames, 8 lbs and 14.5 lbs", func(t *testing.T, c Constraints) {
			require.NotNil(t, c.MaxWeightLbs)
			assert.Equal(t, 14.5, *c.MaxWeightLbs)
		}},
		{"earliest surface wins", "brick outside, drywall inside", func(t *testing.T, c Constraints) {
			assert.Equal(t, "brick", c.SurfaceType)
		}},
		{"surface is a whole word", "I want to hang a wooden frame on drywall, 20 lbs, no drilling", func(t *testing.T, c Constraints) {
			assert.Equal(t, "drywall", c.SurfaceType)
			assert.True(t, c.NoDrilling)
		}},
		{"no surface inside other words", "something versatile and metallic for a 20lb picture", func(t *testing.T, c Constraints) {
			assert.Empty(t, c.SurfaceType)
		}},
		{"plural surface", "it goes on painted walls", func(t *testing.T, c Constraints) {
			assert.Equal(t, "painted wall", c.SurfaceType)
		}},
		{"dollar or less", "$20 or less please", func(t *testing.T, c Constraints) {
			require.NotNil(t, c.MaxPrice)
			assert.Equal(t, 20.0, *c.MaxPrice)
		}},
		{"cannot drill", "My landlord says I can't drill", func(t *testing.T, c Constraints) {
			assert.True(t, c.NoDrilling)
			assert.True(t, c.NoDamage)
		}},
		{"nothing", "Where are the light bulbs?", func(t *testing.T, c Constraints) {
			assert.True(t, c.IsZero())
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, ExtractConstraints(tc.utterance))
		})
	}
}

// Constraints are re-derived from the latest utterance only; nothing said in an
// earlier turn carries over.
func TestExtractConstraints_LatestUtteranceOnly(t *testing.T) {
	first := ExtractConstraints("I can't drill, I'm renting")
	assert.True(t, first.NoDrilling)

	later := ExtractConstraints("what about for a 30 lb shelf?")
	assert.False(t, later.NoDrilling)
	assert.False(t, later.NoDamage)
	require.NotNil(t, later.MaxWeightLbs)
}

func TestConstraintsText(t *testing.T) {
	assert.Equal(t, "CUSTOMER CONSTRAINTS: None specified.", Constraints{}.Text())

	w, p := 20.0, 12.5
	c := Constraints{NoDamage: true, NoTools: true, NoDrilling: true, MaxWeightLbs: &w, SurfaceType: "drywall", MaxPrice: &p}
	want := "CUSTOMER CONSTRAINTS:\n" +
		"- Customer wants NO DAMAGE / rental-friendly options\n" +
		"- Customer wants NO TOOLS required\n" +
		"- Customer wants NO DRILLING\n" +
		"- Item weight capacity must support at least 20 lbs\n" +
		"- Must work on: drywall\n" +
		"- Budget: Under $12.5"
	assert.Equal(t, want, c.Text())
}
