package grounding

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Constraints are what the customer asked for in the latest utterance.
// Nil or false fields are unconstrained.
type Constraints struct {
	NoDamage   bool `json:"noDamage,omitempty"`
	NoTools    bool `json:"noTools,omitempty"`
	NoDrilling bool `json:"noDrilling,omitempty"`
	// MaxWeightLbs is the heaviest load the customer needs to hang; items must hold at least this much.
	MaxWeightLbs *float64 `json:"maxWeight,omitempty"`
	SurfaceType  string   `json:"surfaceType,omitempty"`
	MaxPrice     *float64 `json:"maxPrice,omitempty"`
}

func (c Constraints) IsZero() bool {
	return !c.NoDamage && !c.NoTools && !c.NoDrilling && c.MaxWeightLbs == nil && c.SurfaceType == "" && c.MaxPrice == nil
}

var (
	noDamageRe = regexp.MustCompile(`\b(no|without|zero)\s+(damage|damaging|holes?|marks?)\b|\bdamage[- ]free\b|\brent(al|ing|er)\b|\blandlord\b|\bwon['’]?t\s+damage\b`)
	noToolsRe  = regexp.MustCompile(`\b(no|without( any)?)\s+tools?\b|\b(don['’]?t|do not)\s+(have|own)\s+(any\s+)?tools?\b`)
	noDrillRe  = regexp.MustCompile(`\b(no|without( a)?|can['’]?t|cannot|can not|won['’]?t|not allowed to|don['’]?t want to|do not want to|don['’]?t have a|do not have a)\s+drill(ing)?\b`)
	weightRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*-?\s*(lbs?|pounds?)\b`)
	priceRe    = regexp.MustCompile(`\b(under|below|less than|no more than|at most|max(?:imum)?(?: of)?|budget(?: of| is)?|up to)\s*\$?\s*(\d+(?:\.\d+)?)`)
	dollarRe   = regexp.MustCompile(`\$\s*(\d+(?:\.\d+)?)\s*(or less|max|tops)\b`)
	unitTailRe = regexp.MustCompile(`^\s*-?\s*(lbs?|pounds?|kg|kilos?|inch|inches|feet|ft)\b`)
	// surfaceRe matches whole words only, so "wooden" or "versatile" name no surface.
	// The leftmost mention wins.
	surfaceRe  = regexp.MustCompile(`\b(drywall|plaster|brick|concrete|tile|glass|wood|metal|painted wall|wallpaper)s?\b`)
)

// ExtractConstraints derives constraints from one utterance. It is a pure function of its input;
// constraints from earlier turns are not carried forward.
func ExtractConstraints(utterance string) Constraints {
	text := strings.ToLower(utterance)
	var c Constraints

	c.NoDamage = noDamageRe.MatchString(text)
	c.NoTools = noToolsRe.MatchString(text)
	c.NoDrilling = noDrillRe.MatchString(text)

	var heaviest float64
	found := false
	for _, m := range weightRe.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 && (!found || v > heaviest) {
			heaviest, found = v, true
		}
	}
	if found {
		c.MaxWeightLbs = &heaviest
	}

	if p, ok := extractPrice(text); ok {
		c.MaxPrice = &p
	}

	if m := surfaceRe.FindStringSubmatch(text); m != nil {
		c.SurfaceType = m[1]
	}
	return c
}

func extractPrice(text string) (float64, bool) {
	for _, loc := range priceRe.FindAllStringSubmatchIndex(text, -1) {
		// "holds up to 35 lbs" is a weight, not a budget
		if unitTailRe.MatchString(text[loc[1]:]) {
			continue
		}
		if v, err := strconv.ParseFloat(text[loc[4]:loc[5]], 64); err == nil && v > 0 {
			return v, true
		}
	}
	if m := dollarRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			return v, true
		}
	}
	return 0, false
}

// Text renders the customer constraints section of the prompt.
func (c Constraints) Text() string {
	var lines []string
	if c.NoDamage {
		lines = append(lines, "- Customer wants NO DAMAGE / rental-friendly options")
	}
	if c.NoTools {
		lines = append(lines, "- Customer wants NO TOOLS required")
	}
	if c.NoDrilling {
		lines = append(lines, "- Customer wants NO DRILLING")
	}
	if c.MaxWeightLbs != nil {
		lines = append(lines, fmt.Sprintf("- Item weight capacity must support at least %s lbs", formatNumber(*c.MaxWeightLbs)))
	}
	if c.SurfaceType != "" {
		lines = append(lines, "- Must work on: "+c.SurfaceType)
	}
	if c.MaxPrice != nil {
		lines = append(lines, fmt.Sprintf("- Budget: Under $%s", formatNumber(*c.MaxPrice)))
	}
	if len(lines) == 0 {
		return "CUSTOMER CONSTRAINTS: None specified."
	}
	return "CUSTOMER CONSTRAINTS:\n" + strings.Join(lines, "\n")
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
