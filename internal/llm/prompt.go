package llm

import (
	"strings"

	"github.com/chadiek/store-assistant/internal/grounding"
)

// SystemPrompt is shared by every backend; where it is placed differs per API.
const SystemPrompt = `You are a friendly, knowledgeable hardware store assistant helping customers on the shop floor.

Rules:
- Recommend products ONLY from the AVAILABLE INVENTORY you are given. Never invent SKUs, prices, stock or locations.
- Always tell the customer where to find each product (aisle and bin).
- Follow the STORE POLICIES. Respect every CUSTOMER CONSTRAINT; never recommend an item that cannot hold the stated weight, needs a drill when the customer cannot drill, or is over budget.
- If nothing in stock fits, say so plainly and suggest asking a team member.
- Keep answers short enough to be read aloud.
- Respond with a single JSON object and nothing else.`

const outputFormat = `Respond with valid JSON only in this format:
{
  "response_text": "Your helpful response here",
  "recommended_skus": ["SKU1", "SKU2"],
  "product_reasons": { "SKU1": "reason", "SKU2": "reason" },
  "followup_question": "optional question",
  "suggested_questions": ["optional next question the customer might ask"]
}`

// BuildPrompt renders the provider-neutral prompt for a turn.
func BuildPrompt(c grounding.Context) Prompt {
	return Prompt{
		System:  SystemPrompt,
		History: c.History,
		User:    UserPrompt(c),
	}
}

// UserPrompt carries the inventory, policy and constraint sections, the quoted customer
// question and a restatement of the allowed SKUs.
func UserPrompt(c grounding.Context) string {
	allowed := "[" + strings.Join(c.AllowedSKUs(), ", ") + "]"
	var b strings.Builder
	b.WriteString(c.InventoryText)
	b.WriteString("\n\n")
	b.WriteString(c.PolicyText)
	b.WriteString("\n\n")
	b.WriteString(c.ConstraintText)
	b.WriteString("\n\nCUSTOMER QUESTION:\n\"")
	b.WriteString(c.Transcript)
	b.WriteString("\"\n\nRemember: You can ONLY recommend SKUs from this list: ")
	b.WriteString(allowed)
	b.WriteString("\nIf no products match, set recommended_skus=[] and explain why.\n\n")
	b.WriteString(outputFormat)
	return b.String()
}
