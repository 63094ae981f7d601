// Package grounding turns a customer utterance and a store's live inventory into a
// bounded model context, and checks model output against that context.
package grounding

import (
	"strings"

	"github.com/chadiek/store-assistant/internal/inventory"
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable entry of a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// DefaultHistoryWindow is how many prior turns are sent to the model.
const DefaultHistoryWindow = 6

// LastTurns returns at most n trailing turns. n <= 0 means DefaultHistoryWindow.
func LastTurns(history []Turn, n int) []Turn {
	if n <= 0 {
		n = DefaultHistoryWindow
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]Turn, len(history))
	copy(out, history)
	return out
}

// Output is the structured answer a provider returns.
type Output struct {
	ResponseText       string            `json:"response_text"`
	RecommendedSKUs    []string          `json:"recommended_skus"`
	ProductReasons     map[string]string `json:"product_reasons"`
	FollowupQuestion   *string           `json:"followup_question"`
	SuggestedQuestions []string          `json:"suggested_questions,omitempty"`
}

const (
	// DefaultResponseText replaces a missing or empty response_text.
	DefaultResponseText = "I'm sorry, I couldn't process that request."

	fallbackResponse = "I apologize, but I'm having trouble processing your request right now. " +
		"Could you please try again or rephrase your question?"
	fallbackFollowup = "What product are you looking for today?"
)

// Fallback is the fixed-shape answer used whenever a provider call cannot produce one.
func Fallback() Output {
	q := fallbackFollowup
	return Output{
		ResponseText:     fallbackResponse,
		RecommendedSKUs:  []string{},
		ProductReasons:   map[string]string{},
		FollowupQuestion: &q,
	}
}

// IsFallback reports whether o is the provider fallback answer.
func (o Output) IsFallback() bool { return o.ResponseText == fallbackResponse }

// AllowedSet is the per-turn whitelist of SKUs a recommendation may reference.
type AllowedSet struct {
	order []string
	items map[string]inventory.Item
	fold  map[string]string
}

// NewAllowedSet builds the set from in-stock items, preserving order and ignoring duplicates.
func NewAllowedSet(items []inventory.Item) AllowedSet {
	a := AllowedSet{items: make(map[string]inventory.Item, len(items)), fold: make(map[string]string, len(items))}
	for _, it := range items {
		if it.SKU == "" {
			continue
		}
		if _, dup := a.items[it.SKU]; dup {
			continue
		}
		a.order = append(a.order, it.SKU)
		a.items[it.SKU] = it
		a.fold[strings.ToUpper(it.SKU)] = it.SKU
	}
	return a
}

func (a AllowedSet) Len() int { return len(a.order) }

// SKUs returns the members in inventory order.
func (a AllowedSet) SKUs() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

func (a AllowedSet) Contains(sku string) bool {
	_, ok := a.items[sku]
	return ok
}

// Resolve maps a model-supplied SKU onto the canonical member, tolerating case and padding.
func (a AllowedSet) Resolve(sku string) (string, bool) {
	sku = strings.TrimSpace(sku)
	if _, ok := a.items[sku]; ok {
		return sku, true
	}
	canon, ok := a.fold[strings.ToUpper(sku)]
	return canon, ok
}

func (a AllowedSet) Item(sku string) (inventory.Item, bool) {
	it, ok := a.items[sku]
	return it, ok
}
