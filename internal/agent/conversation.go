package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/grounding"
	"github.com/chadiek/store-assistant/internal/inventory"
	"github.com/chadiek/store-assistant/internal/metrics"
)

// Conversation runs the turns of one user session. At most one turn is in flight.
type Conversation struct {
	ID      string
	StoreID string

	assembler Assembler
	generator Generator
	metrics   *metrics.Metrics

	mu        sync.Mutex
	busy      bool
	history   []grounding.Turn
	suggested []string
}

type ConversationOption func(*Conversation)

// WithHistory seeds prior turns, e.g. from a stateless HTTP request.
func WithHistory(h []grounding.Turn) ConversationOption {
	return func(c *Conversation) {
		for _, t := range h {
			if strings.TrimSpace(t.Content) == "" {
				continue
			}
			if t.Role != grounding.RoleAssistant {
				t.Role = grounding.RoleUser
			}
			c.history = append(c.history, t)
		}
	}
}

func WithConversationMetrics(m *metrics.Metrics) ConversationOption {
	return func(c *Conversation) { c.metrics = m }
}

func NewConversation(id, storeID string, a Assembler, g Generator, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		ID:        id,
		StoreID:   storeID,
		assembler: a,
		generator: g,
		suggested: append([]string(nil), DefaultSuggestedQuestions...),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// History returns a copy of the recorded turns.
func (c *Conversation) History() []grounding.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]grounding.Turn(nil), c.history...)
}

func (c *Conversation) SuggestedQuestions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.suggested...)
}

func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Send runs one turn. It fails only with ErrEmptyUtterance, ErrBusy (history untouched)
// or ErrSessionExpired; every other problem yields a fallback reply.
func (c *Conversation) Send(ctx context.Context, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyUtterance
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		c.metrics.Turn("busy")
		return Reply{}, ErrBusy
	}
	c.busy = true
	prior := append([]grounding.Turn(nil), c.history...)
	c.history = append(c.history, grounding.Turn{Role: grounding.RoleUser, Content: text})
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	logger := log.With().Str("conversation", c.ID).Str("store", c.StoreID).Logger()

	var out grounding.Output
	var mentioned []inventory.Item
	gctx, err := c.assembler.Assemble(ctx, grounding.Request{StoreID: c.StoreID, Utterance: text, History: prior})
	switch {
	case errors.Is(err, inventory.ErrUnauthorized):
		logger.Warn().Err(err).Msg("inventory rejected credentials, ending session")
		c.mu.Lock()
		c.history = prior
		c.mu.Unlock()
		c.metrics.Turn("session_expired")
		return Reply{}, ErrSessionExpired
	case err != nil:
		logger.Error().Err(err).Msg("context assembly failed")
		out = grounding.Fallback()
	default:
		res := grounding.Validate(c.generator.Generate(ctx, gctx), gctx)
		out, mentioned = res.Output, res.Mentioned
		c.recordDrops(res.Dropped)
		if len(res.Dropped) > 0 {
			logger.Debug().Interface("dropped", res.Dropped).Msg("recommendations filtered")
		}
	}

	reply := Reply{
		Response:          out.ResponseText,
		MentionedProducts: mentionedProducts(mentioned, out.ProductReasons),
		Fallback:          out.IsFallback(),
	}
	if out.FollowupQuestion != nil {
		reply.FollowupQuestion = *out.FollowupQuestion
	}

	c.mu.Lock()
	c.history = append(c.history, grounding.Turn{Role: grounding.RoleAssistant, Content: out.ResponseText})
	if len(out.SuggestedQuestions) > 0 {
		c.suggested = append([]string(nil), out.SuggestedQuestions...)
	}
	reply.SuggestedQuestions = append([]string(nil), c.suggested...)
	c.mu.Unlock()

	outcome := "ok"
	if reply.Fallback {
		outcome = "fallback"
	}
	c.metrics.Turn(outcome)
	logger.Info().Int("recommended", len(reply.MentionedProducts)).Str("outcome", outcome).Msg("turn complete")
	return reply, nil
}

func (c *Conversation) recordDrops(drops []grounding.Drop) {
	counts := map[grounding.DropReason]int{}
	for _, d := range drops {
		counts[d.Reason]++
	}
	for reason, n := range counts {
		c.metrics.GroundingDropped(string(reason), n)
	}
}

func mentionedProducts(items []inventory.Item, reasons map[string]string) []MentionedProduct {
	if len(items) == 0 {
		return nil
	}
	out := make([]MentionedProduct, 0, len(items))
	for _, it := range items {
		out = append(out, MentionedProduct{
			SKU:      it.SKU,
			Name:     it.Name,
			Price:    it.Price,
			Aisle:    it.Location.Aisle,
			Bin:      it.Location.Bin,
			Location: it.Location.String(),
			Reason:   reasons[it.SKU],
		})
	}
	return out
}
