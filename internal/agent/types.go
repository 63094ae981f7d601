package agent

import (
	"context"
	"errors"

	"github.com/chadiek/store-assistant/internal/grounding"
)

var (
	ErrEmptyUtterance = errors.New("utterance is empty")
	// ErrBusy means a model call for this conversation is still pending.
	ErrBusy = errors.New("a reply is already in progress")
	// ErrSessionExpired ends the conversation; the caller must re-authenticate.
	ErrSessionExpired = errors.New("session expired")
)

// Assembler builds the grounded context for a turn.
type Assembler interface {
	Assemble(ctx context.Context, req grounding.Request) (grounding.Context, error)
}

// Generator produces a model answer. It must not fail; problems come back as
// grounding.Fallback().
type Generator interface {
	Generate(ctx context.Context, c grounding.Context) grounding.Output
}

// MentionedProduct is a recommended item as shown to the customer.
type MentionedProduct struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Aisle    string  `json:"aisle"`
	Bin      string  `json:"bin,omitempty"`
	Location string  `json:"location"`
	Reason   string  `json:"reason,omitempty"`
}

// Reply is the outcome of one turn.
type Reply struct {
	Response           string             `json:"response"`
	FollowupQuestion   string             `json:"followupQuestion,omitempty"`
	SuggestedQuestions []string           `json:"suggestedQuestions,omitempty"`
	MentionedProducts  []MentionedProduct `json:"mentionedProducts,omitempty"`
	// Fallback is set when the answer is the generic retry message.
	Fallback bool `json:"-"`
}

// Spoken is the text to read aloud: the response followed by the follow-up question.
func (r Reply) Spoken() string {
	if r.FollowupQuestion == "" {
		return SpeechText(r.Response)
	}
	return SpeechText(r.Response + "\n\n" + r.FollowupQuestion)
}

// DefaultSuggestedQuestions seed a fresh conversation.
var DefaultSuggestedQuestions = []string{
	"What can I use to hang a picture without drilling?",
	"Where can I find drywall anchors?",
	"Do you have a stud finder?",
}
