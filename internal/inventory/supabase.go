package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"
)

// productRow mirrors the products table exposed through PostgREST.
type productRow struct {
	SKU         string         `json:"sku"`
	Name        string         `json:"name"`
	Price       float64        `json:"price"`
	Stock       int            `json:"stock"`
	Aisle       string         `json:"aisle"`
	Bin         *string        `json:"bin"`
	Category    string         `json:"category"`
	Tags        []string       `json:"tags"`
	Attributes  map[string]any `json:"attributes"`
	Description string         `json:"description"`
}

func (r productRow) item() Item {
	loc := Location{Aisle: r.Aisle}
	if r.Bin != nil {
		loc.Bin = *r.Bin
	}
	return Item{
		SKU:         r.SKU,
		Name:        r.Name,
		Price:       r.Price,
		Stock:       r.Stock,
		Location:    loc,
		Category:    r.Category,
		Tags:        r.Tags,
		Attributes:  r.Attributes,
		Description: r.Description,
	}
}

type policyRow struct {
	PreferNoDamage       bool    `json:"prefer_no_damage"`
	PreferNoTools        bool    `json:"prefer_no_tools"`
	SuggestDrillingFirst bool    `json:"suggest_drilling_first"`
	SafetyDisclaimers    bool    `json:"safety_disclaimers"`
	CustomInstructions   *string `json:"custom_instructions"`
}

const productColumns = "sku,name,price,stock,aisle,bin,category,tags,attributes,description"

// Supabase reads inventory through the Supabase PostgREST API.
type Supabase struct {
	client *supabase.Client
}

// NewSupabase builds a gateway from the project URL and a service role key.
func NewSupabase(url, serviceKey string) (*Supabase, error) {
	if url == "" || serviceKey == "" {
		return nil, errors.New("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(strings.TrimRight(url, "/"), serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &Supabase{client: client}, nil
}

func (s *Supabase) InStock(ctx context.Context, storeID string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []productRow
	_, err := s.client.From("products").
		Select(productColumns, "", false).
		Eq("store_id", storeID).
		Gt("stock", "0").
		ExecuteTo(&rows)
	if err != nil {
		return nil, storeErr("supabase", storeID, classify(err))
	}
	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.item())
	}
	return FilterInStock(items), nil
}

func (s *Supabase) Policy(ctx context.Context, storeID string) (Policy, error) {
	if err := ctx.Err(); err != nil {
		return Policy{}, err
	}
	var rows []policyRow
	_, err := s.client.From("store_policies").
		Select("*", "", false).
		Eq("store_id", storeID).
		ExecuteTo(&rows)
	if err != nil {
		return Policy{}, storeErr("supabase", storeID, classify(err))
	}
	if len(rows) == 0 {
		return Policy{}, nil
	}
	r := rows[0]
	p := Policy{
		PreferNoDamage:       r.PreferNoDamage,
		PreferNoTools:        r.PreferNoTools,
		SuggestDrillingFirst: r.SuggestDrillingFirst,
		SafetyDisclaimers:    r.SafetyDisclaimers,
	}
	if r.CustomInstructions != nil {
		p.CustomInstructions = *r.CustomInstructions
	}
	return p, nil
}

// classify maps PostgREST auth failures onto ErrUnauthorized.
func classify(err error) error {
	msg := err.Error()
	for _, marker := range []string{"PGRST301", "PGRST302", "JWT", "401", "permission denied"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		}
	}
	return err
}
