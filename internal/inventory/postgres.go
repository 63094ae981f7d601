package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgxpool.Pool the gateway needs.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres reads inventory straight from the products and store_policies tables.
type Postgres struct {
	db    querier
	close func()
}

// NewPostgres opens a connection pool for dsn.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL required for postgres inventory backend")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", classifyPg(err))
	}
	return &Postgres{db: pool, close: pool.Close}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	if p.close != nil {
		p.close()
	}
}

type pgProduct struct {
	SKU         string         `db:"sku"`
	Name        string         `db:"name"`
	Price       float64        `db:"price"`
	Stock       int            `db:"stock"`
	Aisle       string         `db:"aisle"`
	Bin         *string        `db:"bin"`
	Category    string         `db:"category"`
	Tags        []string       `db:"tags"`
	Attributes  map[string]any `db:"attributes"`
	Description string         `db:"description"`
}

const inStockSQL = `
SELECT sku, name, price::float8 AS price, stock, aisle, bin, category,
       COALESCE(tags, '[]'::jsonb) AS tags,
       COALESCE(attributes, '{}'::jsonb) AS attributes,
       COALESCE(description, '') AS description
FROM products
WHERE store_id = $1 AND stock > 0
ORDER BY aisle, sku`

const policySQL = `
SELECT prefer_no_damage, prefer_no_tools, suggest_drilling_first, safety_disclaimers,
       COALESCE(custom_instructions, '') AS custom_instructions
FROM store_policies
WHERE store_id = $1
LIMIT 1`

func (p *Postgres) InStock(ctx context.Context, storeID string) ([]Item, error) {
	rows, err := p.db.Query(ctx, inStockSQL, storeID)
	if err != nil {
		return nil, storeErr("postgres", storeID, classifyPg(err))
	}
	products, err := pgx.CollectRows(rows, pgx.RowToStructByName[pgProduct])
	if err != nil {
		return nil, storeErr("postgres", storeID, classifyPg(err))
	}
	items := make([]Item, 0, len(products))
	for _, r := range products {
		loc := Location{Aisle: r.Aisle}
		if r.Bin != nil {
			loc.Bin = *r.Bin
		}
		items = append(items, Item{
			SKU:         r.SKU,
			Name:        r.Name,
			Price:       r.Price,
			Stock:       r.Stock,
			Location:    loc,
			Category:    r.Category,
			Tags:        r.Tags,
			Attributes:  r.Attributes,
			Description: r.Description,
		})
	}
	return FilterInStock(items), nil
}

func (p *Postgres) Policy(ctx context.Context, storeID string) (Policy, error) {
	rows, err := p.db.Query(ctx, policySQL, storeID)
	if err != nil {
		return Policy{}, storeErr("postgres", storeID, classifyPg(err))
	}
	pol, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (Policy, error) {
		var out Policy
		err := row.Scan(&out.PreferNoDamage, &out.PreferNoTools, &out.SuggestDrillingFirst, &out.SafetyDisclaimers, &out.CustomInstructions)
		return out, err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, nil
	}
	if err != nil {
		return Policy{}, storeErr("postgres", storeID, classifyPg(err))
	}
	return pol, nil
}

// classifyPg maps authentication failures (SQLSTATE class 28) onto ErrUnauthorized.
func classifyPg(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == "28" {
		return fmt.Errorf("%w: %s", ErrUnauthorized, pgErr.Message)
	}
	return err
}
