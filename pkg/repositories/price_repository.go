package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/construtiva/costref-engine/pkg/database"
	"github.com/construtiva/costref-engine/pkg/models"
)

// PriceUpsert is one regime-specific price write: the amount for a
// (resource, region, month) key under a single tax regime.
type PriceUpsert struct {
	ResourceID     int64
	Region         string
	ReferenceMonth string
	Amount         float64
}

// PriceRepository provides data access for per-region, per-month resource
// prices. Each regime's column is upserted independently so importing one
// regime never clobbers the other.
type PriceRepository interface {
	// UpsertStandardBatch writes standard-regime amounts in one transaction.
	UpsertStandardBatch(ctx context.Context, prices []PriceUpsert) error

	// UpsertExemptBatch writes tax-exempt amounts in one transaction.
	UpsertExemptBatch(ctx context.Context, prices []PriceUpsert) error

	// Get returns the price row for a key, or nil if absent.
	Get(ctx context.Context, resourceID int64, region, referenceMonth string) (*models.ResourcePrice, error)

	// GetForResources returns price rows for many resources under one
	// (region, month), keyed by resource id. Resources without a row are
	// absent from the map.
	GetForResources(ctx context.Context, resourceIDs []int64, region, referenceMonth string) (map[int64]*models.ResourcePrice, error)
}

type priceRepository struct {
	db *database.DB
}

// NewPriceRepository creates a new PriceRepository.
func NewPriceRepository(db *database.DB) PriceRepository {
	return &priceRepository{db: db}
}

var _ PriceRepository = (*priceRepository)(nil)

const upsertStandardPriceQuery = `
	INSERT INTO resource_prices (resource_id, region, reference_month, standard_price, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5)
	ON CONFLICT (resource_id, region, reference_month) DO UPDATE
	SET standard_price = EXCLUDED.standard_price,
	    updated_at = EXCLUDED.updated_at`

const upsertExemptPriceQuery = `
	INSERT INTO resource_prices (resource_id, region, reference_month, exempt_price, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5)
	ON CONFLICT (resource_id, region, reference_month) DO UPDATE
	SET exempt_price = EXCLUDED.exempt_price,
	    updated_at = EXCLUDED.updated_at`

func (r *priceRepository) UpsertStandardBatch(ctx context.Context, prices []PriceUpsert) error {
	return r.upsertBatch(ctx, upsertStandardPriceQuery, prices)
}

func (r *priceRepository) UpsertExemptBatch(ctx context.Context, prices []PriceUpsert) error {
	return r.upsertBatch(ctx, upsertExemptPriceQuery, prices)
}

func (r *priceRepository) upsertBatch(ctx context.Context, query string, prices []PriceUpsert) error {
	if len(prices) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(query, p.ResourceID, p.Region, p.ReferenceMonth, p.Amount, now)
	}

	br := tx.SendBatch(ctx, batch)
	for range prices {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to upsert price batch: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close price batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit price batch: %w", err)
	}
	return nil
}

func (r *priceRepository) Get(ctx context.Context, resourceID int64, region, referenceMonth string) (*models.ResourcePrice, error) {
	query := `
		SELECT id, resource_id, region, reference_month, standard_price, exempt_price, created_at, updated_at
		FROM resource_prices
		WHERE resource_id = $1 AND region = $2 AND reference_month = $3`

	row := r.db.QueryRow(ctx, query, resourceID, region, referenceMonth)
	price, err := scanResourcePrice(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // No price published
		}
		return nil, err
	}

	return price, nil
}

func (r *priceRepository) GetForResources(ctx context.Context, resourceIDs []int64, region, referenceMonth string) (map[int64]*models.ResourcePrice, error) {
	prices := make(map[int64]*models.ResourcePrice, len(resourceIDs))
	if len(resourceIDs) == 0 {
		return prices, nil
	}

	query := `
		SELECT id, resource_id, region, reference_month, standard_price, exempt_price, created_at, updated_at
		FROM resource_prices
		WHERE resource_id = ANY($1) AND region = $2 AND reference_month = $3`

	rows, err := r.db.Query(ctx, query, resourceIDs, region, referenceMonth)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		price, err := scanResourcePrice(rows)
		if err != nil {
			return nil, err
		}
		prices[price.ResourceID] = price
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prices: %w", err)
	}

	return prices, nil
}

func scanResourcePrice(row pgx.Row) (*models.ResourcePrice, error) {
	var p models.ResourcePrice
	err := row.Scan(
		&p.ID,
		&p.ResourceID,
		&p.Region,
		&p.ReferenceMonth,
		&p.StandardPrice,
		&p.ExemptPrice,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan price: %w", err)
	}
	return &p, nil
}
