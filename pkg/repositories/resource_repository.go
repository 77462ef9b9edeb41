package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/construtiva/costref-engine/pkg/database"
	"github.com/construtiva/costref-engine/pkg/models"
)

// ResourceRepository provides data access for priced resources. The
// ingestion pipeline is the sole writer; resources are upserted by natural
// code and never deleted.
type ResourceRepository interface {
	// UpsertBatch writes a batch of resources inside a single transaction.
	// A failure rolls back the whole batch.
	UpsertBatch(ctx context.Context, resources []*models.Resource) error

	// GetByCode returns the resource with the given code, or nil if absent.
	GetByCode(ctx context.Context, code string) (*models.Resource, error)

	// GetIDsByCodes resolves natural codes to ids. Missing codes are simply
	// absent from the returned map.
	GetIDsByCodes(ctx context.Context, codes []string) (map[string]int64, error)
}

type resourceRepository struct {
	db *database.DB
}

// NewResourceRepository creates a new ResourceRepository.
func NewResourceRepository(db *database.DB) ResourceRepository {
	return &resourceRepository{db: db}
}

var _ ResourceRepository = (*resourceRepository)(nil)

const upsertResourceQuery = `
	INSERT INTO resources (code, description, unit, category, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5)
	ON CONFLICT (code) DO UPDATE
	SET description = EXCLUDED.description,
	    unit = EXCLUDED.unit,
	    category = EXCLUDED.category,
	    updated_at = EXCLUDED.updated_at`

func (r *resourceRepository) UpsertBatch(ctx context.Context, resources []*models.Resource) error {
	if len(resources) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	batch := &pgx.Batch{}
	for _, res := range resources {
		batch.Queue(upsertResourceQuery, res.Code, res.Description, res.Unit, res.Category, now)
	}

	br := tx.SendBatch(ctx, batch)
	for range resources {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to upsert resource batch: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close resource batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit resource batch: %w", err)
	}
	return nil
}

func (r *resourceRepository) GetByCode(ctx context.Context, code string) (*models.Resource, error) {
	query := `
		SELECT id, code, description, unit, category, created_at, updated_at
		FROM resources
		WHERE code = $1`

	var res models.Resource
	err := r.db.QueryRow(ctx, query, code).Scan(
		&res.ID,
		&res.Code,
		&res.Description,
		&res.Unit,
		&res.Category,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Resource not found
		}
		return nil, fmt.Errorf("failed to get resource by code: %w", err)
	}

	return &res, nil
}

func (r *resourceRepository) GetIDsByCodes(ctx context.Context, codes []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(codes))
	if len(codes) == 0 {
		return ids, nil
	}

	query := `SELECT code, id FROM resources WHERE code = ANY($1)`

	rows, err := r.db.Query(ctx, query, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to query resource ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var id int64
		if err := rows.Scan(&code, &id); err != nil {
			return nil, fmt.Errorf("failed to scan resource id: %w", err)
		}
		ids[code] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource ids: %w", err)
	}

	return ids, nil
}
