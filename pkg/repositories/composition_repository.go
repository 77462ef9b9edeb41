package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/construtiva/costref-engine/pkg/database"
	"github.com/construtiva/costref-engine/pkg/models"
)

// CompositionRepository provides data access for compositions and their
// link tables. Headers are upserted by natural code; links are always
// replaced wholesale because source coefficients change between reference
// periods.
type CompositionRepository interface {
	// UpsertBatch writes composition headers in one transaction and returns
	// the code→id map for the batch.
	UpsertBatch(ctx context.Context, compositions []*models.Composition) (map[string]int64, error)

	// Upsert writes a single composition header, setting its ID. Used for
	// row-by-row recovery when a batch fails.
	Upsert(ctx context.Context, composition *models.Composition) error

	// GetByCode returns the composition with the given code, or nil if absent.
	GetByCode(ctx context.Context, code string) (*models.Composition, error)

	// GetIDsByCodes resolves natural codes to ids. Missing codes are absent
	// from the returned map.
	GetIDsByCodes(ctx context.Context, codes []string) (map[string]int64, error)

	// ReplaceLinks deletes and reinserts both link tables for one
	// composition inside a single transaction.
	ReplaceLinks(ctx context.Context, compositionID int64, resources []models.CompositionResource, children []models.CompositionChild) error

	// GetResourceItems returns the composition's resource lines joined with
	// their resource rows.
	GetResourceItems(ctx context.Context, compositionID int64) ([]models.ResourceItem, error)

	// GetChildItems returns the composition's sub-composition lines joined
	// with the child composition rows.
	GetChildItems(ctx context.Context, compositionID int64) ([]models.ChildItem, error)
}

type compositionRepository struct {
	db *database.DB
}

// NewCompositionRepository creates a new CompositionRepository.
func NewCompositionRepository(db *database.DB) CompositionRepository {
	return &compositionRepository{db: db}
}

var _ CompositionRepository = (*compositionRepository)(nil)

const upsertCompositionQuery = `
	INSERT INTO compositions (code, description, unit, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $4)
	ON CONFLICT (code) DO UPDATE
	SET description = EXCLUDED.description,
	    unit = EXCLUDED.unit,
	    updated_at = EXCLUDED.updated_at
	RETURNING id`

func (r *compositionRepository) UpsertBatch(ctx context.Context, compositions []*models.Composition) (map[string]int64, error) {
	ids := make(map[string]int64, len(compositions))
	if len(compositions) == 0 {
		return ids, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	batch := &pgx.Batch{}
	for _, c := range compositions {
		batch.Queue(upsertCompositionQuery, c.Code, c.Description, c.Unit, now)
	}

	br := tx.SendBatch(ctx, batch)
	for _, c := range compositions {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			br.Close()
			return nil, fmt.Errorf("failed to upsert composition batch: %w", err)
		}
		c.ID = id
		ids[c.Code] = id
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("failed to close composition batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit composition batch: %w", err)
	}
	return ids, nil
}

func (r *compositionRepository) Upsert(ctx context.Context, composition *models.Composition) error {
	err := r.db.QueryRow(ctx, upsertCompositionQuery,
		composition.Code,
		composition.Description,
		composition.Unit,
		time.Now(),
	).Scan(&composition.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert composition %s: %w", composition.Code, err)
	}
	return nil
}

func (r *compositionRepository) GetByCode(ctx context.Context, code string) (*models.Composition, error) {
	query := `
		SELECT id, code, description, unit, created_at, updated_at
		FROM compositions
		WHERE code = $1`

	var c models.Composition
	err := r.db.QueryRow(ctx, query, code).Scan(
		&c.ID,
		&c.Code,
		&c.Description,
		&c.Unit,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Composition not found
		}
		return nil, fmt.Errorf("failed to get composition by code: %w", err)
	}

	return &c, nil
}

func (r *compositionRepository) GetIDsByCodes(ctx context.Context, codes []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(codes))
	if len(codes) == 0 {
		return ids, nil
	}

	query := `SELECT code, id FROM compositions WHERE code = ANY($1)`

	rows, err := r.db.Query(ctx, query, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to query composition ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var id int64
		if err := rows.Scan(&code, &id); err != nil {
			return nil, fmt.Errorf("failed to scan composition id: %w", err)
		}
		ids[code] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating composition ids: %w", err)
	}

	return ids, nil
}

func (r *compositionRepository) ReplaceLinks(ctx context.Context, compositionID int64, resources []models.CompositionResource, children []models.CompositionChild) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM composition_resources WHERE composition_id = $1`, compositionID); err != nil {
		return fmt.Errorf("failed to clear resource links: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM composition_children WHERE composition_id = $1`, compositionID); err != nil {
		return fmt.Errorf("failed to clear child links: %w", err)
	}

	batch := &pgx.Batch{}
	for _, link := range resources {
		batch.Queue(
			`INSERT INTO composition_resources (composition_id, resource_id, coefficient) VALUES ($1, $2, $3)`,
			compositionID, link.ResourceID, link.Coefficient)
	}
	for _, link := range children {
		batch.Queue(
			`INSERT INTO composition_children (composition_id, child_id, coefficient) VALUES ($1, $2, $3)`,
			compositionID, link.ChildID, link.Coefficient)
	}

	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to insert links: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("failed to close link batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit link replacement: %w", err)
	}
	return nil
}

func (r *compositionRepository) GetResourceItems(ctx context.Context, compositionID int64) ([]models.ResourceItem, error) {
	query := `
		SELECT cr.resource_id, r.code, r.description, r.unit, r.category, cr.coefficient
		FROM composition_resources cr
		JOIN resources r ON r.id = cr.resource_id
		WHERE cr.composition_id = $1
		ORDER BY r.code`

	rows, err := r.db.Query(ctx, query, compositionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query resource items: %w", err)
	}
	defer rows.Close()

	var items []models.ResourceItem
	for rows.Next() {
		var item models.ResourceItem
		if err := rows.Scan(&item.ResourceID, &item.Code, &item.Description, &item.Unit, &item.Category, &item.Coefficient); err != nil {
			return nil, fmt.Errorf("failed to scan resource item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource items: %w", err)
	}

	return items, nil
}

func (r *compositionRepository) GetChildItems(ctx context.Context, compositionID int64) ([]models.ChildItem, error) {
	query := `
		SELECT cc.child_id, c.code, c.description, c.unit, cc.coefficient
		FROM composition_children cc
		JOIN compositions c ON c.id = cc.child_id
		WHERE cc.composition_id = $1
		ORDER BY c.code`

	rows, err := r.db.Query(ctx, query, compositionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query child items: %w", err)
	}
	defer rows.Close()

	var items []models.ChildItem
	for rows.Next() {
		var item models.ChildItem
		if err := rows.Scan(&item.ChildID, &item.Code, &item.Description, &item.Unit, &item.Coefficient); err != nil {
			return nil, fmt.Errorf("failed to scan child item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating child items: %w", err)
	}

	return items, nil
}
