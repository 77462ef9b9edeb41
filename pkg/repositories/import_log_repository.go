package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/construtiva/costref-engine/pkg/database"
	"github.com/construtiva/costref-engine/pkg/models"
)

// ImportLogRepository provides data access for the append-only import
// audit log.
type ImportLogRepository interface {
	// Create inserts a new import log entry.
	Create(ctx context.Context, entry *models.ImportLog) error

	// List returns entries ordered by time (newest first).
	List(ctx context.Context, limit int) ([]*models.ImportLog, error)
}

type importLogRepository struct {
	db *database.DB
}

// NewImportLogRepository creates a new ImportLogRepository.
func NewImportLogRepository(db *database.DB) ImportLogRepository {
	return &importLogRepository{db: db}
}

var _ ImportLogRepository = (*importLogRepository)(nil)

func (r *importLogRepository) Create(ctx context.Context, entry *models.ImportLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	var errorsJSON []byte
	var err error
	if len(entry.Errors) > 0 {
		errorsJSON, err = json.Marshal(entry.Errors)
		if err != nil {
			return fmt.Errorf("failed to marshal errors: %w", err)
		}
	}

	query := `
		INSERT INTO import_logs (
			id, kind, file_name, total_count, import_count, error_count, errors, operator, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		entry.ID,
		entry.Kind,
		entry.FileName,
		entry.TotalCount,
		entry.ImportCount,
		entry.ErrorCount,
		errorsJSON,
		entry.Operator,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import log entry: %w", err)
	}

	return nil
}

func (r *importLogRepository) List(ctx context.Context, limit int) ([]*models.ImportLog, error) {
	query := `
		SELECT id, kind, file_name, total_count, import_count, error_count, errors, operator, created_at
		FROM import_logs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query import logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.ImportLog
	for rows.Next() {
		entry, err := scanImportLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import logs: %w", err)
	}

	return entries, nil
}

func scanImportLog(row pgx.Row) (*models.ImportLog, error) {
	var entry models.ImportLog
	var errorsJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.Kind,
		&entry.FileName,
		&entry.TotalCount,
		&entry.ImportCount,
		&entry.ErrorCount,
		&errorsJSON,
		&entry.Operator,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan import log entry: %w", err)
	}

	if len(errorsJSON) > 0 && string(errorsJSON) != "null" {
		if err := json.Unmarshal(errorsJSON, &entry.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
	}

	return &entry, nil
}
