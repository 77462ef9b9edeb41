package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/construtiva/costref-engine/pkg/models"
	"github.com/construtiva/costref-engine/pkg/repositories"
)

// ImportLogService exposes the import audit log.
type ImportLogService interface {
	// List returns recent import runs, newest first.
	List(ctx context.Context, limit int) ([]*models.ImportLog, error)
}

type importLogService struct {
	logs   repositories.ImportLogRepository
	logger *zap.Logger
}

// NewImportLogService creates a new import log service.
func NewImportLogService(logs repositories.ImportLogRepository, logger *zap.Logger) ImportLogService {
	return &importLogService{
		logs:   logs,
		logger: logger.Named("import-log-service"),
	}
}

var _ ImportLogService = (*importLogService)(nil)

func (s *importLogService) List(ctx context.Context, limit int) ([]*models.ImportLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	entries, err := s.logs.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}

	return entries, nil
}
