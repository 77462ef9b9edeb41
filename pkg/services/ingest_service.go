package services

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/construtiva/costref-engine/pkg/apperrors"
	"github.com/construtiva/costref-engine/pkg/models"
	"github.com/construtiva/costref-engine/pkg/repositories"
)

// referenceMonthPattern validates YYYY-MM reference months.
var referenceMonthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ResourceInput is one resource to ingest, optionally carrying its
// per-region prices for one reference month.
type ResourceInput struct {
	Code        string
	Description string
	Unit        string
	Category    models.ResourceCategory
	Prices      map[string]float64 // region → amount
}

// PriceInput is one regime-specific price row keyed by resource code.
type PriceInput struct {
	Code           string
	Region         string
	ReferenceMonth string
	Standard       *float64
	Exempt         *float64
}

// ChildRefInput references a child (resource or sub-composition) by code.
type ChildRefInput struct {
	Code        string
	Coefficient float64
}

// CompositionInput is one composition with its breakdown.
type CompositionInput struct {
	Code        string
	Description string
	Unit        string
	Resources   []ChildRefInput
	Children    []ChildRefInput
}

// ResourceIngestResult extends the import summary with the number of price
// cells written alongside the resources.
type ResourceIngestResult struct {
	models.ImportResult
	PriceCount int
}

// CompositionIngestResult extends the import summary with link totals.
// MissingChildren counts child references whose codes resolved to nothing;
// those are dropped, not fatal.
type CompositionIngestResult struct {
	models.ImportResult
	LinkCount       int
	MissingChildren int
}

// IngestService upserts parsed rows into the persisted resource and
// composition graph. All entry points are idempotent (natural-code
// upserts), independently invocable, and never abort on a single bad row:
// row and batch failures are recorded and ingestion continues.
type IngestService interface {
	// ImportResources upserts resources in batches and, when rows carry
	// prices, writes them for the given reference month and regime.
	ImportResources(ctx context.Context, inputs []ResourceInput, referenceMonth string, exempt bool) (*ResourceIngestResult, error)

	// ImportPrices upserts regime-specific prices keyed by resource code.
	// Rows referencing an unknown code are recorded as errors and skipped.
	ImportPrices(ctx context.Context, inputs []PriceInput) (*models.ImportResult, error)

	// ImportCompositions performs the two-phase composition write: phase 1
	// upserts every header (building the code→id map), phase 2 resolves
	// children and replaces both link tables per composition.
	ImportCompositions(ctx context.Context, inputs []CompositionInput) (*CompositionIngestResult, error)
}

type ingestService struct {
	resources    repositories.ResourceRepository
	prices       repositories.PriceRepository
	compositions repositories.CompositionRepository
	batchSize    int
	logger       *zap.Logger
}

// NewIngestService creates a new IngestService writing batches of the
// given size.
func NewIngestService(
	resources repositories.ResourceRepository,
	prices repositories.PriceRepository,
	compositions repositories.CompositionRepository,
	batchSize int,
	logger *zap.Logger,
) IngestService {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ingestService{
		resources:    resources,
		prices:       prices,
		compositions: compositions,
		batchSize:    batchSize,
		logger:       logger.Named("ingest-service"),
	}
}

var _ IngestService = (*ingestService)(nil)

func (s *ingestService) ImportResources(ctx context.Context, inputs []ResourceInput, referenceMonth string, exempt bool) (*ResourceIngestResult, error) {
	if len(inputs) > 0 && !referenceMonthPattern.MatchString(referenceMonth) {
		hasPrices := false
		for _, in := range inputs {
			if len(in.Prices) > 0 {
				hasPrices = true
				break
			}
		}
		if hasPrices {
			return nil, fmt.Errorf("invalid reference month %q", referenceMonth)
		}
	}

	result := &ResourceIngestResult{}
	result.TotalRecords = len(inputs)

	var valid []ResourceInput
	for i, in := range inputs {
		if in.Code == "" {
			result.AddError(fmt.Sprintf("record %d: missing resource code", i+1))
			continue
		}
		if in.Description == "" {
			result.AddError(fmt.Sprintf("record %d (%s): missing description", i+1, in.Code))
			continue
		}
		if in.Category == "" {
			in.Category = models.CategoryMaterial
		}
		valid = append(valid, in)
	}

	for start := 0; start < len(valid); start += s.batchSize {
		end := min(start+s.batchSize, len(valid))
		chunk := valid[start:end]

		batch := make([]*models.Resource, len(chunk))
		for i, in := range chunk {
			batch[i] = &models.Resource{
				Code:        in.Code,
				Description: in.Description,
				Unit:        in.Unit,
				Category:    in.Category,
			}
		}

		if err := s.resources.UpsertBatch(ctx, batch); err != nil {
			s.logger.Error("Resource batch failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(chunk)),
				zap.Error(err))
			result.AddError(fmt.Sprintf("resource batch %d-%d: %v", start+1, end, err))
			continue
		}
		result.ImportedCount += len(chunk)

		priceCount, err := s.writeBatchPrices(ctx, chunk, referenceMonth, exempt)
		if err != nil {
			result.AddError(fmt.Sprintf("price batch %d-%d: %v", start+1, end, err))
			continue
		}
		result.PriceCount += priceCount
	}

	s.logger.Info("Resource import finished",
		zap.Int("total", result.TotalRecords),
		zap.Int("imported", result.ImportedCount),
		zap.Int("prices", result.PriceCount),
		zap.Int("errors", result.ErrorCount))
	return result, nil
}

// writeBatchPrices resolves the freshly upserted batch's ids and writes its
// per-region prices for one regime.
func (s *ingestService) writeBatchPrices(ctx context.Context, chunk []ResourceInput, referenceMonth string, exempt bool) (int, error) {
	codes := make([]string, 0, len(chunk))
	for _, in := range chunk {
		if len(in.Prices) > 0 {
			codes = append(codes, in.Code)
		}
	}
	if len(codes) == 0 {
		return 0, nil
	}

	ids, err := s.resources.GetIDsByCodes(ctx, codes)
	if err != nil {
		return 0, err
	}

	var upserts []repositories.PriceUpsert
	for _, in := range chunk {
		id, ok := ids[in.Code]
		if !ok {
			continue
		}
		for region, amount := range in.Prices {
			upserts = append(upserts, repositories.PriceUpsert{
				ResourceID:     id,
				Region:         region,
				ReferenceMonth: referenceMonth,
				Amount:         amount,
			})
		}
	}

	if exempt {
		err = s.prices.UpsertExemptBatch(ctx, upserts)
	} else {
		err = s.prices.UpsertStandardBatch(ctx, upserts)
	}
	if err != nil {
		return 0, err
	}
	return len(upserts), nil
}

func (s *ingestService) ImportPrices(ctx context.Context, inputs []PriceInput) (*models.ImportResult, error) {
	result := &models.ImportResult{TotalRecords: len(inputs)}

	// Resolve every referenced code up front; a price import that names an
	// unknown resource is a row error, not a fatal failure.
	codeSet := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if in.Code != "" {
			codeSet[in.Code] = struct{}{}
		}
	}
	codes := make([]string, 0, len(codeSet))
	for code := range codeSet {
		codes = append(codes, code)
	}
	ids, err := s.resources.GetIDsByCodes(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve resource codes: %w", err)
	}

	var standard, exempt []priceWrite
	var validCount int
	for i, in := range inputs {
		if in.Code == "" {
			result.AddError(fmt.Sprintf("record %d: missing resource code", i+1))
			continue
		}
		if !models.ValidRegion(in.Region) {
			result.AddError(fmt.Sprintf("record %d (%s): invalid region %q", i+1, in.Code, in.Region))
			continue
		}
		if !referenceMonthPattern.MatchString(in.ReferenceMonth) {
			result.AddError(fmt.Sprintf("record %d (%s): invalid reference month %q", i+1, in.Code, in.ReferenceMonth))
			continue
		}
		id, ok := ids[in.Code]
		if !ok {
			result.AddError(fmt.Sprintf("record %d: %s %q", i+1, apperrors.ErrUnknownResource, in.Code))
			continue
		}
		if in.Standard == nil && in.Exempt == nil {
			result.AddError(fmt.Sprintf("record %d (%s): no price in either regime", i+1, in.Code))
			continue
		}

		if in.Standard != nil {
			standard = append(standard, priceWrite{row: i, code: in.Code, upsert: repositories.PriceUpsert{
				ResourceID: id, Region: in.Region, ReferenceMonth: in.ReferenceMonth, Amount: *in.Standard,
			}})
		}
		if in.Exempt != nil {
			exempt = append(exempt, priceWrite{row: i, code: in.Code, upsert: repositories.PriceUpsert{
				ResourceID: id, Region: in.Region, ReferenceMonth: in.ReferenceMonth, Amount: *in.Exempt,
			}})
		}
		validCount++
	}

	// A row counts imported only if every regime write it carried
	// succeeded; a failed batch degrades to one error per failed row, not
	// a wholesale failure.
	failedRows := make(map[int]bool)
	s.upsertPriceChunks(ctx, standard, false, result, failedRows)
	s.upsertPriceChunks(ctx, exempt, true, result, failedRows)
	result.ImportedCount = validCount - len(failedRows)

	s.logger.Info("Price import finished",
		zap.Int("total", result.TotalRecords),
		zap.Int("imported", result.ImportedCount),
		zap.Int("errors", result.ErrorCount))
	return result, nil
}

// priceWrite ties one regime upsert back to its input record so batch
// failures can be attributed to rows.
type priceWrite struct {
	row    int
	code   string
	upsert repositories.PriceUpsert
}

// upsertPriceChunks writes one regime's upserts in batches. A failed batch
// is retried row by row so one poisoned row costs one record; rows whose
// retries also fail are marked in failedRows.
func (s *ingestService) upsertPriceChunks(ctx context.Context, writes []priceWrite, exempt bool, result *models.ImportResult, failedRows map[int]bool) {
	upsert := s.prices.UpsertStandardBatch
	if exempt {
		upsert = s.prices.UpsertExemptBatch
	}

	for start := 0; start < len(writes); start += s.batchSize {
		end := min(start+s.batchSize, len(writes))
		chunk := writes[start:end]

		batch := make([]repositories.PriceUpsert, len(chunk))
		for i, w := range chunk {
			batch[i] = w.upsert
		}
		err := upsert(ctx, batch)
		if err == nil {
			continue
		}
		s.logger.Warn("Price batch failed, retrying row by row",
			zap.Bool("exempt", exempt),
			zap.Int("batch_start", start),
			zap.Error(err))

		for _, w := range chunk {
			if err := upsert(ctx, []repositories.PriceUpsert{w.upsert}); err != nil {
				result.AddError(fmt.Sprintf("record %d (%s): %v", w.row+1, w.code, err))
				failedRows[w.row] = true
			}
		}
	}
}

func (s *ingestService) ImportCompositions(ctx context.Context, inputs []CompositionInput) (*CompositionIngestResult, error) {
	result := &CompositionIngestResult{}
	result.TotalRecords = len(inputs)

	var valid []CompositionInput
	for i, in := range inputs {
		if in.Code == "" {
			result.AddError(fmt.Sprintf("record %d: missing composition code", i+1))
			continue
		}
		if in.Description == "" {
			result.AddError(fmt.Sprintf("record %d (%s): missing description", i+1, in.Code))
			continue
		}
		valid = append(valid, in)
	}

	// Phase 1: upsert every header first so children can reference sibling
	// compositions that did not exist before this run.
	idsByCode := s.upsertHeaders(ctx, valid, result)

	// Phase 2: resolve children and replace both link tables. Children may
	// also reference compositions created by earlier runs, so unresolved
	// codes get a second lookup against the store.
	s.linkChildren(ctx, valid, idsByCode, result)

	s.logger.Info("Composition import finished",
		zap.Int("total", result.TotalRecords),
		zap.Int("imported", result.ImportedCount),
		zap.Int("links", result.LinkCount),
		zap.Int("missing_children", result.MissingChildren),
		zap.Int("errors", result.ErrorCount))
	return result, nil
}

// upsertHeaders is phase 1. Failed batches are retried row by row so one
// bad row costs one composition, not a whole batch.
func (s *ingestService) upsertHeaders(ctx context.Context, inputs []CompositionInput, result *CompositionIngestResult) map[string]int64 {
	idsByCode := make(map[string]int64, len(inputs))

	for start := 0; start < len(inputs); start += s.batchSize {
		end := min(start+s.batchSize, len(inputs))
		chunk := inputs[start:end]

		batch := make([]*models.Composition, len(chunk))
		for i, in := range chunk {
			batch[i] = &models.Composition{Code: in.Code, Description: in.Description, Unit: in.Unit}
		}

		ids, err := s.compositions.UpsertBatch(ctx, batch)
		if err == nil {
			for code, id := range ids {
				idsByCode[code] = id
			}
			continue
		}

		s.logger.Warn("Composition header batch failed, retrying row by row",
			zap.Int("batch_start", start),
			zap.Error(err))
		for _, c := range batch {
			if err := s.compositions.Upsert(ctx, c); err != nil {
				result.AddError(fmt.Sprintf("composition %s: %v", c.Code, err))
				continue
			}
			idsByCode[c.Code] = c.ID
		}
	}

	return idsByCode
}

// linkChildren is phase 2.
func (s *ingestService) linkChildren(ctx context.Context, inputs []CompositionInput, idsByCode map[string]int64, result *CompositionIngestResult) {
	for _, in := range inputs {
		compID, ok := idsByCode[in.Code]
		if !ok {
			// Header failed in phase 1; already recorded.
			continue
		}

		resourceCodes := make([]string, 0, len(in.Resources))
		for _, ref := range in.Resources {
			resourceCodes = append(resourceCodes, ref.Code)
		}
		resourceIDs, err := s.resources.GetIDsByCodes(ctx, resourceCodes)
		if err != nil {
			result.AddError(fmt.Sprintf("composition %s: resolve resources: %v", in.Code, err))
			continue
		}

		childIDs, err := s.resolveChildIDs(ctx, in.Children, idsByCode)
		if err != nil {
			result.AddError(fmt.Sprintf("composition %s: resolve children: %v", in.Code, err))
			continue
		}

		var resourceLinks []models.CompositionResource
		for _, ref := range in.Resources {
			id, ok := resourceIDs[ref.Code]
			if !ok {
				result.MissingChildren++
				continue
			}
			resourceLinks = append(resourceLinks, models.CompositionResource{
				CompositionID: compID, ResourceID: id, Coefficient: ref.Coefficient,
			})
		}

		var childLinks []models.CompositionChild
		for _, ref := range in.Children {
			id, ok := childIDs[ref.Code]
			if !ok {
				result.MissingChildren++
				continue
			}
			childLinks = append(childLinks, models.CompositionChild{
				CompositionID: compID, ChildID: id, Coefficient: ref.Coefficient,
			})
		}

		if err := s.compositions.ReplaceLinks(ctx, compID, resourceLinks, childLinks); err != nil {
			s.logger.Error("Failed to replace composition links",
				zap.String("code", in.Code),
				zap.Error(err))
			result.AddError(fmt.Sprintf("composition %s: replace links: %v", in.Code, err))
			continue
		}
		result.ImportedCount++
		result.LinkCount += len(resourceLinks) + len(childLinks)
	}
}

// resolveChildIDs resolves sub-composition codes through the phase-1 map
// first, then the store for compositions created by prior runs.
func (s *ingestService) resolveChildIDs(ctx context.Context, children []ChildRefInput, idsByCode map[string]int64) (map[string]int64, error) {
	resolved := make(map[string]int64, len(children))
	var missing []string
	for _, ref := range children {
		if id, ok := idsByCode[ref.Code]; ok {
			resolved[ref.Code] = id
		} else {
			missing = append(missing, ref.Code)
		}
	}

	if len(missing) > 0 {
		stored, err := s.compositions.GetIDsByCodes(ctx, missing)
		if err != nil {
			return nil, err
		}
		for code, id := range stored {
			resolved[code] = id
		}
	}

	return resolved, nil
}
