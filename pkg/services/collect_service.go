package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/construtiva/costref-engine/pkg/collector"
	"github.com/construtiva/costref-engine/pkg/models"
	"github.com/construtiva/costref-engine/pkg/parser"
	"github.com/construtiva/costref-engine/pkg/repositories"
)

// Sheet name markers inside the reference workbook. The standard-regime
// sheet carries resources with their prices; the exempt sheet carries
// prices only; the analytic sheet carries composition breakdowns.
const (
	standardSheetMarker    = "ISD"
	exemptSheetMarker      = "ICD"
	compositionSheetMarker = "ANAL"
)

// CollectService runs the full acquisition → parse → ingest pipeline for
// one reference period, emitting ordered progress events terminated by a
// single done or error event.
type CollectService interface {
	// CollectByPeriod downloads the published archive for (year, month)
	// and ingests it.
	CollectByPeriod(ctx context.Context, year, month int, operator string, events chan<- models.CollectEvent) error

	// CollectFromArchive ingests a pre-fetched archive, skipping the
	// network step.
	CollectFromArchive(ctx context.Context, archive []byte, year, month int, operator string, events chan<- models.CollectEvent) error
}

type collectService struct {
	collector  *collector.Collector
	ingest     IngestService
	importLogs repositories.ImportLogRepository
	logger     *zap.Logger
}

// NewCollectService creates a new CollectService.
func NewCollectService(c *collector.Collector, ingest IngestService, importLogs repositories.ImportLogRepository, logger *zap.Logger) CollectService {
	return &collectService{
		collector:  c,
		ingest:     ingest,
		importLogs: importLogs,
		logger:     logger.Named("collect-service"),
	}
}

var _ CollectService = (*collectService)(nil)

func (s *collectService) CollectByPeriod(ctx context.Context, year, month int, operator string, events chan<- models.CollectEvent) error {
	emit(ctx, events, models.NewProgressEvent(fmt.Sprintf("Downloading reference archive for %d-%02d", year, month)))

	archive, err := s.collector.Download(ctx, year, month)
	if err != nil {
		emit(ctx, events, models.NewErrorEvent(err.Error()))
		return err
	}

	return s.run(ctx, archive, year, month, operator, fmt.Sprintf("%d-%02d.zip", year, month), events)
}

func (s *collectService) CollectFromArchive(ctx context.Context, archive []byte, year, month int, operator string, events chan<- models.CollectEvent) error {
	return s.run(ctx, archive, year, month, operator, "upload.zip", events)
}

// run executes extract → parse → ingest. The caller's context only gates
// phase boundaries: once a phase has started writing it runs on a detached
// context, so a disconnecting caller never leaves a half-applied
// composition behind.
func (s *collectService) run(ctx context.Context, archive []byte, year, month int, operator, fileName string, events chan<- models.CollectEvent) error {
	referenceMonth := fmt.Sprintf("%d-%02d", year, month)
	workCtx := context.WithoutCancel(ctx)

	summary := &models.CollectSummary{ReferenceMonth: referenceMonth}
	addErrors := func(diags []parser.RowError, sheet string) {
		for _, d := range diags {
			summary.ErrorCount++
			if len(summary.Errors) < models.MaxImportErrors {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", sheet, d))
			}
		}
	}
	addResult := func(r *models.ImportResult) {
		summary.ErrorCount += r.ErrorCount
		for _, msg := range r.Errors {
			if len(summary.Errors) < models.MaxImportErrors {
				summary.Errors = append(summary.Errors, msg)
			}
		}
	}

	emit(ctx, events, models.NewProgressEvent("Extracting archive"))

	err := s.collector.ExtractReferenceWorkbook(archive, func(workbookPath string) error {
		f, err := excelize.OpenFile(workbookPath)
		if err != nil {
			return fmt.Errorf("failed to open workbook: %w", err)
		}
		defer f.Close()

		// Resources + standard prices.
		sheet, err := findSheet(f, standardSheetMarker)
		if err != nil {
			return err
		}
		emit(ctx, events, models.NewProgressEvent(fmt.Sprintf("Parsing resource sheet %q", sheet)))
		resourceSheet, err := parser.ParseResourceSheet(f, sheet)
		if err != nil {
			return err
		}
		addErrors(resourceSheet.Diags, sheet)

		emit(ctx, events, models.NewProgressEvent(fmt.Sprintf("Importing %d resources", len(resourceSheet.Rows))))
		resourceInputs := make([]ResourceInput, len(resourceSheet.Rows))
		for i, row := range resourceSheet.Rows {
			resourceInputs[i] = ResourceInput{
				Code:        row.Code,
				Description: row.Description,
				Unit:        row.Unit,
				Category:    models.CategoryFromClassification(row.Classification),
				Prices:      row.Prices,
			}
		}
		resourceResult, err := s.ingest.ImportResources(workCtx, resourceInputs, referenceMonth, false)
		if err != nil {
			return err
		}
		summary.ResourceCount = resourceResult.ImportedCount
		summary.PriceCount = resourceResult.PriceCount
		addResult(&resourceResult.ImportResult)

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("collect cancelled after resource import: %w", err)
		}

		// Tax-exempt prices.
		if sheet, err := findSheet(f, exemptSheetMarker); err == nil {
			emit(ctx, events, models.NewProgressEvent(fmt.Sprintf("Parsing exempt price sheet %q", sheet)))
			priceSheet, err := parser.ParsePriceSheet(f, sheet)
			if err != nil {
				return err
			}
			addErrors(priceSheet.Diags, sheet)

			priceInputs := make([]PriceInput, 0, len(priceSheet.Rows))
			for _, row := range priceSheet.Rows {
				for region, amount := range row.Prices {
					v := amount
					priceInputs = append(priceInputs, PriceInput{
						Code:           row.Code,
						Region:         region,
						ReferenceMonth: referenceMonth,
						Exempt:         &v,
					})
				}
			}
			emit(ctx, events, models.NewProgressEvent(fmt.Sprintf("Importing %d exempt prices", len(priceInputs))))
			priceResult, err := s.ingest.ImportPrices(workCtx, priceInputs)
			if err != nil {
				return err
			}
			summary.PriceCount += priceResult.ImportedCount
			addResult(priceResult)
		} else {
			s.logger.Warn("Workbook has no exempt price sheet", zap.String("marker", exemptSheetMarker))
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("collect cancelled after price import: %w", err)
		}

		// Composition breakdowns.
		sheet, err = findSheet(f, compositionSheetMarker)
		if err != nil {
			return err
		}
		emit(ctx, events, models.NewProgressEvent(fmt.Sprintf("Parsing composition sheet %q", sheet)))
		compositionSheet, err := parser.ParseCompositionSheet(f, sheet)
		if err != nil {
			return err
		}
		addErrors(compositionSheet.Diags, sheet)

		compositionInputs := make([]CompositionInput, len(compositionSheet.Compositions))
		for i, group := range compositionSheet.Compositions {
			input := CompositionInput{
				Code:        group.Code,
				Description: group.Description,
				Unit:        group.Unit,
			}
			for _, ref := range group.Resources {
				input.Resources = append(input.Resources, ChildRefInput(ref))
			}
			for _, ref := range group.Children {
				input.Children = append(input.Children, ChildRefInput(ref))
			}
			compositionInputs[i] = input
		}
		emit(ctx, events, models.NewProgressEvent(fmt.Sprintf("Importing %d compositions", len(compositionInputs))))
		compositionResult, err := s.ingest.ImportCompositions(workCtx, compositionInputs)
		if err != nil {
			return err
		}
		summary.CompositionCount = compositionResult.ImportedCount
		summary.BreakdownItemCount = compositionResult.LinkCount
		addResult(&compositionResult.ImportResult)

		return nil
	})
	if err != nil {
		s.logger.Error("Collect run failed", zap.String("month", referenceMonth), zap.Error(err))
		s.writeLog(workCtx, fileName, operator, summary)
		emit(ctx, events, models.NewErrorEvent(err.Error()))
		return err
	}

	s.writeLog(workCtx, fileName, operator, summary)
	emit(ctx, events, models.NewDoneEvent(summary))
	return nil
}

// writeLog records the run in the audit log regardless of partial failure.
func (s *collectService) writeLog(ctx context.Context, fileName, operator string, summary *models.CollectSummary) {
	imported := summary.ResourceCount + summary.PriceCount + summary.CompositionCount
	entry := &models.ImportLog{
		Kind:        models.ImportKindCollect,
		FileName:    fileName,
		TotalCount:  imported + summary.ErrorCount,
		ImportCount: imported,
		ErrorCount:  summary.ErrorCount,
		Errors:      summary.Errors,
		Operator:    operator,
	}
	if err := s.importLogs.Create(ctx, entry); err != nil {
		s.logger.Error("Failed to write collect audit record", zap.Error(err))
	}
}

// findSheet locates a sheet whose name contains the given marker,
// case-insensitive. Sheet naming drifts between publications, so exact
// names are never relied on.
func findSheet(f *excelize.File, marker string) (string, error) {
	upper := strings.ToUpper(marker)
	for _, name := range f.GetSheetList() {
		if strings.Contains(strings.ToUpper(name), upper) {
			return name, nil
		}
	}
	return "", fmt.Errorf("workbook has no sheet matching %q; sheets: %s",
		marker, strings.Join(f.GetSheetList(), ", "))
}

// emit sends an event unless the caller has disconnected.
func emit(ctx context.Context, events chan<- models.CollectEvent, event models.CollectEvent) {
	select {
	case events <- event:
	case <-ctx.Done():
	}
}
