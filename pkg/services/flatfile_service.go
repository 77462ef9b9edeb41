package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/construtiva/costref-engine/pkg/models"
	"github.com/construtiva/costref-engine/pkg/parser"
	"github.com/construtiva/costref-engine/pkg/repositories"
)

// FlatFileService imports delimited text files into the graph. The three
// importers mirror the ingestion entry points and are each safe to re-run;
// bootstrapping from scratch runs them resources → breakdowns → prices.
type FlatFileService interface {
	// ImportResources imports rows of: code; description; unit; category.
	ImportResources(ctx context.Context, data []byte, fileName, operator string) (*models.ImportResult, error)

	// ImportCompositions imports rows of: composition code; description;
	// unit; resource code; coefficient.
	ImportCompositions(ctx context.Context, data []byte, fileName, operator string) (*models.ImportResult, error)

	// ImportPrices imports rows of: code; region; month; price-standard;
	// price-exempt.
	ImportPrices(ctx context.Context, data []byte, fileName, operator string) (*models.ImportResult, error)
}

type flatFileService struct {
	ingest     IngestService
	importLogs repositories.ImportLogRepository
	logger     *zap.Logger
}

// NewFlatFileService creates a new FlatFileService.
func NewFlatFileService(ingest IngestService, importLogs repositories.ImportLogRepository, logger *zap.Logger) FlatFileService {
	return &flatFileService{
		ingest:     ingest,
		importLogs: importLogs,
		logger:     logger.Named("flatfile-service"),
	}
}

var _ FlatFileService = (*flatFileService)(nil)

// decodeText decodes file bytes as UTF-8, falling back to ISO-8859-1 when
// the payload is not valid UTF-8 or decodes with replacement characters.
// Legacy exports of the reference data are single-byte encoded.
func decodeText(data []byte) string {
	if utf8.Valid(data) && !bytes.ContainsRune(data, utf8.RuneError) {
		return string(data)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

// detectDelimiter picks semicolon or comma based on which occurs more in
// the first line.
func detectDelimiter(text string) rune {
	firstLine := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine = text[:idx]
	}
	if strings.Count(firstLine, ";") >= strings.Count(firstLine, ",") {
		return ';'
	}
	return ','
}

// readRecords decodes, splits and returns all records. Lines with the
// wrong field count are surfaced per record by the callers, so the reader
// is lenient about them.
func readRecords(data []byte) ([][]string, error) {
	text := decodeText(data)
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = detectDelimiter(text)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse delimited file: %w", err)
	}
	return records, nil
}

// isHeaderRecord reports whether the first record is a column header
// rather than data.
func isHeaderRecord(record []string) bool {
	if len(record) == 0 {
		return false
	}
	first := strings.ToUpper(strings.TrimSpace(record[0]))
	return strings.Contains(first, "CODIGO") || strings.Contains(first, "CÓDIGO") || first == "CODE"
}

func (s *flatFileService) ImportResources(ctx context.Context, data []byte, fileName, operator string) (*models.ImportResult, error) {
	records, err := readRecords(data)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 && isHeaderRecord(records[0]) {
		records = records[1:]
	}

	result := &models.ImportResult{TotalRecords: len(records)}
	var inputs []ResourceInput

	for i, rec := range records {
		if len(rec) < 4 {
			result.AddError(fmt.Sprintf("row %d: expected 4 columns, got %d", i+1, len(rec)))
			continue
		}
		code := strings.TrimSpace(rec[0])
		description := strings.TrimSpace(rec[1])
		if code == "" {
			result.AddError(fmt.Sprintf("row %d: missing code", i+1))
			continue
		}
		if description == "" {
			result.AddError(fmt.Sprintf("row %d: missing description", i+1))
			continue
		}
		inputs = append(inputs, ResourceInput{
			Code:        code,
			Description: description,
			Unit:        strings.TrimSpace(rec[2]),
			Category:    models.CategoryFromClassification(rec[3]),
		})
	}

	ingestResult, err := s.ingest.ImportResources(ctx, inputs, "", false)
	if err != nil {
		return nil, err
	}
	mergeResults(result, &ingestResult.ImportResult)

	s.writeLog(ctx, models.ImportKindResources, fileName, operator, result)
	return result, nil
}

func (s *flatFileService) ImportCompositions(ctx context.Context, data []byte, fileName, operator string) (*models.ImportResult, error) {
	records, err := readRecords(data)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 && isHeaderRecord(records[0]) {
		records = records[1:]
	}

	result := &models.ImportResult{TotalRecords: len(records)}

	// Group breakdown rows by composition code, preserving first-seen
	// order so error messages stay close to the file layout.
	var order []string
	groups := make(map[string]*CompositionInput)

	for i, rec := range records {
		if len(rec) < 5 {
			result.AddError(fmt.Sprintf("row %d: expected 5 columns, got %d", i+1, len(rec)))
			continue
		}
		code := strings.TrimSpace(rec[0])
		description := strings.TrimSpace(rec[1])
		resourceCode := strings.TrimSpace(rec[3])
		if code == "" {
			result.AddError(fmt.Sprintf("row %d: missing composition code", i+1))
			continue
		}
		if description == "" {
			result.AddError(fmt.Sprintf("row %d: missing description", i+1))
			continue
		}
		if resourceCode == "" {
			result.AddError(fmt.Sprintf("row %d: missing resource code", i+1))
			continue
		}
		coefficient, err := parser.ParseLocalizedDecimal(rec[4])
		if err != nil {
			result.AddError(fmt.Sprintf("row %d: coefficient: %v", i+1, err))
			continue
		}
		if coefficient <= 0 {
			result.AddError(fmt.Sprintf("row %d: coefficient must be positive", i+1))
			continue
		}

		group, ok := groups[code]
		if !ok {
			group = &CompositionInput{
				Code:        code,
				Description: description,
				Unit:        strings.TrimSpace(rec[2]),
			}
			groups[code] = group
			order = append(order, code)
		}
		group.Resources = append(group.Resources, ChildRefInput{Code: resourceCode, Coefficient: coefficient})
	}

	inputs := make([]CompositionInput, 0, len(order))
	for _, code := range order {
		inputs = append(inputs, *groups[code])
	}

	ingestResult, err := s.ingest.ImportCompositions(ctx, inputs)
	if err != nil {
		return nil, err
	}
	for _, msg := range ingestResult.Errors {
		result.AddError(msg)
	}
	// The file is per link row while ingest counts per composition, so the
	// file-level imported count is derived from what was rejected.
	result.ImportedCount = result.TotalRecords - result.ErrorCount - ingestResult.MissingChildren
	if result.ImportedCount < 0 {
		result.ImportedCount = 0
	}

	s.writeLog(ctx, models.ImportKindCompositions, fileName, operator, result)
	return result, nil
}

func (s *flatFileService) ImportPrices(ctx context.Context, data []byte, fileName, operator string) (*models.ImportResult, error) {
	records, err := readRecords(data)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 && isHeaderRecord(records[0]) {
		records = records[1:]
	}

	result := &models.ImportResult{TotalRecords: len(records)}
	var inputs []PriceInput

	for i, rec := range records {
		if len(rec) < 5 {
			result.AddError(fmt.Sprintf("row %d: expected 5 columns, got %d", i+1, len(rec)))
			continue
		}
		code := strings.TrimSpace(rec[0])
		region := strings.ToUpper(strings.TrimSpace(rec[1]))
		month := strings.TrimSpace(rec[2])
		if code == "" {
			result.AddError(fmt.Sprintf("row %d: missing code", i+1))
			continue
		}

		input := PriceInput{Code: code, Region: region, ReferenceMonth: month}

		standardCell := strings.TrimSpace(rec[3])
		exemptCell := strings.TrimSpace(rec[4])
		if standardCell != "" && standardCell != "-" {
			v, err := parser.ParseLocalizedDecimal(standardCell)
			if err != nil {
				result.AddError(fmt.Sprintf("row %d: standard price: %v", i+1, err))
				continue
			}
			input.Standard = &v
		}
		if exemptCell != "" && exemptCell != "-" {
			v, err := parser.ParseLocalizedDecimal(exemptCell)
			if err != nil {
				result.AddError(fmt.Sprintf("row %d: exempt price: %v", i+1, err))
				continue
			}
			input.Exempt = &v
		}

		inputs = append(inputs, input)
	}

	ingestResult, err := s.ingest.ImportPrices(ctx, inputs)
	if err != nil {
		return nil, err
	}
	mergeResults(result, ingestResult)

	s.writeLog(ctx, models.ImportKindPrices, fileName, operator, result)
	return result, nil
}

// mergeResults folds an ingest result into the file-level result. The
// file-level total stays authoritative; ingest contributes imported counts
// and any batch/row errors found past parsing.
func mergeResults(fileResult *models.ImportResult, ingestResult *models.ImportResult) {
	fileResult.ImportedCount = ingestResult.ImportedCount
	for _, msg := range ingestResult.Errors {
		fileResult.AddError(msg)
	}
	// Batch errors not individually listed still count.
	extra := ingestResult.ErrorCount - len(ingestResult.Errors)
	if extra > 0 {
		fileResult.ErrorCount += extra
	}
}

// writeLog appends the run's audit record. Audit failures are logged, not
// propagated: the import itself already happened.
func (s *flatFileService) writeLog(ctx context.Context, kind, fileName, operator string, result *models.ImportResult) {
	entry := &models.ImportLog{
		Kind:        kind,
		FileName:    fileName,
		TotalCount:  result.TotalRecords,
		ImportCount: result.ImportedCount,
		ErrorCount:  result.ErrorCount,
		Errors:      result.Errors,
		Operator:    operator,
	}
	if err := s.importLogs.Create(ctx, entry); err != nil {
		s.logger.Error("Failed to write import log",
			zap.String("kind", kind),
			zap.Error(err))
	}
}
