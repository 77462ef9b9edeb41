package parser

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/construtiva/costref-engine/pkg/models"
)

// RowError is a non-fatal, row-level parse diagnostic. The row number is
// one-based as displayed by spreadsheet applications.
type RowError struct {
	Row    int
	Reason string
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// ResourceRow is one parsed line of the resource+price sheet. Prices holds
// only regions that actually have a published price.
type ResourceRow struct {
	Classification string
	Code           string
	Description    string
	Unit           string
	Prices         map[string]float64
}

// ResourceSheetResult is the outcome of parsing a resource+price sheet.
type ResourceSheetResult struct {
	HeaderRow int
	Rows      []ResourceRow
	Diags     []RowError
}

// PriceRow is one parsed line of the price-only sheet.
type PriceRow struct {
	Code   string
	Prices map[string]float64
}

// PriceSheetResult is the outcome of parsing a price-only sheet.
type PriceSheetResult struct {
	HeaderRow int
	Rows      []PriceRow
	Diags     []RowError
}

// ChildRef is a child reference inside a composition breakdown: a resource
// or sub-composition code with the quantity consumed per unit of the
// parent.
type ChildRef struct {
	Code        string
	Coefficient float64
}

// CompositionGroup is one composition assembled from its breakdown lines.
type CompositionGroup struct {
	Code        string
	Description string
	Unit        string
	Resources   []ChildRef
	Children    []ChildRef
}

// CompositionSheetResult is the outcome of parsing a breakdown sheet.
type CompositionSheetResult struct {
	HeaderRow    int
	Compositions []CompositionGroup
	Diags        []RowError
}

// accentReplacer folds the accented characters the reference headers use so
// marker matching survives encoding drift between publications.
var accentReplacer = strings.NewReplacer(
	"Á", "A", "À", "A", "Â", "A", "Ã", "A",
	"É", "E", "Ê", "E",
	"Í", "I",
	"Ó", "O", "Ô", "O", "Õ", "O",
	"Ú", "U",
	"Ç", "C",
)

func normalizeCell(s string) string {
	return accentReplacer.Replace(strings.ToUpper(strings.TrimSpace(s)))
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// FindHeaderRow scans every row of the identifying column for all of the
// given markers and returns the last matching row index. The format is not
// self-describing, so when no row matches the caller falls back to a known
// constant.
func FindHeaderRow(rows [][]string, layout sheetLayout) int {
	found := -1
	for i, row := range rows {
		cell := normalizeCell(cellAt(row, layout.identifyingCol))
		if cell == "" {
			continue
		}
		match := true
		for _, marker := range layout.headerMarkers {
			if !strings.Contains(cell, marker) {
				match = false
				break
			}
		}
		if match {
			found = i
		}
	}
	if found >= 0 {
		return found
	}
	return layout.fallbackHeaderRow
}

// parseRegionPrices reads the fixed-width per-region price array starting
// at firstCol, in models.Regions order. Zero, dash and empty cells mean "no
// price for that region" and are omitted from the result.
func parseRegionPrices(row []string, firstCol int) (map[string]float64, error) {
	prices := make(map[string]float64)
	for i, region := range models.Regions {
		cell := cellAt(row, firstCol+i)
		if cell == "" || cell == "-" {
			continue
		}
		v, err := ParseLocalizedDecimal(cell)
		if err != nil {
			return nil, fmt.Errorf("region %s: %v", region, err)
		}
		if v == 0 {
			continue
		}
		prices[region] = v
	}
	return prices, nil
}

// ParseResourceSheet parses the resource+price sheet (standard regime) of
// an opened workbook.
func ParseResourceSheet(f *excelize.File, sheet string) (*ResourceSheetResult, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	layout := resourceSheetLayout
	header := FindHeaderRow(rows, layout.sheetLayout)
	result := &ResourceSheetResult{HeaderRow: header}

	for i := header + 1; i < len(rows); i++ {
		row := rows[i]
		code := cellAt(row, layout.codeCol)
		if code == "" {
			continue
		}

		description := cellAt(row, layout.descriptionCol)
		if description == "" {
			result.Diags = append(result.Diags, RowError{Row: i + 1, Reason: "missing description"})
			continue
		}

		prices, err := parseRegionPrices(row, layout.firstPriceCol)
		if err != nil {
			result.Diags = append(result.Diags, RowError{Row: i + 1, Reason: err.Error()})
			continue
		}

		result.Rows = append(result.Rows, ResourceRow{
			Classification: cellAt(row, layout.classificationCol),
			Code:           code,
			Description:    description,
			Unit:           cellAt(row, layout.unitCol),
			Prices:         prices,
		})
	}

	return result, nil
}

// ParsePriceSheet parses the price-only sheet (tax-exempt regime). Rows are
// keyed by resource code; the resources themselves are assumed to already
// exist.
func ParsePriceSheet(f *excelize.File, sheet string) (*PriceSheetResult, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	layout := priceSheetLayout
	header := FindHeaderRow(rows, layout.sheetLayout)
	result := &PriceSheetResult{HeaderRow: header}

	for i := header + 1; i < len(rows); i++ {
		row := rows[i]
		code := cellAt(row, layout.codeCol)
		if code == "" {
			continue
		}

		prices, err := parseRegionPrices(row, layout.firstPriceCol)
		if err != nil {
			result.Diags = append(result.Diags, RowError{Row: i + 1, Reason: err.Error()})
			continue
		}

		result.Rows = append(result.Rows, PriceRow{Code: code, Prices: prices})
	}

	return result, nil
}

// ParseCompositionSheet parses the breakdown sheet into composition groups.
// A row with empty item type and item code carries the composition header;
// populated item rows are child lines split by item type into resource and
// sub-composition references.
func ParseCompositionSheet(f *excelize.File, sheet string) (*CompositionSheetResult, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	layout := compositionSheetLayout
	header := FindHeaderRow(rows, layout.sheetLayout)
	result := &CompositionSheetResult{HeaderRow: header}

	var current *CompositionGroup
	flush := func() {
		if current != nil {
			result.Compositions = append(result.Compositions, *current)
			current = nil
		}
	}

	for i := header + 1; i < len(rows); i++ {
		row := rows[i]
		code := cellAt(row, layout.codeCol)
		if code == "" {
			continue
		}

		itemType := normalizeCell(cellAt(row, layout.itemTypeCol))
		itemCode := cellAt(row, layout.itemCodeCol)

		if itemType == "" && itemCode == "" {
			// Composition header line.
			flush()
			description := cellAt(row, layout.descriptionCol)
			if description == "" {
				result.Diags = append(result.Diags, RowError{Row: i + 1, Reason: "composition header missing description"})
				continue
			}
			current = &CompositionGroup{
				Code:        code,
				Description: description,
				Unit:        cellAt(row, layout.unitCol),
			}
			continue
		}

		if current == nil || current.Code != code {
			result.Diags = append(result.Diags, RowError{Row: i + 1, Reason: "child line before composition header"})
			continue
		}
		if itemCode == "" {
			result.Diags = append(result.Diags, RowError{Row: i + 1, Reason: "child line missing item code"})
			continue
		}

		coefficient, err := ParseLocalizedDecimal(cellAt(row, layout.coefficientCol))
		if err != nil {
			result.Diags = append(result.Diags, RowError{Row: i + 1, Reason: fmt.Sprintf("coefficient: %v", err)})
			continue
		}
		if coefficient <= 0 {
			result.Diags = append(result.Diags, RowError{Row: i + 1, Reason: "coefficient must be positive"})
			continue
		}

		ref := ChildRef{Code: itemCode, Coefficient: coefficient}
		switch itemType {
		case itemTypeResource:
			current.Resources = append(current.Resources, ref)
		case itemTypeComposition:
			current.Children = append(current.Children, ref)
		default:
			result.Diags = append(result.Diags, RowError{Row: i + 1, Reason: fmt.Sprintf("unknown item type %q", cellAt(row, layout.itemTypeCol))})
		}
	}
	flush()

	return result, nil
}
