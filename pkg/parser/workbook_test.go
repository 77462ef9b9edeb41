package parser

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/construtiva/costref-engine/pkg/models"
)

// buildWorkbook creates an in-memory workbook with one sheet filled from the
// given rows. Row and column positions mirror the real reference files.
func buildWorkbook(t *testing.T, sheet string, rows [][]any) *excelize.File {
	t.Helper()

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", sheet))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		require.NoError(t, f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+1), &row))
	}
	t.Cleanup(func() { f.Close() })
	return f
}

// resourceRow lays out one resource line: classification, code, description,
// unit, then the per-region price array in models.Regions order.
func resourceRow(classification, code, description, unit string, prices map[string]string) []any {
	row := []any{classification, code, description, unit}
	for _, region := range models.Regions {
		row = append(row, prices[region])
	}
	return row
}

func TestFindHeaderRow_LastMatchWins(t *testing.T) {
	rows := [][]string{
		{"", "CODIGO DO INSUMO"},          // matches, but an earlier one
		{"", "some preamble"},
		{"", "CÓDIGO DO INSUMO"},          // accented variant, matches too
		{"", "data starts below"},
	}

	got := FindHeaderRow(rows, resourceSheetLayout.sheetLayout)
	assert.Equal(t, 2, got)
}

func TestFindHeaderRow_FallbackWhenNoMarker(t *testing.T) {
	rows := [][]string{
		{"", "nothing"},
		{"", "no marker here either"},
	}

	got := FindHeaderRow(rows, resourceSheetLayout.sheetLayout)
	assert.Equal(t, resourceSheetLayout.fallbackHeaderRow, got)
}

func TestParseResourceSheet(t *testing.T) {
	rows := [][]any{
		{"", "Relatório de referência"},
		{},
		{"", "CÓDIGO DO INSUMO"}, // header, row index 2
		resourceRow("MATERIAIS DE CONSTRUÇÃO", "00001", "CIMENTO PORTLAND", "KG", map[string]string{
			"SP": "1.234,56",
			"RJ": "2,50",
			"AC": "0,00", // zero means no price
			"AL": "-",    // dash means no price
		}),
		resourceRow("MÃO DE OBRA", "00002", "", "H", nil), // missing description
		resourceRow("EQUIPAMENTOS", "00003", "BETONEIRA 400L", "H", map[string]string{
			"SP": "not a number",
		}),
		{"", ""}, // blank code, skipped silently
	}

	f := buildWorkbook(t, "ISD Setembro", rows)
	result, err := ParseResourceSheet(f, "ISD Setembro")
	require.NoError(t, err)

	assert.Equal(t, 2, result.HeaderRow)
	require.Len(t, result.Rows, 1)

	r := result.Rows[0]
	assert.Equal(t, "MATERIAIS DE CONSTRUÇÃO", r.Classification)
	assert.Equal(t, "00001", r.Code)
	assert.Equal(t, "CIMENTO PORTLAND", r.Description)
	assert.Equal(t, "KG", r.Unit)
	require.Len(t, r.Prices, 2)
	assert.InDelta(t, 1234.56, r.Prices["SP"], 1e-9)
	assert.InDelta(t, 2.50, r.Prices["RJ"], 1e-9)

	require.Len(t, result.Diags, 2)
	assert.Equal(t, 5, result.Diags[0].Row)
	assert.Contains(t, result.Diags[0].Reason, "missing description")
	assert.Equal(t, 6, result.Diags[1].Row)
	assert.Contains(t, result.Diags[1].Reason, "invalid number")
}

func TestParseResourceSheet_FallbackHeader(t *testing.T) {
	// No marker row anywhere; data sits right after the known fallback
	// position.
	rows := make([][]any, resourceSheetLayout.fallbackHeaderRow+1)
	rows = append(rows, resourceRow("SERVIÇOS", "777", "LOCAÇÃO DE OBRA", "M2", map[string]string{
		"DF": "10,00",
	}))

	f := buildWorkbook(t, "ISD", rows)
	result, err := ParseResourceSheet(f, "ISD")
	require.NoError(t, err)

	assert.Equal(t, resourceSheetLayout.fallbackHeaderRow, result.HeaderRow)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "777", result.Rows[0].Code)
	assert.InDelta(t, 10.0, result.Rows[0].Prices["DF"], 1e-9)
}

func TestParsePriceSheet(t *testing.T) {
	priceRow := func(code, description, unit string, prices map[string]string) []any {
		row := []any{code, description, unit}
		for _, region := range models.Regions {
			row = append(row, prices[region])
		}
		return row
	}

	rows := [][]any{
		{"CÓDIGO DO INSUMO"}, // header, row index 0
		priceRow("00001", "CIMENTO PORTLAND", "KG", map[string]string{
			"SP": "1.100,00",
			"MG": "990,90",
		}),
		priceRow("00009", "AREIA LAVADA", "M3", map[string]string{
			"BA": "bogus",
		}),
	}

	f := buildWorkbook(t, "ICD", rows)
	result, err := ParsePriceSheet(f, "ICD")
	require.NoError(t, err)

	assert.Equal(t, 0, result.HeaderRow)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "00001", result.Rows[0].Code)
	assert.InDelta(t, 1100.0, result.Rows[0].Prices["SP"], 1e-9)
	assert.InDelta(t, 990.90, result.Rows[0].Prices["MG"], 1e-9)

	require.Len(t, result.Diags, 1)
	assert.Equal(t, 3, result.Diags[0].Row)
}

func TestParseCompositionSheet(t *testing.T) {
	rows := [][]any{
		{"CÓDIGO DA COMPOSIÇÃO / ITEM"}, // header, row index 0
		// Composition header lines have empty item type and item code.
		{"73990", "ALVENARIA DE VEDAÇÃO", "M2", "", ""},
		{"73990", "", "", "INSUMO", "00001", "CIMENTO PORTLAND", "KG", "0,0265"},
		{"73990", "", "", "INSUMO", "00002", "PEDREIRO", "H", "1,2000"},
		{"73990", "", "", "COMPOSIÇÃO", "88309", "ARGAMASSA TRAÇO 1:3", "M3", "0,0090"},
		{"90001", "CONTRAPISO", "M2", "", ""},
		{"90001", "", "", "INSUMO", "00001", "CIMENTO PORTLAND", "KG", "4,5000"},
	}

	f := buildWorkbook(t, "Analítico", rows)
	result, err := ParseCompositionSheet(f, "Analítico")
	require.NoError(t, err)

	assert.Empty(t, result.Diags)
	require.Len(t, result.Compositions, 2)

	first := result.Compositions[0]
	assert.Equal(t, "73990", first.Code)
	assert.Equal(t, "ALVENARIA DE VEDAÇÃO", first.Description)
	assert.Equal(t, "M2", first.Unit)
	require.Len(t, first.Resources, 2)
	assert.Equal(t, "00001", first.Resources[0].Code)
	assert.InDelta(t, 0.0265, first.Resources[0].Coefficient, 1e-9)
	require.Len(t, first.Children, 1)
	assert.Equal(t, "88309", first.Children[0].Code)

	second := result.Compositions[1]
	assert.Equal(t, "90001", second.Code)
	require.Len(t, second.Resources, 1)
	assert.Empty(t, second.Children)
}

func TestParseCompositionSheet_RowDiagnostics(t *testing.T) {
	rows := [][]any{
		{"CÓDIGO DA COMPOSIÇÃO / ITEM"},
		// Child line with no preceding header for its code.
		{"55555", "", "", "INSUMO", "00001", "CIMENTO", "KG", "1,0"},
		{"73990", "ALVENARIA", "M2", "", ""},
		// Zero coefficient is rejected.
		{"73990", "", "", "INSUMO", "00001", "CIMENTO", "KG", "0,0000"},
		// Unknown item type is rejected.
		{"73990", "", "", "OUTRO", "00002", "PEDREIRO", "H", "1,0"},
		// Header line with no description is rejected.
		{"90001", "", "", "", ""},
	}

	f := buildWorkbook(t, "Analítico", rows)
	result, err := ParseCompositionSheet(f, "Analítico")
	require.NoError(t, err)

	require.Len(t, result.Compositions, 1)
	assert.Equal(t, "73990", result.Compositions[0].Code)
	assert.Empty(t, result.Compositions[0].Resources)

	require.Len(t, result.Diags, 4)
	assert.Contains(t, result.Diags[0].Reason, "before composition header")
	assert.Contains(t, result.Diags[1].Reason, "must be positive")
	assert.Contains(t, result.Diags[2].Reason, "unknown item type")
	assert.Contains(t, result.Diags[3].Reason, "missing description")
}
