package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/construtiva/costref-engine/pkg/collector"
	"github.com/construtiva/costref-engine/pkg/models"
)

// buildReferenceArchive assembles a zip holding a workbook with the three
// sheet shapes, shaped like a real monthly publication.
func buildReferenceArchive(t *testing.T) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	writeRows := func(sheet string, rows [][]any) {
		for i, row := range rows {
			if len(row) == 0 {
				continue
			}
			require.NoError(t, f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+1), &row))
		}
	}

	priceRow := func(lead []any, prices map[string]string) []any {
		row := lead
		for _, region := range models.Regions {
			row = append(row, prices[region])
		}
		return row
	}

	// Resources + standard prices.
	require.NoError(t, f.SetSheetName("Sheet1", "ISD 2025-09"))
	writeRows("ISD 2025-09", [][]any{
		{"", "CÓDIGO DO INSUMO"},
		priceRow([]any{"MATERIAIS", "00001", "CIMENTO PORTLAND", "KG"}, map[string]string{"SP": "1,25", "RJ": "1,30"}),
		priceRow([]any{"MÃO DE OBRA", "00002", "PEDREIRO", "H"}, map[string]string{"SP": "25,00"}),
	})

	// Tax-exempt prices.
	_, err := f.NewSheet("ICD 2025-09")
	require.NoError(t, err)
	writeRows("ICD 2025-09", [][]any{
		{"CÓDIGO DO INSUMO"},
		priceRow([]any{"00001", "CIMENTO PORTLAND", "KG"}, map[string]string{"SP": "1,10"}),
	})

	// Composition breakdowns.
	_, err = f.NewSheet("Analítico")
	require.NoError(t, err)
	writeRows("Analítico", [][]any{
		{"CÓDIGO DA COMPOSIÇÃO / ITEM"},
		{"73990", "ALVENARIA DE VEDAÇÃO", "M2", "", ""},
		{"73990", "", "", "INSUMO", "00001", "CIMENTO PORTLAND", "KG", "4,5"},
		{"73990", "", "", "INSUMO", "00002", "PEDREIRO", "H", "1,2"},
	})

	workbook, err := f.WriteToBuffer()
	require.NoError(t, err)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	entry, err := w.Create("SINAPI/SINAPI_referencia_2025_09.xlsx")
	require.NoError(t, err)
	_, err = entry.Write(workbook.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return buf.Bytes()
}

func drainEvents(events chan models.CollectEvent) []models.CollectEvent {
	close(events)
	var out []models.CollectEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestCollectService_CollectFromArchive(t *testing.T) {
	resources := newMockResourceRepository()
	prices := newMockPriceRepository()
	comps := newMockCompositionRepository()
	logs := &mockImportLogRepository{}
	ingest := NewIngestService(resources, prices, comps, 500, zap.NewNop())
	svc := NewCollectService(collector.New(collector.Options{}, zap.NewNop()), ingest, logs, zap.NewNop())

	events := make(chan models.CollectEvent, 100)
	err := svc.CollectFromArchive(context.Background(), buildReferenceArchive(t), 2025, 9, "ana", events)
	require.NoError(t, err)

	collected := drainEvents(events)
	require.NotEmpty(t, collected)

	// Ordered progress events, exactly one terminal done event.
	last := collected[len(collected)-1]
	require.Equal(t, models.CollectEventDone, last.Type)
	for _, ev := range collected[:len(collected)-1] {
		assert.Equal(t, models.CollectEventProgress, ev.Type)
	}

	summary := last.Summary
	require.NotNil(t, summary)
	assert.Equal(t, "2025-09", summary.ReferenceMonth)
	assert.Equal(t, 2, summary.ResourceCount)
	assert.Equal(t, 4, summary.PriceCount) // 3 standard + 1 exempt
	assert.Equal(t, 1, summary.CompositionCount)
	assert.Equal(t, 2, summary.BreakdownItemCount)
	assert.Zero(t, summary.ErrorCount)

	// Graph state.
	require.NotNil(t, resources.resources["00001"])
	assert.Equal(t, models.CategoryLabor, resources.resources["00002"].Category)

	row, _ := prices.Get(context.Background(), resources.resources["00001"].ID, "SP", "2025-09")
	require.NotNil(t, row)
	assert.Equal(t, 1.25, *row.StandardPrice)
	assert.Equal(t, 1.10, *row.ExemptPrice)

	compID := comps.comps["73990"].ID
	assert.Len(t, comps.resourceLinks[compID], 2)

	// Audit record.
	require.Len(t, logs.entries, 1)
	entry := logs.entries[0]
	assert.Equal(t, models.ImportKindCollect, entry.Kind)
	assert.Equal(t, "upload.zip", entry.FileName)
	assert.Equal(t, "ana", entry.Operator)
	assert.Equal(t, 7, entry.ImportCount)
}

func TestCollectService_CollectFromArchive_MissingWorkbook(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	entry, err := w.Create("Leia-me.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("sem planilha"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	logs := &mockImportLogRepository{}
	ingest := NewIngestService(newMockResourceRepository(), newMockPriceRepository(), newMockCompositionRepository(), 500, zap.NewNop())
	svc := NewCollectService(collector.New(collector.Options{}, zap.NewNop()), ingest, logs, zap.NewNop())

	events := make(chan models.CollectEvent, 100)
	err = svc.CollectFromArchive(context.Background(), buf.Bytes(), 2025, 9, "", events)
	require.Error(t, err)

	collected := drainEvents(events)
	require.NotEmpty(t, collected)
	assert.Equal(t, models.CollectEventError, collected[len(collected)-1].Type)

	// The failed run is still on the audit log.
	require.Len(t, logs.entries, 1)
	assert.Equal(t, models.ImportKindCollect, logs.entries[0].Kind)
}
