package collector

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/construtiva/costref-engine/pkg/apperrors"
)

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestCollector() *Collector {
	return New(Options{}, zap.NewNop())
}

func TestExtractReferenceWorkbook(t *testing.T) {
	archive := buildZip(t, map[string][]byte{
		"SINAPI/Leia-me.txt":                    []byte("notas"),
		"SINAPI/SINAPI_referência_2025_09.xlsx": []byte("workbook bytes"),
		"SINAPI/relatorios/resumo.pdf":          []byte("pdf"),
	})

	var scratchDir string
	err := newTestCollector().ExtractReferenceWorkbook(archive, func(workbookPath string) error {
		scratchDir = filepath.Dir(workbookPath)
		data, err := os.ReadFile(workbookPath)
		require.NoError(t, err)
		assert.Equal(t, []byte("workbook bytes"), data)
		return nil
	})
	require.NoError(t, err)

	// The scratch directory is gone once processing finishes.
	_, err = os.Stat(scratchDir)
	assert.True(t, os.IsNotExist(err))
}

func TestExtractReferenceWorkbook_AcceptsUnaccentedName(t *testing.T) {
	archive := buildZip(t, map[string][]byte{
		"SINAPI_Referencia_2025_09.XLSX": []byte("x"),
	})

	var called bool
	err := newTestCollector().ExtractReferenceWorkbook(archive, func(string) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestExtractReferenceWorkbook_MissEnumeratesContents(t *testing.T) {
	archive := buildZip(t, map[string][]byte{
		"SINAPI/Leia-me.txt": []byte("notas"),
		"SINAPI/outro.xlsx":  []byte("x"),
	})

	err := newTestCollector().ExtractReferenceWorkbook(archive, func(string) error {
		t.Fatal("process must not run without a reference workbook")
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrWorkbookNotFound)
	assert.Contains(t, err.Error(), "Leia-me.txt")
	assert.Contains(t, err.Error(), "outro.xlsx")
}

func TestExtractReferenceWorkbook_RejectsPathEscape(t *testing.T) {
	archive := buildZip(t, map[string][]byte{
		"../evil.txt": []byte("x"),
	})

	err := newTestCollector().ExtractReferenceWorkbook(archive, func(string) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes extraction directory")
}

func TestExtractReferenceWorkbook_CorruptArchive(t *testing.T) {
	err := newTestCollector().ExtractReferenceWorkbook([]byte("not a zip"), func(string) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open archive")
}
