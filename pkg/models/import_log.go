package models

import (
	"time"

	"github.com/google/uuid"
)

// ImportKind identifies which ingestion entry point produced a run.
const (
	ImportKindCollect      = "collect"
	ImportKindResources    = "resources"
	ImportKindCompositions = "compositions"
	ImportKindPrices       = "prices"
)

// MaxImportErrors caps the error list retained on an import log entry so
// audit rows stay bounded. Totals still reflect every error.
const MaxImportErrors = 100

// ImportLog is the write-once audit record of one ingestion run.
// Stored in import_logs, append-only.
type ImportLog struct {
	ID          uuid.UUID `json:"id"`
	Kind        string    `json:"kind"`
	FileName    string    `json:"file_name"`
	TotalCount  int       `json:"total_count"`
	ImportCount int       `json:"import_count"`
	ErrorCount  int       `json:"error_count"`
	Errors      []string  `json:"errors,omitempty"`
	Operator    string    `json:"operator,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ImportResult is the summary every ingestion entry point returns. Callers
// always get explicit counts so partial success is distinguishable from
// total success or total failure.
type ImportResult struct {
	TotalRecords  int      `json:"totalRecords"`
	ImportedCount int      `json:"importedCount"`
	ErrorCount    int      `json:"errorCount"`
	Errors        []string `json:"errors"`
}

// AddError records one non-fatal error, capping the retained list at
// MaxImportErrors.
func (r *ImportResult) AddError(msg string) {
	r.ErrorCount++
	if len(r.Errors) < MaxImportErrors {
		r.Errors = append(r.Errors, msg)
	}
}
