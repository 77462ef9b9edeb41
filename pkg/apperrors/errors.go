package apperrors

import "errors"

var (
	ErrCompositionNotFound   = errors.New("composition not found")
	ErrUnknownResource       = errors.New("unknown resource code")
	ErrInvalidRegion         = errors.New("invalid region code")
	ErrInvalidReferenceMonth = errors.New("invalid reference month, expected YYYY-MM")
	ErrWorkbookNotFound      = errors.New("reference workbook not found in archive")
)
