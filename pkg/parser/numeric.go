package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseLocalizedDecimal parses a numeric cell using the localized decimal
// convention: comma as decimal separator, dot as thousands separator.
// Empty and dash cells parse as zero.
func ParseLocalizedDecimal(cell string) (float64, error) {
	s := strings.TrimSpace(cell)
	if s == "" || s == "-" {
		return 0, nil
	}

	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", cell)
	}
	return v, nil
}

// IsEmptyPriceCell reports whether a price cell means "no price published
// for this region". The source files use empty cells, dashes and literal
// zeros interchangeably for that, so zero is never a real price.
func IsEmptyPriceCell(cell string) bool {
	v, err := ParseLocalizedDecimal(cell)
	if err != nil {
		return true
	}
	return v == 0
}
