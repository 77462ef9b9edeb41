package models

// Regions lists the 27 federative-unit codes in the exact column order the
// reference price sheets use. Price cells are addressed positionally, so
// this ordering is part of the file format.
var Regions = []string{
	"AC", "AL", "AM", "AP", "BA", "CE", "DF", "ES", "GO",
	"MA", "MG", "MS", "MT", "PA", "PB", "PE", "PI", "PR",
	"RJ", "RN", "RO", "RR", "RS", "SC", "SE", "SP", "TO",
}

// ValidRegion reports whether code is one of the 27 known UF codes.
func ValidRegion(code string) bool {
	for _, r := range Regions {
		if r == code {
			return true
		}
	}
	return false
}
