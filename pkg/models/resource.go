package models

import (
	"strings"
	"time"
)

// ResourceCategory classifies a priced input.
type ResourceCategory string

const (
	CategoryMaterial  ResourceCategory = "material"
	CategoryLabor     ResourceCategory = "labor"
	CategoryEquipment ResourceCategory = "equipment"
	CategoryService   ResourceCategory = "service"
)

// Resource is a priced input of the reference dataset: material, labor,
// equipment or service. Identified by its natural code; never deleted by
// the ingestion pipeline.
type Resource struct {
	ID          int64            `json:"id"`
	Code        string           `json:"code"`
	Description string           `json:"description"`
	Unit        string           `json:"unit"`
	Category    ResourceCategory `json:"category"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// categoryMarkers maps classification substrings to categories, in match
// order. First match wins.
var categoryMarkers = []struct {
	marker   string
	category ResourceCategory
}{
	{"MAO DE OBRA", CategoryLabor},
	{"MÃO DE OBRA", CategoryLabor},
	{"MAO-DE-OBRA", CategoryLabor},
	{"EQUIPAMENTO", CategoryEquipment},
	{"SERVICO", CategoryService},
	{"SERVIÇO", CategoryService},
}

// CategoryFromClassification infers a category from the free-text
// classification column of the resource sheet. The source data carries no
// exact taxonomy, so this is an ordered substring heuristic: labor and
// equipment markers are checked before service, and anything unmatched is
// treated as material.
func CategoryFromClassification(classification string) ResourceCategory {
	upper := strings.ToUpper(strings.TrimSpace(classification))
	for _, m := range categoryMarkers {
		if strings.Contains(upper, m.marker) {
			return m.category
		}
	}
	return CategoryMaterial
}
