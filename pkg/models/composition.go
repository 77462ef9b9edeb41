package models

import "time"

// Composition is a unit-priced recipe of work. It stores no price of its
// own; cost is always derived by walking its resource and sub-composition
// links.
type Composition struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Unit        string    `json:"unit"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CompositionResource links a composition to a resource it consumes.
// Coefficient is the quantity consumed per unit of the parent and must be
// positive. Links are fully replaced whenever the composition is
// re-ingested.
type CompositionResource struct {
	CompositionID int64   `json:"composition_id"`
	ResourceID    int64   `json:"resource_id"`
	Coefficient   float64 `json:"coefficient"`
}

// CompositionChild links a parent composition to a sub-composition, forming
// a self-referencing graph. Upstream data errors can introduce cycles, so
// traversal is always depth- and visit-guarded.
type CompositionChild struct {
	CompositionID int64   `json:"composition_id"`
	ChildID       int64   `json:"child_id"`
	Coefficient   float64 `json:"coefficient"`
}

// ResourceItem is a resource link joined with its resource row, as read by
// the cost resolver.
type ResourceItem struct {
	ResourceID  int64            `json:"resource_id"`
	Code        string           `json:"code"`
	Description string           `json:"description"`
	Unit        string           `json:"unit"`
	Category    ResourceCategory `json:"category"`
	Coefficient float64          `json:"coefficient"`
}

// ChildItem is a sub-composition link joined with the child composition row.
type ChildItem struct {
	ChildID     int64   `json:"child_id"`
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	Coefficient float64 `json:"coefficient"`
}
