package models

// CostContext is the pricing context a composition is resolved under.
type CostContext struct {
	Region         string  `json:"region"`          // two-letter UF code
	ReferenceMonth string  `json:"reference_month"` // YYYY-MM
	TaxExempt      bool    `json:"tax_exempt"`
	Quantity       float64 `json:"quantity"`
}

// CostItemKind discriminates breakdown lines.
type CostItemKind string

const (
	CostItemResource    CostItemKind = "resource"
	CostItemComposition CostItemKind = "composition"
)

// CostItem is one line of a resolved composition: a resource consumed
// directly or a sub-composition expanded recursively.
//
// PriceFound is false on resource lines whose (region, month, regime) price
// is absent; such lines contribute zero and are counted in
// CompositionCost.MissingPriceCount. DuplicateReference marks a
// sub-composition that was already expanded elsewhere in the same traversal
// and therefore reports zero cost here rather than being expanded twice.
// Truncated marks a sub-composition line at the depth cap, left unexpanded
// and unpriced.
type CostItem struct {
	Kind               CostItemKind `json:"kind"`
	Code               string       `json:"code"`
	Description        string       `json:"description"`
	Unit               string       `json:"unit"`
	Coefficient        float64      `json:"coefficient"`
	UnitPrice          float64      `json:"unit_price"`
	Total              float64      `json:"total"`
	PriceFound         bool         `json:"price_found"`
	DuplicateReference bool         `json:"duplicate_reference,omitempty"`
	Truncated          bool         `json:"truncated,omitempty"`
}

// CompositionCost is the resolved cost of one composition under one
// pricing context. UnitCost and TotalCost are rounded to two decimal
// places; intermediate line math is not, to avoid compounding rounding
// error.
type CompositionCost struct {
	CompositionCode   string      `json:"composition_code"`
	Description       string      `json:"description"`
	Unit              string      `json:"unit"`
	Context           CostContext `json:"context"`
	UnitCost          float64     `json:"unit_cost"`
	TotalCost         float64     `json:"total_cost"`
	Items             []CostItem  `json:"items"`
	MissingPriceCount int         `json:"missing_price_count"`
}

// CostTreeNode mirrors the resolution recursively: one node per
// composition, children for each expanded sub-composition, resource lines
// kept flat per node. Depth is capped at the resolver's maximum.
type CostTreeNode struct {
	Code               string          `json:"code"`
	Description        string          `json:"description"`
	Unit               string          `json:"unit"`
	Coefficient        float64         `json:"coefficient"`
	UnitCost           float64         `json:"unit_cost"`
	Resources          []CostItem      `json:"resources,omitempty"`
	Children           []*CostTreeNode `json:"children,omitempty"`
	Truncated          bool            `json:"truncated,omitempty"`
	DuplicateReference bool            `json:"duplicate_reference,omitempty"`
}
