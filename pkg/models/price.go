package models

import "time"

// ResourcePrice is the cost of one resource in one region for one reference
// month. Exactly one row exists per (resource, region, month); the two tax
// regimes are independent columns on that row so a regime-specific import
// never clobbers the other regime's value.
//
// A nil regime pointer means "no price published", which is distinct from a
// price of zero.
type ResourcePrice struct {
	ID             int64     `json:"id"`
	ResourceID     int64     `json:"resource_id"`
	Region         string    `json:"region"`          // two-letter UF code
	ReferenceMonth string    `json:"reference_month"` // YYYY-MM
	StandardPrice  *float64  `json:"standard_price,omitempty"`
	ExemptPrice    *float64  `json:"exempt_price,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PriceFor returns the amount for the requested regime and whether a price
// was actually published for it.
func (p *ResourcePrice) PriceFor(exempt bool) (float64, bool) {
	if p == nil {
		return 0, false
	}
	if exempt {
		if p.ExemptPrice == nil {
			return 0, false
		}
		return *p.ExemptPrice, true
	}
	if p.StandardPrice == nil {
		return 0, false
	}
	return *p.StandardPrice, true
}
