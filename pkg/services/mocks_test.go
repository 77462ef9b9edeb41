package services

import (
	"context"
	"fmt"

	"github.com/construtiva/costref-engine/pkg/models"
	"github.com/construtiva/costref-engine/pkg/repositories"
)

// mockResourceRepository is an in-memory ResourceRepository keyed by
// natural code, assigning sequential ids on first insert.
type mockResourceRepository struct {
	resources   map[string]*models.Resource
	nextID      int64
	upsertCalls int
	failUpsert  error
}

func newMockResourceRepository() *mockResourceRepository {
	return &mockResourceRepository{resources: make(map[string]*models.Resource)}
}

func (m *mockResourceRepository) seed(code, description, unit string) int64 {
	m.nextID++
	m.resources[code] = &models.Resource{
		ID: m.nextID, Code: code, Description: description, Unit: unit,
		Category: models.CategoryMaterial,
	}
	return m.nextID
}

func (m *mockResourceRepository) UpsertBatch(ctx context.Context, resources []*models.Resource) error {
	m.upsertCalls++
	if m.failUpsert != nil {
		return m.failUpsert
	}
	for _, r := range resources {
		if existing, ok := m.resources[r.Code]; ok {
			existing.Description = r.Description
			existing.Unit = r.Unit
			existing.Category = r.Category
			continue
		}
		m.nextID++
		clone := *r
		clone.ID = m.nextID
		m.resources[r.Code] = &clone
	}
	return nil
}

func (m *mockResourceRepository) GetByCode(ctx context.Context, code string) (*models.Resource, error) {
	return m.resources[code], nil
}

func (m *mockResourceRepository) GetIDsByCodes(ctx context.Context, codes []string) (map[string]int64, error) {
	ids := make(map[string]int64)
	for _, code := range codes {
		if r, ok := m.resources[code]; ok {
			ids[code] = r.ID
		}
	}
	return ids, nil
}

type priceKey struct {
	resourceID int64
	region     string
	month      string
}

// mockPriceRepository stores one row per (resource, region, month) with
// independent regime columns, mirroring the real table.
type mockPriceRepository struct {
	rows       map[priceKey]*models.ResourcePrice
	failRegime map[bool]error // keyed by exempt flag
	batchCalls int
}

func newMockPriceRepository() *mockPriceRepository {
	return &mockPriceRepository{
		rows:       make(map[priceKey]*models.ResourcePrice),
		failRegime: make(map[bool]error),
	}
}

func (m *mockPriceRepository) seed(resourceID int64, region, month string, standard, exempt *float64) {
	m.rows[priceKey{resourceID, region, month}] = &models.ResourcePrice{
		ResourceID: resourceID, Region: region, ReferenceMonth: month,
		StandardPrice: standard, ExemptPrice: exempt,
	}
}

func (m *mockPriceRepository) upsert(prices []repositories.PriceUpsert, exempt bool) error {
	m.batchCalls++
	if err := m.failRegime[exempt]; err != nil {
		return err
	}
	for _, p := range prices {
		key := priceKey{p.ResourceID, p.Region, p.ReferenceMonth}
		row, ok := m.rows[key]
		if !ok {
			row = &models.ResourcePrice{
				ResourceID: p.ResourceID, Region: p.Region, ReferenceMonth: p.ReferenceMonth,
			}
			m.rows[key] = row
		}
		amount := p.Amount
		if exempt {
			row.ExemptPrice = &amount
		} else {
			row.StandardPrice = &amount
		}
	}
	return nil
}

func (m *mockPriceRepository) UpsertStandardBatch(ctx context.Context, prices []repositories.PriceUpsert) error {
	return m.upsert(prices, false)
}

func (m *mockPriceRepository) UpsertExemptBatch(ctx context.Context, prices []repositories.PriceUpsert) error {
	return m.upsert(prices, true)
}

func (m *mockPriceRepository) Get(ctx context.Context, resourceID int64, region, referenceMonth string) (*models.ResourcePrice, error) {
	return m.rows[priceKey{resourceID, region, referenceMonth}], nil
}

func (m *mockPriceRepository) GetForResources(ctx context.Context, resourceIDs []int64, region, referenceMonth string) (map[int64]*models.ResourcePrice, error) {
	out := make(map[int64]*models.ResourcePrice)
	for _, id := range resourceIDs {
		if row, ok := m.rows[priceKey{id, region, referenceMonth}]; ok {
			out[id] = row
		}
	}
	return out, nil
}

// mockCompositionRepository is an in-memory CompositionRepository. Cost
// tests seed resourceItems/childItems directly; ingest tests exercise the
// upsert and link paths.
type mockCompositionRepository struct {
	comps         map[string]*models.Composition
	nextID        int64
	resourceLinks map[int64][]models.CompositionResource
	childLinks    map[int64][]models.CompositionChild
	resourceItems map[int64][]models.ResourceItem
	childItems    map[int64][]models.ChildItem

	failBatch       error
	failUpsertCodes map[string]error
	replaceCalls    int
}

func newMockCompositionRepository() *mockCompositionRepository {
	return &mockCompositionRepository{
		comps:           make(map[string]*models.Composition),
		resourceLinks:   make(map[int64][]models.CompositionResource),
		childLinks:      make(map[int64][]models.CompositionChild),
		resourceItems:   make(map[int64][]models.ResourceItem),
		childItems:      make(map[int64][]models.ChildItem),
		failUpsertCodes: make(map[string]error),
	}
}

func (m *mockCompositionRepository) seed(code, description, unit string) int64 {
	m.nextID++
	m.comps[code] = &models.Composition{ID: m.nextID, Code: code, Description: description, Unit: unit}
	return m.nextID
}

func (m *mockCompositionRepository) UpsertBatch(ctx context.Context, compositions []*models.Composition) (map[string]int64, error) {
	if m.failBatch != nil {
		return nil, m.failBatch
	}
	ids := make(map[string]int64, len(compositions))
	for _, c := range compositions {
		if err := m.Upsert(ctx, c); err != nil {
			return nil, err
		}
		ids[c.Code] = c.ID
	}
	return ids, nil
}

func (m *mockCompositionRepository) Upsert(ctx context.Context, composition *models.Composition) error {
	if err := m.failUpsertCodes[composition.Code]; err != nil {
		return err
	}
	if existing, ok := m.comps[composition.Code]; ok {
		existing.Description = composition.Description
		existing.Unit = composition.Unit
		composition.ID = existing.ID
		return nil
	}
	m.nextID++
	composition.ID = m.nextID
	clone := *composition
	m.comps[composition.Code] = &clone
	return nil
}

func (m *mockCompositionRepository) GetByCode(ctx context.Context, code string) (*models.Composition, error) {
	return m.comps[code], nil
}

func (m *mockCompositionRepository) GetIDsByCodes(ctx context.Context, codes []string) (map[string]int64, error) {
	ids := make(map[string]int64)
	for _, code := range codes {
		if c, ok := m.comps[code]; ok {
			ids[code] = c.ID
		}
	}
	return ids, nil
}

func (m *mockCompositionRepository) ReplaceLinks(ctx context.Context, compositionID int64, resources []models.CompositionResource, children []models.CompositionChild) error {
	m.replaceCalls++
	m.resourceLinks[compositionID] = resources
	m.childLinks[compositionID] = children
	return nil
}

func (m *mockCompositionRepository) GetResourceItems(ctx context.Context, compositionID int64) ([]models.ResourceItem, error) {
	return m.resourceItems[compositionID], nil
}

func (m *mockCompositionRepository) GetChildItems(ctx context.Context, compositionID int64) ([]models.ChildItem, error) {
	return m.childItems[compositionID], nil
}

// mockImportLogRepository records audit entries in memory.
type mockImportLogRepository struct {
	entries []*models.ImportLog
	failure error
}

func (m *mockImportLogRepository) Create(ctx context.Context, entry *models.ImportLog) error {
	if m.failure != nil {
		return m.failure
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockImportLogRepository) List(ctx context.Context, limit int) ([]*models.ImportLog, error) {
	if m.failure != nil {
		return nil, m.failure
	}
	out := m.entries
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func ptr(v float64) *float64 { return &v }

var errBoom = fmt.Errorf("boom")
