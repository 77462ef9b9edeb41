package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/construtiva/costref-engine/pkg/apperrors"
	"github.com/construtiva/costref-engine/pkg/models"
	"github.com/construtiva/costref-engine/pkg/repositories"
)

// MaxResolveDepth caps recursive expansion of sub-compositions. Upstream
// data errors can produce cycles or pathologically deep chains; anything
// past this depth is truncated rather than traversed.
const MaxResolveDepth = 5

// CostService resolves composition costs against the persisted graph. It
// is read-only and side-effect-free; concurrent resolutions need no
// locking.
type CostService interface {
	// ResolveCost computes the unit and total cost of a composition under
	// the given pricing context, with a per-line breakdown.
	ResolveCost(ctx context.Context, code string, costCtx models.CostContext) (*models.CompositionCost, error)

	// ResolveTree mirrors the resolution as a recursive tree, depth-capped
	// like ResolveCost.
	ResolveTree(ctx context.Context, code string, costCtx models.CostContext) (*models.CostTreeNode, error)
}

type costService struct {
	compositions repositories.CompositionRepository
	prices       repositories.PriceRepository
	logger       *zap.Logger
}

// NewCostService creates a new CostService.
func NewCostService(compositions repositories.CompositionRepository, prices repositories.PriceRepository, logger *zap.Logger) CostService {
	return &costService{
		compositions: compositions,
		prices:       prices,
		logger:       logger.Named("cost-service"),
	}
}

var _ CostService = (*costService)(nil)

func validateCostContext(costCtx *models.CostContext) error {
	if !models.ValidRegion(costCtx.Region) {
		return apperrors.ErrInvalidRegion
	}
	if !referenceMonthPattern.MatchString(costCtx.ReferenceMonth) {
		return apperrors.ErrInvalidReferenceMonth
	}
	if costCtx.Quantity <= 0 {
		costCtx.Quantity = 1
	}
	return nil
}

// resolution carries traversal state. The visited set is shared across the
// entire traversal, not per branch: once a composition has been expanded
// anywhere, later references short-circuit and are flagged as duplicates
// instead of being expanded again. This bounds work to the number of
// distinct compositions even on cyclic data.
type resolution struct {
	ctx     context.Context
	costCtx models.CostContext
	visited map[int64]bool
	items   []models.CostItem
	missing int
}

func (s *costService) ResolveCost(ctx context.Context, code string, costCtx models.CostContext) (*models.CompositionCost, error) {
	if err := validateCostContext(&costCtx); err != nil {
		return nil, err
	}

	comp, err := s.compositions.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to load composition %s: %w", code, err)
	}
	if comp == nil {
		return nil, apperrors.ErrCompositionNotFound
	}

	res := &resolution{
		ctx:     ctx,
		costCtx: costCtx,
		visited: map[int64]bool{comp.ID: true},
	}

	unitCost, err := s.resolveUnitCost(res, comp.ID, 0)
	if err != nil {
		return nil, err
	}

	quantity := decimal.NewFromFloat(costCtx.Quantity)
	return &models.CompositionCost{
		CompositionCode:   comp.Code,
		Description:       comp.Description,
		Unit:              comp.Unit,
		Context:           costCtx,
		UnitCost:          unitCost.Round(2).InexactFloat64(),
		TotalCost:         unitCost.Mul(quantity).Round(2).InexactFloat64(),
		Items:             res.items,
		MissingPriceCount: res.missing,
	}, nil
}

// resolveUnitCost computes one composition's unit cost: the sum of its
// direct resource lines plus each expanded child's unit cost times its
// coefficient. Intermediate line amounts are never rounded; only the
// presentation boundaries round to two places.
func (s *costService) resolveUnitCost(res *resolution, compositionID int64, depth int) (decimal.Decimal, error) {
	unitCost := decimal.Zero

	resourceItems, err := s.compositions.GetResourceItems(res.ctx, compositionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load resource items: %w", err)
	}

	lineTotal, err := s.priceResourceItems(res, compositionID, resourceItems)
	if err != nil {
		return decimal.Zero, err
	}
	unitCost = unitCost.Add(lineTotal)

	childItems, err := s.compositions.GetChildItems(res.ctx, compositionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load child items: %w", err)
	}

	for _, child := range childItems {
		coefficient := decimal.NewFromFloat(child.Coefficient)
		item := models.CostItem{
			Kind:        models.CostItemComposition,
			Code:        child.Code,
			Description: child.Description,
			Unit:        child.Unit,
			Coefficient: child.Coefficient,
		}

		if res.visited[child.ChildID] {
			// Already expanded elsewhere in this traversal.
			item.DuplicateReference = true
			res.items = append(res.items, item)
			continue
		}
		if depth+1 >= MaxResolveDepth {
			item.Truncated = true
			res.items = append(res.items, item)
			continue
		}

		res.visited[child.ChildID] = true
		childUnit, err := s.resolveUnitCost(res, child.ChildID, depth+1)
		if err != nil {
			return decimal.Zero, err
		}

		childCost := childUnit.Mul(coefficient)
		item.UnitPrice = childUnit.InexactFloat64()
		item.Total = childCost.InexactFloat64()
		item.PriceFound = true
		res.items = append(res.items, item)
		unitCost = unitCost.Add(childCost)
	}

	return unitCost, nil
}

// priceResourceItems prices one composition's direct resource lines with a
// single bulk price lookup, appending a flagged breakdown line each.
func (s *costService) priceResourceItems(res *resolution, compositionID int64, items []models.ResourceItem) (decimal.Decimal, error) {
	total := decimal.Zero
	if len(items) == 0 {
		return total, nil
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ResourceID)
	}

	prices, err := s.prices.GetForResources(res.ctx, ids, res.costCtx.Region, res.costCtx.ReferenceMonth)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load prices: %w", err)
	}

	for _, item := range items {
		amount, found := prices[item.ResourceID].PriceFor(res.costCtx.TaxExempt)
		line := models.CostItem{
			Kind:        models.CostItemResource,
			Code:        item.Code,
			Description: item.Description,
			Unit:        item.Unit,
			Coefficient: item.Coefficient,
			PriceFound:  found,
		}

		if found {
			lineCost := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(item.Coefficient))
			line.UnitPrice = amount
			line.Total = lineCost.InexactFloat64()
			total = total.Add(lineCost)
		} else {
			res.missing++
		}
		res.items = append(res.items, line)
	}

	return total, nil
}

func (s *costService) ResolveTree(ctx context.Context, code string, costCtx models.CostContext) (*models.CostTreeNode, error) {
	if err := validateCostContext(&costCtx); err != nil {
		return nil, err
	}

	comp, err := s.compositions.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to load composition %s: %w", code, err)
	}
	if comp == nil {
		return nil, apperrors.ErrCompositionNotFound
	}

	res := &resolution{
		ctx:     ctx,
		costCtx: costCtx,
		visited: map[int64]bool{comp.ID: true},
	}

	root := &models.CostTreeNode{
		Code:        comp.Code,
		Description: comp.Description,
		Unit:        comp.Unit,
		Coefficient: 1,
	}
	unitCost, err := s.resolveTreeNode(res, comp.ID, root, 0)
	if err != nil {
		return nil, err
	}
	root.UnitCost = unitCost.Round(2).InexactFloat64()

	return root, nil
}

func (s *costService) resolveTreeNode(res *resolution, compositionID int64, node *models.CostTreeNode, depth int) (decimal.Decimal, error) {
	unitCost := decimal.Zero

	resourceItems, err := s.compositions.GetResourceItems(res.ctx, compositionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load resource items: %w", err)
	}

	// Reuse the flat pricing path, capturing the lines it appends as this
	// node's resource lines.
	markerIdx := len(res.items)
	lineTotal, err := s.priceResourceItems(res, compositionID, resourceItems)
	if err != nil {
		return decimal.Zero, err
	}
	node.Resources = append(node.Resources, res.items[markerIdx:]...)
	res.items = res.items[:markerIdx]
	unitCost = unitCost.Add(lineTotal)

	childItems, err := s.compositions.GetChildItems(res.ctx, compositionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load child items: %w", err)
	}

	for _, child := range childItems {
		childNode := &models.CostTreeNode{
			Code:        child.Code,
			Description: child.Description,
			Unit:        child.Unit,
			Coefficient: child.Coefficient,
		}
		node.Children = append(node.Children, childNode)

		if res.visited[child.ChildID] {
			childNode.DuplicateReference = true
			continue
		}
		if depth+1 >= MaxResolveDepth {
			childNode.Truncated = true
			continue
		}

		res.visited[child.ChildID] = true
		childUnit, err := s.resolveTreeNode(res, child.ChildID, childNode, depth+1)
		if err != nil {
			return decimal.Zero, err
		}
		childNode.UnitCost = childUnit.Round(2).InexactFloat64()
		unitCost = unitCost.Add(childUnit.Mul(decimal.NewFromFloat(child.Coefficient)))
	}

	return unitCost, nil
}
