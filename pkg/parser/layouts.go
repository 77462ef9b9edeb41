package parser

// sheetLayout is the declarative column map of one sheet shape. The
// reference workbook is positionally addressed and not self-describing, so
// every column index and the header fallback live here instead of being
// scattered through the parsing code.
//
// headerMarkers are matched (case-insensitive) against the identifying
// column; the last row containing all of them is the header. When no row
// matches, fallbackHeaderRow is the empirically known header position.
type sheetLayout struct {
	identifyingCol    int
	headerMarkers     []string
	fallbackHeaderRow int // zero-based
}

// resourceSheetLayout describes the resource+price sheet (standard tax
// regime): one row per resource with classification, code, description,
// unit, then 27 per-region price columns in models.Regions order.
var resourceSheetLayout = struct {
	sheetLayout
	classificationCol int
	codeCol           int
	descriptionCol    int
	unitCol           int
	firstPriceCol     int
}{
	sheetLayout: sheetLayout{
		identifyingCol:    1,
		headerMarkers:     []string{"CODIGO", "INSUMO"},
		fallbackHeaderRow: 9,
	},
	classificationCol: 0,
	codeCol:           1,
	descriptionCol:    2,
	unitCol:           3,
	firstPriceCol:     4,
}

// priceSheetLayout describes the price-only sheet (tax-exempt regime):
// keyed by resource code, same 27-column per-region price array.
var priceSheetLayout = struct {
	sheetLayout
	codeCol        int
	descriptionCol int
	unitCol        int
	firstPriceCol  int
}{
	sheetLayout: sheetLayout{
		identifyingCol:    0,
		headerMarkers:     []string{"CODIGO", "INSUMO"},
		fallbackHeaderRow: 9,
	},
	codeCol:        0,
	descriptionCol: 1,
	unitCol:        2,
	firstPriceCol:  3,
}

// compositionSheetLayout describes the composition breakdown sheet. A row
// with empty item type and item code is a composition header (description
// and unit); rows with both populated are child lines, split by item type
// into resource and sub-composition references.
var compositionSheetLayout = struct {
	sheetLayout
	codeCol            int
	descriptionCol     int
	unitCol            int
	itemTypeCol        int
	itemCodeCol        int
	itemDescriptionCol int
	itemUnitCol        int
	coefficientCol     int
}{
	sheetLayout: sheetLayout{
		identifyingCol:    0,
		headerMarkers:     []string{"CODIGO", "ITEM"},
		fallbackHeaderRow: 5,
	},
	codeCol:            0,
	descriptionCol:     1,
	unitCol:            2,
	itemTypeCol:        3,
	itemCodeCol:        4,
	itemDescriptionCol: 5,
	itemUnitCol:        6,
	coefficientCol:     7,
}

// Item type values the breakdown sheet uses for child lines.
const (
	itemTypeResource    = "INSUMO"
	itemTypeComposition = "COMPOSICAO"
)
