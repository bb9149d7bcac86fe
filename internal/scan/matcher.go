package scan

import (
	"fmt"

	"order_packer/internal/models"
	"order_packer/internal/sku"
)

// LooseToken names the n-th unit synthesized for a bare Loose scan.
func LooseToken(n int) string {
	return fmt.Sprintf("LOOSE-%04d", n)
}

// BulkToken names the n-th unit filled in by a bulk run.
func BulkToken(sku string, n int) string {
	return fmt.Sprintf("BULK-%s-%04d", sku, n)
}

// Match describes the effect of one scan on the order collection.
type Match struct {
	Order     *models.Order
	Item      *models.OrderItem
	Token     string
	Duplicate bool // the unit was already recorded on the line; nothing changed
}

// Matched reports whether the scan mutated a line.
func (m Match) Matched() bool {
	return m.Item != nil && !m.Duplicate
}

type Matcher struct {
	registry *sku.Registry
}

func NewMatcher(registry *sku.Registry) *Matcher {
	return &Matcher{registry: registry}
}

// Check rejects codes the SKU classification does not allow: a Compulsory
// SKU must be scanned with a unit.
func (m *Matcher) Check(code Code) error {
	rec := m.registry.Resolve(code.SKU)
	if code.Bare() && rec.Verification == sku.Compulsory {
		return &FormatError{
			Code:   code.Raw,
			Reason: fmt.Sprintf("%s requires a unit code like %s", rec.SKU, UnitExample(rec.SKU)),
		}
	}
	return nil
}

// Apply records one unit of code.SKU on the first pending order, in
// collection order, that still needs it. An order already holding the
// unit is passed over. At most one line is changed.
func (m *Matcher) Apply(orders []*models.Order, code Code) (Match, error) {
	if err := m.Check(code); err != nil {
		return Match{}, err
	}
	rec := m.registry.Resolve(code.SKU)

	// the first order that already holds the unit, reported when no
	// later order takes it
	var duplicate Match

orders:
	for _, order := range orders {
		if !order.IsPending() {
			continue
		}
		for i := range order.Items {
			item := &order.Items[i]
			if !item.MatchesSKU(rec.SKU) {
				continue
			}
			if rec.NoScanExempt {
				// exempt lines are never scanned; try the next order
				break
			}
			if item.Full() {
				continue
			}

			token := code.Unit
			if code.Bare() {
				token = nextLooseToken(item)
			}
			if item.HasUnit(token) {
				if duplicate.Item == nil {
					duplicate = Match{Order: order, Item: item, Token: token, Duplicate: true}
				}
				continue orders
			}
			if code.Bare() {
				item.AutoSeq++
			}
			item.AddUnit(token)
			return Match{Order: order, Item: item, Token: token}, nil
		}
	}
	return duplicate, nil
}

func nextLooseToken(item *models.OrderItem) string {
	n := item.AutoSeq + 1
	for item.HasUnit(LooseToken(n)) {
		item.AutoSeq++
		n++
	}
	return LooseToken(n)
}

// Complete reports whether every line that is not exempt from scanning has
// all of its units verified.
func Complete(order *models.Order, registry *sku.Registry) bool {
	for i := range order.Items {
		item := &order.Items[i]
		if registry.IsExempt(item.SKU) {
			continue
		}
		if len(item.VerifiedUnits) != item.Quantity {
			return false
		}
	}
	return true
}

// FillBulk verifies every remaining unit of item with bulk tokens and
// returns how many were added.
func FillBulk(item *models.OrderItem) int {
	added := 0
	for n := 1; !item.Full(); n++ {
		if item.AddUnit(BulkToken(sku.Normalize(item.SKU), n)) {
			added++
		}
	}
	return added
}
