package entity

import "github.com/shopspring/decimal"

// LineItem is a single billed good or service (§3 LineItem).
type LineItem struct {
	ID         string
	InvoiceID  string
	LineNumber int // 1-based, contiguous

	Description string
	Quantity    decimal.Decimal // ≥ 0.0001
	UnitPrice   decimal.Decimal // major units, e.g. 100000.00

	LineTotal decimal.Decimal // major units
	TaxRate   *decimal.Decimal // percent, optional
	TaxAmount *decimal.Decimal // major units, optional

	ProductCode string
	UnitCode    string // DIAN unit-of-measure code (pkg/dian's Tabla 6); unknown/empty falls back to "94" (unidad)
}

// ExpectedLineTotal is round_half_up(quantity * unit_price), the invariant
// line_total must satisfy.
func (l *LineItem) ExpectedLineTotal() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Round(2)
}

// ExpectedTaxAmount is round_half_up(line_total * rate / 100) when a rate
// is present.
func (l *LineItem) ExpectedTaxAmount() (decimal.Decimal, bool) {
	if l.TaxRate == nil {
		return decimal.Zero, false
	}
	return l.LineTotal.Mul(*l.TaxRate).Div(decimal.NewFromInt(100)).Round(2), true
}
