// Package cufe computes the DIAN Código Único de Factura Electrónica
// (§4.4): a deterministic, order-sensitive SHA-384 fingerprint over a
// fixed concatenation of invoice fields.
package cufe

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tinto-dian/issuer/internal/crypto"
	"github.com/tinto-dian/issuer/internal/domain"
	"github.com/tinto-dian/issuer/internal/domain/entity"
)

// taxOrder is the fixed emission order from §4.4 item 5. Absent taxes emit
// no fields at all.
var taxOrder = []entity.TaxKind{entity.TaxIVA, entity.TaxINC, entity.TaxICA}

var whitespace = regexp.MustCompile(`\s+`)

// Params is every input the CUFE string needs, independent of how the
// caller assembled it from an Invoice.
type Params struct {
	InvoiceNumber      string // {prefix}{number}, no separator
	IssueDate          time.Time
	IssueTime          time.Duration // civil time of day, local wall clock
	Subtotal           decimal.Decimal
	Taxes              []entity.InvoiceTax
	GrandTotal         decimal.Decimal
	IssuerTaxIDDigits  string
	CustomerIDType     entity.IdentificationType
	CustomerID         string
	TechnicalKey       string
	Production         bool
}

// Calculate implements §4.4: builds the delimiter-free concatenation in
// the exact field order and returns lowercase hex SHA-384, 96 characters.
func Calculate(p Params) (string, error) {
	numFac := whitespace.ReplaceAllString(strings.TrimSpace(p.InvoiceNumber), "")
	if numFac == "" {
		return "", domain.NewValidation("cufe: invoice number is required")
	}
	issuerDigits := onlyDigits(p.IssuerTaxIDDigits)
	if issuerDigits == "" {
		return "", domain.NewValidation("cufe: issuer tax id is required")
	}
	customerID := onlyDigits(p.CustomerID)
	if customerID == "" {
		return "", domain.NewValidation("cufe: customer identification number is required")
	}
	if p.TechnicalKey == "" {
		return "", domain.NewValidation("cufe: technical key is required")
	}

	var b strings.Builder
	b.WriteString(numFac)
	b.WriteString(p.IssueDate.Format("20060102"))
	b.WriteString(formatTimeOfDay(p.IssueTime))
	b.WriteString(formatAmount(p.Subtotal))

	for _, kind := range taxOrder {
		tax, ok := findTax(p.Taxes, kind)
		if !ok {
			continue
		}
		b.WriteString(kind.DianCode())
		b.WriteString(formatAmount(tax.Amount))
		b.WriteString(formatAmount(tax.TaxableBase))
	}

	b.WriteString(formatAmount(p.GrandTotal))
	b.WriteString(issuerDigits)
	b.WriteString(entity.SchemeIDFromIdentificationType(p.CustomerIDType))
	b.WriteString(customerID)
	b.WriteString(p.TechnicalKey)
	if p.Production {
		b.WriteString("1")
	} else {
		b.WriteString("2")
	}

	return crypto.SHA384Hex([]byte(b.String())), nil
}

func findTax(taxes []entity.InvoiceTax, kind entity.TaxKind) (entity.InvoiceTax, bool) {
	for _, t := range taxes {
		if t.Kind == kind {
			return t, true
		}
	}
	return entity.InvoiceTax{}, false
}

// formatAmount renders §4.4 item 4's format: integer part, a literal dot,
// exactly two decimal digits, no thousands separators.
func formatAmount(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// formatTimeOfDay renders a civil time-of-day duration as HHmmss.
func formatTimeOfDay(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	total %= 24 * 3600
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d%02d%02d", h, m, s)
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidFormat reports whether a string matches the 96-character lowercase
// hex CUFE shape (checked against Calculate's output by the P1 tests).
func ValidFormat(s string) bool {
	if len(s) != 96 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}
