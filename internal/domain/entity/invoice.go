// Package entity holds the plain value types of the issuance domain model
// (§3). None of them carry behavior beyond small derived-value helpers;
// every mutation happens through explicit persistence operations in
// internal/domain/repository, never through inheritance or hidden setters.
package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tinto-dian/issuer/pkg/dian"
)

// Status is the invoice lifecycle state machine (§4.9).
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusPendingSignature  Status = "PENDING_SIGNATURE"
	StatusSigned            Status = "SIGNED"
	StatusSubmittedToDIAN   Status = "SUBMITTED_TO_DIAN"
	StatusAcceptedByDIAN    Status = "ACCEPTED_BY_DIAN"
	StatusRejectedByDIAN    Status = "REJECTED_BY_DIAN"
	StatusCancelled         Status = "CANCELLED"
)

// DocumentType distinguishes sales invoices from credit/debit notes (§1
// Non-goals: only these three, identical pipeline shape).
type DocumentType string

const (
	DocumentInvoice    DocumentType = "01"
	DocumentCreditNote DocumentType = "91"
	DocumentDebitNote  DocumentType = "92"
)

// TaxKind is one of the three DIAN tax kinds the CUFE engine and the UBL
// builder both understand, in the fixed order §4.4 item 5 requires.
type TaxKind string

const (
	TaxIVA TaxKind = "IVA"
	TaxINC TaxKind = "INC"
	TaxICA TaxKind = "ICA"
)

// dianCode maps a TaxKind to the two-digit DIAN tax code used both in
// the CUFE string and in cac:TaxCategory/cbc:ID.
func (k TaxKind) dianCode() string {
	switch k {
	case TaxIVA:
		return dian.TaxCodeIVA
	case TaxICA:
		return dian.TaxCodeICA
	case TaxINC:
		return dian.TaxCodeINC
	default:
		return ""
	}
}

// DianCode exposes dianCode for infrastructure packages that render it.
func (k TaxKind) DianCode() string { return k.dianCode() }

// InvoiceTax is one present tax on the invoice: a code, an amount, and the
// taxable base it was computed over — the three CUFE fields of §4.4 item 5.
type InvoiceTax struct {
	Kind         TaxKind
	Amount       decimal.Decimal // major units, e.g. 19000.00
	TaxableBase  decimal.Decimal // major units, e.g. 100000.00
}

// Invoice is the document being issued (§3 Invoice).
type Invoice struct {
	ID           string
	IssuerID     string
	CustomerID   string
	EnvironmentID string
	Type         DocumentType

	Prefix string // ≤10 chars, optional
	Number int64  // positive sequence

	IssueDate time.Time // civil date
	// IssueTime is the civil time of day used as CUFE's HorFac field (§4.4
	// item 3, Q1). Defaults to midnight when the intake caller does not
	// supply one; callers that need a trustworthy CUFE in production must
	// populate it explicitly.
	IssueTime time.Duration
	DueDate   *time.Time

	Currency string // ISO-4217

	Subtotal decimal.Decimal // major units, pre-tax
	TaxTotal decimal.Decimal // major units
	Total    decimal.Decimal // major units

	Taxes []InvoiceTax

	Fingerprint string // CUFE/CUDE, 96 hex chars once computed
	Status      Status

	EncryptedUBLBlob       string
	EncryptedSignedXMLBlob string

	CreatedAt      time.Time
	UpdatedAt      time.Time
	CreatorKeyRef  string
}

// InvoiceID returns the {prefix}{number} identifier used as both cbc:ID
// and the CUFE's NumFac field, with no separator (§4.4 item 1).
func (inv *Invoice) InvoiceID() string {
	if inv.Prefix == "" {
		return formatNumber(inv.Number)
	}
	return inv.Prefix + formatNumber(inv.Number)
}

func formatNumber(n int64) string {
	return strings.TrimSpace(decimal.NewFromInt(n).String())
}

// TaxByKind returns the tax entry of the given kind and whether it is
// present, in O(len(Taxes)) — the invoice carries at most three.
func (inv *Invoice) TaxByKind(kind TaxKind) (InvoiceTax, bool) {
	for _, t := range inv.Taxes {
		if t.Kind == kind {
			return t, true
		}
	}
	return InvoiceTax{}, false
}

// CanAdvanceTo reports whether the state machine in §4.9 allows the
// transition from inv.Status to next.
func (inv *Invoice) CanAdvanceTo(next Status) bool {
	if next == StatusCancelled {
		return inv.Status != StatusSubmittedToDIAN &&
			inv.Status != StatusAcceptedByDIAN &&
			inv.Status != StatusRejectedByDIAN &&
			inv.Status != StatusCancelled
	}
	switch inv.Status {
	case StatusDraft:
		return next == StatusPendingSignature
	case StatusPendingSignature:
		return next == StatusSigned
	case StatusSigned:
		return next == StatusSubmittedToDIAN
	case StatusSubmittedToDIAN:
		return next == StatusAcceptedByDIAN || next == StatusRejectedByDIAN
	default:
		return false
	}
}

// QRPayload builds the pipe-delimited string an external PDF/UI layer
// renders as a QR code. The engine itself never rasterizes it (§1 Non-goals).
func (inv *Invoice) QRPayload(validationURL string) string {
	codImp := "01"
	var valImp decimal.Decimal
	if t, ok := inv.TaxByKind(TaxIVA); ok {
		valImp = t.Amount
	}
	return strings.Join([]string{
		inv.InvoiceID(),
		inv.IssueDate.Format("2006-01-02"),
		formatAmount(inv.Total),
		codImp,
		formatAmount(valImp),
		inv.Fingerprint,
		validationURL + inv.Fingerprint,
	}, "|")
}

// formatAmount renders a major-unit decimal with exactly two decimal places,
// per §4.5's monetary formatting rule.
func formatAmount(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}
