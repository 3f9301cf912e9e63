// Package ubl builds the UBL 2.1 Invoice XML document DIAN expects (§4.5),
// grounded on the encoding/xml token-stream approach the teacher's xml
// builder uses, generalized to the three-tax-kind, multi-line-item domain
// model and the exact header constants the spec requires.
package ubl

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/tinto-dian/issuer/internal/domain"
	"github.com/tinto-dian/issuer/internal/domain/entity"
	"github.com/tinto-dian/issuer/pkg/dian"
)

// Namespaces bound at the root element.
const (
	NsInvoice = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	NsCac     = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	NsCbc     = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	NsExt     = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
	NsSts     = "dian:gov:co:facturaelectronica:v1"
	NsDs      = "http://www.w3.org/2000/09/xmldsig#"
	nsXsi     = "http://www.w3.org/2001/XMLSchema-instance"
)

// Header constants, exact per §4.5 item 2.
const (
	ublVersionID     = "UBL 2.1"
	customizationID  = "10"
	profileID        = "DIAN 2.1"
	profileExecution = "1"
)

// SoftwareIdentity is the DianExtensions software-provider data from
// configuration, injected into the second UBLExtension slot.
type SoftwareIdentity struct {
	SoftwareProviderID string
	SoftwareID         string
}

// Context is every external fact the builder needs besides the invoice
// itself: the parties, the environment, and the software identity.
type Context struct {
	Invoice  *entity.Invoice
	Lines    []entity.LineItem
	Issuer   *entity.Issuer
	Customer *entity.Customer
	Software SoftwareIdentity
}

// Build renders ctx into a UTF-8 XML document per §4.5. The root's first
// UBLExtension holds an empty reserved ExtensionContent for the signer
// (§4.6); the second holds the DianExtensions software-identity block,
// following the teacher's two-extension layout.
func Build(ctx Context) ([]byte, error) {
	if ctx.Invoice == nil || ctx.Issuer == nil || ctx.Customer == nil {
		return nil, domain.NewValidation("ubl: invoice, issuer and customer are required")
	}
	if len(ctx.Lines) == 0 {
		return nil, domain.NewValidation("ubl: at least one line item is required")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)

	// Name.Space is deliberately left unset: Go's token-stream encoder
	// renders a set Space as a bare `xmlns="..."` default-namespace
	// attribute, which would collide with the manual `xmlns` attr below and
	// never produces the `cac:`/`cbc:`/`ext:`/`sts:` prefixes DIAN's schema
	// expects on every child. Prefixes are instead baked directly into each
	// element's Local name (see open/writeCbc/writeSts), with the six
	// xmlns declarations below as the one place the namespace URIs bind.
	root := xml.StartElement{
		Name: xml.Name{Local: "Invoice"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns"}, Value: NsInvoice},
			{Name: xml.Name{Local: "xmlns:cac"}, Value: NsCac},
			{Name: xml.Name{Local: "xmlns:cbc"}, Value: NsCbc},
			{Name: xml.Name{Local: "xmlns:ext"}, Value: NsExt},
			{Name: xml.Name{Local: "xmlns:sts"}, Value: NsSts},
			{Name: xml.Name{Local: "xmlns:xsi"}, Value: nsXsi},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, domain.NewValidation("ubl: encoding root element: %v", err)
	}

	writeUBLExtensions(enc, ctx.Software)

	writeCbc(enc, "UBLVersionID", ublVersionID)
	writeCbc(enc, "CustomizationID", customizationID)
	writeCbc(enc, "ProfileID", profileID)
	writeCbc(enc, "ProfileExecutionID", profileExecution)
	writeCbc(enc, "ID", ctx.Invoice.InvoiceID())
	writeCbcAttr(enc, "UUID", ctx.Invoice.Fingerprint, "schemeName", "CUFE-SHA384")
	writeCbc(enc, "IssueDate", ctx.Invoice.IssueDate.Format("2006-01-02"))
	writeCbc(enc, "IssueTime", formatIssueTime(ctx.Invoice.IssueTime))
	if ctx.Invoice.DueDate != nil {
		writeCbc(enc, "DueDate", ctx.Invoice.DueDate.Format("2006-01-02"))
	}
	writeCbc(enc, "InvoiceTypeCode", string(entity.DocumentInvoice))
	writeCbc(enc, "DocumentCurrencyCode", ctx.Invoice.Currency)
	writeCbc(enc, "LineCountNumeric", strconv.Itoa(len(ctx.Lines)))

	writeSupplierParty(enc, ctx.Issuer)
	writeCustomerParty(enc, ctx.Customer)
	writePaymentMeans(enc)
	writeTaxTotal(enc, ctx.Invoice)
	writeLegalMonetaryTotal(enc, ctx.Invoice)

	for i, line := range ctx.Lines {
		writeInvoiceLine(enc, i+1, line, ctx.Invoice.Currency)
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, domain.NewValidation("ubl: encoding root close: %v", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, domain.NewValidation("ubl: flushing encoder: %v", err)
	}
	return buf.Bytes(), nil
}

func formatIssueTime(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	total %= 24 * 3600
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmtHHMMSS(h, m, s) + "-05:00"
}

func fmtHHMMSS(h, m, s int64) string {
	pad := func(n int64) string {
		if n < 10 {
			return "0" + strconv.FormatInt(n, 10)
		}
		return strconv.FormatInt(n, 10)
	}
	return pad(h) + ":" + pad(m) + ":" + pad(s)
}

func writeUBLExtensions(enc *xml.Encoder, sw SoftwareIdentity) {
	open(enc, "ext", "UBLExtensions")

	// Slot 1: reserved for the signer (§4.6) — left empty here.
	open(enc, "ext", "UBLExtension")
	open(enc, "ext", "ExtensionContent")
	close_(enc, "ext", "ExtensionContent")
	close_(enc, "ext", "UBLExtension")

	// Slot 2: DianExtensions software identity.
	open(enc, "ext", "UBLExtension")
	open(enc, "ext", "ExtensionContent")
	open(enc, "sts", "DianExtensions")
	writeSts(enc, "SoftwareProviderID", sw.SoftwareProviderID)
	writeSts(enc, "SoftwareID", sw.SoftwareID)
	close_(enc, "sts", "DianExtensions")
	close_(enc, "ext", "ExtensionContent")
	close_(enc, "ext", "UBLExtension")

	close_(enc, "ext", "UBLExtensions")
}

func writeSupplierParty(enc *xml.Encoder, issuer *entity.Issuer) {
	open(enc, "cac", "AccountingSupplierParty")
	open(enc, "cac", "Party")
	writePartyIdentification(enc, "31", onlyDigits(issuer.TaxID))
	open(enc, "cac", "PartyName")
	writeCbc(enc, "Name", normalizeText(issuer.LegalName))
	close_(enc, "cac", "PartyName")
	if issuer.Address != "" {
		open(enc, "cac", "PhysicalLocation")
		open(enc, "cac", "Address")
		writeCbc(enc, "StreetName", normalizeText(issuer.Address))
		close_(enc, "cac", "Address")
		close_(enc, "cac", "PhysicalLocation")
	}
	for _, code := range issuer.FiscalResponsibilityCodes {
		if !dian.ValidFiscalResponsibilityCodes[code] {
			continue
		}
		open(enc, "cac", "PartyTaxScheme")
		writeCbc(enc, "TaxLevelCode", code)
		open(enc, "cac", "TaxScheme")
		writeCbc(enc, "ID", "01")
		writeCbc(enc, "Name", "IVA")
		close_(enc, "cac", "TaxScheme")
		close_(enc, "cac", "PartyTaxScheme")
	}
	open(enc, "cac", "PartyTaxScheme")
	open(enc, "cac", "TaxScheme")
	writeCbc(enc, "ID", "01")
	writeCbc(enc, "Name", "IVA")
	close_(enc, "cac", "TaxScheme")
	close_(enc, "cac", "PartyTaxScheme")
	open(enc, "cac", "PartyLegalEntity")
	writeCbc(enc, "RegistrationName", normalizeText(issuer.LegalName))
	close_(enc, "cac", "PartyLegalEntity")
	close_(enc, "cac", "Party")
	close_(enc, "cac", "AccountingSupplierParty")
}

func writeCustomerParty(enc *xml.Encoder, customer *entity.Customer) {
	open(enc, "cac", "AccountingCustomerParty")
	open(enc, "cac", "Party")
	schemeID := entity.SchemeIDFromIdentificationType(customer.IdentificationType)
	writePartyIdentification(enc, schemeID, onlyDigits(customer.TaxID))
	open(enc, "cac", "PartyName")
	writeCbc(enc, "Name", normalizeText(customer.LegalName))
	close_(enc, "cac", "PartyName")
	open(enc, "cac", "PartyTaxScheme")
	open(enc, "cac", "TaxScheme")
	writeCbc(enc, "ID", "01")
	writeCbc(enc, "Name", "IVA")
	close_(enc, "cac", "TaxScheme")
	close_(enc, "cac", "PartyTaxScheme")
	close_(enc, "cac", "Party")
	close_(enc, "cac", "AccountingCustomerParty")
}

func writePartyIdentification(enc *xml.Encoder, schemeID, value string) {
	open(enc, "cac", "PartyIdentification")
	writeCbcAttr(enc, "ID", value, "schemeID", schemeID)
	close_(enc, "cac", "PartyIdentification")
}

func writePaymentMeans(enc *xml.Encoder) {
	open(enc, "cac", "PaymentMeans")
	writeCbc(enc, "ID", dian.PaymentFormContado)
	writeCbc(enc, "PaymentMeansCode", dian.PaymentMethodEfectivo)
	close_(enc, "cac", "PaymentMeans")
}

func writeTaxTotal(enc *xml.Encoder, inv *entity.Invoice) {
	for _, tax := range inv.Taxes {
		open(enc, "cac", "TaxTotal")
		writeCbcAttr(enc, "TaxAmount", formatAmount(tax.Amount), "currencyID", inv.Currency)
		open(enc, "cac", "TaxSubtotal")
		writeCbcAttr(enc, "TaxableAmount", formatAmount(tax.TaxableBase), "currencyID", inv.Currency)
		writeCbcAttr(enc, "TaxAmount", formatAmount(tax.Amount), "currencyID", inv.Currency)
		open(enc, "cac", "TaxCategory")
		percent := taxPercent(tax)
		writeCbc(enc, "Percent", percent)
		open(enc, "cac", "TaxScheme")
		writeCbc(enc, "ID", tax.Kind.DianCode())
		writeCbc(enc, "Name", string(tax.Kind))
		close_(enc, "cac", "TaxScheme")
		close_(enc, "cac", "TaxCategory")
		close_(enc, "cac", "TaxSubtotal")
		close_(enc, "cac", "TaxTotal")
	}
}

func taxPercent(tax entity.InvoiceTax) string {
	if tax.TaxableBase.IsZero() {
		return "0"
	}
	return tax.Amount.Div(tax.TaxableBase).Mul(decimal.NewFromInt(100)).Round(2).String()
}

func writeLegalMonetaryTotal(enc *xml.Encoder, inv *entity.Invoice) {
	open(enc, "cac", "LegalMonetaryTotal")
	writeCbcAttr(enc, "LineExtensionAmount", formatAmount(inv.Subtotal), "currencyID", inv.Currency)
	writeCbcAttr(enc, "TaxExclusiveAmount", formatAmount(inv.Subtotal), "currencyID", inv.Currency)
	writeCbcAttr(enc, "TaxInclusiveAmount", formatAmount(inv.Total), "currencyID", inv.Currency)
	writeCbcAttr(enc, "PayableAmount", formatAmount(inv.Total), "currencyID", inv.Currency)
	close_(enc, "cac", "LegalMonetaryTotal")
}

func writeInvoiceLine(enc *xml.Encoder, index int, line entity.LineItem, currency string) {
	open(enc, "cac", "InvoiceLine")
	writeCbc(enc, "ID", strconv.Itoa(index))
	unitCode := line.UnitCode
	if unitCode == "" || !dian.ValidMeasurementUnitCodes[unitCode] {
		unitCode = dian.UnitUnit
	}
	writeCbcAttr(enc, "InvoicedQuantity", line.Quantity.Round(2).StringFixed(2), "unitCode", unitCode)
	writeCbcAttr(enc, "LineExtensionAmount", formatAmount(line.LineTotal), "currencyID", currency)

	open(enc, "cac", "Item")
	writeCbc(enc, "Description", normalizeText(line.Description))
	code := line.ProductCode
	if code == "" {
		code = "999"
	}
	open(enc, "cac", "StandardItemIdentification")
	writeCbc(enc, "ID", code)
	close_(enc, "cac", "StandardItemIdentification")
	close_(enc, "cac", "Item")

	open(enc, "cac", "Price")
	writeCbcAttr(enc, "PriceAmount", formatAmount(line.UnitPrice), "currencyID", currency)
	close_(enc, "cac", "Price")

	close_(enc, "cac", "InvoiceLine")
}

// open and close_ emit a prefixed element name literally in Local (e.g.
// "cac:Party") rather than setting Name.Space: the token-stream encoder
// only ever renders a Space as a default-namespace xmlns attribute, never
// as a prefix, so a real "cac:"/"cbc:"/"ext:"/"sts:" prefix has to be part
// of Local itself. prefix is one of the short tokens bound at the root
// ("cac", "cbc", "ext", "sts").
func open(enc *xml.Encoder, prefix, local string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: prefix + ":" + local}})
}

func close_(enc *xml.Encoder, prefix, local string) {
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: prefix + ":" + local}})
}

func writeCbc(enc *xml.Encoder, local, value string) {
	open(enc, "cbc", local)
	_ = enc.EncodeToken(xml.CharData(value))
	close_(enc, "cbc", local)
}

func writeCbcAttr(enc *xml.Encoder, local, value, attrLocal, attrValue string) {
	_ = enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Local: "cbc:" + local},
		Attr: []xml.Attr{{Name: xml.Name{Local: attrLocal}, Value: attrValue}},
	})
	_ = enc.EncodeToken(xml.CharData(value))
	close_(enc, "cbc", local)
}

func writeSts(enc *xml.Encoder, local, value string) {
	open(enc, "sts", local)
	_ = enc.EncodeToken(xml.CharData(value))
	close_(enc, "sts", local)
}

func formatAmount(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// normalizeText applies Unicode NFC normalization to free-text fields
// (party names, addresses, line descriptions) before they reach the XML
// encoder, so intake data arriving in a decomposed or mixed-normalization
// form still round-trips through DIAN's systems as well-formed,
// canonically-composed UTF-8 (SPEC_FULL §B).
func normalizeText(s string) string {
	return norm.NFC.String(s)
}

func onlyDigits(s string) string {
	var out []byte
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, byte(r))
		}
	}
	return string(out)
}
