package entity

import "time"

// IdentificationType is DIAN's two-digit identification-type catalog,
// restricted to the mapping §4.4 item 8 names.
type IdentificationType string

const (
	IdentificationNIT         IdentificationType = "31"
	IdentificationCC          IdentificationType = "13"
	IdentificationCE          IdentificationType = "22"
	IdentificationPassport    IdentificationType = "41"
	IdentificationForeignDoc  IdentificationType = "42"
	IdentificationForeignNIT  IdentificationType = "50"
)

// SchemeIDFromIdentificationType applies §4.4 item 8's mapping, defaulting
// unknown types to NIT as the spec requires.
func SchemeIDFromIdentificationType(t IdentificationType) string {
	switch t {
	case IdentificationNIT, IdentificationCC, IdentificationCE,
		IdentificationPassport, IdentificationForeignDoc, IdentificationForeignNIT:
		return string(t)
	default:
		return string(IdentificationNIT)
	}
}

// Issuer is the commercial party emitting the invoice (§3 Issuer/Customer).
type Issuer struct {
	ID                 string
	IdentificationType IdentificationType
	TaxID              string // unique
	LegalName          string
	Address            string
	Locality           string
	Contact            string

	EncryptedCertificateBlob string // PKCS#12 or PEM bundle, AES-GCM at rest
	CertificateExpiresAt     time.Time

	// FiscalResponsibilityCodes are RUT tax-responsibility codes (pkg/dian's
	// Tabla 17, e.g. "O-13" gran contribuyente), rendered one per
	// cac:PartyTaxScheme in the supplier block; codes not listed in
	// dian.ValidFiscalResponsibilityCodes are skipped.
	FiscalResponsibilityCodes []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Customer is the commercial party receiving the invoice.
type Customer struct {
	ID                 string
	IdentificationType IdentificationType
	TaxID              string // (id_type, id_number) unique
	LegalName          string
	Address            string
	Locality           string
	Contact            string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EnvironmentName is the fixed catalog of DIAN endpoint selectors (§3
// Environment).
type EnvironmentName string

const (
	EnvironmentHabilitacion EnvironmentName = "habilitacion"
	EnvironmentProduccion   EnvironmentName = "produccion"
)

// Environment selects which DIAN endpoint and environment discriminator a
// submission targets.
type Environment struct {
	ID         string
	Name       EnvironmentName
	SOAPURL    string
	Production bool
}

// DianDiscriminator is §4.4 item 11: "1" in production, "2" otherwise.
func (e Environment) DianDiscriminator() string {
	if e.Production {
		return "1"
	}
	return "2"
}
