package entity

import "time"

// Role is the closed set of API-key roles the capability table in §4.3
// grants against.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleOperator Role = "OPERATOR"
	RoleAuditor  Role = "AUDITOR"
)

// Capability is one of the operations the role table in §4.3 gates.
type Capability string

const (
	CapabilityReadInvoices   Capability = "read_invoices"
	CapabilityCreateInvoice  Capability = "create_invoice"
	CapabilityIssueToDIAN    Capability = "issue_to_dian"
	CapabilityManageIssuers  Capability = "manage_issuers"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapabilityReadInvoices:  true,
		CapabilityCreateInvoice: true,
		CapabilityIssueToDIAN:   true,
		CapabilityManageIssuers: true,
	},
	RoleOperator: {
		CapabilityReadInvoices:  true,
		CapabilityCreateInvoice: true,
		CapabilityIssueToDIAN:   true,
	},
	RoleAuditor: {
		CapabilityReadInvoices: true,
	},
}

// Allows implements the §4.3 role capability table.
func (r Role) Allows(cap Capability) bool {
	return roleCapabilities[r][cap]
}

// ApiKey is a derived credential (§3 ApiKey).
type ApiKey struct {
	ID           string
	Name         string
	Role         Role
	Fingerprint  string // hex digest, unique, used for lookup
	EncryptedRaw string // AES-GCM ciphertext of the raw secret
	ExpiresAt    *time.Time
	LastUsedAt   *time.Time
	Active       bool
	MasterKeyRef string

	CreatedAt time.Time
}

// Usable reports whether the key may authenticate a request right now
// (§3 ApiKey invariant: active and not past expiry).
func (k *ApiKey) Usable(now time.Time) bool {
	if !k.Active {
		return false
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}
	return true
}

// RequestSignature is the replay-protection record (§3 RequestSignature).
type RequestSignature struct {
	ApiKeyID          string
	SignatureDigest   string
	Method            string
	Path              string
	RequestTimestamp  time.Time
}
