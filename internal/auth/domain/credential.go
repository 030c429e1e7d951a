package domain

import "time"

// Credential is a public key bound to a principal by a passwordless
// registration ceremony.
type Credential struct {
	ID            string
	PrincipalRole Role
	PrincipalID   string
	CredentialID  []byte // authenticator-chosen, globally unique
	PublicKey     []byte // COSE_Key from the attested credential data
	Algorithm     int    // COSE algorithm id
	SignCount     uint32
	CreatedAt     time.Time
	LastUsedAt    *time.Time
}

// BelongsTo reports whether the credential is bound to p.
func (c Credential) BelongsTo(p Principal) bool {
	return c.PrincipalRole == p.Role && c.PrincipalID == p.ID
}
