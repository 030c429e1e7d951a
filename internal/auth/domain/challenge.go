package domain

import "time"

// Challenge is a single outstanding ceremony challenge.
type Challenge struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// Expired reports whether the challenge is past its expiry at now. A zero
// ExpiresAt never expires.
func (c Challenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// CredentialDescriptor identifies one registered credential to the client.
type CredentialDescriptor struct {
	Type string `json:"type"` // always "public-key"
	ID   string `json:"id"`   // base64url
}

// PublicKeyParam advertises one acceptable signature algorithm.
type PublicKeyParam struct {
	Type string `json:"type"`
	Alg  int    `json:"alg"`
}

// ChallengeOptions is what a ceremony begin verb hands to the client. Byte
// values are base64url encoded.
type ChallengeOptions struct {
	Challenge        string `json:"challenge"`
	RPID             string `json:"rpId"`
	RPName           string `json:"rpName,omitempty"`
	TimeoutMS        int64  `json:"timeout"`
	UserVerification string `json:"userVerification"`

	// Registration only.
	UserHandle         string                 `json:"userHandle,omitempty"`
	UserName           string                 `json:"userName,omitempty"`
	DisplayName        string                 `json:"displayName,omitempty"`
	PubKeyCredParams   []PublicKeyParam       `json:"pubKeyCredParams,omitempty"`
	ExcludeCredentials []CredentialDescriptor `json:"excludeCredentials,omitempty"`

	// Authentication only. Always non-nil so that an unknown identifier and a
	// principal without passkeys render identically.
	AllowCredentials []CredentialDescriptor `json:"allowCredentials,omitempty"`
}
