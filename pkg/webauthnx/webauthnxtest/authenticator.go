// Package webauthnxtest provides a software authenticator that answers
// registration and assertion challenges with the JSON a browser would post:
// a CBOR attestation object with "none" attestation and a COSE_Key in the
// attested credential data, and signed assertions.
package webauthnxtest

import (
	"crypto"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/aussiebroadwan/rollcall/pkg/webauthnx"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
)

// Authenticator is a single software credential. Fields may be changed
// between calls to simulate misbehaving clients.
type Authenticator struct {
	RPID   string
	Origin string
	Alg    int

	Key          crypto.Signer
	CredentialID []byte
	AAGUID       [16]byte

	// Counter is the last signature counter reported. Assert increments it
	// first unless Counterless is set, in which case it always reports 0.
	Counter     uint32
	Counterless bool

	// Flags are set on every authenticator data; defaults to UP|UV.
	Flags protocol.AuthenticatorFlags
}

// New creates an authenticator with a fresh key pair and random credential id.
func New(rpID, origin string, alg int) (*Authenticator, error) {
	key, err := cryptox.GenerateSigningKey(alg)
	if err != nil {
		return nil, err
	}
	id, err := cryptox.RandomBytes(cryptox.TokenSize128)
	if err != nil {
		return nil, err
	}
	return &Authenticator{
		RPID:         rpID,
		Origin:       origin,
		Alg:          alg,
		Key:          key,
		CredentialID: id,
		Flags:        protocol.FlagUserPresent | protocol.FlagUserVerified,
	}, nil
}

// MustNew is New for tests that cannot continue without an authenticator.
func MustNew(rpID, origin string, alg int) *Authenticator {
	a, err := New(rpID, origin, alg)
	if err != nil {
		panic(err)
	}
	return a
}

// PublicKey returns the COSE_Key of the credential key.
func (a *Authenticator) PublicKey() []byte {
	raw, err := webauthnx.MarshalPublicKey(a.Key.Public())
	if err != nil {
		panic(fmt.Sprintf("webauthnxtest: marshal public key: %v", err))
	}
	return raw
}

// Registration is an attestation response before it is rendered to JSON.
type Registration struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Format            string
	AttStatement      map[string]any
}

// Register answers a creation challenge.
func (a *Authenticator) Register(challenge []byte) *Registration {
	return &Registration{
		CredentialID:      a.CredentialID,
		ClientDataJSON:    ClientData(protocol.CreateCeremony, challenge, a.Origin),
		AuthenticatorData: a.AuthData(true),
		Format:            string(protocol.AttestationFormatNone),
		AttStatement:      map[string]any{},
	}
}

// AttestationObject encodes fmt, attStmt and authData as CBOR.
func (r *Registration) AttestationObject() []byte {
	raw, err := webauthncbor.Marshal(map[string]any{
		"fmt":      r.Format,
		"attStmt":  r.AttStatement,
		"authData": r.AuthenticatorData,
	})
	if err != nil {
		panic(fmt.Sprintf("webauthnxtest: marshal attestation object: %v", err))
	}
	return raw
}

// JSON renders the PublicKeyCredential body navigator.credentials.create
// hands to the relying party.
func (r *Registration) JSON() []byte {
	return credentialJSON(r.CredentialID, map[string]string{
		"clientDataJSON":    webauthnx.Encode(r.ClientDataJSON),
		"attestationObject": webauthnx.Encode(r.AttestationObject()),
	})
}

// Assertion is an assertion response before it is rendered to JSON.
type Assertion struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
	UserHandle        []byte
}

// JSON renders the PublicKeyCredential body navigator.credentials.get hands
// to the relying party.
func (r *Assertion) JSON() []byte {
	resp := map[string]string{
		"clientDataJSON":    webauthnx.Encode(r.ClientDataJSON),
		"authenticatorData": webauthnx.Encode(r.AuthenticatorData),
		"signature":         webauthnx.Encode(r.Signature),
	}
	if len(r.UserHandle) > 0 {
		resp["userHandle"] = webauthnx.Encode(r.UserHandle)
	}
	return credentialJSON(r.CredentialID, resp)
}

// Assert answers a request challenge, advancing the counter first.
func (a *Authenticator) Assert(challenge []byte) *Assertion {
	if !a.Counterless {
		a.Counter++
	}
	return a.AssertWithCounter(challenge, a.currentCounter())
}

// AssertWithCounter signs an assertion that reports count, leaving the
// authenticator's own counter untouched.
func (a *Authenticator) AssertWithCounter(challenge []byte, count uint32) *Assertion {
	clientData := ClientData(protocol.AssertCeremony, challenge, a.Origin)
	authData := a.authData(false, count)

	sig, err := cryptox.Sign(a.Key, a.Alg, signedData(authData, clientData))
	if err != nil {
		panic(fmt.Sprintf("webauthnxtest: sign: %v", err))
	}

	return &Assertion{
		CredentialID:      a.CredentialID,
		ClientDataJSON:    clientData,
		AuthenticatorData: authData,
		Signature:         sig,
	}
}

// AuthData builds authenticator data at the current counter, with attested
// credential data (AAGUID, credential id and COSE_Key) when attested is true.
func (a *Authenticator) AuthData(attested bool) []byte {
	return a.authData(attested, a.currentCounter())
}

func (a *Authenticator) currentCounter() uint32 {
	if a.Counterless {
		return 0
	}
	return a.Counter
}

func (a *Authenticator) authData(attested bool, count uint32) []byte {
	rp := sha256.Sum256([]byte(a.RPID))
	flags := a.Flags
	if attested {
		flags |= protocol.FlagAttestedCredentialData
	}

	out := make([]byte, 0, 256)
	out = append(out, rp[:]...)
	out = append(out, byte(flags))
	out = binary.BigEndian.AppendUint32(out, count)
	if attested {
		out = append(out, a.AAGUID[:]...)
		out = binary.BigEndian.AppendUint16(out, uint16(len(a.CredentialID))) // #nosec G115 - ids are short
		out = append(out, a.CredentialID...)
		out = append(out, a.PublicKey()...)
	}
	return out
}

// ClientData renders clientDataJSON the way a browser would.
func ClientData(typ protocol.CeremonyType, challenge []byte, origin string) []byte {
	raw, err := json.Marshal(protocol.CollectedClientData{
		Type:      typ,
		Challenge: webauthnx.Encode(challenge),
		Origin:    origin,
	})
	if err != nil {
		panic(fmt.Sprintf("webauthnxtest: marshal client data: %v", err))
	}
	return raw
}

// signedData is the message an assertion signature covers:
// authenticatorData || SHA-256(clientDataJSON).
func signedData(authData, clientDataJSON []byte) []byte {
	sum := sha256.Sum256(clientDataJSON)
	msg := make([]byte, 0, len(authData)+len(sum))
	msg = append(msg, authData...)
	return append(msg, sum[:]...)
}

func credentialJSON(id []byte, response map[string]string) []byte {
	raw, err := json.Marshal(map[string]any{
		"id":       webauthnx.Encode(id),
		"rawId":    webauthnx.Encode(id),
		"type":     string(protocol.PublicKeyCredentialType),
		"response": response,
	})
	if err != nil {
		panic(fmt.Sprintf("webauthnxtest: marshal credential: %v", err))
	}
	return raw
}
