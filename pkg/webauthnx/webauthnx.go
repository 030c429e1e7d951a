// Package webauthnx verifies the WebAuthn registration and assertion
// responses produced by navigator.credentials.create/get.
//
// Parsing, client data checks, authenticator data checks, attestation
// statements and signatures are handled by go-webauthn's protocol package.
// This package pins the relying party policy (supported algorithms, user
// presence always required, no top-origin checks) and hands back the pieces
// the caller stores: the credential id, the COSE_Key taken from the attested
// credential data, and the signature counter. Challenge storage and the
// counter rule stay with the caller.
package webauthnx

import (
	"bytes"
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

const (
	ec2CoordLen   = 32
	rsaExpLen     = 3
	minRSAKeyBits = 2048
)

var (
	ErrMalformed          = errors.New("webauthnx: malformed response")
	ErrVerification       = errors.New("webauthnx: verification failed")
	ErrCredentialMismatch = errors.New("webauthnx: credential id mismatch")
	ErrBadPublicKey       = errors.New("webauthnx: unusable public key")
)

// Encode is the base64url (no padding) encoding WebAuthn uses on the wire.
func Encode(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// Decode accepts base64url with or without padding.
func Decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Expectation is what the relying party knows before looking at a response.
type Expectation struct {
	Challenge               []byte
	RPID                    string
	Origins                 []string
	RequireUserVerification bool
}

func (e Expectation) check() error {
	if len(e.Challenge) == 0 {
		return fmt.Errorf("%w: no challenge to compare against", ErrVerification)
	}
	return nil
}

// Credential is the outcome of a successful registration.
type Credential struct {
	ID []byte

	// PublicKey is the COSE_Key exactly as go-webauthn re-encodes it from
	// the attested credential data.
	PublicKey []byte
	Algorithm int
	SignCount uint32

	AAGUID []byte
	Format string
}

// VerifyRegistration parses a PublicKeyCredential JSON body from
// navigator.credentials.create and checks it against exp.
func VerifyRegistration(exp Expectation, body []byte) (Credential, error) {
	if err := exp.check(); err != nil {
		return Credential{}, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(body)
	if err != nil {
		return Credential{}, wrap(ErrMalformed, err)
	}

	_, err = parsed.Verify(
		Encode(exp.Challenge),
		exp.RequireUserVerification,
		true,
		exp.RPID,
		exp.Origins,
		nil,
		protocol.TopOriginIgnoreVerificationMode,
		nil,
		credentialParameters(),
	)
	if err != nil {
		return Credential{}, wrap(ErrVerification, err)
	}

	att := parsed.Response.AttestationObject.AuthData.AttData
	if err := checkCredentialID(parsed.ID, parsed.RawID, att.CredentialID); err != nil {
		return Credential{}, err
	}

	alg, err := checkPublicKey(att.CredentialPublicKey)
	if err != nil {
		return Credential{}, err
	}

	return Credential{
		ID:        slices.Clone(att.CredentialID),
		PublicKey: slices.Clone(att.CredentialPublicKey),
		Algorithm: alg,
		SignCount: parsed.Response.AttestationObject.AuthData.Counter,
		AAGUID:    slices.Clone(att.AAGUID),
		Format:    parsed.Response.AttestationObject.Format,
	}, nil
}

// Assertion is a parsed but not yet verified navigator.credentials.get
// response. The credential id, user handle and counter are readable before
// Verify so the caller can look up the stored key and apply its own
// counter rule first.
type Assertion struct {
	parsed *protocol.ParsedCredentialAssertionData
}

// ParseAssertion parses a PublicKeyCredential JSON body.
func ParseAssertion(body []byte) (*Assertion, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(body)
	if err != nil {
		return nil, wrap(ErrMalformed, err)
	}
	if err := checkCredentialID(parsed.ID, parsed.RawID, parsed.RawID); err != nil {
		return nil, err
	}
	return &Assertion{parsed: parsed}, nil
}

func (a *Assertion) CredentialID() []byte { return a.parsed.RawID }

// UserHandle is empty when the authenticator did not return one.
func (a *Assertion) UserHandle() []byte { return a.parsed.Response.UserHandle }

func (a *Assertion) SignCount() uint32 { return a.parsed.Response.AuthenticatorData.Counter }

// Verify checks the assertion against exp and the stored COSE_Key.
func (a *Assertion) Verify(exp Expectation, publicKey []byte) error {
	if err := exp.check(); err != nil {
		return err
	}
	err := a.parsed.Verify(
		Encode(exp.Challenge),
		exp.RPID,
		exp.Origins,
		nil,
		protocol.TopOriginIgnoreVerificationMode,
		"",
		exp.RequireUserVerification,
		true,
		publicKey,
	)
	if err != nil {
		return wrap(ErrVerification, err)
	}
	return nil
}

// MarshalPublicKey encodes pub as a COSE_Key in CTAP2 canonical CBOR, the
// form authenticators embed in attested credential data.
func MarshalPublicKey(pub crypto.PublicKey) ([]byte, error) {
	var key map[int]any

	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		ek, err := k.ECDH()
		if err != nil || ek.Curve() != ecdh.P256() {
			return nil, fmt.Errorf("%w: only P-256 keys are supported", ErrBadPublicKey)
		}
		raw := ek.Bytes()
		key = map[int]any{
			1:  int(webauthncose.EllipticKey),
			3:  cryptox.AlgES256,
			-1: int(webauthncose.P256),
			-2: raw[1 : 1+ec2CoordLen],
			-3: raw[1+ec2CoordLen:],
		}
	case ed25519.PublicKey:
		key = map[int]any{
			1:  int(webauthncose.OctetKey),
			3:  cryptox.AlgEdDSA,
			-1: int(webauthncose.Ed25519),
			-2: []byte(k),
		}
	case *rsa.PublicKey:
		key = map[int]any{
			1:  int(webauthncose.RSAKey),
			3:  cryptox.AlgRS256,
			-1: k.N.Bytes(),
			-2: big.NewInt(int64(k.E)).FillBytes(make([]byte, rsaExpLen)),
		}
	default:
		return nil, fmt.Errorf("%w: key type %T", ErrBadPublicKey, pub)
	}

	raw, err := webauthncbor.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}
	return raw, nil
}

func credentialParameters() []protocol.CredentialParameter {
	params := make([]protocol.CredentialParameter, 0, len(cryptox.SupportedAlgorithms))
	for _, alg := range cryptox.SupportedAlgorithms {
		params = append(params, protocol.CredentialParameter{
			Type:      protocol.PublicKeyCredentialType,
			Algorithm: webauthncose.COSEAlgorithmIdentifier(alg),
		})
	}
	return params
}

// checkCredentialID requires the base64url id, the rawId and the id the
// authenticator actually attested or signed for to be the same bytes.
func checkCredentialID(id string, rawID, attested []byte) error {
	decoded, err := Decode(id)
	if err != nil {
		return fmt.Errorf("%w: id: %v", ErrMalformed, err)
	}
	if len(rawID) == 0 || !bytes.Equal(decoded, rawID) || !bytes.Equal(rawID, attested) {
		return ErrCredentialMismatch
	}
	return nil
}

// checkPublicKey makes sure a COSE_Key can later verify signatures and
// returns its algorithm. webauthncose.ParsePublicKey ignores decode errors,
// so the decoded fields are checked here instead.
func checkPublicKey(cose []byte) (int, error) {
	key, err := webauthncose.ParsePublicKey(cose)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}

	var alg int64
	switch k := key.(type) {
	case webauthncose.EC2PublicKeyData:
		alg = k.Algorithm
		if alg != int64(webauthncose.AlgES256) || k.Curve != int64(webauthncose.P256) ||
			len(k.XCoord) != ec2CoordLen || len(k.YCoord) != ec2CoordLen {
			return 0, fmt.Errorf("%w: EC2 key is not a P-256 ES256 key", ErrBadPublicKey)
		}
		point := append([]byte{0x04}, k.XCoord...)
		if _, err := ecdh.P256().NewPublicKey(append(point, k.YCoord...)); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
		}
	case webauthncose.OKPPublicKeyData:
		alg = k.Algorithm
		if alg != int64(webauthncose.AlgEdDSA) || len(k.XCoord) != ed25519.PublicKeySize {
			return 0, fmt.Errorf("%w: OKP key is not an Ed25519 key", ErrBadPublicKey)
		}
	case webauthncose.RSAPublicKeyData:
		alg = k.Algorithm
		if alg != int64(webauthncose.AlgRS256) || len(k.Exponent) != rsaExpLen ||
			new(big.Int).SetBytes(k.Modulus).BitLen() < minRSAKeyBits {
			return 0, fmt.Errorf("%w: RSA key is not a usable RS256 key", ErrBadPublicKey)
		}
	default:
		return 0, fmt.Errorf("%w: key type %T", ErrBadPublicKey, key)
	}
	return int(alg), nil
}

func wrap(sentinel, err error) error {
	var perr *protocol.Error
	if errors.As(err, &perr) && perr.DevInfo != "" {
		return fmt.Errorf("%w: %s: %s", sentinel, perr.Details, perr.DevInfo)
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
