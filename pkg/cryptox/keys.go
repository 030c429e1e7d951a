package cryptox

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
)

// COSE algorithm identifiers accepted for public-key credentials.
const (
	AlgES256 = -7
	AlgEdDSA = -8
	AlgRS256 = -257
)

// SupportedAlgorithms lists the COSE algorithms in preference order.
var SupportedAlgorithms = []int{AlgES256, AlgEdDSA, AlgRS256}

var (
	ErrUnsupportedAlg = errors.New("cryptox: unsupported signature algorithm")
	ErrKeyMismatch    = errors.New("cryptox: key type does not match algorithm")
)

// rsaKeyBits is the modulus size used when generating RS256 keys.
const rsaKeyBits = 2048

// AlgorithmName returns the JOSE name of a COSE algorithm identifier.
func AlgorithmName(alg int) string {
	switch alg {
	case AlgES256:
		return "ES256"
	case AlgEdDSA:
		return "EdDSA"
	case AlgRS256:
		return "RS256"
	default:
		return fmt.Sprintf("COSE(%d)", alg)
	}
}

// GenerateSigningKey creates a fresh private key for alg.
func GenerateSigningKey(alg int) (crypto.Signer, error) {
	switch alg {
	case AlgES256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case AlgEdDSA:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return priv, nil
	case AlgRS256:
		return rsa.GenerateKey(rand.Reader, rsaKeyBits)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlg, alg)
	}
}

// CheckKeyAlgorithm reports whether pub can verify signatures made with alg.
func CheckKeyAlgorithm(pub crypto.PublicKey, alg int) error {
	var ok bool
	switch alg {
	case AlgES256:
		_, ok = pub.(*ecdsa.PublicKey)
	case AlgEdDSA:
		_, ok = pub.(ed25519.PublicKey)
	case AlgRS256:
		_, ok = pub.(*rsa.PublicKey)
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedAlg, alg)
	}
	if !ok {
		return fmt.Errorf("%w: %T for %s", ErrKeyMismatch, pub, AlgorithmName(alg))
	}
	return nil
}

// Sign produces a signature over message in the encoding WebAuthn
// assertions use: ASN.1 DER for ES256, raw for EdDSA, PKCS#1 v1.5 for RS256.
func Sign(signer crypto.Signer, alg int, message []byte) ([]byte, error) {
	if err := CheckKeyAlgorithm(signer.Public(), alg); err != nil {
		return nil, err
	}
	if alg == AlgEdDSA {
		return signer.Sign(rand.Reader, message, crypto.Hash(0))
	}
	digest := sha256.Sum256(message)
	return signer.Sign(rand.Reader, digest[:], crypto.SHA256)
}
