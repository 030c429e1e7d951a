package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// DefaultBcryptCost keeps a single verification in the low hundreds of
// milliseconds on commodity hardware.
const DefaultBcryptCost = 12

var (
	ErrInvalidDigest  = errors.New("cryptox: invalid digest format")
	ErrSecretTooLong  = errors.New("cryptox: secret exceeds hasher limit")
	ErrInvalidCost    = errors.New("cryptox: cost out of range")
	ErrUnknownHashAlg = errors.New("cryptox: unknown hash algorithm")
)

// Hasher is a one-way secret hashing scheme. The digest embeds every
// parameter needed to verify it, so tuning the cost never needs a migration.
type Hasher interface {
	// Hash returns a salted digest of secret.
	Hash(secret string) (string, error)

	// Verify reports whether secret matches digest. A mismatch is (false, nil);
	// an unparseable digest is (false, err).
	Verify(secret, digest string) (bool, error)

	// NeedsRehash reports whether digest was produced with parameters other
	// than the hasher's current ones.
	NeedsRehash(digest string) bool
}

// maxArgon2Iterations bounds the argon2id pass count accepted as a cost.
const maxArgon2Iterations = 64

// NewHasher builds a Hasher for the named algorithm. cost is the bcrypt work
// factor, or the argon2id pass count (t) on top of DefaultArgon2Params. Zero
// selects the algorithm's default.
func NewHasher(algorithm string, cost int) (Hasher, error) {
	switch strings.ToLower(algorithm) {
	case "", AlgorithmBcrypt:
		return NewBcryptHasher(cost)
	case AlgorithmArgon2id:
		params := DefaultArgon2Params
		if cost != 0 {
			if cost < 1 || cost > maxArgon2Iterations {
				return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidCost, cost, maxArgon2Iterations)
			}
			params.Iterations = uint32(cost) // #nosec G115 - range checked above
		}
		return NewArgon2idHasher(params), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHashAlg, algorithm)
	}
}

// BcryptHasher hashes secrets with bcrypt at a fixed cost.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher validates cost (0 selects DefaultBcryptCost).
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidCost, cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{Cost: cost}, nil
}

func (h *BcryptHasher) Hash(secret string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), h.Cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrSecretTooLong
		}
		return "", fmt.Errorf("cryptox: bcrypt: %w", err)
	}
	return string(digest), nil
}

func (h *BcryptHasher) Verify(secret, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
}

func (h *BcryptHasher) NeedsRehash(digest string) bool {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost != h.Cost
}

// Argon2Params are the tunables encoded into an argon2id PHC string.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  int
}

// DefaultArgon2Params follow the OWASP minimum (19 MiB, t=2, p=1).
var DefaultArgon2Params = Argon2Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	KeyLength:   32,
	SaltLength:  16,
}

// Argon2idHasher produces PHC-format argon2id digests.
type Argon2idHasher struct {
	Params Argon2Params
}

func NewArgon2idHasher(p Argon2Params) *Argon2idHasher {
	return &Argon2idHasher{Params: p}
}

// Hash generates a PHC-format Argon2id hash string including salt and parameters.
func (h *Argon2idHasher) Hash(secret string) (string, error) {
	p := h.Params
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(secret), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify compares a plaintext secret against a PHC-style Argon2id hash.
func (h *Argon2idHasher) Verify(secret, digest string) (bool, error) {
	params, salt, expected, err := parseArgon2id(digest)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(secret),
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		uint32(len(expected)), // #nosec G115 - bounded by parseArgon2id
	)
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func (h *Argon2idHasher) NeedsRehash(digest string) bool {
	params, _, _, err := parseArgon2id(digest)
	if err != nil {
		return true
	}
	return params.Memory != h.Params.Memory ||
		params.Iterations != h.Params.Iterations ||
		params.Parallelism != h.Params.Parallelism
}

// parseArgon2id splits $argon2id$v=19$m=X,t=Y,p=Z$salt$hash.
func parseArgon2id(digest string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	parts := strings.Split(digest, "$")
	if len(parts) != 6 {
		return p, nil, nil, fmt.Errorf("%w: expected 6 parts", ErrInvalidDigest)
	}
	if parts[1] != AlgorithmArgon2id {
		return p, nil, nil, fmt.Errorf("%w: not argon2id", ErrInvalidDigest)
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return p, nil, nil, fmt.Errorf("%w: wrong version", ErrInvalidDigest)
	}

	var par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &par); err != nil {
		return p, nil, nil, fmt.Errorf("%w: parameters: %v", ErrInvalidDigest, err)
	}
	if par == 0 || par > 255 {
		return p, nil, nil, fmt.Errorf("%w: parallelism %d", ErrInvalidDigest, par)
	}
	p.Parallelism = uint8(par)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: salt: %v", ErrInvalidDigest, err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: hash: %v", ErrInvalidDigest, err)
	}
	if len(hash) == 0 || len(hash) > 1024 {
		return p, nil, nil, fmt.Errorf("%w: hash length %d", ErrInvalidDigest, len(hash))
	}

	p.KeyLength = uint32(len(hash))
	p.SaltLength = len(salt)
	return p, salt, hash, nil
}
