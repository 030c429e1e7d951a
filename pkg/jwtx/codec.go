package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HMAC secret NewCodec accepts.
const MinSecretLength = 32

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrInvalidSig   = errors.New("jwtx: invalid signature")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
	ErrWrongKind    = errors.New("jwtx: wrong token kind")
	ErrWrongScope   = errors.New("jwtx: wrong token scope")
	ErrWeakSecret   = errors.New("jwtx: signing secret too short")
)

// Codec signs and verifies HS256 session tokens with one process-wide
// secret. The algorithm is fixed; tokens naming any other alg are rejected
// before the key is even looked at.
type Codec struct {
	secret []byte
	method jwt.SigningMethod

	// Issuer is stamped on minted claims and enforced on decode when set.
	Issuer string

	// Leeway allows small clock skew when validating exp/iat.
	Leeway time.Duration

	// Now is the clock used for minting and validation. Defaults to time.Now.
	Now func() time.Time
}

// NewCodec builds a Codec. The secret must be at least MinSecretLength bytes.
func NewCodec(secret []byte, issuer string) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrWeakSecret, len(secret), MinSecretLength)
	}
	return &Codec{
		secret: append([]byte(nil), secret...),
		method: jwt.SigningMethodHS256,
		Issuer: issuer,
	}, nil
}

func (c *Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Alg returns the fixed signing algorithm name.
func (c *Codec) Alg() string { return c.method.Alg() }

// Mint builds claims for subject at the codec's current time.
func (c *Codec) Mint(subject, role string, kind Kind, ttl time.Duration) Claims {
	return NewClaims(subject, role, kind, ttl, c.Issuer, c.now())
}

// Encode signs claims. It only fails if the underlying HMAC does, which a
// secret validated by NewCodec does not.
func (c *Codec) Encode(claims Claims) (string, error) {
	t := jwt.NewWithClaims(c.method, claims)
	s, err := t.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return s, nil
}

// Decode verifies the signature and time claims and returns the claims.
// Errors are one of ErrMalformed, ErrInvalidSig, ErrExpired, ErrNotYetValid,
// ErrIssuer or ErrInvalidClaim. Kind is NOT checked; see Claims.ExpectKind.
func (c *Codec) Decode(token string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithLeeway(c.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	parser := jwt.NewParser(opts...)

	var claims Claims
	_, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		// WithValidMethods already pins the alg; this guards the key type.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, mapParseError(err)
	}
	return claims, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuer
	case errors.Is(err, ErrInvalidClaim), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
