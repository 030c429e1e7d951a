package domain

import "time"

// TokenType is the token_type marker returned with every pair.
const TokenType = "bearer"

// TokenPair is what login, refresh and passkey authentication return: a
// short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    time.Duration `json:"expires_in"` // access token lifetime
}

// RedeemedToken records a token jti that may not be used again.
type RedeemedToken struct {
	JTI       string
	Purpose   string // "refresh" or "password_reset"
	ExpiresAt time.Time
	CreatedAt time.Time
}
