package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict reports a conditional update whose precondition no longer
	// held, e.g. a signature counter that moved underneath us.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers implement this.
// It exposes sub-repositories to keep concerns tidy and testable, and so a
// Tx-scoped Store can hand out the same repositories bound to the tx.
//
// Each principal kind lives in its own record set; there is deliberately no
// repository that spans all four.
type Store interface {
	Administrators() Principals
	Staff() Principals
	PrimaryUsers() Principals
	Guardians() Principals

	Credentials() Credentials
	RedeemedTokens() RedeemedTokens

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// PrincipalsFor returns the repository for role's record set.
func PrincipalsFor(s Store, role domain.Role) (Principals, error) {
	switch role {
	case domain.RoleAdministrator:
		return s.Administrators(), nil
	case domain.RoleStaff:
		return s.Staff(), nil
	case domain.RolePrimaryUser:
		return s.PrimaryUsers(), nil
	case domain.RoleGuardian:
		return s.Guardians(), nil
	default:
		return nil, domain.ErrUnknownRole
	}
}

// Principals is one principal kind's record set. Identifiers are unique
// within it and stored normalized.
type Principals interface {
	// GetByID returns a principal by id.
	GetByID(ctx context.Context, id string) (domain.Principal, error)

	// GetByIdentifier is used during login and ceremony begin.
	GetByIdentifier(ctx context.Context, identifier string) (domain.Principal, error)

	// Create inserts a new principal; a taken identifier is ErrAlreadyExists.
	Create(ctx context.Context, p domain.Principal) error

	// UpdateSecretHash overwrites the stored digest and bumps updated_at.
	UpdateSecretHash(ctx context.Context, id, hash string) error

	// SetActive flips the active flag and bumps updated_at.
	SetActive(ctx context.Context, id string, active bool) error

	// List returns every principal ordered by identifier.
	List(ctx context.Context) ([]domain.Principal, error)
}

type Credentials interface {
	// Create stores a newly registered credential; a reused credential id is
	// ErrAlreadyExists.
	Create(ctx context.Context, c domain.Credential) error

	// GetByCredentialID looks up a credential by its authenticator id.
	GetByCredentialID(ctx context.Context, credentialID []byte) (domain.Credential, error)

	// ListForPrincipal returns a principal's credentials, oldest first.
	ListForPrincipal(ctx context.Context, role domain.Role, principalID string) ([]domain.Credential, error)

	// UpdateSignCount moves the counter from old to next only if it still
	// equals old, returning ErrConflict otherwise.
	UpdateSignCount(ctx context.Context, credentialID []byte, old, next uint32, usedAt time.Time) error
}

type RedeemedTokens interface {
	// Redeem records jti as used; a jti already present is ErrAlreadyExists.
	Redeem(ctx context.Context, t domain.RedeemedToken) error

	// IsRedeemed reports whether jti has been recorded.
	IsRedeemed(ctx context.Context, jti string) (bool, error)

	// DeleteExpired removes records whose token could no longer be presented
	// anyway, returning how many went.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
