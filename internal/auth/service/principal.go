package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/aussiebroadwan/rollcall/internal/auth/store"
	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/aussiebroadwan/rollcall/pkg/idx"
	"github.com/aussiebroadwan/rollcall/pkg/slogx"
	"github.com/aussiebroadwan/rollcall/pkg/validx"
)

// PrincipalService manages the principal records themselves.
type PrincipalService struct {
	Store   store.Store
	Hasher  cryptox.Hasher
	Metrics *Metrics
}

// RegisterInput describes a principal to create.
type RegisterInput struct {
	Role        domain.Role `validate:"required"`
	Identifier  string      `validate:"required,email,max=254"`
	Secret      string      `validate:"required"`
	DisplayName string      `validate:"max=200"`
	Attributes  map[string]string
	Inactive    bool
}

// Register creates a principal in in.Role's record set. The identifier only
// has to be unique within that kind; the same email as staff and as a
// guardian is allowed and resolves by precedence.
func (s *PrincipalService) Register(ctx context.Context, in RegisterInput) (p domain.Principal, err error) {
	ctx, finish := track(ctx, s.Metrics, "register")
	defer func() { finish(err) }()

	in.Identifier = domain.NormalizeIdentifier(in.Identifier)
	if in.Secret == "" {
		return domain.Principal{}, ErrWeakSecret
	}
	if err := validx.Struct(in); err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	repo, err := store.PrincipalsFor(s.Store, in.Role)
	if err != nil {
		return domain.Principal{}, ErrUnknownRole
	}

	digest, err := s.Hasher.Hash(in.Secret)
	if err != nil {
		if errors.Is(err, cryptox.ErrSecretTooLong) {
			return domain.Principal{}, ErrWeakSecret
		}
		return domain.Principal{}, err
	}

	p = domain.Principal{
		Role:        in.Role,
		ID:          idx.New().String(),
		Identifier:  in.Identifier,
		SecretHash:  digest,
		DisplayName: in.DisplayName,
		Active:      !in.Inactive,
		Attributes:  in.Attributes,
	}
	if err := repo.Create(ctx, p); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Principal{}, ErrAlreadyExists
		}
		return domain.Principal{}, err
	}

	slogx.FromContext(ctx).Info("principal registered", slog.String("principal", p.Key()))
	return repo.GetByID(ctx, p.ID)
}

// SetActive enables or disables a principal. Disabled principals can still
// present a correct secret but get ErrInactiveAccount.
func (s *PrincipalService) SetActive(ctx context.Context, role domain.Role, id string, active bool) (err error) {
	ctx, finish := track(ctx, s.Metrics, "set_active")
	defer func() { finish(err) }()

	repo, err := store.PrincipalsFor(s.Store, role)
	if err != nil {
		return ErrUnknownRole
	}
	if err := repo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	slogx.FromContext(ctx).Info("principal active flag changed",
		slog.String("principal", string(role)+":"+id),
		slog.Bool("active", active),
	)
	return nil
}

// List returns every principal of role.
func (s *PrincipalService) List(ctx context.Context, role domain.Role) ([]domain.Principal, error) {
	repo, err := store.PrincipalsFor(s.Store, role)
	if err != nil {
		return nil, ErrUnknownRole
	}
	return repo.List(ctx)
}

// RequireRole returns ErrForbidden unless p holds one of roles.
func RequireRole(p domain.Principal, roles ...domain.Role) error {
	if !slices.Contains(roles, p.Role) {
		return ErrForbidden
	}
	return nil
}

// IsStaff reports whether p may use staff tooling: administrators and staff.
func IsStaff(p domain.Principal) bool {
	return RequireRole(p, domain.RoleAdministrator, domain.RoleStaff) == nil
}

// IsSuperuser reports whether p is an administrator.
func IsSuperuser(p domain.Principal) bool {
	return p.Role == domain.RoleAdministrator
}
