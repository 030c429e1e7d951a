package service

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/aussiebroadwan/rollcall/internal/auth/store"
)

// Resolver finds a principal across the four record sets. It never writes.
type Resolver struct {
	Store store.Store
}

// ByID looks up id in role's record set.
func (r *Resolver) ByID(ctx context.Context, role domain.Role, id string) (domain.Principal, error) {
	repo, err := store.PrincipalsFor(r.Store, role)
	if err != nil {
		return domain.Principal{}, ErrUnknownRole
	}

	p, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Principal{}, ErrNotFound
		}
		return domain.Principal{}, err
	}
	p.Role = role
	return p, nil
}

// ByIdentifier returns the first principal holding identifier, checking the
// record sets in domain.Roles() order. The same email registered as both
// staff and student therefore always resolves to the staff record.
func (r *Resolver) ByIdentifier(ctx context.Context, identifier string) (domain.Principal, error) {
	identifier = domain.NormalizeIdentifier(identifier)
	if identifier == "" {
		return domain.Principal{}, ErrNotFound
	}

	for _, role := range domain.Roles() {
		repo, err := store.PrincipalsFor(r.Store, role)
		if err != nil {
			return domain.Principal{}, err
		}

		p, err := repo.GetByIdentifier(ctx, identifier)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.Principal{}, err
		}
		p.Role = role
		return p, nil
	}
	return domain.Principal{}, ErrNotFound
}
