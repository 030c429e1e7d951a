package service

import (
	"context"
	"strings"
	"testing"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	p, err := h.principals.Register(ctx, RegisterInput{
		Role:        domain.RolePrimaryUser,
		Identifier:  " Alice@Example.com ",
		Secret:      "pw",
		DisplayName: "Alice",
		Attributes:  map[string]string{"class": "5B"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.RolePrimaryUser, p.Role)
	require.Equal(t, "alice@example.com", p.Identifier)
	require.Equal(t, "5B", p.Attributes["class"])
	require.True(t, p.Active)
	require.NotEqual(t, "pw", p.SecretHash)

	ok, err := h.hasher.Verify("pw", p.SecretHash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRegister_Rejects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, domain.RoleStaff, "t@school.example", "pw")

	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"not an email", RegisterInput{Role: domain.RoleStaff, Identifier: "teacher", Secret: "pw"}, ErrInvalidInput},
		{"empty secret", RegisterInput{Role: domain.RoleStaff, Identifier: "a@b.co"}, ErrWeakSecret},
		{"secret over bcrypt limit", RegisterInput{Role: domain.RoleStaff, Identifier: "a@b.co", Secret: strings.Repeat("x", 73)}, ErrWeakSecret},
		{"unknown role", RegisterInput{Role: "janitor", Identifier: "a@b.co", Secret: "pw"}, ErrUnknownRole},
		{"duplicate within kind", RegisterInput{Role: domain.RoleStaff, Identifier: "T@school.example", Secret: "pw"}, ErrAlreadyExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.principals.Register(ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("same identifier in another kind", func(t *testing.T) {
		_, err := h.principals.Register(ctx, RegisterInput{Role: domain.RoleGuardian, Identifier: "t@school.example", Secret: "pw"})
		require.NoError(t, err)
	})
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.register(t, domain.RoleGuardian, "g@home.example", "pw")

	require.NoError(t, h.principals.SetActive(ctx, p.Role, p.ID, false))
	got, err := h.store.Guardians().GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, got.Active)

	require.ErrorIs(t, h.principals.SetActive(ctx, p.Role, "missing", true), ErrNotFound)
	require.ErrorIs(t, h.principals.SetActive(ctx, "janitor", p.ID, true), ErrUnknownRole)

	list, err := h.principals.List(ctx, domain.RoleGuardian)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRoleGuards(t *testing.T) {
	admin := domain.Principal{Role: domain.RoleAdministrator}
	staff := domain.Principal{Role: domain.RoleStaff}
	student := domain.Principal{Role: domain.RolePrimaryUser}
	parent := domain.Principal{Role: domain.RoleGuardian}

	require.True(t, IsStaff(admin))
	require.True(t, IsStaff(staff))
	require.False(t, IsStaff(student))
	require.False(t, IsStaff(parent))

	require.True(t, IsSuperuser(admin))
	require.False(t, IsSuperuser(staff))

	require.NoError(t, RequireRole(parent, domain.RoleGuardian, domain.RolePrimaryUser))
	require.ErrorIs(t, RequireRole(staff, domain.RoleGuardian), ErrForbidden)
	require.ErrorIs(t, RequireRole(admin), ErrForbidden)
}
