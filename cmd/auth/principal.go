package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/app"
	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/aussiebroadwan/rollcall/internal/auth/service"
	"github.com/aussiebroadwan/rollcall/pkg/idx"
	"github.com/spf13/cobra"
)

// NewPrincipalCmd groups the principal management subcommands.
func NewPrincipalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "principal",
		Short: "Manage administrators, staff, students and guardians",
	}

	cmd.AddCommand(newPrincipalAddCmd())
	cmd.AddCommand(newPrincipalActiveCmd("activate", true))
	cmd.AddCommand(newPrincipalActiveCmd("deactivate", false))
	cmd.AddCommand(newPrincipalListCmd())

	return cmd
}

// withPrincipals runs fn with a PrincipalService that needs no signing
// secret.
func withPrincipals(cmd *cobra.Command, fn func(ctx context.Context, svc *service.PrincipalService) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	hasher, err := cfg.NewHasher()
	if err != nil {
		return err
	}
	db, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return fn(cmd.Context(), &service.PrincipalService{Store: db, Hasher: hasher})
}

func newPrincipalAddCmd() *cobra.Command {
	var (
		role, identifier, name, secret string
		attrs                          map[string]string
		inactive                       bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a principal",
		Long: `Register a principal of the given role. The secret is read from stdin
when --secret is omitted or "-".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			secret, err := readSecret(cmd, secret)
			if err != nil {
				return err
			}

			return withPrincipals(cmd, func(ctx context.Context, svc *service.PrincipalService) error {
				p, err := svc.Register(ctx, service.RegisterInput{
					Role:        r,
					Identifier:  identifier,
					Secret:      secret,
					DisplayName: name,
					Attributes:  attrs,
					Inactive:    inactive,
				})
				if err != nil {
					return serviceError(err)
				}
				cmd.Printf("Registered %s (%s)\n", p.Key(), p.Identifier)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "administrator, staff, primary_user or guardian (aliases: admin, teacher, student, parent)")
	cmd.Flags().StringVar(&identifier, "identifier", "", "email address used to log in")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&secret, "secret", "", `initial secret, "-" to read stdin`)
	cmd.Flags().StringToStringVar(&attrs, "attr", nil, "role-specific attribute, e.g. --attr class=5B")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the principal disabled")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("identifier")

	return cmd
}

func newPrincipalActiveCmd(use string, active bool) *cobra.Command {
	var role, id string

	cmd := &cobra.Command{
		Use:   use,
		Short: "Set whether a principal may log in (" + use + ")",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			pid, err := idx.Parse(id)
			if err != nil {
				return fmt.Errorf("%w: %q", err, id)
			}
			return withPrincipals(cmd, func(ctx context.Context, svc *service.PrincipalService) error {
				if err := svc.SetActive(ctx, r, pid.String(), active); err != nil {
					return serviceError(err)
				}
				cmd.Printf("%s:%s active=%t\n", r, pid, active)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "principal role")
	cmd.Flags().StringVar(&id, "id", "", "principal id")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func newPrincipalListCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the principals of one role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withPrincipals(cmd, func(ctx context.Context, svc *service.PrincipalService) error {
				list, err := svc.List(ctx, r)
				if err != nil {
					return serviceError(err)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = w.Write([]byte("ID\tIDENTIFIER\tNAME\tACTIVE\tCREATED\n"))
				for _, p := range list {
					created := idx.ID(p.ID).Time().Format(time.DateOnly)
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", p.ID, p.Identifier, p.DisplayName, p.Active, created)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "principal role")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}
