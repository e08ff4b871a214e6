package main

import (
	"context"
	"fmt"

	"coursemarket/internal/config"
	"coursemarket/internal/server"
	"coursemarket/internal/storage/postgres"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func loadConfig(file string) (*config.Config, error) {
	cfg, err := config.Load(file)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp runs fn against services wired on the configured storage.
func withApp(ctx context.Context, file string, fn func(*server.App) error) error {
	cfg, err := loadConfig(file)
	if err != nil {
		return err
	}
	backends, release, err := server.OpenBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	app, err := server.New(server.OptionsFromConfig(cfg), backends)
	if err != nil {
		return err
	}
	return fn(app)
}

func migrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			if cfg.Storage != config.StoragePostgres {
				return fmt.Errorf("migrate needs postgres storage, got %q", cfg.Storage)
			}

			db, err := postgres.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func certificateCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certificate",
		Short: "Issue and verify course certificates",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "issue [enrollment-id]",
		Short: "Issue the certificate of a paid enrollment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid enrollment id %q: %w", args[0], err)
			}
			return withApp(cmd.Context(), *configFile, func(app *server.App) error {
				code, err := app.Enrollments.IssueCertificate(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), code)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify [code]",
		Short: "Check that a certificate number was issued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configFile, func(app *server.App) error {
				fmt.Fprintln(cmd.OutOrStdout(), app.Enrollments.VerifyCertificate(cmd.Context(), args[0]))
				return nil
			})
		},
	})
	return cmd
}

func memberCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage members",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "promote [email]",
		Short: "Grant a member access to the admin endpoints",
		Long: `Grant a member access to the admin endpoints.

Tokens issued before the promotion keep their old claims; the member has to
authenticate again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configFile, func(app *server.App) error {
				m, err := app.Members.Promote(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now an admin\n", m.Email)
				return nil
			})
		},
	})
	return cmd
}
