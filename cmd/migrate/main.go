package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"biohub.org/internal/migrate"
	"biohub.org/internal/obs"
)

type options struct {
	dsn     string
	dir     string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		obs.Logger().WithError(err).Error("migrate failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply BioHub schema migrations and seeds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", os.Getenv("BIOHUB_PG_DSN"), "PostgreSQL DSN (default $BIOHUB_PG_DSN)")
	root.PersistentFlags().StringVar(&opts.dir, "dir", "", "read sql/ and seeds/ from this directory instead of the embedded set")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall timeout")

	root.AddCommand(
		listCmd(opts, "up", "Apply pending migrations", (*migrate.Manager).Up),
		listCmd(opts, "seed", "Apply pending seeds", (*migrate.Manager).Seed),
		listCmd(opts, "status", "Print applied migrations and seeds", (*migrate.Manager).Status),
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd.Context(), opts, func(ctx context.Context, m *migrate.Manager) error {
					name, err := m.Down(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), name)
					return nil
				})
			},
		},
	)
	return root
}

func listCmd(opts *options, use, short string, run func(*migrate.Manager, context.Context) ([]string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd.Context(), opts, func(ctx context.Context, m *migrate.Manager) error {
				names, err := run(m, ctx)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			})
		},
	}
}

func withManager(parent context.Context, opts *options, fn func(context.Context, *migrate.Manager) error) error {
	if opts.dsn == "" {
		return errors.New("missing DSN: provide --dsn or BIOHUB_PG_DSN")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, opts.timeout)
	defer cancel()

	db, err := sql.Open("pgx", opts.dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	var mopts []migrate.Option
	if opts.dir != "" {
		mopts = append(mopts, migrate.WithFiles(os.DirFS(opts.dir), "sql", "seeds"))
	}
	return fn(ctx, migrate.NewManager(db, mopts...))
}
