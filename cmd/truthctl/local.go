package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/truthd/internal/aggregate"
	"github.com/fyrsmithlabs/truthd/internal/config"
	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/store"
)

const localTimeout = 30 * time.Minute

// openPostgres loads the daemon configuration and connects to its database.
// Local commands never reach the model gateway, so no API key is required.
func openPostgres(ctx context.Context, opts *options) (*store.Postgres, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return nil, fmt.Errorf("database.driver %q has no persistent tables to operate on", cfg.Database.Driver)
	}
	return store.OpenPostgres(ctx, cfg.Database.URL.Value(), cfg.Database.MaxOpenConns)
}

func newMigrateCmd(opts *options) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate <up|down>",
		Short: "Apply or roll back the database schema",
		Long: `Apply or roll back the embedded schema migrations.

Examples:
  # Bring the schema up to date
  truthctl migrate up

  # Roll back the most recent migration
  truthctl migrate down --steps 1`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), localTimeout)
			defer cancel()

			pg, err := openPostgres(ctx, opts)
			if err != nil {
				return err
			}
			defer pg.Close()

			if err := store.Migrate(pg.DB, args[0], steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migration %s complete\n", args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 = all)")
	return cmd
}

// rebuildFunc runs one aggregation job and returns the rows written.
type rebuildFunc func(r *aggregate.Rebuilder, ctx context.Context) (int, error)

var rebuildJobs = map[string]struct {
	run  rebuildFunc
	noun string
}{
	"turns": {run: (*aggregate.Rebuilder).RebuildTurns, noun: "turns"},
	"edges": {run: (*aggregate.Rebuilder).RebuildCommEdges, noun: "comm edges"},
}

func newRebuildCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <turns|edges>",
		Short: "Rebuild derived turns or communication edges from messages",
		Long: `Rebuild derived tables from raw messages.

  turns  replaces every turn with one turn per message, in timestamp order
  edges  replaces comm_edges with sender to recipient message counts`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"turns", "edges"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), localTimeout)
			defer cancel()

			pg, err := openPostgres(ctx, opts)
			if err != nil {
				return err
			}
			defer pg.Close()

			return runRebuild(ctx, cmd, pg, args[0])
		},
	}
}

func runRebuild(ctx context.Context, cmd *cobra.Command, st store.Store, job string) error {
	j, ok := rebuildJobs[job]
	if !ok {
		return fmt.Errorf("unknown rebuild job %q", job)
	}
	n, err := j.run(aggregate.New(st, logging.NewNop()), ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %d %s\n", n, j.noun)
	return nil
}
