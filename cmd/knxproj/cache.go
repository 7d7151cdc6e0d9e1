package main

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-knxproj/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-knxproj/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-knxproj/internal/projectcache"
	"github.com/nerrad567/gray-logic-knxproj/migrations"
)

func (c *cli) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect, prune or reset the project cache",
	}
	cmd.AddCommand(c.cacheListCmd(), c.cachePruneCmd(), c.cacheResetCmd())
	return cmd
}

func (c *cli) cacheListCmd() *cobra.Command {
	var out outputFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached projects, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var entries []projectcache.Entry
			err := c.withCache(cmd.Context(), func(_ *config.Config, repo projectcache.Repository) error {
				var err error
				entries, err = repo.List(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []projectcache.Entry{}
			}
			return out.write(c.stdout, entries)
		},
	}
	out.register(cmd)
	return cmd
}

func (c *cli) cachePruneCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove least recently used entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var removed int64
			err := c.withCache(cmd.Context(), func(cfg *config.Config, repo projectcache.Repository) error {
				if !cmd.Flags().Changed("keep") {
					keep = cfg.Cache.MaxEntries
				}
				var err error
				removed, err = repo.Prune(cmd.Context(), keep)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "removed %d cache entries\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "entries to keep (default cache.max_entries, 0 keeps all)")
	return cmd
}

func (c *cli) cacheResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop every cached project and rebuild the schema",
		Long: `Roll back every applied cache migration, newest first, then apply them
again. The cache is left empty on the current schema.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			db, err := openCacheDB(cmd.Context(), cfg.Cache)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := db.Close(); closeErr != nil {
					log.Error("error closing cache", "error", closeErr)
				}
			}()

			n, err := resetSchema(cmd.Context(), db, migrations.FS)
			if err != nil {
				return err
			}
			log.Info("cache reset", "path", db.Path(), "migrations", n)
			fmt.Fprintln(c.stdout, "cache reset")
			return nil
		},
	}
}

// resetSchema rolls back every applied migration and applies them again.
// It returns the number rolled back.
func resetSchema(ctx context.Context, db *database.DB, fsys fs.FS) (int, error) {
	applied, _, err := db.GetMigrationStatus(ctx, fsys)
	if err != nil {
		return 0, fmt.Errorf("reading cache schema: %w", err)
	}
	for range applied {
		if err := db.MigrateDown(ctx, fsys); err != nil {
			return 0, fmt.Errorf("rolling back cache schema: %w", err)
		}
	}
	if err := db.Migrate(ctx, fsys); err != nil {
		return 0, fmt.Errorf("migrating cache: %w", err)
	}
	return len(applied), nil
}

// withCache opens the configured cache whether or not parsing uses it.
func (c *cli) withCache(ctx context.Context, fn func(*config.Config, projectcache.Repository) error) error {
	cfg, log, err := c.load()
	if err != nil {
		return err
	}
	db, repo, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer func() {
		repo.Close()
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing cache", "error", closeErr)
		}
	}()
	return fn(cfg, repo)
}
