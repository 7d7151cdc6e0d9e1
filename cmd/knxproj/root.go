package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport"
	"github.com/nerrad567/gray-logic-knxproj/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-knxproj/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-knxproj/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-knxproj/internal/projectcache"
	"github.com/nerrad567/gray-logic-knxproj/migrations"
)

// cli carries the state shared by all subcommands.
type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "knxproj",
		Short: "knxproj - KNX ETS project extraction",
		Long: `knxproj reads ETS4, ETS5 and ETS6 .knxproj archives, optionally password
protected, and produces a cross-referenced model of devices, communication
objects, group addresses, topology, locations and functions.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate(fmt.Sprintf("knxproj version {{.Version}} (commit %s, built %s)\n", commit, date))
	root.PersistentFlags().StringVar(&c.configPath, "config", "",
		"config file (default $"+configEnvVar+", none when unset)")

	root.AddCommand(
		c.parseCmd(),
		c.devicesCmd(),
		c.publishCmd(),
		c.serveCmd(),
		c.cacheCmd(),
	)
	return root
}

// load reads the configuration. Logs go to stderr so stdout only carries
// command output.
func (c *cli) load() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(getConfigPath(c.configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.NewWithWriter(cfg.Logging, version, c.stderr), nil
}

// projectParser is satisfied by *etsimport.Parser and *projectcache.CachingParser.
type projectParser interface {
	ParseBytes(ctx context.Context, data []byte, opts etsimport.Options) (*etsimport.ParseResult, error)
}

// parserStack is the parser together with the optional cache behind it.
type parserStack struct {
	parser projectParser
	db     *database.DB
	repo   *projectcache.SQLiteRepository
}

// newParserStack builds the core parser, wrapped in the SQLite cache when
// the cache is enabled.
func newParserStack(ctx context.Context, cfg *config.Config, log *logging.Logger, useCache bool) (*parserStack, error) {
	core := etsimport.NewParser()
	core.SetLogger(log.With("component", "etsimport"))

	if !useCache || !cfg.Cache.Enabled {
		return &parserStack{parser: core}, nil
	}

	db, repo, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	cached := projectcache.NewCachingParser(core, repo, cfg.Cache.MaxEntries)
	cached.SetLogger(log.With("component", "projectcache"))
	log.Debug("project cache enabled", "path", db.Path(), "max_entries", cfg.Cache.MaxEntries)

	return &parserStack{parser: cached, db: db, repo: repo}, nil
}

// Close releases the cache, if any.
func (s *parserStack) Close() error {
	if s.db == nil {
		return nil
	}
	s.repo.Close()
	return s.db.Close()
}

// openCache opens and migrates the cache database.
func openCache(ctx context.Context, cfg config.CacheConfig) (*database.DB, *projectcache.SQLiteRepository, error) {
	db, err := openCacheDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	repo, err := projectcache.NewSQLiteRepository(db.DB)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, repo, nil
}

func openCacheDB(ctx context.Context, cfg config.CacheConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating cache: %w", err)
	}
	return db, nil
}

// readArchive reads path, refusing files above limit before reading them.
func readArchive(path string, limit int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading project: %w", err)
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes", etsimport.ErrFileTooLarge, path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading project: %w", err)
	}
	return data, nil
}

// outputFlags select where JSON output goes.
type outputFlags struct {
	output  string
	compact bool
}

func (f *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write JSON to this file instead of stdout")
	cmd.Flags().BoolVar(&f.compact, "compact", false, "write compact JSON")
}

// write encodes v to the output file or stdout.
func (f *outputFlags) write(stdout io.Writer, v any) error {
	if f.output == "" {
		return f.encode(stdout, v)
	}

	file, err := os.Create(f.output)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	if err := f.encode(file, v); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing output: %w", err)
	}
	return nil
}

func (f *outputFlags) encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if !f.compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
