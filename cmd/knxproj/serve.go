package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-knxproj/internal/api"
	"github.com/nerrad567/gray-logic-knxproj/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-knxproj/internal/infrastructure/logging"
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP upload API",
		Long: `Serve the JSON upload API until interrupted:

  POST /api/v1/projects/parse            full model
  POST /api/v1/projects/logical-devices  devices with their group addresses
  GET  /api/v1/health                    version and dependency status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(getConfigPath(c.configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cmd.Flags().Changed("host") {
				cfg.API.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.API.Port = port
			}

			log := logging.NewWithWriter(cfg.Logging, version, c.logOutput(cfg.Logging))
			log.Info("starting knxproj", "version", version, "commit", commit, "build_date", date)

			stack, err := newParserStack(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := stack.Close(); closeErr != nil {
					log.Error("error closing cache", "error", closeErr)
				}
			}()

			checks := map[string]api.HealthChecker{}
			if stack.db != nil {
				checks["cache"] = stack.db
			}

			server, err := api.New(api.Deps{
				Config:          cfg.API,
				Logger:          log.With("component", "api"),
				Parser:          stack.parser,
				DefaultLanguage: cfg.Parser.DefaultLanguage,
				Checks:          checks,
				Version:         version,
			})
			if err != nil {
				return fmt.Errorf("creating API server: %w", err)
			}
			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("starting API server: %w", err)
			}
			log.Info("knxproj ready", "address", server.Addr())

			<-ctx.Done()
			log.Info("shutdown signal received")
			return server.Close()
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default api.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default api.port)")
	return cmd
}

// logOutput maps logging.output onto the command's writers.
func (c *cli) logOutput(cfg config.LoggingConfig) io.Writer {
	if cfg.Output == "stderr" {
		return c.stderr
	}
	return c.stdout
}
