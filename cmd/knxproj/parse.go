package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport"
	"github.com/nerrad567/gray-logic-knxproj/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-knxproj/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-knxproj/internal/inventory"
	"github.com/nerrad567/gray-logic-knxproj/internal/knx"
)

// projectFlags are shared by every command that parses an archive.
type projectFlags struct {
	password string
	language string
	noCache  bool
}

func (f *projectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "project password")
	cmd.Flags().StringVarP(&f.language, "language", "l", "", "translation language, e.g. de-DE (default parser.default_language)")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "bypass the project cache")
}

func (f *projectFlags) options(cfg *config.Config) etsimport.Options {
	language := f.language
	if language == "" {
		language = cfg.Parser.DefaultLanguage
	}
	return etsimport.Options{Password: f.password, Language: language}
}

// parseProject loads the configuration and parses the archive at path.
// Warnings are logged, not returned.
func (c *cli) parseProject(ctx context.Context, path string, flags *projectFlags) (*etsimport.ParseResult, *config.Config, *logging.Logger, error) {
	cfg, log, err := c.load()
	if err != nil {
		return nil, nil, nil, err
	}

	stack, err := newParserStack(ctx, cfg, log, !flags.noCache)
	if err != nil {
		return nil, nil, nil, err
	}
	defer func() {
		if closeErr := stack.Close(); closeErr != nil {
			log.Error("error closing cache", "error", closeErr)
		}
	}()

	data, err := readArchive(path, cfg.Parser.MaxFileSize)
	if err != nil {
		return nil, nil, nil, err
	}

	result, err := stack.parser.ParseBytes(ctx, data, flags.options(cfg))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for _, w := range result.Warnings {
		log.Warn("parse warning",
			"code", w.Code,
			"message", w.Message,
			"devices", w.AffectedDevices,
			"addresses", w.AffectedAddresses,
		)
	}
	info := result.Project.Info()
	log.Info("project parsed",
		"path", path,
		"project_id", info.ProjectID,
		"name", info.Name,
		"devices", len(result.Project.Devices()),
		"group_addresses", len(result.Project.GroupAddresses()),
		"warnings", len(result.Warnings),
	)
	return result, cfg, log, nil
}

func (c *cli) parseCmd() *cobra.Command {
	var (
		flags projectFlags
		out   outputFlags
	)
	cmd := &cobra.Command{
		Use:   "parse <project.knxproj>",
		Short: "Parse a project into the full JSON model",
		Long: `Parse a project and write the cross-referenced model: info, devices,
communication objects, group addresses, topology, locations, group ranges
and functions, together with parse warnings and the archive content hash.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, _, _, err := c.parseProject(cmd.Context(), args[0], &flags)
			if err != nil {
				return err
			}
			return out.write(c.stdout, result)
		},
	}
	flags.register(cmd)
	out.register(cmd)
	return cmd
}

func (c *cli) devicesCmd() *cobra.Command {
	var (
		flags        projectFlags
		out          outputFlags
		groupAddress string
	)
	cmd := &cobra.Command{
		Use:   "devices <project.knxproj>",
		Short: "List devices with the group addresses they use",
		Long: `Parse a project and write every device with the group addresses its
communication objects link to, each listing that device's objects.

With --group-address only the devices using that address are written. It
may be given as 1/2/3, 1/515 or 2563 whatever the project's style.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				ga     knx.GroupAddress
				filter = groupAddress != ""
			)
			if filter {
				var err error
				if ga, err = knx.ParseGroupAddress(groupAddress); err != nil {
					return fmt.Errorf("--group-address: %w", err)
				}
			}

			result, _, _, err := c.parseProject(cmd.Context(), args[0], &flags)
			if err != nil {
				return err
			}
			payload := inventory.BuildPayload(result.Project)
			if filter {
				payload = payload.FilterGroupAddress(ga)
			}
			return out.write(c.stdout, payload)
		},
	}
	flags.register(cmd)
	out.register(cmd)
	cmd.Flags().StringVarP(&groupAddress, "group-address", "g", "", "only devices using this group address")
	return cmd
}
