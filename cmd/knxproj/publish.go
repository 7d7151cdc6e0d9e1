package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-knxproj/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-knxproj/internal/inventory"
)

func (c *cli) publishCmd() *cobra.Command {
	var (
		flags  projectFlags
		prefix string
	)
	cmd := &cobra.Command{
		Use:   "publish <project.knxproj>",
		Short: "Publish a project inventory to MQTT",
		Long: `Parse a project and publish it as retained MQTT messages: one per
logical device, one per group address with the devices using it, and a
project summary last.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, cfg, log, err := c.parseProject(cmd.Context(), args[0], &flags)
			if err != nil {
				return err
			}
			if prefix != "" {
				cfg.MQTT.TopicPrefix = prefix
			}

			client, err := mqtt.Connect(cfg.MQTT)
			if err != nil {
				return fmt.Errorf("connecting to MQTT: %w", err)
			}
			client.SetLogger(log.With("component", "mqtt"))
			defer func() {
				log.Info("disconnecting from MQTT")
				if closeErr := client.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			}()
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"client_id", cfg.MQTT.Broker.ClientID,
			)

			publisher := inventory.NewPublisher(client, client.Topics())
			res, err := publisher.Publish(cmd.Context(), result.Project, result.ContentHash)
			if err != nil {
				return err
			}
			log.Info("inventory published",
				"topic", client.Topics().AllProjectTopics(result.Project.Info().ProjectID),
				"devices", res.Devices,
				"group_addresses", res.GroupAddresses,
			)

			out := outputFlags{compact: true}
			return out.write(c.stdout, res)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&prefix, "topic-prefix", "", "topic prefix (default mqtt.topic_prefix)")
	return cmd
}
