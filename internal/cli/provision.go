package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/illmade-knight/go-redelivery/pkg/deadletter"
	"github.com/illmade-knight/go-redelivery/pkg/provisioning"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"
)

var teardown bool

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create source, reply and dead-letter topics",
	Long: `provision creates the topics listed under resources in the config file. Every
source gets a dead-letter topic with the same number of partitions.`,
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().BoolVar(&teardown, "teardown", false, "delete the topics instead of creating them")
}

func runProvision(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load config")
		return err
	}
	if len(cfg.Resources.Sources) == 0 && len(cfg.Resources.Replies) == 0 {
		return fmt.Errorf("no topics listed under resources in %q", cfgPath)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
	if err != nil {
		return fmt.Errorf("failed to create kafka client: %w", err)
	}
	defer client.Close()

	manager, err := provisioning.NewTopicManager(client, deadletter.NewRouter(cfg.RouterConfig()), logger)
	if err != nil {
		return err
	}
	if teardown {
		return manager.Teardown(ctx, cfg.Resources)
	}
	if err := manager.Setup(ctx, cfg.Resources); err != nil {
		return err
	}
	return verify(ctx, manager, cfg.Resources)
}

func verify(ctx context.Context, manager *provisioning.TopicManager, resources provisioning.ResourcesSpec) error {
	if err := manager.Verify(ctx, resources); err != nil {
		return fmt.Errorf("topics failed verification after setup: %w", err)
	}
	return nil
}
