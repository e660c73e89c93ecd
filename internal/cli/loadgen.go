package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-redelivery/helpers/loadgen"
	"github.com/spf13/cobra"
)

var (
	loadSources   int
	loadRate      float64
	loadDuration  time.Duration
	loadRetry     float64
	loadFail      float64
	loadInvalid   float64
	loadMalformed float64
)

var loadgenCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Generate shipment traffic with a mix of failures",
	RunE:  runLoadgen,
}

func init() {
	loadgenCmd.Flags().IntVar(&loadSources, "sources", 4, "number of concurrent sources, each keyed to its own partition")
	loadgenCmd.Flags().Float64Var(&loadRate, "rate", 5, "records per second per source")
	loadgenCmd.Flags().DurationVar(&loadDuration, "duration", 30*time.Second, "how long to generate traffic")
	loadgenCmd.Flags().Float64Var(&loadRetry, "retry-ratio", 0.05, "share of records that always fail transiently")
	loadgenCmd.Flags().Float64Var(&loadFail, "fail-ratio", 0.02, "share of records that fail permanently")
	loadgenCmd.Flags().Float64Var(&loadInvalid, "invalid-ratio", 0.02, "share of records that fail validation")
	loadgenCmd.Flags().Float64Var(&loadMalformed, "malformed-ratio", 0.01, "share of records that are not valid JSON")
}

func runLoadgen(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load config")
		return err
	}
	if sum := loadRetry + loadFail + loadInvalid + loadMalformed; sum > 1 {
		return fmt.Errorf("failure ratios add up to %.2f, more than 1", sum)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	generator := &loadgen.ShipmentGenerator{
		RetryRatio:     loadRetry,
		FailRatio:      loadFail,
		InvalidRatio:   loadInvalid,
		MalformedRatio: loadMalformed,
	}
	sources := make([]*loadgen.Source, 0, loadSources)
	for i := 0; i < loadSources; i++ {
		sources = append(sources, &loadgen.Source{
			ID:               fmt.Sprintf("source-%d", i+1),
			MessageRate:      loadRate,
			PayloadGenerator: generator,
		})
	}

	topic := cfg.Consumer.Topics[0]
	client := loadgen.NewKafkaClient(cfg.Kafka.Brokers, topic, logger)
	count, err := loadgen.NewLoadGenerator(client, sources, logger).Run(ctx, loadDuration)
	if err != nil {
		return err
	}
	logger.Info().Str("topic", topic).Int("published", count).Msg("Load generation finished")
	return nil
}
