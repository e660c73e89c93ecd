package cli

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/illmade-knight/go-redelivery/pkg/kafkabatch"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"
)

var (
	produceTopic string
	produceKey   string
)

var produceCmd = &cobra.Command{
	Use:   "produce [json payload]...",
	Short: "Write JSON payloads to a topic",
	Long: `produce writes each argument as one record, in order, with a single produce
call. Arguments are sent as given so malformed payloads can be used to exercise
conversion failures; pass --strict to reject arguments that are not valid JSON.`,
	Example: `  redeliveryd produce --topic shipment '{"address":"1 Main St","trackingNumber":1}' '{"address":"Fail & Retry","trackingNumber":2}'`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runProduce,
}

var strictJSON bool

func init() {
	produceCmd.Flags().StringVar(&produceTopic, "topic", "", "topic to write to (defaults to the first consumer topic)")
	produceCmd.Flags().StringVar(&produceKey, "key", "", "record key, so every record lands on the same partition")
	produceCmd.Flags().BoolVar(&strictJSON, "strict", false, "reject payloads that are not valid JSON")
}

func runProduce(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load config")
		return err
	}
	topic := produceTopic
	if topic == "" {
		topic = cfg.Consumer.Topics[0]
	}

	payloads := make([][]byte, 0, len(args))
	for i, a := range args {
		if strictJSON && !json.Valid([]byte(a)) {
			return fmt.Errorf("argument %d is not valid JSON", i+1)
		}
		payloads = append(payloads, []byte(a))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
	if err != nil {
		return fmt.Errorf("failed to create kafka client: %w", err)
	}
	defer client.Close()

	writer, err := kafkabatch.NewWriter(client, topic, logger)
	if err != nil {
		return err
	}
	var key []byte
	if produceKey != "" {
		key = []byte(produceKey)
	}
	if err := writer.WriteRaw(ctx, key, payloads...); err != nil {
		return err
	}
	logger.Info().Str("topic", topic).Int("count", len(payloads)).Msg("Records produced")
	return nil
}
