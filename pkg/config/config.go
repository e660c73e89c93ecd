package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-redelivery/pkg/deadletter"
	"github.com/illmade-knight/go-redelivery/pkg/kafkabatch"
	"github.com/illmade-knight/go-redelivery/pkg/provisioning"
	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
	"github.com/illmade-knight/go-redelivery/pkg/repository"
	"gopkg.in/yaml.v3"
)

// Listener names.
const (
	ListenerShipment = "shipment"
	ListenerInvoice  = "invoice"
	ListenerOrder    = "order"
	ListenerPayment  = "payment"
	ListenerStreams  = "streams"
)

// Backoff kinds.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
	BackoffNone        = "none"
)

// Sink kinds for quarantined records and processed items.
const (
	SinkKafka  = "kafka"
	SinkPubsub = "pubsub"
	SinkMemory = "memory"
	SinkRedis  = "redis"
)

// Config is the complete service configuration.
type Config struct {
	LogLevel   string                     `yaml:"log_level"`
	Listener   string                     `yaml:"listener"`
	Kafka      KafkaConfig                `yaml:"kafka"`
	Consumer   ConsumerConfig             `yaml:"consumer"`
	Backoff    BackoffConfig              `yaml:"backoff"`
	DeadLetter DeadLetterConfig           `yaml:"dead_letter"`
	Repository RepositoryConfig           `yaml:"repository"`
	HTTP       HTTPConfig                 `yaml:"http"`
	Resources  provisioning.ResourcesSpec `yaml:"resources"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"client_id"`
}

type ConsumerConfig struct {
	GroupID        string   `yaml:"group_id"`
	Topics         []string `yaml:"topics"`
	Concurrency    int      `yaml:"concurrency"`
	MaxPollRecords int      `yaml:"max_poll_records"`
	Batch          bool     `yaml:"batch"`
	// ReplyTopic receives InvoiceProcessed replies from the invoice listener.
	ReplyTopic string `yaml:"reply_topic"`
	// OutputTopic receives the records mapped by the streams listener.
	OutputTopic string `yaml:"output_topic"`
	// OrderWork is the simulated processing time of each order.
	OrderWork time.Duration `yaml:"order_work"`
}

type BackoffConfig struct {
	Kind        string        `yaml:"kind"`
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      float64       `yaml:"jitter"`
	MaxRetries  int           `yaml:"max_retries"`
}

type DeadLetterConfig struct {
	Sink            string            `yaml:"sink"`
	Suffix          string            `yaml:"suffix"`
	TopicMapping    map[string]string `yaml:"topic_mapping"`
	PartitionCounts map[string]int32  `yaml:"partition_counts"`
	Pubsub          PubsubConfig      `yaml:"pubsub"`
}

type PubsubConfig struct {
	ProjectID      string        `yaml:"project_id"`
	EnableOrdering bool          `yaml:"enable_ordering"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

type RepositoryConfig struct {
	Kind  string                 `yaml:"kind"`
	Redis repository.RedisConfig `yaml:"redis"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a configuration for a local broker with the shipment listener.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Listener: ListenerShipment,
		Kafka: KafkaConfig{
			Brokers:  []string{"localhost:9092"},
			ClientID: "redeliveryd",
		},
		Consumer: ConsumerConfig{
			GroupID:     "redeliveryd",
			Topics:      []string{"shipment"},
			Concurrency: 1,
			Batch:       true,
			ReplyTopic:  "invoice-response",
			OutputTopic: "streams-output",
			OrderWork:   2 * time.Second,
		},
		Backoff: BackoffConfig{
			Kind:       BackoffFixed,
			Interval:   100 * time.Millisecond,
			MaxRetries: 5,
		},
		DeadLetter: DeadLetterConfig{
			Sink:   SinkKafka,
			Suffix: deadletter.DefaultSuffix,
			Pubsub: PubsubConfig{EnableOrdering: true, PublishTimeout: 10 * time.Second},
		},
		Repository: RepositoryConfig{
			Kind: SinkMemory,
		},
		HTTP: HTTPConfig{ListenAddr: ":8080"},
	}
}

// Load reads a YAML file over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML from '%s': %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables that are set.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_GROUP_ID"); v != "" {
		c.Consumer.GroupID = v
	}
	if v := os.Getenv("KAFKA_TOPICS"); v != "" {
		c.Consumer.Topics = splitList(v)
	}
	if v := os.Getenv("REDELIVERY_LISTENER"); v != "" {
		c.Listener = v
	}
	if v := os.Getenv("REDELIVERY_BACKOFF_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid REDELIVERY_BACKOFF_INTERVAL %q: %w", v, err)
		}
		c.Backoff.Interval = d
	}
	if v := os.Getenv("REDELIVERY_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDELIVERY_MAX_RETRIES %q: %w", v, err)
		}
		c.Backoff.MaxRetries = n
	}
	if v := os.Getenv("REDELIVERY_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDELIVERY_CONCURRENCY %q: %w", v, err)
		}
		c.Consumer.Concurrency = n
	}
	if v := os.Getenv("DLQ_SINK"); v != "" {
		c.DeadLetter.Sink = v
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		c.DeadLetter.Pubsub.ProjectID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Repository.Kind = SinkRedis
		c.Repository.Redis.Addr = v
	}
	if v := os.Getenv("HTTP_LISTEN_ADDR"); v != "" {
		c.HTTP.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers must not be empty"))
	}
	if c.Consumer.GroupID == "" {
		errs = append(errs, errors.New("consumer.group_id must not be empty"))
	}
	if len(c.Consumer.Topics) == 0 {
		errs = append(errs, errors.New("consumer.topics must not be empty"))
	}
	if c.Consumer.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("consumer.concurrency must be positive, got %d", c.Consumer.Concurrency))
	}
	switch c.Listener {
	case ListenerShipment, ListenerPayment:
	case ListenerInvoice:
		if c.Consumer.ReplyTopic == "" {
			errs = append(errs, errors.New("consumer.reply_topic is required for the invoice listener"))
		}
	case ListenerStreams:
		if c.Consumer.OutputTopic == "" {
			errs = append(errs, errors.New("consumer.output_topic is required for the streams listener"))
		}
	case ListenerOrder:
		if c.Consumer.OrderWork < 0 {
			errs = append(errs, errors.New("consumer.order_work must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown listener %q", c.Listener))
	}
	if c.Backoff.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("backoff.max_retries must not be negative, got %d", c.Backoff.MaxRetries))
	}
	if c.Backoff.Interval < 0 {
		errs = append(errs, errors.New("backoff.interval must not be negative"))
	}
	switch c.Backoff.Kind {
	case BackoffFixed, BackoffExponential, BackoffNone:
	default:
		errs = append(errs, fmt.Errorf("unknown backoff kind %q", c.Backoff.Kind))
	}
	switch c.DeadLetter.Sink {
	case SinkKafka, SinkMemory:
	case SinkPubsub:
		if c.DeadLetter.Pubsub.ProjectID == "" {
			errs = append(errs, errors.New("dead_letter.pubsub.project_id is required for the pubsub sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dead_letter.sink %q", c.DeadLetter.Sink))
	}
	if c.DeadLetter.Suffix == "" {
		for _, topic := range c.Consumer.Topics {
			if c.DeadLetter.TopicMapping[topic] == "" {
				errs = append(errs, fmt.Errorf("topic %q has no dead-letter mapping and no suffix is set", topic))
			}
		}
	}
	switch c.Repository.Kind {
	case SinkMemory:
	case SinkRedis:
		if c.Repository.Redis.Addr == "" {
			errs = append(errs, errors.New("repository.redis.addr is required for the redis repository"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown repository.kind %q", c.Repository.Kind))
	}
	return errors.Join(errs...)
}

// BackoffPolicy builds the configured policy.
func (c *Config) BackoffPolicy() redelivery.BackoffPolicy {
	switch c.Backoff.Kind {
	case BackoffExponential:
		return redelivery.ExponentialBackoff{
			Initial:    c.Backoff.Interval,
			Max:        c.Backoff.MaxInterval,
			Multiplier: c.Backoff.Multiplier,
			Jitter:     c.Backoff.Jitter,
			MaxRetries: c.Backoff.MaxRetries,
		}
	case BackoffNone:
		return redelivery.NoRetry{}
	default:
		return redelivery.FixedBackoff{Interval: c.Backoff.Interval, MaxRetries: c.Backoff.MaxRetries}
	}
}

// RouterConfig returns the dead-letter topology.
func (c *Config) RouterConfig() deadletter.RouterConfig {
	return deadletter.RouterConfig{
		TopicMapping:    c.DeadLetter.TopicMapping,
		Suffix:          c.DeadLetter.Suffix,
		PartitionCounts: c.DeadLetter.PartitionCounts,
	}
}

// ConsumerConfig returns the settings for kafkabatch.NewConsumer.
func (c *Config) ConsumerConfig() kafkabatch.ConsumerConfig {
	return kafkabatch.ConsumerConfig{
		Brokers:        c.Kafka.Brokers,
		GroupID:        c.Consumer.GroupID,
		Topics:         c.Consumer.Topics,
		ClientID:       c.Kafka.ClientID,
		Concurrency:    c.Consumer.Concurrency,
		MaxPollRecords: c.Consumer.MaxPollRecords,
		Batch:          c.Consumer.Batch,
	}
}

// GooglePubsubPublisherConfig returns the Pub/Sub quarantine sink settings.
func (c *Config) GooglePubsubPublisherConfig() *deadletter.GooglePubsubPublisherConfig {
	return &deadletter.GooglePubsubPublisherConfig{
		ProjectID:      c.DeadLetter.Pubsub.ProjectID,
		EnableOrdering: c.DeadLetter.Pubsub.EnableOrdering,
		CheckExistence: true,
		PublishTimeout: c.DeadLetter.Pubsub.PublishTimeout,
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
