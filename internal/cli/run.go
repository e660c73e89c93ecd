package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-redelivery/pkg/config"
	"github.com/illmade-knight/go-redelivery/pkg/deadletter"
	"github.com/illmade-knight/go-redelivery/pkg/kafkabatch"
	"github.com/illmade-knight/go-redelivery/pkg/listeners"
	"github.com/illmade-knight/go-redelivery/pkg/observability"
	"github.com/illmade-knight/go-redelivery/pkg/provisioning"
	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
	"github.com/illmade-knight/go-redelivery/pkg/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

var provisionOnStart bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume the configured topics",
	RunE:  runService,
}

func init() {
	runCmd.Flags().BoolVar(&provisionOnStart, "provision", false, "create missing topics before consuming")
}

// deps are the collaborators shared by every listener.
type deps struct {
	cfg        *config.Config
	router     *deadletter.Router
	publisher  deadletter.Publisher
	registry   *prometheus.Registry
	metrics    *redelivery.Metrics
	logger     zerolog.Logger
	closeFuncs []func()
}

func (d *deps) close() {
	for i := len(d.closeFuncs) - 1; i >= 0; i-- {
		d.closeFuncs[i]()
	}
}

func runService(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load config")
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	d := &deps{
		cfg:      cfg,
		router:   deadletter.NewRouter(cfg.RouterConfig()),
		registry: registry,
		metrics:  redelivery.NewMetrics(registry),
		logger:   logger,
	}
	defer d.close()

	if provisionOnStart {
		if err := provision(ctx, d); err != nil {
			return err
		}
	}
	if d.publisher, err = newPublisher(ctx, d); err != nil {
		return err
	}

	logger.Info().Str("listener", cfg.Listener).Strs("topics", cfg.Consumer.Topics).Msg("Starting redeliveryd")
	switch cfg.Listener {
	case config.ListenerInvoice:
		err = runInvoices(ctx, d)
	case config.ListenerStreams:
		err = runStreams(ctx, d)
	case config.ListenerOrder:
		err = runOrders(ctx, d)
	case config.ListenerPayment:
		err = runPayments(ctx, d)
	default:
		err = runShipments(ctx, d)
	}
	if err != nil {
		logger.Error().Err(err).Msg("redeliveryd stopped with error")
		return err
	}
	logger.Info().Msg("redeliveryd stopped gracefully")
	return nil
}

func provision(ctx context.Context, d *deps) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(d.cfg.Kafka.Brokers...))
	if err != nil {
		return fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	defer client.Close()

	manager, err := provisioning.NewTopicManager(client, d.router, d.logger)
	if err != nil {
		return err
	}
	resources := d.cfg.Resources
	if len(resources.Sources) == 0 {
		for _, t := range d.cfg.Consumer.Topics {
			resources.Sources = append(resources.Sources, provisioning.TopicSpec{Name: t})
		}
	}
	if len(resources.Replies) == 0 {
		switch d.cfg.Listener {
		case config.ListenerInvoice:
			resources.Replies = append(resources.Replies, provisioning.TopicSpec{Name: d.cfg.Consumer.ReplyTopic})
		case config.ListenerStreams:
			resources.Replies = append(resources.Replies, provisioning.TopicSpec{Name: d.cfg.Consumer.OutputTopic})
		}
	}
	if err := manager.Setup(ctx, resources); err != nil {
		return err
	}
	return verify(ctx, manager, resources)
}

func newPublisher(ctx context.Context, d *deps) (deadletter.Publisher, error) {
	switch d.cfg.DeadLetter.Sink {
	case config.SinkMemory:
		d.logger.Warn().Msg("Dead-letter sink is in memory, quarantined records are lost on exit")
		return deadletter.NewInMemoryPublisher(), nil

	case config.SinkPubsub:
		var opts []option.ClientOption
		if host := os.Getenv("PUBSUB_EMULATOR_HOST"); host != "" {
			d.logger.Info().Str("emulator_host", host).Msg("Using Pub/Sub emulator for dead-letter sink.")
			opts = append(opts, option.WithEndpoint(host), option.WithoutAuthentication())
		}
		client, err := pubsub.NewClient(ctx, d.cfg.DeadLetter.Pubsub.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		publisher, err := deadletter.NewGooglePubsubPublisher(client, d.cfg.GooglePubsubPublisherConfig(), d.logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		d.closeFuncs = append(d.closeFuncs, func() { _ = client.Close() }, publisher.Stop)
		return publisher, nil

	default:
		publisher, err := deadletter.DialKafkaPublisher(d.cfg.Kafka.Brokers, d.logger)
		if err != nil {
			return nil, err
		}
		d.closeFuncs = append(d.closeFuncs, publisher.Stop)
		return publisher, nil
	}
}

func newRepository[T any](ctx context.Context, d *deps, prefix string) (repository.Repository[T], error) {
	if d.cfg.Repository.Kind != config.SinkRedis {
		return repository.NewInMemoryRepository[T](d.logger), nil
	}
	redisCfg := d.cfg.Repository.Redis
	if redisCfg.KeyPrefix == "" {
		redisCfg.KeyPrefix = prefix
	}
	repo, err := repository.NewRedisRepository[T](ctx, &redisCfg, d.logger)
	if err != nil {
		return nil, err
	}
	d.closeFuncs = append(d.closeFuncs, func() { _ = repo.Close() })
	return repo, nil
}

func runShipments(ctx context.Context, d *deps) error {
	repo, err := newRepository[listeners.Shipment](ctx, d, "shipments")
	if err != nil {
		return err
	}
	listener, err := listeners.NewShipmentListener(repo, d.logger)
	if err != nil {
		return err
	}
	return serve[listeners.Shipment](ctx, d, listener, listeners.ValidateShipment)
}

func runInvoices(ctx context.Context, d *deps) error {
	repo, err := newRepository[listeners.Invoice](ctx, d, "invoices")
	if err != nil {
		return err
	}
	replies, err := deadletter.DialKafkaPublisher(d.cfg.Kafka.Brokers, d.logger)
	if err != nil {
		return err
	}
	d.closeFuncs = append(d.closeFuncs, replies.Stop)

	forwarder, err := listeners.NewInvoiceForwarder(repo, replies, d.cfg.Consumer.ReplyTopic, d.logger)
	if err != nil {
		return err
	}
	return serve[listeners.Invoice](ctx, d, forwarder, listeners.ValidateInvoice)
}

func runStreams(ctx context.Context, d *deps) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(d.cfg.Kafka.Brokers...))
	if err != nil {
		return fmt.Errorf("failed to create kafka producer client: %w", err)
	}
	d.closeFuncs = append(d.closeFuncs, client.Close)

	out, err := kafkabatch.NewWriter(client, d.cfg.Consumer.OutputTopic, d.logger)
	if err != nil {
		return err
	}
	stream, err := listeners.NewInvoiceStream(out, d.logger)
	if err != nil {
		return err
	}
	return serve[listeners.Invoice](ctx, d, stream, nil)
}

func runOrders(ctx context.Context, d *deps) error {
	repo, err := newRepository[listeners.Order](ctx, d, "orders")
	if err != nil {
		return err
	}
	if d.cfg.Consumer.Concurrency < 2 {
		d.logger.Warn().Int("concurrency", d.cfg.Consumer.Concurrency).Msg("Order listener runs one partition at a time, set REDELIVERY_CONCURRENCY to overlap slow orders")
	}
	listener, err := listeners.NewOrderListener(repo, d.cfg.Consumer.OrderWork, d.logger)
	if err != nil {
		return err
	}
	return serve[listeners.Order](ctx, d, listener, listeners.ValidateOrder)
}

func runPayments(ctx context.Context, d *deps) error {
	repo, err := newRepository[listeners.Payment](ctx, d, "payments")
	if err != nil {
		return err
	}
	listener, err := listeners.NewPaymentListener(repo, d.logger)
	if err != nil {
		return err
	}
	return serve[listeners.Payment](ctx, d, listener, listeners.ValidatePayment)
}

// serve runs the consumer and the observability server until ctx is cancelled
// or either of them fails.
func serve[T any](ctx context.Context, d *deps, handler redelivery.Handler[T], validator redelivery.Validator[T]) error {
	recoverer, err := deadletter.NewRecoverer[T](d.publisher, d.router, nil, d.logger)
	if err != nil {
		return err
	}
	consumer, err := kafkabatch.NewConsumer(d.cfg.ConsumerConfig(), nil, redelivery.EngineConfig[T]{
		Handler:   handler,
		Recoverer: recoverer,
		Validator: validator,
		Backoff:   d.cfg.BackoffPolicy(),
		Metrics:   d.metrics,
	}, d.logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	server := observability.NewServer(d.cfg.HTTP.ListenAddr, observability.FromTracker(consumer.Engine().Tracker()), d.registry, d.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return consumer.Run(gctx)
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	return g.Wait()
}
