package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-redelivery/pkg/deadletter"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TopicSpec describes a topic to create.
type TopicSpec struct {
	Name              string            `yaml:"name"`
	Partitions        int32             `yaml:"partitions"`
	ReplicationFactor int16             `yaml:"replication_factor"`
	Configs           map[string]string `yaml:"configs"`
}

// ResourcesSpec lists the topics of a deployment. Quarantine topics for the
// sources are derived through the Router and need not be listed.
type ResourcesSpec struct {
	Sources []TopicSpec `yaml:"sources"`
	// Replies are topics the listeners answer on, such as invoice responses.
	Replies []TopicSpec `yaml:"replies"`
}

// TopicManager handles the creation, verification and deletion of Kafka topics.
type TopicManager struct {
	adm    *kadm.Client
	router *deadletter.Router
	logger zerolog.Logger
}

// NewTopicManager creates a TopicManager over an existing client. The router
// resolves quarantine topic names and receives their partition counts.
func NewTopicManager(client *kgo.Client, router *deadletter.Router, logger zerolog.Logger) (*TopicManager, error) {
	if client == nil {
		return nil, errors.New("kafka client cannot be nil")
	}
	if router == nil {
		return nil, errors.New("dead-letter router cannot be nil")
	}
	return &TopicManager{
		adm:    kadm.NewClient(client),
		router: router,
		logger: logger.With().Str("subcomponent", "TopicManager").Logger(),
	}, nil
}

// Setup creates the source and reply topics, then a quarantine topic for each
// source with the same partition count, so recovered records can keep their
// source partition.
func (m *TopicManager) Setup(ctx context.Context, resources ResourcesSpec) error {
	m.logger.Info().Int("sources", len(resources.Sources)).Int("replies", len(resources.Replies)).Msg("Starting topic setup")

	for _, spec := range append(append([]TopicSpec{}, resources.Sources...), resources.Replies...) {
		if err := m.ensureTopic(ctx, spec); err != nil {
			return err
		}
	}

	for _, src := range resources.Sources {
		if err := m.MirrorDeadLetterTopic(ctx, src.Name, src.ReplicationFactor); err != nil {
			return err
		}
	}
	m.logger.Info().Msg("Topic setup completed successfully")
	return nil
}

// MirrorDeadLetterTopic creates or grows the quarantine topic of source so it
// has at least as many partitions as source, and records the count in the router.
func (m *TopicManager) MirrorDeadLetterTopic(ctx context.Context, source string, replicationFactor int16) error {
	dlq, err := m.router.Topic(source)
	if err != nil {
		return err
	}
	details, err := m.adm.ListTopics(ctx, source, dlq)
	if err != nil {
		return fmt.Errorf("failed to describe topics %s and %s: %w", source, dlq, err)
	}
	srcDetail, ok := details[source]
	if !ok || srcDetail.Err != nil {
		return fmt.Errorf("source topic '%s' does not exist", source)
	}
	want := int32(len(srcDetail.Partitions))

	dlqDetail, exists := details[dlq]
	switch {
	case !exists || errors.Is(dlqDetail.Err, kerr.UnknownTopicOrPartition):
		if err := m.ensureTopic(ctx, TopicSpec{Name: dlq, Partitions: want, ReplicationFactor: replicationFactor}); err != nil {
			return err
		}
	case dlqDetail.Err != nil:
		return fmt.Errorf("failed to describe dead-letter topic '%s': %w", dlq, dlqDetail.Err)
	case int32(len(dlqDetail.Partitions)) < want:
		m.logger.Info().Str("topic", dlq).Int("from", len(dlqDetail.Partitions)).Int32("to", want).Msg("Growing dead-letter topic to match source partitions")
		resp, err := m.adm.UpdatePartitions(ctx, int(want), dlq)
		if err != nil {
			return fmt.Errorf("failed to add partitions to '%s': %w", dlq, err)
		}
		for _, r := range resp {
			if r.Err != nil {
				return fmt.Errorf("failed to add partitions to '%s': %w", r.Topic, r.Err)
			}
		}
	default:
		want = int32(len(dlqDetail.Partitions))
	}

	m.router.SetPartitionCount(dlq, want)
	m.logger.Info().Str("source", source).Str("dlq_topic", dlq).Int32("partitions", want).Msg("Dead-letter topic mirrors source partitions")
	return nil
}

func (m *TopicManager) ensureTopic(ctx context.Context, spec TopicSpec) error {
	if spec.Name == "" {
		m.logger.Error().Msg("Skipping topic with empty name")
		return nil
	}
	partitions := spec.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	rf := spec.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}
	var configs map[string]*string
	if len(spec.Configs) > 0 {
		configs = make(map[string]*string, len(spec.Configs))
		for k, v := range spec.Configs {
			configs[k] = kadm.StringPtr(v)
		}
	}

	resp, err := m.adm.CreateTopics(ctx, partitions, rf, configs, spec.Name)
	if err != nil {
		return fmt.Errorf("failed to create topic '%s': %w", spec.Name, err)
	}
	for _, r := range resp {
		switch {
		case r.Err == nil:
			m.logger.Info().Str("topic", r.Topic).Int32("partitions", partitions).Msg("Topic created successfully")
		case errors.Is(r.Err, kerr.TopicAlreadyExists):
			m.logger.Info().Str("topic", r.Topic).Msg("Topic already exists")
		default:
			return fmt.Errorf("failed to create topic '%s': %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Verify checks that every source has a quarantine topic with at least as many
// partitions, and that reply topics exist.
func (m *TopicManager) Verify(ctx context.Context, resources ResourcesSpec) error {
	names := make([]string, 0, 2*len(resources.Sources)+len(resources.Replies))
	for _, src := range resources.Sources {
		dlq, err := m.router.Topic(src.Name)
		if err != nil {
			return err
		}
		names = append(names, src.Name, dlq)
	}
	for _, r := range resources.Replies {
		names = append(names, r.Name)
	}
	details, err := m.adm.ListTopics(ctx, names...)
	if err != nil {
		return fmt.Errorf("failed to describe topics: %w", err)
	}

	var errs []error
	for _, name := range names {
		d, ok := details[name]
		if !ok || d.Err != nil {
			errs = append(errs, fmt.Errorf("topic '%s' not found", name))
		}
	}
	for _, src := range resources.Sources {
		dlq, _ := m.router.Topic(src.Name)
		s, d := details[src.Name], details[dlq]
		if s.Err == nil && d.Err == nil && len(d.Partitions) < len(s.Partitions) {
			errs = append(errs, fmt.Errorf("dead-letter topic '%s' has %d partitions, source '%s' has %d", dlq, len(d.Partitions), src.Name, len(s.Partitions)))
		}
	}
	return errors.Join(errs...)
}

// Teardown deletes the source, quarantine and reply topics.
func (m *TopicManager) Teardown(ctx context.Context, resources ResourcesSpec) error {
	var names []string
	for _, src := range resources.Sources {
		names = append(names, src.Name)
		if dlq, err := m.router.Topic(src.Name); err == nil {
			names = append(names, dlq)
		}
	}
	for _, r := range resources.Replies {
		names = append(names, r.Name)
	}
	m.logger.Info().Strs("topics", names).Msg("Deleting topics")

	resp, err := m.adm.DeleteTopics(ctx, names...)
	if err != nil {
		return fmt.Errorf("failed to delete topics: %w", err)
	}
	var errs []error
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.UnknownTopicOrPartition) {
			errs = append(errs, fmt.Errorf("failed to delete topic '%s': %w", r.Topic, r.Err))
		}
	}
	return errors.Join(errs...)
}
