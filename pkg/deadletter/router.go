package deadletter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-redelivery/pkg/types"
)

// PartitionAny asks the publisher to use its default partitioning.
const PartitionAny int32 = -1

// DefaultSuffix is appended to a source topic when no explicit mapping exists.
const DefaultSuffix = "-dlq"

// ErrNoTopicMapping is returned when a source topic has no quarantine destination.
var ErrNoTopicMapping = errors.New("no dead-letter topic mapping")

// Destination is where a quarantined message is published.
type Destination struct {
	Topic     string
	Partition int32
}

// RouterConfig describes the deployment's quarantine topology.
type RouterConfig struct {
	// TopicMapping maps source topics to quarantine topics.
	TopicMapping map[string]string
	// Suffix derives a quarantine topic for unmapped sources. Empty disables it.
	Suffix string
	// PartitionCounts holds the known partition count of quarantine topics.
	// Without an entry, the publisher's default partitioning is used.
	PartitionCounts map[string]int32
}

// Router resolves the quarantine destination for a message. Partition counts
// may be updated at runtime (for instance after provisioning); it is safe for
// concurrent use.
type Router struct {
	mapping map[string]string
	suffix  string

	mu     sync.RWMutex
	counts map[string]int32
}

// NewRouter creates a Router from cfg.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		mapping: make(map[string]string, len(cfg.TopicMapping)),
		suffix:  cfg.Suffix,
		counts:  make(map[string]int32, len(cfg.PartitionCounts)),
	}
	for src, dst := range cfg.TopicMapping {
		r.mapping[src] = dst
	}
	for topic, n := range cfg.PartitionCounts {
		r.counts[topic] = n
	}
	return r
}

// SetPartitionCount records the partition count of a quarantine topic.
func (r *Router) SetPartitionCount(topic string, partitions int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[topic] = partitions
}

// Topic returns the quarantine topic for a source topic.
func (r *Router) Topic(source string) (string, error) {
	if dst, ok := r.mapping[source]; ok && dst != "" {
		return dst, nil
	}
	if r.suffix != "" {
		return source + r.suffix, nil
	}
	return "", fmt.Errorf("%w for topic %q", ErrNoTopicMapping, source)
}

// Resolve returns the destination for msg. The source partition is mirrored
// when the quarantine topic is known to have enough partitions.
func (r *Router) Resolve(msg types.ConsumedMessage) (Destination, error) {
	topic, err := r.Topic(msg.Topic)
	if err != nil {
		return Destination{}, err
	}
	dest := Destination{Topic: topic, Partition: PartitionAny}

	r.mu.RLock()
	count, known := r.counts[topic]
	r.mu.RUnlock()
	if known && msg.Partition >= 0 && msg.Partition < count {
		dest.Partition = msg.Partition
	}
	return dest, nil
}
