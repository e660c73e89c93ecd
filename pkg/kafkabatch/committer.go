package kafkabatch

import (
	"context"

	"github.com/illmade-knight/go-redelivery/pkg/types"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Committer commits consumer group offsets synchronously through a franz-go
// client. Committing a message commits its offset plus one, so everything up
// to and including the message is considered consumed.
type Committer struct {
	client *kgo.Client
}

// NewCommitter creates a Committer for a client that is a group member with
// autocommit disabled.
func NewCommitter(client *kgo.Client) *Committer {
	return &Committer{client: client}
}

func (c *Committer) Commit(ctx context.Context, msg types.ConsumedMessage) error {
	return c.client.CommitRecords(ctx, &kgo.Record{
		Topic:       msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		LeaderEpoch: msg.LeaderEpoch,
	})
}
