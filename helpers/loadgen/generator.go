package loadgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Source is one simulated producer. Its id is used as the record key, so all
// of a source's records land on the same partition in order.
type Source struct {
	ID               string
	MessageRate      float64
	PayloadGenerator PayloadGenerator
}

// LoadGenerator drives traffic from a set of sources at their configured rates.
type LoadGenerator struct {
	client         Client
	sources        []*Source
	logger         zerolog.Logger
	publishedCount int64
}

// NewLoadGenerator creates a new LoadGenerator.
func NewLoadGenerator(client Client, sources []*Source, logger zerolog.Logger) *LoadGenerator {
	return &LoadGenerator{
		client:  client,
		sources: sources,
		logger:  logger.With().Str("component", "LoadGenerator").Logger(),
	}
}

// Run publishes until duration elapses or ctx is cancelled and returns the
// number of records the broker accepted.
func (lg *LoadGenerator) Run(ctx context.Context, duration time.Duration) (int, error) {
	atomic.StoreInt64(&lg.publishedCount, 0)
	lg.logger.Info().Int("num_sources", len(lg.sources)).Dur("duration", duration).Msg("Starting load generator")

	if err := lg.client.Connect(); err != nil {
		lg.logger.Error().Err(err).Msg("Failed to connect client")
		return 0, err
	}
	defer lg.client.Disconnect()

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var wg sync.WaitGroup
	for _, source := range lg.sources {
		wg.Add(1)
		go func(s *Source) {
			defer wg.Done()
			lg.runSource(runCtx, s)
		}(source)
	}

	wg.Wait()
	finalCount := int(atomic.LoadInt64(&lg.publishedCount))
	lg.logger.Info().Int("successful_publishes", finalCount).Msg("Load generator finished")
	return finalCount, nil
}

func (lg *LoadGenerator) runSource(ctx context.Context, source *Source) {
	if source.MessageRate <= 0 {
		lg.logger.Warn().Str("source_id", source.ID).Msg("Source has a message rate of 0, no messages will be sent")
		return
	}

	interval := time.Duration(float64(time.Second) / source.MessageRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lg.logger.Debug().Str("source_id", source.ID).Float64("rate_hz", source.MessageRate).Dur("interval", interval).Msg("Source starting")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := source.PayloadGenerator.GeneratePayload(source)
			if err != nil {
				lg.logger.Error().Err(err).Str("source_id", source.ID).Msg("Failed to generate payload")
				continue
			}
			if ok, err := lg.client.Publish(ctx, []byte(source.ID), payload); err != nil {
				lg.logger.Error().Err(err).Str("source_id", source.ID).Msg("Failed to publish message")
			} else if ok {
				atomic.AddInt64(&lg.publishedCount, 1)
			}
		}
	}
}
