package producer

import (
	"context"
	"encoding/json"
	"fmt"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/generation-pipeline/internal/config"
	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// Producer writes dead-letter records to the dead-letter topic.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
}

// New creates a new Producer.
// - cfg: Kafka configuration struct
// - s: retry strategy
func New(cfg *config.Kafka, s retry.Strategy) *Producer {
	return &Producer{
		Client:   wbfkafka.NewProducer(cfg.Brokers, cfg.DeadLetterTopic),
		strategy: s,
	}
}

// Append serializes the record to JSON and sends it to Kafka.
// The job ID is used as the message key so duplicates land on one partition.
func (p *Producer) Append(ctx context.Context, rec model.DeadLetterRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	key := []byte(rec.JobID.String())

	if err := p.Client.SendWithRetry(ctx, p.strategy, key, data); err != nil {
		return fmt.Errorf("failed to send dead letter: %w", err)
	}

	return nil
}

// Close closes the underlying client.
func (p *Producer) Close() error {
	return p.Client.Close()
}
