package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// archive stores dead-letter records for the admin tools.
type archive interface {
	Save(ctx context.Context, rec model.DeadLetterRecord) error
}

// Handler archives dead-letter messages read from Kafka.
type Handler struct {
	archive archive
}

// NewHandler creates a new handler with the given archive.
func NewHandler(a archive) *Handler {
	return &Handler{archive: a}
}

// Handle unmarshals the record and saves it.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var rec model.DeadLetterRecord
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		return fmt.Errorf("unmarshal dead letter: %w", err)
	}

	if err := h.archive.Save(ctx, rec); err != nil {
		return fmt.Errorf("archive dead letter: %w", err)
	}

	zlog.Logger.Info().
		Str("job_id", rec.JobID.String()).
		Str("error", rec.Error).
		Msg("dead letter archived")

	return nil
}
