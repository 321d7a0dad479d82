package event

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/domain/execution"
)

// Publisher forwards appended events to an external channel.
type Publisher interface {
	Publish(ctx context.Context, ev execution.Event) error
}

// Ensure PublishingStore implements execution.Store
var _ execution.Store = (*PublishingStore)(nil)

// PublishingStore decorates a Store and publishes every successfully
// appended event. Publish failures are logged and never fail the append.
type PublishingStore struct {
	execution.Store
	publisher Publisher
	logger    *zap.Logger
}

// NewPublishingStore wraps store with publisher
func NewPublishingStore(store execution.Store, publisher Publisher, logger *zap.Logger) *PublishingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishingStore{
		Store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Append appends to the wrapped store, then publishes the stored event
func (s *PublishingStore) Append(ctx context.Context, executionID uuid.UUID, kind execution.Kind, aggregateID string, payload execution.Payload) (execution.Event, error) {
	ev, err := s.Store.Append(ctx, executionID, kind, aggregateID, payload)
	if err != nil {
		return ev, err
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("Failed to publish execution event",
			zap.String("execution_id", executionID.String()),
			zap.String("kind", kind.String()),
			zap.Int64("sequence", ev.Sequence),
			zap.Error(err),
		)
	}
	return ev, nil
}
