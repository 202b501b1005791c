package port

import (
	"context"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
)

// EventPublisher ships committed facts to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}
