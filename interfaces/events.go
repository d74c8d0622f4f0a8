package interfaces

import (
	"context"

	"github.com/mailriver/mailriver/dto"
)

// EventPublisher fans first-seen index entries out to downstream consumers.
type EventPublisher interface {
	PublishMessageIndexed(ctx context.Context, event dto.MessageIndexed) error
	Close() error
}
