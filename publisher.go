package opqueue

import (
	"context"
	"fmt"
)

// NATSPublisher is the narrow publish interface used when replaying
// operations to NATS. *nats.Conn satisfies it.
type NATSPublisher interface {
	Publish(subject string, data []byte) error
}

// Publisher replays operations to NATS subjects derived from their type.
// Register its Handle method with Engine.OnSync; a publish failure counts
// as a failed attempt for the operation.
type Publisher struct {
	nc NATSPublisher
}

// NewPublisher creates a replay publisher over nc.
func NewPublisher(nc NATSPublisher) *Publisher {
	return &Publisher{nc: nc}
}

// Handle publishes op's payload to the subject for its type.
func (p *Publisher) Handle(_ context.Context, op Operation) error {
	subject := SubjectForType(op.Type)
	if err := p.nc.Publish(subject, op.Payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}
