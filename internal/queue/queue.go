package queue

import (
	"context"
)

// Queue defines the interface for the delivery spool
type Queue interface {
	// Enqueue adds a message to the spool
	Enqueue(ctx context.Context, msg *Message) error

	// Dequeue gets the next pending message for delivery
	// Returns nil, nil if nothing is pending
	Dequeue(ctx context.Context) (*Message, error)

	// Update updates the message status
	Update(ctx context.Context, msg *Message) error

	// Get retrieves a message by ID
	Get(ctx context.Context, id string) (*Message, error)

	// Stats returns spool statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the storage
	Close() error
}
