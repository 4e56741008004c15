package processor

import (
	"context"

	"l4book/models"
)

// Source yields decoded frames for one market subscription in arrival
// order. Next blocks until a frame is available. It returns io.EOF when a
// finite subscription ends and any other error when the transport fails.
// A source is restarted by resubscribing, never by calling Next again after
// an error.
type Source interface {
	Next(ctx context.Context) (models.Frame, error)
	Close() error
}
