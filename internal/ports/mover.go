package ports

import (
	"context"

	"github.com/MikeHennessy/suntrack/internal/domain"
)

// Mover issues a confirmed actuator move. Both the link and the dispatcher
// queue in front of it satisfy this interface.
type Mover interface {
	// Move commands the actuator to move by deltaMM and returns once the
	// controller acknowledged it or the move failed. The context is honored
	// only until the command reaches the bus.
	Move(ctx context.Context, id domain.ActuatorID, deltaMM float64) (domain.MoveResult, error)
}

// PositionReader exposes ledger positions to outer layers.
type PositionReader interface {
	// CurrentPosition returns the last confirmed position of one actuator.
	CurrentPosition(id domain.ActuatorID) (float64, error)

	// Snapshot returns a copy of every actuator's position.
	Snapshot() domain.Positions
}

// MoveFeed delivers confirmed moves to subscribers.
type MoveFeed interface {
	// Subscribe returns a channel of confirmed moves and a function that
	// cancels the subscription and closes the channel.
	Subscribe() (<-chan domain.MoveResult, func())
}
