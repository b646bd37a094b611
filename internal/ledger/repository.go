package ledger

import (
	"context"

	"github.com/MikeHennessy/suntrack/internal/domain"
)

// Repository persists the position mapping.
type Repository interface {
	// Load retrieves the last saved mapping.
	// Returns an empty mapping and nil error if nothing was saved yet.
	// Returns an error wrapping domain.ErrMalformedLedger when the record
	// exists but cannot be parsed.
	Load(ctx context.Context) (domain.Positions, error)

	// Save replaces the durable mapping as a whole. A crash during Save
	// must leave either the previous or the new mapping, never a mix.
	Save(ctx context.Context, positions domain.Positions) error
}
