// Package ledger keeps the durable record of actuator positions.
//
// The ledger is the single source of truth for where each actuator is
// across restarts. It only changes after the controller acknowledged a
// move, and every change rewrites the whole mapping atomically.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MikeHennessy/suntrack/internal/domain"
	"github.com/MikeHennessy/suntrack/pkg/log"
)

// Ledger is the in-memory view of the durable position record.
type Ledger struct {
	repo      Repository
	actuators domain.ActuatorSet
	logger    log.Logger

	mu        sync.Mutex
	positions domain.Positions
}

// New creates a ledger for the configured actuators, all at 0.0 until Load.
func New(repo Repository, actuators []domain.Actuator, logger log.Logger) *Ledger {
	set := domain.NewActuatorSet(actuators)
	positions := make(domain.Positions, len(set))
	for id := range set {
		positions[id] = 0
	}
	return &Ledger{
		repo:      repo,
		actuators: set,
		logger:    log.OrNoop(logger),
		positions: positions,
	}
}

// Load populates the ledger from the repository and returns the resulting
// mapping. Actuators without a record start at 0.0. A malformed record is
// logged and reset to all zeros. Other read errors are returned and leave
// the ledger unchanged.
func (l *Ledger) Load(ctx context.Context) (domain.Positions, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, err := l.repo.Load(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrMalformedLedger) {
			return nil, fmt.Errorf("load ledger: %w", err)
		}
		l.logger.Warn("ledger record is malformed, resetting all actuators to 0", log.Err(err))
		stored = domain.Positions{}
	}

	positions := make(domain.Positions, len(l.actuators))
	for id := range l.actuators {
		positions[id] = stored[id]
	}
	for id := range stored {
		if _, ok := l.actuators[id]; !ok {
			l.logger.Warn("dropping ledger record for unconfigured actuator", log.Uint8("actuator", uint8(id)))
		}
	}
	l.positions = positions
	return positions.Clone(), nil
}

// Apply adds deltaMM to the actuator's position, persists the full mapping
// and returns the new position. On a persist failure the in-memory value
// stays at the last durable value and the error wraps domain.ErrLedgerIO.
func (l *Ledger) Apply(ctx context.Context, id domain.ActuatorID, deltaMM float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.actuators[id]; !ok {
		return 0, fmt.Errorf("apply: actuator %d: %w", id, domain.ErrUnknownActuator)
	}
	next := l.positions.Clone()
	next[id] += deltaMM

	if err := l.repo.Save(ctx, next); err != nil {
		return l.positions[id], fmt.Errorf("%w: apply %+g mm to actuator %d: %w", domain.ErrLedgerIO, deltaMM, id, err)
	}
	l.positions = next
	return next[id], nil
}

// CurrentPosition returns the last durable position of an actuator.
func (l *Ledger) CurrentPosition(id domain.ActuatorID) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.positions[id]
	if !ok {
		return 0, fmt.Errorf("position: actuator %d: %w", id, domain.ErrUnknownActuator)
	}
	return v, nil
}

// Snapshot returns a copy of all positions.
func (l *Ledger) Snapshot() domain.Positions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positions.Clone()
}

// Persist writes positions over the current mapping, for example after the
// rig was homed by hand. Actuators not present in positions keep their
// value. Unknown actuators and non-finite values are rejected before
// anything is written.
func (l *Ledger) Persist(ctx context.Context, positions domain.Positions) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.positions.Clone()
	for id, v := range positions {
		if _, ok := l.actuators[id]; !ok {
			return fmt.Errorf("persist: actuator %d: %w", id, domain.ErrUnknownActuator)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("persist: actuator %d position %v: %w", id, v, domain.ErrOutOfRange)
		}
		next[id] = v
	}
	if err := l.repo.Save(ctx, next); err != nil {
		return fmt.Errorf("%w: persist: %w", domain.ErrLedgerIO, err)
	}
	l.positions = next
	return nil
}
