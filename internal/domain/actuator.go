package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// ActuatorID identifies an actuator on the controller. It is sent on the wire
// as a single unsigned byte.
type ActuatorID uint8

// Range is a closed interval in millimetres.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies in [Min, Max]. NaN is never contained.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Valid reports whether the range is finite and non-empty.
func (r Range) Valid() bool {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return false
	}
	return r.Min < r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

// Actuator is the static description of one actuator.
type Actuator struct {
	ID ActuatorID
	// Channel is the mux channel the controller for this actuator sits behind.
	Channel int
	// Range bounds the delta accepted for a single move.
	Range Range
}

// ActuatorSet indexes actuators by id.
type ActuatorSet map[ActuatorID]Actuator

// NewActuatorSet builds a set from a list. Later duplicates win; callers are
// expected to have validated uniqueness.
func NewActuatorSet(actuators []Actuator) ActuatorSet {
	set := make(ActuatorSet, len(actuators))
	for _, a := range actuators {
		set[a.ID] = a
	}
	return set
}

// IDs returns the ids in ascending order.
func (s ActuatorSet) IDs() []ActuatorID {
	ids := make([]ActuatorID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Positions maps actuators to their cumulative position in millimetres.
type Positions map[ActuatorID]float64

// Clone returns an independent copy.
func (p Positions) Clone() Positions {
	out := make(Positions, len(p))
	for id, v := range p {
		out[id] = v
	}
	return out
}

// IDs returns the ids in ascending order.
func (p Positions) IDs() []ActuatorID {
	ids := make([]ActuatorID, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MoveCommand is a single intended move. DeltaMM is an increment, not an
// absolute position.
type MoveCommand struct {
	Actuator ActuatorID
	DeltaMM  float64
	IssuedAt time.Time
}

// MoveResult describes a move the controller acknowledged.
type MoveResult struct {
	Command MoveCommand
	// PositionMM is the ledger position after the move was applied.
	PositionMM float64
	// Polls is the number of ack reads it took.
	Polls   int
	Elapsed time.Duration
}
