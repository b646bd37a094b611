// Package domain contains the core entities and value objects for suntrack.
//
// This package has no dependencies on infrastructure concerns (bus access,
// file system, logging) and contains only the rules shared by every layer.
//
// # Entities
//
//   - [Actuator]: a configured actuator (id, mux channel, valid delta range)
//   - [Positions]: the actuator position mapping owned by the ledger
//   - [MoveCommand]: one intended move, transient for the duration of a Move
//   - [MoveResult]: the outcome of a confirmed move
//   - [LinkState]: the state machine of a single Move
//
// Errors returned across package boundaries are defined in errors.go and
// can be checked with errors.Is.
package domain
