// Package ports defines the interfaces that connect the application layer
// to infrastructure adapters and to each other.
//
// # Port Interfaces
//
//   - [Clock]: time source for bounded waits
//   - [Mover]: issues confirmed actuator moves
//   - [PositionReader]: read access to the position ledger
//   - [MoveFeed]: subscription to confirmed moves
//
// The bus connection itself is described by bus.Conn, which mirrors the
// periph.io i2c.Bus transaction method so that a periph bus can be passed
// in directly.
package ports
