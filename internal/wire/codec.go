// Package wire encodes and decodes the frames exchanged with the actuator
// controller.
//
// A command frame is exactly CommandSize bytes:
//
//	+------------+----------------------------+
//	| actuator   | delta (mm)                 |
//	| uint8      | IEEE-754 float32           |
//	+------------+----------------------------+
//
// in one byte order agreed for the whole deployment. There is no version
// field and no checksum. An acknowledgment is the two ASCII bytes "OK".
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/MikeHennessy/suntrack/internal/domain"
)

const (
	// CommandSize is the length of a command frame.
	CommandSize = 5
	// AckSize is the length of an acknowledgment frame.
	AckSize = 2
)

var ackFrame = [AckSize]byte{'O', 'K'}

// AckStatus is the decoded content of an acknowledgment.
type AckStatus int

const (
	// AckOK means the controller accepted and executed the command.
	AckOK AckStatus = iota + 1
)

func (s AckStatus) String() string {
	if s == AckOK {
		return "OK"
	}
	return "Unknown"
}

// ParseByteOrder parses "big" or "little".
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "big", "be":
		return binary.BigEndian, nil
	case "little", "le":
		return binary.LittleEndian, nil
	}
	return nil, fmt.Errorf("unknown byte order %q (want big or little)", s)
}

// Codec validates and encodes command frames for a fixed actuator set.
type Codec struct {
	order     binary.ByteOrder
	actuators domain.ActuatorSet
}

// NewCodec returns a codec for the given byte order and actuators. A nil
// order means big-endian.
func NewCodec(order binary.ByteOrder, actuators []domain.Actuator) *Codec {
	if order == nil {
		order = binary.BigEndian
	}
	return &Codec{order: order, actuators: domain.NewActuatorSet(actuators)}
}

// Order returns the byte order used for the delta field.
func (c *Codec) Order() binary.ByteOrder { return c.order }

// EncodeCommand validates the command and returns its frame. This is the
// only input validation boundary before bytes reach the bus.
func (c *Codec) EncodeCommand(id domain.ActuatorID, deltaMM float32) ([]byte, error) {
	a, ok := c.actuators[id]
	if !ok {
		return nil, fmt.Errorf("encode command: actuator %d: %w", id, domain.ErrUnknownActuator)
	}
	d := float64(deltaMM)
	if math.IsInf(d, 0) || !a.Range.Contains(d) {
		return nil, fmt.Errorf("encode command: delta %g outside %s: %w", d, a.Range, domain.ErrOutOfRange)
	}
	frame := make([]byte, CommandSize)
	frame[0] = byte(id)
	c.order.PutUint32(frame[1:], math.Float32bits(deltaMM))
	return frame, nil
}

// DecodeCommand is the reference decoder for command frames. It performs no
// range validation; the controller side is expected to trust the host.
func DecodeCommand(order binary.ByteOrder, frame []byte) (domain.ActuatorID, float32, error) {
	if len(frame) != CommandSize {
		return 0, 0, fmt.Errorf("decode command: length %d, want %d: %w", len(frame), CommandSize, domain.ErrMalformedFrame)
	}
	if order == nil {
		order = binary.BigEndian
	}
	return domain.ActuatorID(frame[0]), math.Float32frombits(order.Uint32(frame[1:])), nil
}

// EncodeAck returns the acknowledgment frame.
func EncodeAck() []byte {
	b := ackFrame
	return b[:]
}

// DecodeAck accepts exactly the "OK" frame. Any other length or content is
// ErrMalformedFrame.
func DecodeAck(frame []byte) (AckStatus, error) {
	if len(frame) != AckSize {
		return 0, fmt.Errorf("decode ack: length %d, want %d: %w", len(frame), AckSize, domain.ErrMalformedFrame)
	}
	if frame[0] != ackFrame[0] || frame[1] != ackFrame[1] {
		return 0, fmt.Errorf("decode ack: unexpected bytes % x: %w", frame, domain.ErrMalformedFrame)
	}
	return AckOK, nil
}
