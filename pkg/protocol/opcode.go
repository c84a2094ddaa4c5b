// Package protocol implements the tendon controller wire format.
//
// A request frame is the motor id, the opcode and the opcode's parameters.
// A reply frame is a status byte followed by the reply parameters. Multi-byte
// values are big-endian.
package protocol

import "fmt"

// Opcode selects the operation the controller firmware performs.
// The numeric values are part of the wire format and must never change.
type Opcode byte

const (
	OpEcho         Opcode = 0
	OpReadStatus   Opcode = 1
	OpReadAngle    Opcode = 2
	OpWriteAngle   Opcode = 3
	OpWritePID     Opcode = 4
	OpSetZeroAngle Opcode = 5
	OpSetMaxAngle  Opcode = 6
)

// Parameter byte counts.
const (
	percentParamLen = 1
	angleParamLen   = 2
	pidParamLen     = 6
)

func (op Opcode) String() string {
	switch op {
	case OpEcho:
		return "echo"
	case OpReadStatus:
		return "read_status"
	case OpReadAngle:
		return "read_angle"
	case OpWriteAngle:
		return "write_angle"
	case OpWritePID:
		return "write_pid"
	case OpSetZeroAngle:
		return "set_zero_angle"
	case OpSetMaxAngle:
		return "set_max_angle"
	default:
		return fmt.Sprintf("opcode(%d)", byte(op))
	}
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	return op <= OpSetMaxAngle
}

// acceptsParamLen reports whether n parameter bytes are legal for op.
// WriteAngle carries either an absolute angle (2 bytes) or a percentage of
// the configured maximum (1 byte).
func (op Opcode) acceptsParamLen(n int) bool {
	switch op {
	case OpEcho, OpReadStatus, OpReadAngle, OpSetZeroAngle:
		return n == 0
	case OpWriteAngle:
		return n == angleParamLen || n == percentParamLen
	case OpSetMaxAngle:
		return n == angleParamLen
	case OpWritePID:
		return n == pidParamLen
	default:
		return false
	}
}

// ReplyParamLen returns the number of parameter bytes that follow the status
// byte in a reply to op.
func ReplyParamLen(op Opcode) int {
	switch op {
	case OpReadAngle:
		return angleParamLen
	case OpReadStatus:
		return 1
	default:
		return 0
	}
}

// Status is the result code carried by the first byte of every reply.
type Status byte

// Status codes reported by the controller firmware.
const (
	StatusSuccess          Status = 0
	StatusFail             Status = 1
	StatusInstructionError Status = 2
	StatusCRCError         Status = 3
	StatusIDError          Status = 4
	StatusParamError       Status = 5
)

// OK reports whether the status signals success.
func (s Status) OK() bool {
	return s == StatusSuccess
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFail:
		return "fail"
	case StatusInstructionError:
		return "instruction error"
	case StatusCRCError:
		return "crc error"
	case StatusIDError:
		return "id error"
	case StatusParamError:
		return "param error"
	default:
		return fmt.Sprintf("status 0x%02X", byte(s))
	}
}
