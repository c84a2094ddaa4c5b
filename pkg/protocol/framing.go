package protocol

import (
	"fmt"

	"github.com/sigurn/crc16"
)

// Framing selects how frames are delimited on a byte stream.
type Framing int

const (
	// FramingRaw sends frames as-is. Reply length is implied by the opcode.
	FramingRaw Framing = iota

	// FramingChecked wraps every frame in the firmware envelope:
	//
	//	[0xFF][0x00][len][id][opcode][payload...][crc hi][crc lo]
	//
	// where len counts id, opcode, payload and the two CRC bytes, and the
	// CRC-16 (poly 0x8005, init 0) covers everything before it.
	FramingChecked
)

func (f Framing) String() string {
	switch f {
	case FramingRaw:
		return "raw"
	case FramingChecked:
		return "checked"
	default:
		return fmt.Sprintf("framing(%d)", int(f))
	}
}

// ParseFraming maps a config name to a Framing.
func ParseFraming(name string) (Framing, error) {
	switch name {
	case "", "raw":
		return FramingRaw, nil
	case "checked", "crc":
		return FramingChecked, nil
	default:
		return 0, fmt.Errorf("unknown framing %q", name)
	}
}

// Envelope layout constants.
const (
	envHeader1    = 0xFF
	envHeader2    = 0x00
	EnvPrefixLen  = 3 // header(2) + len(1)
	envCRCLen     = 2
	envOverhead   = 4 // id + opcode + crc(2), counted by len
	maxEnvelopeSz = 32
)

var crcTable = crc16.MakeTable(crc16.CRC16_BUYPASS)

// Checksum returns the envelope CRC of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Wrap puts a payload into a checked envelope for motor id and opcode op.
// For requests the payload is the parameter bytes; for replies it is the
// status byte followed by the reply parameters.
func Wrap(id byte, op Opcode, payload []byte) ([]byte, error) {
	total := EnvPrefixLen + envOverhead + len(payload)
	if total > maxEnvelopeSz {
		return nil, fmt.Errorf("%w: envelope of %d bytes exceeds %d", ErrInvalidParameterLength, total, maxEnvelopeSz)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, envHeader1, envHeader2, byte(envOverhead+len(payload)), id, byte(op))
	buf = append(buf, payload...)

	crc := Checksum(buf)
	return append(buf, byte(crc>>8), byte(crc&0xFF)), nil
}

// WrapRequest wraps a raw request frame produced by Encode.
func WrapRequest(frame []byte) ([]byte, error) {
	if len(frame) < requestHeaderLen {
		return nil, fmt.Errorf("%w: request needs %d bytes, have %d", ErrMalformedFrame, requestHeaderLen, len(frame))
	}
	return Wrap(frame[0], Opcode(frame[1]), frame[requestHeaderLen:])
}

// EnvelopeLen returns the full length of an envelope given its prefix.
func EnvelopeLen(prefix []byte) (int, error) {
	if len(prefix) < EnvPrefixLen {
		return 0, fmt.Errorf("%w: envelope prefix needs %d bytes, have %d", ErrMalformedFrame, EnvPrefixLen, len(prefix))
	}
	if prefix[0] != envHeader1 || prefix[1] != envHeader2 {
		return 0, fmt.Errorf("%w: bad header 0x%02X 0x%02X", ErrMalformedFrame, prefix[0], prefix[1])
	}
	n := int(prefix[2])
	if n < envOverhead || EnvPrefixLen+n > maxEnvelopeSz {
		return 0, fmt.Errorf("%w: bad envelope length %d", ErrMalformedFrame, n)
	}
	return EnvPrefixLen + n, nil
}

// Unwrap validates a checked envelope and returns its id, opcode and payload.
func Unwrap(data []byte) (id byte, op Opcode, payload []byte, err error) {
	total, err := EnvelopeLen(data)
	if err != nil {
		return 0, 0, nil, err
	}
	if len(data) != total {
		return 0, 0, nil, fmt.Errorf("%w: envelope is %d bytes, have %d", ErrMalformedFrame, total, len(data))
	}

	want := Checksum(data[:total-envCRCLen])
	got := uint16(data[total-2])<<8 | uint16(data[total-1])
	if want != got {
		return 0, 0, nil, fmt.Errorf("%w: checksum mismatch: expected 0x%04X, got 0x%04X", ErrMalformedFrame, want, got)
	}

	payload = make([]byte, total-EnvPrefixLen-envOverhead)
	copy(payload, data[EnvPrefixLen+2:total-envCRCLen])
	return data[3], Opcode(data[4]), payload, nil
}
