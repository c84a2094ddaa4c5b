package protocol

import "fmt"

// Angle is a signed motor angle in degrees, carried on the wire as a
// big-endian two's-complement 16-bit value.
type Angle int16

// Conventional angle limits. The wire format does not enforce them; callers
// validate before encoding.
const (
	MinAngle = -360
	MaxAngle = 360
)

// Percent is an angle expressed as a percentage (0-100) of the motor's
// configured maximum. The firmware resolves it to an absolute angle.
type Percent uint8

// MaxPercent is the largest valid Percent.
const MaxPercent = 100

// SplitAngle returns the high and low bytes of a.
func SplitAngle(a Angle) (hi, lo byte) {
	return byte((int(a) >> 8) & 0xFF), byte(int(a) & 0xFF)
}

// JoinAngle reassembles an angle from its high and low bytes.
func JoinAngle(hi, lo byte) Angle {
	return Angle(int16(uint16(hi)<<8 | uint16(lo&0xFF)))
}

// EncodeAngle returns the two-byte wire form of a.
func EncodeAngle(a Angle) []byte {
	hi, lo := SplitAngle(a)
	return []byte{hi, lo}
}

// DecodeAngle reads an angle from the first two bytes of data.
func DecodeAngle(data []byte) (Angle, error) {
	if len(data) < angleParamLen {
		return 0, fmt.Errorf("%w: angle needs %d bytes, have %d", ErrMalformedFrame, angleParamLen, len(data))
	}
	return JoinAngle(data[0], data[1]), nil
}

// ValidAngle reports whether a is within the conventional [-360, 360] range.
func ValidAngle(a int) bool {
	return a >= MinAngle && a <= MaxAngle
}

// CheckAngle converts a to an Angle, failing with ErrOutOfRange outside
// the conventional range.
func CheckAngle(a int) (Angle, error) {
	if !ValidAngle(a) {
		return 0, fmt.Errorf("%w: angle %d not in [%d, %d]", ErrOutOfRange, a, MinAngle, MaxAngle)
	}
	return Angle(a), nil
}

// CheckPercent converts p to a Percent, failing with ErrOutOfRange outside [0, 100].
func CheckPercent(p int) (Percent, error) {
	if p < 0 || p > MaxPercent {
		return 0, fmt.Errorf("%w: percent %d not in [0, %d]", ErrOutOfRange, p, MaxPercent)
	}
	return Percent(p), nil
}

// EncodePercent returns the single-byte wire form of p. The value is not
// rescaled.
func EncodePercent(p Percent) ([]byte, error) {
	if p > MaxPercent {
		return nil, fmt.Errorf("%w: percent %d not in [0, %d]", ErrOutOfRange, p, MaxPercent)
	}
	return []byte{byte(p)}, nil
}
