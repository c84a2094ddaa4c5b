package protocol

import "fmt"

// NoZeroTarget in the first record byte means no motor is re-zeroed.
const NoZeroTarget = 0

// RecordLen returns the byte length of a streamed record for motorCount motors.
func RecordLen(motorCount int) int {
	return 1 + angleParamLen*motorCount
}

// EncodeRecord builds a multi-motor streamed record. zeroTarget is
// NoZeroTarget or the 1-based index of the motor whose current position
// becomes its new zero. Angles follow in motor order, two bytes each.
func EncodeRecord(zeroTarget byte, angles []Angle) []byte {
	buf := make([]byte, 0, RecordLen(len(angles)))
	buf = append(buf, zeroTarget)
	for _, a := range angles {
		hi, lo := SplitAngle(a)
		buf = append(buf, hi, lo)
	}
	return buf
}

// DecodeRecord parses a streamed record for motorCount motors.
func DecodeRecord(data []byte, motorCount int) (zeroTarget byte, angles []Angle, err error) {
	if want := RecordLen(motorCount); len(data) != want {
		return 0, nil, fmt.Errorf("%w: record for %d motors is %d bytes, have %d", ErrMalformedFrame, motorCount, want, len(data))
	}
	angles = make([]Angle, motorCount)
	for i := range angles {
		off := 1 + angleParamLen*i
		angles[i] = JoinAngle(data[off], data[off+1])
	}
	return data[0], angles, nil
}
