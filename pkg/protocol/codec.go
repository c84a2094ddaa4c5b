package protocol

import "fmt"

// Frame header sizes.
const (
	requestHeaderLen = 2 // motor id + opcode
	replyHeaderLen   = 1 // status
)

// Request is an outbound frame before encoding.
type Request struct {
	MotorID byte
	Opcode  Opcode
	Params  []byte
}

// Reply is a decoded inbound frame.
type Reply struct {
	Status Status
	Params []byte
}

// Encode builds the wire form of a request frame: {id, opcode, params...}.
// The parameter count must match what the opcode accepts.
func Encode(id byte, op Opcode, params []byte) ([]byte, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown %s", ErrInvalidParameterLength, op)
	}
	if !op.acceptsParamLen(len(params)) {
		return nil, fmt.Errorf("%w: %s does not take %d bytes", ErrInvalidParameterLength, op, len(params))
	}

	buf := make([]byte, 0, requestHeaderLen+len(params))
	buf = append(buf, id, byte(op))
	buf = append(buf, params...)
	return buf, nil
}

// EncodeRequest is Encode for a Request value.
func EncodeRequest(req Request) ([]byte, error) {
	return Encode(req.MotorID, req.Opcode, req.Params)
}

// DecodeRequest parses a request frame. It is the inverse of Encode and is
// used by tests and by tooling that inspects captured traffic.
func DecodeRequest(data []byte) (Request, error) {
	if len(data) < requestHeaderLen {
		return Request{}, fmt.Errorf("%w: request needs %d bytes, have %d", ErrMalformedFrame, requestHeaderLen, len(data))
	}
	req := Request{
		MotorID: data[0],
		Opcode:  Opcode(data[1]),
	}
	if n := len(data) - requestHeaderLen; n > 0 {
		req.Params = make([]byte, n)
		copy(req.Params, data[requestHeaderLen:])
	}
	if !req.Opcode.acceptsParamLen(len(req.Params)) {
		return Request{}, fmt.Errorf("%w: %s does not take %d bytes", ErrInvalidParameterLength, req.Opcode, len(req.Params))
	}
	return req, nil
}

// Decode parses a reply frame: {status, params...}.
func Decode(data []byte) (Reply, error) {
	if len(data) < replyHeaderLen {
		return Reply{}, fmt.Errorf("%w: reply needs %d byte, have %d", ErrMalformedFrame, replyHeaderLen, len(data))
	}
	r := Reply{Status: Status(data[0])}
	if n := len(data) - replyHeaderLen; n > 0 {
		r.Params = make([]byte, n)
		copy(r.Params, data[replyHeaderLen:])
	}
	return r, nil
}

// EncodeReply builds the wire form of a reply. Controllers produce replies;
// this side only needs it to simulate them.
func EncodeReply(status Status, params []byte) []byte {
	buf := make([]byte, 0, replyHeaderLen+len(params))
	buf = append(buf, byte(status))
	return append(buf, params...)
}

// ReplyLen returns the full raw reply length for a request with opcode op.
func ReplyLen(op Opcode) int {
	return replyHeaderLen + ReplyParamLen(op)
}

// Instruction builders

// EchoFrame creates an echo frame.
func EchoFrame(id byte) []byte {
	return mustEncode(id, OpEcho, nil)
}

// ReadStatusFrame creates a read-status frame.
func ReadStatusFrame(id byte) []byte {
	return mustEncode(id, OpReadStatus, nil)
}

// ReadAngleFrame creates a read-angle frame.
func ReadAngleFrame(id byte) []byte {
	return mustEncode(id, OpReadAngle, nil)
}

// WriteAngleFrame creates an absolute write-angle frame.
func WriteAngleFrame(id byte, angle Angle) []byte {
	return mustEncode(id, OpWriteAngle, EncodeAngle(angle))
}

// WritePercentFrame creates a write-angle frame carrying a percentage of the
// motor's maximum angle.
func WritePercentFrame(id byte, p Percent) ([]byte, error) {
	b, err := EncodePercent(p)
	if err != nil {
		return nil, err
	}
	return Encode(id, OpWriteAngle, b)
}

// SetZeroFrame creates a set-zero frame.
func SetZeroFrame(id byte) []byte {
	return mustEncode(id, OpSetZeroAngle, nil)
}

// SetMaxAngleFrame creates a set-max-angle frame.
func SetMaxAngleFrame(id byte, angle Angle) []byte {
	return mustEncode(id, OpSetMaxAngle, EncodeAngle(angle))
}

// WritePIDFrame creates a write-PID frame with the three gains.
func WritePIDFrame(id byte, p, i, d int16) []byte {
	params := make([]byte, 0, pidParamLen)
	params = append(params, EncodeAngle(Angle(p))...)
	params = append(params, EncodeAngle(Angle(i))...)
	params = append(params, EncodeAngle(Angle(d))...)
	return mustEncode(id, OpWritePID, params)
}

// mustEncode is for builders whose arity is fixed by construction.
func mustEncode(id byte, op Opcode, params []byte) []byte {
	b, err := Encode(id, op, params)
	if err != nil {
		panic(err)
	}
	return b
}
