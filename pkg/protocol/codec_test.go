package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WriteAngle(t *testing.T) {
	frame, err := Encode(2, OpWriteAngle, []byte{0x00, 0x78})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, byte(OpWriteAngle), 0x00, 0x78}, frame)

	assert.Equal(t, frame, WriteAngleFrame(2, 120))
}

func TestDecode_ReadAngleReply(t *testing.T) {
	reply, err := Decode([]byte{0x00, 0x00, 0x78})
	require.NoError(t, err)
	assert.True(t, reply.Status.OK())

	angle, err := DecodeAngle(reply.Params)
	require.NoError(t, err)
	assert.Equal(t, Angle(120), angle)
}

func TestEncode_ParamLength(t *testing.T) {
	tests := []struct {
		name  string
		op    Opcode
		n     int
		valid bool
	}{
		{"echo no params", OpEcho, 0, true},
		{"echo with params", OpEcho, 1, false},
		{"read status", OpReadStatus, 0, true},
		{"read angle", OpReadAngle, 0, true},
		{"read angle with params", OpReadAngle, 2, false},
		{"write angle absolute", OpWriteAngle, 2, true},
		{"write angle percent", OpWriteAngle, 1, true},
		{"write angle empty", OpWriteAngle, 0, false},
		{"write angle too long", OpWriteAngle, 3, false},
		{"write pid", OpWritePID, 6, true},
		{"write pid short", OpWritePID, 4, false},
		{"set zero", OpSetZeroAngle, 0, true},
		{"set zero with params", OpSetZeroAngle, 2, false},
		{"set max", OpSetMaxAngle, 2, true},
		{"set max percent", OpSetMaxAngle, 1, false},
		{"unknown opcode", Opcode(7), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(1, tt.op, make([]byte, tt.n))
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidParameterLength)
			}
		})
	}
}

func TestEncodeDecode_ParamsRoundTrip(t *testing.T) {
	cases := map[Opcode][][]byte{
		OpEcho:         {nil},
		OpReadStatus:   {nil},
		OpReadAngle:    {nil},
		OpSetZeroAngle: {nil},
		OpWriteAngle:   {{0x00, 0x78}, {0xFF, 0x88}, {50}},
		OpSetMaxAngle:  {{0x01, 0x68}},
		OpWritePID:     {{0, 1, 0, 2, 0xFF, 0xFD}},
	}

	for op, paramSets := range cases {
		for _, params := range paramSets {
			frame, err := Encode(3, op, params)
			require.NoError(t, err, op)

			// A controller echoing the parameters back behind a success status.
			reply, err := Decode(EncodeReply(StatusSuccess, frame[2:]))
			require.NoError(t, err, op)
			assert.Equal(t, len(params), len(reply.Params), op)
			if len(params) > 0 {
				assert.Equal(t, params, reply.Params, op)
			}

			req, err := DecodeRequest(frame)
			require.NoError(t, err, op)
			assert.Equal(t, byte(3), req.MotorID)
			assert.Equal(t, op, req.Opcode)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = Decode([]byte{})
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = DecodeRequest([]byte{0x01})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecode_NonzeroStatus(t *testing.T) {
	reply, err := Decode([]byte{byte(StatusParamError)})
	require.NoError(t, err)
	assert.False(t, reply.Status.OK())
	assert.Equal(t, "param error", reply.Status.String())
	assert.Empty(t, reply.Params)
}

func TestAngle_SplitJoinAllValues(t *testing.T) {
	for v := math.MinInt16; v <= math.MaxInt16; v++ {
		hi, lo := SplitAngle(Angle(v))
		if got := JoinAngle(hi, lo); got != Angle(v) {
			t.Fatalf("round trip %d: got %d (hi=0x%02X lo=0x%02X)", v, got, hi, lo)
		}
	}
}

func TestAngle_SplitBytes(t *testing.T) {
	tests := []struct {
		angle  Angle
		hi, lo byte
	}{
		{0, 0x00, 0x00},
		{120, 0x00, 0x78},
		{360, 0x01, 0x68},
		{-1, 0xFF, 0xFF},
		{-120, 0xFF, 0x88},
		{-360, 0xFE, 0x98},
	}

	for _, tt := range tests {
		hi, lo := SplitAngle(tt.angle)
		assert.Equal(t, tt.hi, hi, "hi for %d", tt.angle)
		assert.Equal(t, tt.lo, lo, "lo for %d", tt.angle)
	}
}

func TestCheckAngleAndPercent(t *testing.T) {
	_, err := CheckAngle(361)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = CheckAngle(-361)
	assert.ErrorIs(t, err, ErrOutOfRange)
	a, err := CheckAngle(-360)
	require.NoError(t, err)
	assert.Equal(t, Angle(-360), a)

	_, err = CheckPercent(101)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = CheckPercent(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	b, err := EncodePercent(100)
	require.NoError(t, err)
	assert.Equal(t, []byte{100}, b)

	_, err = EncodePercent(200)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestReplyLen(t *testing.T) {
	assert.Equal(t, 3, ReplyLen(OpReadAngle))
	assert.Equal(t, 2, ReplyLen(OpReadStatus))
	assert.Equal(t, 1, ReplyLen(OpWriteAngle))
	assert.Equal(t, 1, ReplyLen(OpSetZeroAngle))
}

func TestWritePIDFrame(t *testing.T) {
	frame := WritePIDFrame(1, 10, -2, 300)
	assert.Equal(t, []byte{0x01, byte(OpWritePID), 0x00, 0x0A, 0xFF, 0xFE, 0x01, 0x2C}, frame)
}
