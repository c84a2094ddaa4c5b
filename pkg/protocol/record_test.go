package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRecord(t *testing.T) {
	rec := EncodeRecord(NoZeroTarget, []Angle{120, -1, 0})
	assert.Equal(t, []byte{0x00, 0x00, 0x78, 0xFF, 0xFF, 0x00, 0x00}, rec)
	assert.Len(t, rec, RecordLen(3))

	zero, angles, err := DecodeRecord(rec, 3)
	require.NoError(t, err)
	assert.Equal(t, byte(NoZeroTarget), zero)
	assert.Equal(t, []Angle{120, -1, 0}, angles)
}

func TestEncodeRecord_ZeroTarget(t *testing.T) {
	rec := EncodeRecord(4, make([]Angle, 6))
	assert.Len(t, rec, 13)
	assert.Equal(t, byte(4), rec[0])
}

func TestDecodeRecord_WrongLength(t *testing.T) {
	_, _, err := DecodeRecord([]byte{0, 1, 2}, 2)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
