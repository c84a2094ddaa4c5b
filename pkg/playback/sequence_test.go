package playback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIST-Research/batbot/pkg/protocol"
)

func TestNewSequence(t *testing.T) {
	rows := [][]protocol.Angle{{0, 120}, {-1, 360}}
	seq, err := NewSequence(rows, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, seq.Len())
	assert.Equal(t, 2, seq.MotorCount())
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x78}, seq.Record(0))
	assert.Equal(t, []byte{0x00, 0xFF, 0xFF, 0x01, 0x68}, seq.Record(1))
	for i := range seq.Len() {
		assert.Len(t, seq.Record(i), protocol.RecordLen(2))
	}

	// Mutating the source or a returned row does not change the sequence.
	rows[0][1] = 5
	row := seq.Row(0)
	row[0] = 99
	assert.Equal(t, []protocol.Angle{0, 120}, seq.Row(0))
}

func TestNewSequence_Invalid(t *testing.T) {
	_, err := NewSequence(nil, 2)
	assert.ErrorIs(t, err, ErrInvalidSequence)

	_, err = NewSequence([][]protocol.Angle{{1, 2}, {3}}, 2)
	assert.ErrorIs(t, err, ErrInvalidSequence)

	_, err = NewSequence([][]protocol.Angle{{1}}, 0)
	assert.ErrorIs(t, err, ErrInvalidSequence)

	_, err = NewSequence([][]protocol.Angle{{400}}, 1)
	assert.ErrorIs(t, err, protocol.ErrOutOfRange)
}

func TestParseSequence(t *testing.T) {
	seq, hz, err := ParseSequence([]byte(`
frequency: 2
motors: 3
rows:
  - [0, 0, 0]
  - [30, -30, 90]
  - [60, -60, 180]
`))
	require.NoError(t, err)
	assert.Equal(t, 2.0, hz)
	assert.Equal(t, 3, seq.Len())
	assert.Equal(t, []protocol.Angle{30, -30, 90}, seq.Row(1))
}

func TestParseSequence_InferMotors(t *testing.T) {
	seq, hz, err := ParseSequence([]byte("rows: [[1, 2], [3, 4]]\n"))
	require.NoError(t, err)
	assert.Zero(t, hz)
	assert.Equal(t, 2, seq.MotorCount())
}

func TestParseSequence_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"no rows", "frequency: 1\nmotors: 2\n", ErrInvalidSequence},
		{"ragged", "motors: 2\nrows: [[1, 2], [3]]\n", ErrInvalidSequence},
		{"angle out of range", "motors: 1\nrows: [[720]]\n", protocol.ErrOutOfRange},
		{"negative frequency", "frequency: -1\nrows: [[1]]\n", ErrInvalidFrequency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseSequence([]byte(tt.body))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, _, err := ParseSequence([]byte("rows: {"))
	assert.Error(t, err)
}

func TestSaveLoadSequence(t *testing.T) {
	seq, err := NewSequence([][]protocol.Angle{{10, -20}, {30, -40}}, 2)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "seq.yaml")
	require.NoError(t, SaveSequence(path, seq, 4))

	loaded, hz, err := LoadSequence(path)
	require.NoError(t, err)
	assert.Equal(t, 4.0, hz)
	assert.Equal(t, seq.Len(), loaded.Len())
	for i := range seq.Len() {
		assert.Equal(t, seq.Record(i), loaded.Record(i))
	}
}

func TestLoadSequence_Testdata(t *testing.T) {
	seq, hz, err := LoadSequence(filepath.Join("testdata", "sweep.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 2.0, hz)
	assert.Equal(t, 6, seq.MotorCount())
	assert.Equal(t, 4, seq.Len())
}

func TestLoadSequence_Missing(t *testing.T) {
	_, _, err := LoadSequence(filepath.Join(t.TempDir(), "none.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
