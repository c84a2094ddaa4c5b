package playback

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BIST-Research/batbot/pkg/protocol"
)

// Sequence is an immutable list of streamed records, one per row.
type Sequence struct {
	motors  int
	rows    [][]protocol.Angle
	records [][]byte
}

// NewSequence builds a sequence from rows of per-motor angles. Every row
// must have exactly motors entries.
func NewSequence(rows [][]protocol.Angle, motors int) (*Sequence, error) {
	if motors < 1 {
		return nil, fmt.Errorf("%w: motor count %d", ErrInvalidSequence, motors)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidSequence)
	}

	s := &Sequence{
		motors:  motors,
		rows:    make([][]protocol.Angle, len(rows)),
		records: make([][]byte, len(rows)),
	}
	for i, row := range rows {
		if len(row) != motors {
			return nil, fmt.Errorf("%w: row %d has %d angles, want %d", ErrInvalidSequence, i, len(row), motors)
		}
		for j, a := range row {
			if !protocol.ValidAngle(int(a)) {
				return nil, fmt.Errorf("%w: row %d motor %d angle %d", protocol.ErrOutOfRange, i, j, a)
			}
		}
		s.rows[i] = append([]protocol.Angle(nil), row...)
		s.records[i] = protocol.EncodeRecord(protocol.NoZeroTarget, row)
	}
	return s, nil
}

// Len returns the number of records.
func (s *Sequence) Len() int { return len(s.records) }

// MotorCount returns the number of motors each record addresses.
func (s *Sequence) MotorCount() int { return s.motors }

// Record returns the encoded record at i. Callers must not modify it.
func (s *Sequence) Record(i int) []byte { return s.records[i] }

// Row returns a copy of the angles at i.
func (s *Sequence) Row(i int) []protocol.Angle {
	return append([]protocol.Angle(nil), s.rows[i]...)
}

// File is the on-disk form of a sequence.
type File struct {
	Frequency float64 `yaml:"frequency"`
	Motors    int     `yaml:"motors"`
	Rows      [][]int `yaml:"rows"`
}

// ParseSequence decodes a YAML sequence. The returned frequency is zero when
// the file does not set one.
func ParseSequence(data []byte) (*Sequence, float64, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, 0, fmt.Errorf("parse sequence: %w", err)
	}
	if f.Frequency < 0 {
		return nil, 0, fmt.Errorf("%w: %g", ErrInvalidFrequency, f.Frequency)
	}

	motors := f.Motors
	if motors == 0 && len(f.Rows) > 0 {
		motors = len(f.Rows[0])
	}

	rows := make([][]protocol.Angle, len(f.Rows))
	for i, r := range f.Rows {
		rows[i] = make([]protocol.Angle, len(r))
		for j, v := range r {
			a, err := protocol.CheckAngle(v)
			if err != nil {
				return nil, 0, fmt.Errorf("row %d motor %d: %w", i, j, err)
			}
			rows[i][j] = a
		}
	}

	seq, err := NewSequence(rows, motors)
	if err != nil {
		return nil, 0, err
	}
	return seq, f.Frequency, nil
}

// LoadSequence reads a YAML sequence file.
func LoadSequence(path string) (*Sequence, float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read sequence file: %w", err)
	}
	return ParseSequence(data)
}

// SaveSequence writes seq and its frequency to path as YAML.
func SaveSequence(path string, seq *Sequence, frequency float64) error {
	f := File{
		Frequency: frequency,
		Motors:    seq.motors,
		Rows:      make([][]int, len(seq.rows)),
	}
	for i, row := range seq.rows {
		f.Rows[i] = make([]int, len(row))
		for j, a := range row {
			f.Rows[i][j] = int(a)
		}
	}

	data, err := yaml.Marshal(&f)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
