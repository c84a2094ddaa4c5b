// Package calibration walks each tendon motor through setting its maximum
// angle and zero position, and stores the results.
package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/BIST-Research/batbot/pkg/protocol"
	"github.com/BIST-Research/batbot/pkg/tendon"
)

// MotorCalibration holds calibration data for a single motor.
type MotorCalibration struct {
	ID       tendon.MotorID `json:"id"`
	MaxAngle protocol.Angle `json:"max_angle"`
	ZeroedAt time.Time      `json:"zeroed_at"`
}

// Calibration holds calibration data for all motors, keyed by motor id.
type Calibration map[tendon.MotorID]MotorCalibration

// Load loads calibration data from a JSON file.
func Load(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}
	for id, mc := range cal {
		if mc.ID != id {
			return nil, fmt.Errorf("parse calibration JSON: entry %d has id %d", id, mc.ID)
		}
	}
	return cal, nil
}

// Save writes the calibration to path as indented JSON.
func (c Calibration) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Merge returns c with every entry of other added or replaced.
func (c Calibration) Merge(other Calibration) Calibration {
	out := make(Calibration, len(c)+len(other))
	for id, mc := range c {
		out[id] = mc
	}
	for id, mc := range other {
		out[id] = mc
	}
	return out
}

// MotorIDs returns the calibrated motor ids in ascending order.
func (c Calibration) MotorIDs() []tendon.MotorID {
	ids := make([]tendon.MotorID, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// AngleAt returns the angle the controller resolves percent of MaxAngle to.
// The firmware uses integer arithmetic: max * percent / 100.
func (c MotorCalibration) AngleAt(percent int) protocol.Angle {
	percent = max(0, min(percent, protocol.MaxPercent))
	return protocol.Angle(int(c.MaxAngle) * percent / protocol.MaxPercent)
}
