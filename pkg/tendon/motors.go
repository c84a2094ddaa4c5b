// Package tendon provides the command surface for the batbot tendon motors.
package tendon

import "fmt"

// MotorID addresses one motor on the controller. IDs are 0-based.
type MotorID uint8

func (id MotorID) String() string {
	return fmt.Sprintf("motor %d", uint8(id))
}

// MotorIDs returns the ids of count motors in ascending order.
func MotorIDs(count int) []MotorID {
	ids := make([]MotorID, 0, count)
	for i := range count {
		ids = append(ids, MotorID(i))
	}
	return ids
}
