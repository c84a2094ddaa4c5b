package tendon

import (
	"errors"
	"fmt"

	"github.com/BIST-Research/batbot/pkg/protocol"
)

// ErrControllerFault matches any *FaultError via errors.Is.
var ErrControllerFault = errors.New("controller fault")

// FaultError is a nonzero status reported by the controller.
type FaultError struct {
	Motor  MotorID
	Op     protocol.Opcode
	Status protocol.Status
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s %s: %v: %s", e.Motor, e.Op, ErrControllerFault, e.Status)
}

func (e *FaultError) Is(target error) bool {
	return target == ErrControllerFault
}

// IsFault reports whether err carries a controller fault.
func IsFault(err error) bool {
	return errors.Is(err, ErrControllerFault)
}

// FaultStatus extracts the controller status from err.
func FaultStatus(err error) (protocol.Status, bool) {
	var fe *FaultError
	if errors.As(err, &fe) {
		return fe.Status, true
	}
	return 0, false
}
