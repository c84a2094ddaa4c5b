package main

import (
	"context"
	"fmt"

	"github.com/BIST-Research/batbot/pkg/protocol"
	"github.com/BIST-Research/batbot/pkg/tendon"
)

// MotorCommand groups the single-motor commands. Each one opens the link,
// sends one command and prints the outcome.
type MotorCommand struct {
	Echo   MotorEchoCommand    `command:"echo" description:"Check that a motor responds"`
	Status MotorStatusCommand  `command:"status" description:"Read a motor's status byte"`
	Read   MotorReadCommand    `command:"read" description:"Read a motor's angle"`
	Write  MotorWriteCommand   `command:"write" description:"Move a motor to an absolute angle"`
	Pct    MotorPercentCommand `command:"percent" description:"Move a motor to a percentage of its max angle"`
	Min    MotorMinCommand     `command:"min" description:"Move a motor to its minimum"`
	Max    MotorMaxCommand     `command:"max" description:"Move a motor to its maximum"`
	Zero   MotorZeroCommand    `command:"zero" description:"Take a motor's current position as zero"`
	SetMax MotorSetMaxCommand  `command:"set-max" description:"Set a motor's max angle"`
	PID    MotorPIDCommand     `command:"pid" description:"Write a motor's PID gains"`
}

type MotorFlags struct {
	ID uint8 `short:"i" long:"id" default:"0" description:"Motor id, 0-based"`
}

func (f MotorFlags) motor() tendon.MotorID { return tendon.MotorID(f.ID) }

// withController runs fn against a freshly opened controller.
func withController(streamed bool, fn func(ctx context.Context, ctrl *tendon.Controller) error) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	ctrl, err := a.openController(streamed)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	return fn(context.Background(), ctrl)
}

type MotorEchoCommand struct{ MotorFlags }

func (c *MotorEchoCommand) Execute(args []string) error {
	return withController(false, func(ctx context.Context, ctrl *tendon.Controller) error {
		if err := ctrl.Echo(ctx, c.motor()); err != nil {
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("%s responded", c.motor())))
		return nil
	})
}

type MotorStatusCommand struct{ MotorFlags }

func (c *MotorStatusCommand) Execute(args []string) error {
	return withController(false, func(ctx context.Context, ctrl *tendon.Controller) error {
		st, err := ctrl.ReadStatus(ctx, c.motor())
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", c.motor(), st)
		return nil
	})
}

type MotorReadCommand struct{ MotorFlags }

func (c *MotorReadCommand) Execute(args []string) error {
	return withController(false, func(ctx context.Context, ctrl *tendon.Controller) error {
		angle, err := ctrl.ReadAngle(ctx, c.motor())
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d°\n", c.motor(), angle)
		return nil
	})
}

type MotorWriteCommand struct {
	MotorFlags
	SPI  bool `long:"spi" description:"Stream the angle over SPI instead of the serial link"`
	Args struct {
		Angle int `positional-arg-name:"angle" description:"Angle in degrees"`
	} `positional-args:"yes" required:"yes"`
}

func (c *MotorWriteCommand) Execute(args []string) error {
	angle, err := protocol.CheckAngle(c.Args.Angle)
	if err != nil {
		return err
	}
	return withController(c.SPI, func(ctx context.Context, ctrl *tendon.Controller) error {
		if err := ctrl.WriteAngle(ctx, c.motor(), angle); err != nil {
			return err
		}
		fmt.Printf("%s -> %d°\n", c.motor(), angle)
		return nil
	})
}

type MotorPercentCommand struct {
	MotorFlags
	Args struct {
		Percent int `positional-arg-name:"percent" description:"0 to 100"`
	} `positional-args:"yes" required:"yes"`
}

func (c *MotorPercentCommand) Execute(args []string) error {
	if _, err := protocol.CheckPercent(c.Args.Percent); err != nil {
		return err
	}
	return withController(false, func(ctx context.Context, ctrl *tendon.Controller) error {
		if err := ctrl.WriteAnglePercentOfMax(ctx, c.motor(), c.Args.Percent); err != nil {
			return err
		}
		fmt.Printf("%s -> %d%% of max\n", c.motor(), c.Args.Percent)
		return nil
	})
}

type MotorMinCommand struct{ MotorFlags }

func (c *MotorMinCommand) Execute(args []string) error {
	return withController(false, func(ctx context.Context, ctrl *tendon.Controller) error {
		if err := ctrl.MoveToMin(ctx, c.motor()); err != nil {
			return err
		}
		fmt.Printf("%s -> min\n", c.motor())
		return nil
	})
}

type MotorMaxCommand struct{ MotorFlags }

func (c *MotorMaxCommand) Execute(args []string) error {
	return withController(false, func(ctx context.Context, ctrl *tendon.Controller) error {
		if err := ctrl.MoveToMax(ctx, c.motor()); err != nil {
			return err
		}
		fmt.Printf("%s -> max\n", c.motor())
		return nil
	})
}

type MotorZeroCommand struct {
	MotorFlags
	SPI bool `long:"spi" description:"Send the zero request in an SPI record"`
}

func (c *MotorZeroCommand) Execute(args []string) error {
	return withController(c.SPI, func(ctx context.Context, ctrl *tendon.Controller) error {
		if err := ctrl.SetZero(ctx, c.motor()); err != nil {
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("%s zeroed", c.motor())))
		return nil
	})
}

type MotorSetMaxCommand struct {
	MotorFlags
	Args struct {
		Angle int `positional-arg-name:"angle" description:"Max angle in degrees"`
	} `positional-args:"yes" required:"yes"`
}

func (c *MotorSetMaxCommand) Execute(args []string) error {
	angle, err := protocol.CheckAngle(c.Args.Angle)
	if err != nil {
		return err
	}
	return withController(false, func(ctx context.Context, ctrl *tendon.Controller) error {
		if err := ctrl.SetMaxAngle(ctx, c.motor(), angle); err != nil {
			return err
		}
		fmt.Printf("%s max angle = %d°\n", c.motor(), angle)
		return nil
	})
}

type MotorPIDCommand struct {
	MotorFlags
	Args struct {
		P int16 `positional-arg-name:"p"`
		I int16 `positional-arg-name:"i"`
		D int16 `positional-arg-name:"d"`
	} `positional-args:"yes" required:"yes"`
}

func (c *MotorPIDCommand) Execute(args []string) error {
	return withController(false, func(ctx context.Context, ctrl *tendon.Controller) error {
		if err := ctrl.WritePID(ctx, c.motor(), c.Args.P, c.Args.I, c.Args.D); err != nil {
			return err
		}
		fmt.Printf("%s pid = %d/%d/%d\n", c.motor(), c.Args.P, c.Args.I, c.Args.D)
		return nil
	})
}
