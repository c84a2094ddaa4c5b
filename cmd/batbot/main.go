package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config string `short:"c" long:"config" description:"Config file (default: batbot.yaml in . or ./configs)"`

	Ports     PortsCommand     `command:"ports" description:"List serial ports and probe them for a tendon controller"`
	Motor     MotorCommand     `command:"motor" description:"Send a single command to one motor"`
	Calibrate CalibrateCommand `command:"calibrate" alias:"cal" description:"Set max angle and zero position of each motor"`
	Play      PlayCommand      `command:"play" description:"Stream an angle sequence over SPI"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "batbot - tendon motor controller CLI for the BatBot pinnae"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
