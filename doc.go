// Package batbot drives the tendon motors of the BatBot pinnae.
//
// A microcontroller owns the motors. The host talks to it over a serial
// link, one framed command and one reply at a time, or streams fixed-size
// angle records over SPI for smooth playback.
//
// # Installation
//
//	go install github.com/BIST-Research/batbot/cmd/batbot@latest
//
// # Usage
//
// Find the controller and point the config at it:
//
//	batbot ports --probe
//	export BATBOT_SERIAL_PORT=/dev/ttyACM0
//
// Calibrate every motor, then play a sequence:
//
//	batbot calibrate
//	batbot play configs/sweep.yaml
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/batbot: CLI with ports, motor, calibrate and play commands
//   - pkg/protocol: Command frames, replies, SPI records and checked framing
//   - pkg/transport: Serial request/response and SPI streamed links
//   - pkg/tendon: Motor controller façade
//   - pkg/calibration: Calibration wizard and calibration file
//   - pkg/playback: Angle sequences and the playback engine
//   - internal/config, internal/logging, internal/metrics: ambient stack
package batbot
