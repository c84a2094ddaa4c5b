package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BIST-Research/batbot/pkg/tendon"
	"github.com/BIST-Research/batbot/pkg/transport"
)

type PortsCommand struct {
	Probe   bool          `short:"p" long:"probe" description:"Send an echo to motor 0 on each port"`
	Timeout time.Duration `long:"timeout" default:"200ms" description:"Reply timeout when probing"`
}

func (c *PortsCommand) Execute(args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	ports, err := transport.ListPorts()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}

	var rows [][]string
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		status := "-"
		if c.Probe {
			status = c.probe(a, port)
		}
		if port == a.cfg.Serial.Port {
			port += " *"
		}
		rows = append(rows, []string{port, status})
	}

	if len(rows) == 0 {
		fmt.Println("No serial ports found.")
		fmt.Println("Make sure the controller is connected and powered on.")
		return nil
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Port", "Controller").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return base.Bold(true).Foreground(lipgloss.Color("12"))
			}
			if col == 1 && rows[row][1] == "responding" {
				return base.Foreground(lipgloss.Color("10"))
			}
			return base
		})

	fmt.Println(t.Render())
	fmt.Println(dimStyle.Render("* configured port"))
	return nil
}

func (c *PortsCommand) probe(a *app, port string) string {
	cfg := a.serialConfig(port)
	cfg.Timeout = c.Timeout
	s, err := transport.OpenSerial(cfg)
	if err != nil {
		return "unavailable"
	}
	ctrl, err := tendon.New(s, tendon.Config{MotorCount: a.cfg.Motors.Count, Logger: a.log})
	if err != nil {
		s.Close()
		return "unavailable"
	}
	defer ctrl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*c.Timeout)
	defer cancel()
	if err := ctrl.Echo(ctx, 0); err != nil {
		if tendon.IsFault(err) {
			return "responding"
		}
		return "no reply"
	}
	return "responding"
}
