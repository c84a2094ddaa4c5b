package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/zap"

	"github.com/BIST-Research/batbot/pkg/calibration"
	"github.com/BIST-Research/batbot/pkg/protocol"
	"github.com/BIST-Research/batbot/pkg/tendon"
	"github.com/BIST-Research/batbot/pkg/transport"
)

type CalibrateCommand struct {
	Motors []uint8 `short:"m" long:"motor" description:"Motor id to calibrate (repeatable, default: all)"`
	Output string  `short:"o" long:"output" description:"Calibration file (default: calibration.file)"`
}

func (c *CalibrateCommand) Execute(args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	ids, err := selectMotors(c.Motors, a.cfg.Motors.Count)
	if err != nil {
		return err
	}

	output := c.Output
	if output == "" {
		output = a.cfg.Calibration.File
	}

	fmt.Println(headerStyle.Render("BatBot Calibration"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━"))
	fmt.Println()

	if a.cfg.Serial.Port == "" {
		port, err := pickPort()
		if err != nil {
			return err
		}
		a.cfg.Serial.Port = port
	}

	ctrl, err := a.openController(false)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	session, err := calibration.NewSession(ctrl, ids, calibration.SessionConfig{
		Steps:  a.cfg.Calibration.Steps,
		Logger: a.log,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	for session.Phase() != calibration.PhaseDone {
		switch session.Phase() {
		case calibration.PhaseAwaitMaxAngle:
			if err := promptMaxAngle(ctx, session); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					session.Abort()
					break
				}
				a.log.Error("set max angle", zap.Error(err))
				fmt.Println(errorStyle.Render(err.Error()))
			}
		case calibration.PhaseInteractiveAdjust:
			if _, err := tea.NewProgram(newAdjustModel(ctx, session)).Run(); err != nil {
				return fmt.Errorf("run adjust screen: %w", err)
			}
		}
	}

	results := session.Results()
	fmt.Println()
	if len(results) == 0 {
		fmt.Println("No motors calibrated.")
		return nil
	}

	if existing, err := calibration.Load(output); err == nil {
		results = existing.Merge(results)
	} else if !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Ignoring unreadable %s: %v\n", output, err)
	}
	if err := results.Save(output); err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}

	fmt.Println(renderCalibration(results))
	fmt.Println()
	st, _ := session.Status(ctx)
	if st.Aborted {
		fmt.Println(errorStyle.Render("Calibration aborted."))
	} else {
		fmt.Println(successStyle.Render("Calibration complete!"))
	}
	fmt.Printf("Calibration saved to %s\n", output)
	return nil
}

// selectMotors returns the motors to calibrate: all count motors, or the
// selected ids when any are given.
func selectMotors(selected []uint8, count int) ([]tendon.MotorID, error) {
	if len(selected) == 0 {
		return tendon.MotorIDs(count), nil
	}
	ids := make([]tendon.MotorID, 0, len(selected))
	for _, m := range selected {
		if int(m) >= count {
			return nil, fmt.Errorf("%w: motor %d, have %d motors", protocol.ErrOutOfRange, m, count)
		}
		ids = append(ids, tendon.MotorID(m))
	}
	return ids, nil
}

// pickPort asks which serial port the controller is on.
func pickPort() (string, error) {
	ports, err := transport.ListPorts()
	if err != nil {
		return "", fmt.Errorf("list ports: %w", err)
	}

	var options []huh.Option[string]
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		options = append(options, huh.NewOption(port, port))
	}
	if len(options) == 0 {
		return "", errors.New("no serial ports found; make sure the controller is connected and powered on")
	}

	var port string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port is the tendon controller on?").
				Description("Set serial.port in batbot.yaml to skip this question").
				Options(options...).
				Value(&port),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return port, nil
}

// promptMaxAngle asks for the current motor's max angle until the controller
// accepts one. Parse errors are caught by the form; controller errors are
// returned.
func promptMaxAngle(ctx context.Context, s *calibration.Session) error {
	st, _ := s.Status(ctx)
	fmt.Println(subHeaderStyle.Render(fmt.Sprintf("━━━ %s (%d/%d) ━━━", st.Motor, st.Index+1, st.Total)))

	var input string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Max angle").
				Description(fmt.Sprintf("Degrees, %d to %d", protocol.MinAngle, protocol.MaxAngle)).
				Validate(func(v string) error {
					n, err := strconv.Atoi(strings.TrimSpace(v))
					if err != nil {
						return errors.New("enter a whole number")
					}
					_, err = protocol.CheckAngle(n)
					return err
				}).
				Value(&input),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	return s.SubmitMaxAngle(ctx, input)
}

func renderCalibration(cal calibration.Calibration) string {
	rows := make([][]string, 0, len(cal))
	for _, id := range cal.MotorIDs() {
		mc := cal[id]
		rows = append(rows, []string{
			id.String(),
			fmt.Sprintf("%d", mc.MaxAngle),
			mc.ZeroedAt.Local().Format(time.DateTime),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Max angle", "Zeroed").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				return base.Bold(true).Foreground(lipgloss.Color("12"))
			case col == 0:
				return base.Foreground(lipgloss.Color("14"))
			}
			return base
		}).
		Render()
}

// Adjust TUI model
type adjustModel struct {
	ctx     context.Context
	session *calibration.Session
	status  calibration.Status
	err     error
	done    bool
}

type tickMsg time.Time

func newAdjustModel(ctx context.Context, s *calibration.Session) adjustModel {
	st, err := s.Status(ctx)
	return adjustModel{ctx: ctx, session: s, status: st, err: err}
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m adjustModel) Init() tea.Cmd {
	return tick()
}

func (m adjustModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		var err error
		switch msg.String() {
		case "right", "l", "+":
			err = m.session.Increment(m.ctx)
		case "left", "h", "-":
			err = m.session.Decrement(m.ctx)
		case "up", "k":
			err = m.session.StepUp()
		case "down", "j":
			err = m.session.StepDown()
		case "enter":
			if err = m.session.Confirm(m.ctx); err == nil {
				m.done = true
				return m, tea.Quit
			}
		case "q", "esc", "ctrl+c":
			m.session.Abort()
			m.done = true
			return m, tea.Quit
		default:
			return m, nil
		}
		m.err = err
		m.status, _ = m.session.Status(m.ctx)
		return m, nil

	case tickMsg:
		st, err := m.session.Status(m.ctx)
		m.status = st
		if err != nil {
			m.err = err
		}
		return m, tick()
	}

	return m, nil
}

func (m adjustModel) View() string {
	if m.done {
		return ""
	}

	st := m.status
	var sb strings.Builder

	sb.WriteString(subHeaderStyle.Render(fmt.Sprintf("Adjust %s (%d/%d)", st.Motor, st.Index+1, st.Total)))
	sb.WriteString("\n\n")
	sb.WriteString("Move the motor to its rest position, then press Enter to zero it.\n\n")

	label := lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("241"))
	value := lipgloss.NewStyle().Bold(true)
	fmt.Fprintf(&sb, "%s%s\n", label.Render("Max angle"), value.Render(fmt.Sprintf("%d°", st.MaxAngle)))
	fmt.Fprintf(&sb, "%s%s\n", label.Render("Goal"), value.Render(fmt.Sprintf("%d%%", st.Goal)))
	fmt.Fprintf(&sb, "%s%s\n", label.Render("Step"), value.Render(fmt.Sprintf("%d%%", st.Step)))
	fmt.Fprintf(&sb, "%s%s\n", label.Render("Angle"), lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render(fmt.Sprintf("%d°", st.Angle)))
	sb.WriteString("\n")

	if m.err != nil {
		sb.WriteString(errorStyle.Render(m.err.Error()))
		sb.WriteString("\n\n")
	}
	sb.WriteString(dimStyle.Render("←/→ move  ↑/↓ step  enter zero  q abort"))

	return sb.String()
}
