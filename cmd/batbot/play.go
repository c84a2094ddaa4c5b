package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/BIST-Research/batbot/pkg/playback"
	"github.com/BIST-Research/batbot/pkg/tendon"
)

type PlayCommand struct {
	Hz          float64 `long:"hz" description:"Records per second (default: file frequency, then playback.frequency)"`
	DryRun      bool    `long:"dry-run" description:"Log records instead of opening the SPI device"`
	NoTUI       bool    `long:"no-tui" description:"Log progress instead of drawing the chart; stop with Ctrl+C"`
	MetricsAddr string  `long:"metrics-addr" description:"Serve Prometheus metrics on this address"`
	Args        struct {
		File string `positional-arg-name:"sequence" description:"Sequence YAML file"`
	} `positional-args:"yes" required:"yes"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Motor colors, indexed by motor id
var motorColors = []string{"196", "208", "226", "46", "51", "201", "99", "255"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (c *PlayCommand) Execute(args []string) error {
	a, err := newApp(!c.NoTUI)
	if err != nil {
		return err
	}
	defer a.close()

	seq, fileHz, err := playback.LoadSequence(c.Args.File)
	if err != nil {
		return err
	}
	hz := c.Hz
	if hz == 0 {
		hz = fileHz
	}
	if hz == 0 {
		hz = a.cfg.Playback.Frequency
	}

	stopMetrics := a.serveMetrics(c.MetricsAddr)
	defer stopMetrics()

	link, err := a.openSPI(c.DryRun)
	if err != nil {
		return err
	}
	defer link.Close()

	engine := playback.NewEngine(link, playback.Config{Logger: a.log, Metrics: a.metrics})
	if err := engine.Start(seq, hz); err != nil {
		return err
	}

	if c.NoTUI {
		return runHeadless(a.log, engine)
	}

	p := tea.NewProgram(newPlayModel(engine, seq, hz), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		engine.Stop()
		return fmt.Errorf("run playback screen: %w", err)
	}
	engine.Stop()
	st := engine.Status()
	if err := engine.Wait(); err != nil {
		return fmt.Errorf("playback failed after %d records: %w", st.Sent, err)
	}
	fmt.Printf("Playback stopped after %d records (%d cycles).\n", st.Sent, st.Cycle)
	return nil
}

func runHeadless(log *zap.Logger, engine *playback.Engine) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			engine.Stop()
			st := engine.Status()
			log.Info("playback stopped", zap.Int("records", st.Sent), zap.Int("cycles", st.Cycle))
			return nil
		case ev := <-engine.Events():
			if ev.Err != nil {
				engine.Stop()
				return fmt.Errorf("playback failed after %d records: %w", ev.Sent, ev.Err)
			}
			log.Info("cycle complete", zap.Int("cycle", ev.Cycle), zap.Int("records", ev.Sent))
		}
	}
}

type playModel struct {
	engine   *playback.Engine
	seq      *playback.Sequence
	hz       float64
	chart    *streamlinechart.Model
	width    int      // terminal width
	height   int      // terminal height
	logs     []string // last N log messages
	lastSent int
	stopped  bool
	quitting bool
}

func (m *playModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the engine
type eventMsg playback.Event
type pollMsg time.Time

func waitForEvent(e *playback.Engine) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-e.Events())
	}
}

func (m *playModel) poll() tea.Cmd {
	interval := max(time.Duration(float64(time.Second)/m.hz), 50*time.Millisecond)
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *playModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m *playModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func newPlayModel(engine *playback.Engine, seq *playback.Sequence, hz float64) playModel {
	lo, hi := 0.0, 0.0
	for i := range seq.Len() {
		for _, a := range seq.Row(i) {
			lo = min(lo, float64(a))
			hi = max(hi, float64(a))
		}
	}
	if lo == hi {
		hi = lo + 1
	}

	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(lo, hi),
	)

	for _, id := range tendon.MotorIDs(seq.MotorCount()) {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(motorColors[int(id)%len(motorColors)]))
		chart.SetDataSetStyles(id.String(), runes.ThinLineStyle, style)
	}

	return playModel{
		engine: engine,
		seq:    seq,
		hz:     hz,
		chart:  &chart,
	}
}

func (m playModel) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.engine),
		m.poll(),
	)
}

func (m playModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case pollMsg:
		st := m.engine.Status()
		// Only push when a new record went out (freeze when stopped)
		if st.Sent != m.lastSent && st.Sent > 0 {
			row := m.seq.Row((st.Index + m.seq.Len() - 1) % m.seq.Len())
			for i, a := range row {
				m.chart.PushDataSet(tendon.MotorID(i).String(), float64(a))
			}
			m.chart.DrawAll()
			m.lastSent = st.Sent
		}
		if st.State == playback.StateIdle {
			m.stopped = true
			return m, nil
		}
		return m, m.poll()

	case eventMsg:
		ev := playback.Event(msg)
		if ev.Err != nil {
			m.addLog(fmt.Sprintf("playback failed: %v", ev.Err))
			m.stopped = true
			return m, nil
		}
		m.addLog(fmt.Sprintf("cycle %d complete (%d records)", ev.Cycle, ev.Sent))
		return m, waitForEvent(m.engine)
	}

	return m, nil
}

func (m playModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	// Header
	st := m.engine.Status()
	sb.WriteString(titleStyle.Render("BatBot Playback"))
	sb.WriteString(fmt.Sprintf(" - %g Hz - %s", m.hz, st.State))
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  cycle %d  records %d  run %s", st.Cycle, st.Sent, st.RunID.String()[:8])))
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend(m.seq.MotorCount()))
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to stop")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	if m.stopped {
		logLines += "\n" + errorStyle.Render("Stopped. Press 'q' to exit")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend(motors int) string {
	var items []string
	for _, id := range tendon.MotorIDs(motors) {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(motorColors[int(id)%len(motorColors)])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+id.String())
	}
	return strings.Join(items, "  ")
}
