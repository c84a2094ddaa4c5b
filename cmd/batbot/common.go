package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BIST-Research/batbot/internal/config"
	"github.com/BIST-Research/batbot/internal/logging"
	"github.com/BIST-Research/batbot/internal/metrics"
	"github.com/BIST-Research/batbot/pkg/tendon"
	"github.com/BIST-Research/batbot/pkg/transport"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// app bundles what every command needs: validated config, logger and metrics.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
}

// newApp loads the config named by --config. TUI commands pass quiet so log
// lines only go to the configured file.
func newApp(quiet bool) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := metrics.NewRegistry()
	return &app{
		cfg:     cfg,
		log:     logging.New(cfg.Logging, logging.Options{Quiet: quiet}),
		reg:     reg,
		metrics: metrics.New(reg),
	}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
}

func (a *app) serialConfig(port string) transport.SerialConfig {
	return transport.SerialConfig{
		Port:          port,
		BaudRate:      a.cfg.Serial.BaudRate,
		Timeout:       a.cfg.Serial.Timeout,
		MinCommandGap: a.cfg.Serial.MinCommandGap,
		Framing:       a.cfg.Framing(),
		Logger:        a.log,
		Metrics:       a.metrics,
	}
}

// openController connects to the motors over the configured serial port, or
// over SPI when streamed is set.
func (a *app) openController(streamed bool) (*tendon.Controller, error) {
	var t transport.Transport
	if streamed {
		s, err := a.openSPI(false)
		if err != nil {
			return nil, err
		}
		t = s
	} else {
		if a.cfg.Serial.Port == "" {
			return nil, errors.New("no serial port configured; set serial.port or BATBOT_SERIAL_PORT (see 'batbot ports')")
		}
		s, err := transport.OpenSerial(a.serialConfig(a.cfg.Serial.Port))
		if err != nil {
			return nil, err
		}
		t = s
	}

	ctrl, err := tendon.New(t, tendon.Config{MotorCount: a.cfg.Motors.Count, Logger: a.log})
	if err != nil {
		t.Close()
		return nil, err
	}
	return ctrl, nil
}

func (a *app) openSPI(dryRun bool) (*transport.Streamed, error) {
	return transport.OpenSPI(transport.SPIConfig{
		Device:     a.cfg.SPI.Device,
		SpeedHz:    a.cfg.SPI.SpeedHz,
		Mode:       a.cfg.SPI.Mode,
		MotorCount: a.cfg.Motors.Count,
		DryRun:     dryRun || a.cfg.SPI.DryRun,
		Logger:     a.log,
		Metrics:    a.metrics,
	})
}

// serveMetrics starts the Prometheus endpoint on addr, falling back to
// metrics.addr. The returned func shuts it down.
func (a *app) serveMetrics(addr string) func() {
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server", zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
