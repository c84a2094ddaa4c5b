package transport

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/BIST-Research/batbot/internal/logging"
	"github.com/BIST-Research/batbot/internal/metrics"
)

const DefaultSPISpeedHz = 500000

// SPIConfig holds configuration for opening a streamed link.
type SPIConfig struct {
	// Device is the spireg name, e.g. "/dev/spidev0.0" or "SPI0.0".
	// Empty selects the first registered port.
	Device     string
	SpeedHz    int64
	Mode       int
	MotorCount int

	// DryRun logs records instead of opening hardware.
	DryRun bool

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// OpenSPI opens the SPI device and returns a streamed transport over it.
func OpenSPI(cfg SPIConfig) (*Streamed, error) {
	if cfg.SpeedHz == 0 {
		cfg.SpeedHz = DefaultSPISpeedHz
	}
	log := logging.OrNop(cfg.Logger)

	scfg := StreamedConfig{
		MotorCount: cfg.MotorCount,
		Logger:     cfg.Logger,
		Metrics:    cfg.Metrics,
	}

	if cfg.DryRun {
		log.Info("spi dry run", zap.Int("motors", cfg.MotorCount))
		return NewStreamed(NewDryRunConn(cfg.Logger), scfg)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}

	port, err := spireg.Open(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", cfg.Device, err)
	}

	c, err := port.Connect(physic.Frequency(cfg.SpeedHz)*physic.Hertz, spi.Mode(cfg.Mode), 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect spi %q: %w", cfg.Device, err)
	}

	log.Info("spi opened",
		zap.String("device", port.String()),
		zap.Int64("hz", cfg.SpeedHz),
		zap.Int("mode", cfg.Mode))

	scfg.Closer = port
	return NewStreamed(c, scfg)
}

// DryRunConn is an spi.Conn that logs each transfer and keeps the last one.
type DryRunConn struct {
	log *zap.Logger

	mu    sync.Mutex
	count int
	last  []byte
}

var _ spi.Conn = (*DryRunConn)(nil)

// NewDryRunConn returns a connection that never touches hardware.
func NewDryRunConn(log *zap.Logger) *DryRunConn {
	return &DryRunConn{log: logging.OrNop(log).Named("spi-dry-run")}
}

func (d *DryRunConn) String() string { return "dry-run" }

func (d *DryRunConn) Halt() error { return nil }

func (d *DryRunConn) Duplex() conn.Duplex { return conn.Full }

// Tx records w and zero-fills r.
func (d *DryRunConn) Tx(w, r []byte) error {
	d.mu.Lock()
	d.count++
	d.last = append(d.last[:0], w...)
	n := d.count
	d.mu.Unlock()

	clear(r)
	d.log.Info("tx", zap.Int("n", n), zap.Binary("w", w))
	return nil
}

// TxPackets records each packet in order.
func (d *DryRunConn) TxPackets(p []spi.Packet) error {
	for i := range p {
		if err := d.Tx(p[i].W, p[i].R); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of transfers so far.
func (d *DryRunConn) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Last returns a copy of the most recent transfer.
func (d *DryRunConn) Last() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.last...)
}
