// Package config loads batbot runtime configuration from a YAML file and
// BATBOT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/BIST-Research/batbot/pkg/protocol"
)

// MaxMotors is the largest motor count the controller firmware addresses.
const MaxMotors = 8

// SerialConfig configures the request/response link.
type SerialConfig struct {
	Port          string        `mapstructure:"port"`
	BaudRate      int           `mapstructure:"baudRate"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MinCommandGap time.Duration `mapstructure:"minCommandGap"`
	Framing       string        `mapstructure:"framing"`
}

// SPIConfig configures the streamed link.
type SPIConfig struct {
	Device  string `mapstructure:"device"`
	SpeedHz int64  `mapstructure:"speedHz"`
	Mode    int    `mapstructure:"mode"`
	DryRun  bool   `mapstructure:"dryRun"`
}

// MotorsConfig describes the attached motors.
type MotorsConfig struct {
	Count int `mapstructure:"count"`
}

// PlaybackConfig holds playback defaults.
type PlaybackConfig struct {
	Frequency float64 `mapstructure:"frequency"`
}

// CalibrationConfig configures the calibration wizard.
type CalibrationConfig struct {
	File  string `mapstructure:"file"`
	Steps []int  `mapstructure:"steps"`
}

// LumberjackConfig configures the rolling log file. An empty Filename
// disables file output.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig sets log level, encoding and outputs.
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the top-level configuration.
type Config struct {
	Serial      SerialConfig      `mapstructure:"serial"`
	SPI         SPIConfig         `mapstructure:"spi"`
	Motors      MotorsConfig      `mapstructure:"motors"`
	Playback    PlaybackConfig    `mapstructure:"playback"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// Load reads configuration from path, or from BATBOT_CONFIG, or from
// batbot.yaml in . or ./configs. A missing default file is not an error.
// Environment variables override file values: serial.baudRate is
// BATBOT_SERIAL_BAUDRATE.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("BATBOT_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("batbot")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("BATBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baudRate", 115200)
	v.SetDefault("serial.timeout", "1s")
	v.SetDefault("serial.minCommandGap", "0s")
	v.SetDefault("serial.framing", "raw")

	v.SetDefault("spi.device", "")
	v.SetDefault("spi.speedHz", 500000)
	v.SetDefault("spi.mode", 0)
	v.SetDefault("spi.dryRun", false)

	v.SetDefault("motors.count", 6)

	v.SetDefault("playback.frequency", 1.0)

	v.SetDefault("calibration.file", "calibration.json")
	v.SetDefault("calibration.steps", []int{1, 5, 10})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("metrics.addr", "")
}

// Validate checks values that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	if c.Motors.Count < 1 || c.Motors.Count > MaxMotors {
		return fmt.Errorf("motors.count must be in [1, %d], got %d", MaxMotors, c.Motors.Count)
	}
	if _, err := protocol.ParseFraming(c.Serial.Framing); err != nil {
		return fmt.Errorf("serial.framing: %w", err)
	}
	if c.Serial.Timeout <= 0 {
		return fmt.Errorf("serial.timeout must be positive, got %s", c.Serial.Timeout)
	}
	if c.Serial.MinCommandGap < 0 {
		return fmt.Errorf("serial.minCommandGap must not be negative, got %s", c.Serial.MinCommandGap)
	}
	if c.SPI.Mode < 0 || c.SPI.Mode > 3 {
		return fmt.Errorf("spi.mode must be in [0, 3], got %d", c.SPI.Mode)
	}
	if c.SPI.SpeedHz <= 0 {
		return fmt.Errorf("spi.speedHz must be positive, got %d", c.SPI.SpeedHz)
	}
	if c.Playback.Frequency <= 0 {
		return fmt.Errorf("playback.frequency must be positive, got %g", c.Playback.Frequency)
	}
	if len(c.Calibration.Steps) == 0 {
		return errors.New("calibration.steps must not be empty")
	}
	for i, s := range c.Calibration.Steps {
		if s <= 0 {
			return fmt.Errorf("calibration.steps[%d] must be positive, got %d", i, s)
		}
		if i > 0 && s <= c.Calibration.Steps[i-1] {
			return fmt.Errorf("calibration.steps must be ascending")
		}
	}
	return nil
}

// Framing returns the parsed serial framing. Call Validate first.
func (c *Config) Framing() protocol.Framing {
	f, _ := protocol.ParseFraming(c.Serial.Framing)
	return f
}
