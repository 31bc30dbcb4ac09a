package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/pathing"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	ActiveSensorLoggerConfig     *SensorLoggerConfig
	ActiveSnapshotListenerConfig *SnapshotListenerConfig
)

func DefaultSensorLoggerConfig() *SensorLoggerConfig {
	return &SensorLoggerConfig{
		DeviceID: "amsky01",
		Transport: TransportConfig{
			Type:         "serial",
			SerialDevice: "/dev/ttyACM0",
			Baudrate:     115200,
			ReadTimeout:  Duration{time.Second},
			TCPAddress:   "192.168.4.1:2323",
		},
		Reader: ReaderConfig{
			ErrorThreshold:       3,
			MaxReconnectAttempts: 5,
			ReconnectBackoff:     Duration{time.Second},
			PollInterval:         Duration{50 * time.Millisecond},
			StaleAfter:           Duration{10 * time.Second},
			MaxLineBytes:         4096,
		},
		BatchLogger: BatchLoggerConfig{
			OutputDir:         pathing.GetBatchDir(),
			RotationPeriod:    Duration{10 * time.Minute},
			FlushInterval:     Duration{10 * time.Second},
			FlushMaxEntries:   50,
			IdleSyncAfter:     Duration{120 * time.Second},
			TickInterval:      Duration{2 * time.Second},
			MaxPendingEntries: 86400,
		},
		LiveAPI: LiveAPIConfig{
			Enabled:       true,
			ListenAddress: "0.0.0.0",
			ListenPort:    9040,
			PollInterval:  Duration{time.Second},
		},
		Catalog: CatalogConfig{
			Enabled: true,
			DbPath:  pathing.GetCatalogDbPath(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func DefaultSnapshotListenerConfig() *SnapshotListenerConfig {
	return &SnapshotListenerConfig{
		LiveAPIHost: "localhost:9040",
		TLSEnabled:  false,
	}
}

// LoadSensorLoggerConfig reads the config at path, or the default location
// when path is empty. A missing file is created with defaults.
func LoadSensorLoggerConfig(path string) (*SensorLoggerConfig, error) {
	if path == "" {
		path = filepath.Join(pathing.GetConfigDir(), "sensor_logger.toml")
	}

	cfg := DefaultSensorLoggerConfig()
	if err := loadOrCreate(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	ActiveSensorLoggerConfig = cfg
	return cfg, nil
}

func LoadSnapshotListenerConfig(path string) (*SnapshotListenerConfig, error) {
	if path == "" {
		path = filepath.Join(pathing.GetConfigDir(), "snapshot_listener.toml")
	}

	cfg := DefaultSnapshotListenerConfig()
	if err := loadOrCreate(path, cfg); err != nil {
		return nil, err
	}
	if cfg.LiveAPIHost == "" {
		return nil, fmt.Errorf("invalid config %s: live_api_host is empty", path)
	}
	ActiveSnapshotListenerConfig = cfg
	return cfg, nil
}

// loadOrCreate decodes path over the defaults already in cfg, or writes
// cfg to path when the file does not exist yet.
func loadOrCreate(path string, cfg any) error {
	// Create default if not exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		cfgFile, err := os.Create(path)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		if isYAML(path) {
			enc := yaml.NewEncoder(cfgFile)
			defer enc.Close()
			return enc.Encode(cfg)
		}
		return toml.NewEncoder(cfgFile).Encode(cfg)
	}

	// Load existing config
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func (c *SensorLoggerConfig) Validate() error {
	var errs []error

	if c.DeviceID == "" || strings.ContainsAny(c.DeviceID, `/\ `) {
		errs = append(errs, fmt.Errorf("device_id %q must be a non-empty file name fragment", c.DeviceID))
	}

	switch c.Transport.Type {
	case "serial":
		if c.Transport.SerialDevice == "" {
			errs = append(errs, errors.New("transport.serial_device is required for serial transport"))
		}
		if c.Transport.Baudrate == 0 {
			errs = append(errs, errors.New("transport.baudrate must be positive"))
		}
	case "tcp":
		if c.Transport.TCPAddress == "" {
			errs = append(errs, errors.New("transport.tcp_address is required for tcp transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.type %q must be serial or tcp", c.Transport.Type))
	}
	if c.Transport.ReadTimeout.Duration > time.Second {
		errs = append(errs, errors.New("transport.read_timeout must be at most 1s"))
	}

	if c.Reader.ErrorThreshold < 0 || c.Reader.MaxReconnectAttempts < 0 || c.Reader.MaxLineBytes < 0 {
		errs = append(errs, errors.New("reader limits must not be negative"))
	}

	b := c.BatchLogger
	if b.OutputDir == "" {
		errs = append(errs, errors.New("batch_logger.output_dir is required"))
	}
	switch {
	case b.RotationPeriod.Duration < time.Second:
		errs = append(errs, errors.New("batch_logger.rotation_period must be at least 1s"))
	case 24*time.Hour%b.RotationPeriod.Duration != 0:
		errs = append(errs, fmt.Errorf("batch_logger.rotation_period %s must divide 24h", b.RotationPeriod.Duration))
	}
	if b.FlushMaxEntries < 0 || b.MaxPendingEntries < 0 {
		errs = append(errs, errors.New("batch_logger entry limits must not be negative"))
	}
	if b.TickInterval.Duration < 0 {
		errs = append(errs, errors.New("batch_logger.tick_interval must not be negative"))
	}

	if c.LiveAPI.Enabled && (c.LiveAPI.ListenPort <= 0 || c.LiveAPI.ListenPort > 65535) {
		errs = append(errs, fmt.Errorf("live_api.listen_port %d out of range", c.LiveAPI.ListenPort))
	}
	if c.Catalog.Enabled && c.Catalog.DbPath == "" {
		errs = append(errs, errors.New("catalog.db_path is required when the catalog is enabled"))
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	return errors.Join(errs...)
}
