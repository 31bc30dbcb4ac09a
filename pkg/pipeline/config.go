package pipeline

import (
	"fmt"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/batchlog"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/config"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/port_reader"
	"github.com/sirupsen/logrus"
)

// NewTransport builds the transport selected in the config.
func NewTransport(cfg config.TransportConfig) (port_reader.Transport, error) {
	switch cfg.Type {
	case "serial":
		t := port_reader.NewSerialTransport(cfg.SerialDevice, cfg.Baudrate)
		if cfg.ReadTimeout.Duration > 0 {
			t.ReadTimeout = cfg.ReadTimeout.Duration
		}
		return t, nil
	case "tcp":
		t := port_reader.NewTCPTransport(cfg.TCPAddress)
		t.ProbeHost = cfg.ProbeHost
		if cfg.ReadTimeout.Duration > 0 {
			t.ReadTimeout = cfg.ReadTimeout.Duration
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Type)
	}
}

// OptionsFromConfig maps a loaded config onto pipeline options. The
// recorder is left unset, the caller owns the catalog.
func OptionsFromConfig(cfg *config.SensorLoggerConfig, log *logrus.Entry) (Options, error) {
	transport, err := NewTransport(cfg.Transport)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Transport: transport,
		Reader: port_reader.Options{
			ErrorThreshold:       cfg.Reader.ErrorThreshold,
			MaxReconnectAttempts: cfg.Reader.MaxReconnectAttempts,
			ReconnectBackoff:     cfg.Reader.ReconnectBackoff.Duration,
			PollInterval:         cfg.Reader.PollInterval.Duration,
			StaleAfter:           cfg.Reader.StaleAfter.Duration,
			MaxLineBytes:         cfg.Reader.MaxLineBytes,
		},
		Logger: batchlog.Options{
			OutputDir:         cfg.BatchLogger.OutputDir,
			DeviceID:          cfg.DeviceID,
			RotationPeriod:    cfg.BatchLogger.RotationPeriod.Duration,
			FlushInterval:     cfg.BatchLogger.FlushInterval.Duration,
			FlushMaxEntries:   cfg.BatchLogger.FlushMaxEntries,
			IdleSyncAfter:     cfg.BatchLogger.IdleSyncAfter.Duration,
			MaxPendingEntries: cfg.BatchLogger.MaxPendingEntries,
			CompressClosed:    cfg.BatchLogger.CompressClosed,
		},
		TickInterval: cfg.BatchLogger.TickInterval.Duration,
		Log:          log,
	}, nil
}
