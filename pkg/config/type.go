package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so config files can use "10s", "2m".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

type SnapshotListenerConfig struct {
	LiveAPIHost string `toml:"live_api_host" yaml:"live_api_host"`
	TLSEnabled  bool   `toml:"tls_enabled" yaml:"tls_enabled"`
}

type SensorLoggerConfig struct {
	// Device identifier used in batch file names
	DeviceID string `toml:"device_id" yaml:"device_id"`

	Transport   TransportConfig   `toml:"transport" yaml:"transport"`
	Reader      ReaderConfig      `toml:"reader" yaml:"reader"`
	BatchLogger BatchLoggerConfig `toml:"batch_logger" yaml:"batch_logger"`
	LiveAPI     LiveAPIConfig     `toml:"live_api" yaml:"live_api"`
	Catalog     CatalogConfig     `toml:"catalog" yaml:"catalog"`
	Log         LogConfig         `toml:"log" yaml:"log"`
}

type TransportConfig struct {
	// "serial" or "tcp"
	Type         string   `toml:"type" yaml:"type"`
	SerialDevice string   `toml:"serial_device" yaml:"serial_device"`
	Baudrate     uint     `toml:"baudrate" yaml:"baudrate"`
	ReadTimeout  Duration `toml:"read_timeout" yaml:"read_timeout"`
	TCPAddress   string   `toml:"tcp_address" yaml:"tcp_address"`
	// Ping the host before dialing, requires ICMP permissions
	ProbeHost bool `toml:"probe_host" yaml:"probe_host"`
}

type ReaderConfig struct {
	ErrorThreshold       int      `toml:"error_threshold" yaml:"error_threshold"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectBackoff     Duration `toml:"reconnect_backoff" yaml:"reconnect_backoff"`
	PollInterval         Duration `toml:"poll_interval" yaml:"poll_interval"`
	StaleAfter           Duration `toml:"stale_after" yaml:"stale_after"`
	MaxLineBytes         int      `toml:"max_line_bytes" yaml:"max_line_bytes"`
}

type BatchLoggerConfig struct {
	OutputDir         string   `toml:"output_dir" yaml:"output_dir"`
	RotationPeriod    Duration `toml:"rotation_period" yaml:"rotation_period"`
	FlushInterval     Duration `toml:"flush_interval" yaml:"flush_interval"`
	FlushMaxEntries   int      `toml:"flush_max_entries" yaml:"flush_max_entries"`
	IdleSyncAfter     Duration `toml:"idle_sync_after" yaml:"idle_sync_after"`
	TickInterval      Duration `toml:"tick_interval" yaml:"tick_interval"`
	MaxPendingEntries int      `toml:"max_pending_entries" yaml:"max_pending_entries"`
	CompressClosed    bool     `toml:"compress_closed" yaml:"compress_closed"`
}

type LiveAPIConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	ListenAddress string `toml:"listen_address" yaml:"listen_address"`
	ListenPort    int    `toml:"listen_port" yaml:"listen_port"`
	// How often each websocket client polls the latest snapshot
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
}

type CatalogConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	DbPath  string `toml:"db_path" yaml:"db_path"`
}

type LogConfig struct {
	// logrus level name
	Level string `toml:"level" yaml:"level"`
	// "text" or "json"
	Format string `toml:"format" yaml:"format"`
	// Optional, relative paths resolve against pathing.GetLogDir()
	File string `toml:"file" yaml:"file"`
}
