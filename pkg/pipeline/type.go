package pipeline

import (
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/batchlog"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/catalogdb"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/port_reader"
	"github.com/sirupsen/logrus"
)

// BatchRecorder receives every batch file the logger closes.
// Implemented by *catalogdb.Catalog.
type BatchRecorder interface {
	RecordBatchFile(f batchlog.ClosedFile, runID string) (*catalogdb.BatchFile, error)
}

type Options struct {
	Transport port_reader.Transport
	Reader    port_reader.Options
	Logger    batchlog.Options

	// How often Logger.Tick runs, default 2s
	TickInterval time.Duration

	// Optional
	Recorder BatchRecorder

	// Generated when empty
	RunID string

	Log *logrus.Entry
}

// Stats combines reader and logger diagnostics.
type Stats struct {
	RunID     string               `json:"run_id"`
	Running   bool                 `json:"running"`
	Device    string               `json:"device"`
	Transport string               `json:"transport"`
	Status    port_reader.Status   `json:"status"`
	Counters  port_reader.Counters `json:"counters"`
	Logger    batchlog.Stats       `json:"logger"`
}
