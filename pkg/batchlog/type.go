package batchlog

import (
	"errors"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/types"
	"github.com/sirupsen/logrus"
)

// ErrPersistence wraps every file create, write or flush failure.
var ErrPersistence = errors.New("persistence failure")

// Options configures a Logger. Zero values take the defaults below.
type Options struct {
	OutputDir         string
	DeviceID          string
	RotationPeriod    time.Duration // default 10m
	FlushInterval     time.Duration // default 10s
	FlushMaxEntries   int           // default 50
	IdleSyncAfter     time.Duration // default 120s
	MaxPendingEntries int           // default 86400
	CompressClosed    bool

	// OnClose is called after a batch file is closed, from the goroutine
	// that closed it.
	OnClose func(ClosedFile)

	Log *logrus.Entry
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.DeviceID == "" {
		o.DeviceID = "amsky01"
	}
	if o.RotationPeriod <= 0 {
		o.RotationPeriod = 10 * time.Minute
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 10 * time.Second
	}
	if o.FlushMaxEntries <= 0 {
		o.FlushMaxEntries = 50
	}
	if o.IdleSyncAfter <= 0 {
		o.IdleSyncAfter = 120 * time.Second
	}
	if o.MaxPendingEntries <= 0 {
		o.MaxPendingEntries = 86400
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// LogEntry is one second-bucketed row. A nil class field was not seen
// during that second.
type LogEntry struct {
	TimestampUTC time.Time
	UnixSeconds  int64
	Hygro        *types.Hygro
	Light        *types.Light
	Thermal      *types.Thermal
}

// Empty reports whether no class field is populated.
func (e *LogEntry) Empty() bool {
	return e.Hygro == nil && e.Light == nil && e.Thermal == nil
}

// merge overwrites the fields of r's class.
func (e *LogEntry) merge(r types.Reading) {
	switch v := r.(type) {
	case types.Hygro:
		e.Hygro = &v
	case types.Light:
		e.Light = &v
	case types.Thermal:
		e.Thermal = &v
	}
}

// RotationWindow is the validity interval [Start, NextBoundary) of the
// active batch file.
type RotationWindow struct {
	Start        time.Time `json:"start"`
	NextBoundary time.Time `json:"next_boundary"`
}

// ClosedFile describes a batch file that will not be written again.
type ClosedFile struct {
	Path        string
	Device      string
	WindowStart time.Time
	WindowEnd   time.Time
	Rows        int
	Compressed  bool
}

// Stats are the logger counters exposed for diagnostics.
type Stats struct {
	Pending             int    `json:"pending"`
	Dropped             uint64 `json:"dropped"`
	RowsWritten         uint64 `json:"rows_written"`
	FilesClosed         uint64 `json:"files_closed"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
	CurrentFile         string `json:"current_file"`
}
