package port_reader

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrTransport wraps open and read failures of a transport.
	ErrTransport = errors.New("transport failure")
	// ErrEmptyRead signals a readable transport that delivered no bytes.
	ErrEmptyRead = errors.New("empty read")
	// ErrStale is recorded when the watchdog fires a second time.
	ErrStale = errors.New("no data decoded within staleness interval")
	// ErrReconnectExhausted is returned by Run once the reconnect budget
	// is used up. It is the only error that stops the pipeline.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// ConnectionState is the reader's view of its transport.
type ConnectionState uint8

const (
	StateClosed ConnectionState = iota
	StateOpening
	StateOpen
	StateDegraded
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a copy of the supervisor state.
type Status struct {
	State             ConnectionState `json:"state"`
	ConsecutiveErrors int             `json:"consecutive_errors"`
	ReconnectAttempts int             `json:"reconnect_attempts"`
	Terminal          bool            `json:"terminal"`
	Transport         string          `json:"transport"`
	LastError         string          `json:"last_error,omitempty"`
	LastDecodedAt     time.Time       `json:"last_decoded_at,omitempty"`
}

// Counters are kept separately for line decoding and for the connection so
// that one never masks the other.
type Counters struct {
	Lines          uint64            `json:"lines"`
	Decoded        uint64            `json:"decoded"`
	DecodeErrors   map[string]uint64 `json:"decode_errors"`
	OversizedLines uint64            `json:"oversized_lines"`
	ReadErrors     uint64            `json:"read_errors"`
	Reconnects     uint64            `json:"reconnects"`
	WatchdogResets uint64            `json:"watchdog_resets"`
}

// Options tunes the reader loop. Zero values take the defaults noted.
type Options struct {
	ErrorThreshold       int           // default 3
	MaxReconnectAttempts int           // default 5
	ReconnectBackoff     time.Duration // default 1s
	PollInterval         time.Duration // default 50ms
	StaleAfter           time.Duration // default 10s
	MaxLineBytes         int           // default 4096
	ReadChunk            int           // default 1024

	Log *logrus.Entry
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.ErrorThreshold <= 0 {
		o.ErrorThreshold = 3
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 10 * time.Second
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = 4096
	}
	if o.ReadChunk <= 0 {
		o.ReadChunk = 1024
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}
