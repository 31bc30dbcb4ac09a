// Package port_reader owns the device byte stream: it frames lines,
// decodes them and supervises reconnection with a bounded retry budget.
package port_reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/decoder"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/types"
	"github.com/sirupsen/logrus"
)

// maxDrainReads bounds back-to-back reads in one poll cycle.
const maxDrainReads = 64

// StoreUpdater receives every decoded reading for display.
type StoreUpdater interface {
	Update(r types.Reading)
}

// ReadingLogger receives every decoded reading for persistence.
type ReadingLogger interface {
	Ingest(r types.Reading)
}

// Reader drives one transport from a single goroutine. Only Run mutates
// the connection state; Status and Counters return copies.
type Reader struct {
	transport Transport
	store     StoreUpdater
	logger    ReadingLogger
	opts      Options
	log       *logrus.Entry

	lineBuf       []byte
	lastDecode    time.Time
	watchdogFired bool
	lastErr       error

	mu       sync.Mutex
	status   Status
	counters Counters
}

// NewReader creates a reader. It does not open the transport.
func NewReader(transport Transport, store StoreUpdater, logger ReadingLogger, opts Options) *Reader {
	opts.applyDefaults()
	return &Reader{
		transport: transport,
		store:     store,
		logger:    logger,
		opts:      opts,
		log:       opts.Log.WithFields(logrus.Fields{"component": "port_reader", "transport": transport.String()}),
		status:    Status{State: StateClosed, Transport: transport.String()},
		counters:  Counters{DecodeErrors: make(map[string]uint64)},
	}
}

// Run reads until ctx is cancelled or the reconnect budget is exhausted.
// A cancelled context returns nil; exhaustion returns ErrReconnectExhausted.
func (r *Reader) Run(ctx context.Context) error {
	r.setState(StateOpening)
	if err := r.transport.Open(ctx); err != nil {
		if ctx.Err() != nil {
			return r.stop()
		}
		r.log.WithError(err).Warn("initial open failed")
		r.lastErr = err
		if err := r.reconnect(ctx); err != nil {
			return err
		}
	} else {
		r.opened()
	}

	buf := make([]byte, r.opts.ReadChunk)
	for {
		if ctx.Err() != nil {
			return r.stop()
		}

		n, err := r.drain(buf)
		switch {
		case err != nil:
			r.failure(err)
		case n == 0:
			r.checkStale(r.opts.Now())
		}

		if r.consecutiveErrors() >= r.opts.ErrorThreshold {
			if err := r.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		if !sleepWithContext(ctx, r.opts.PollInterval) {
			return r.stop()
		}
	}
}

// drain reads while the transport keeps filling the whole buffer, so a
// backlog is consumed before the next poll sleep. It returns the result of
// the last read.
func (r *Reader) drain(buf []byte) (int, error) {
	for i := 0; ; i++ {
		n, err := r.transport.Read(buf)
		if n > 0 {
			r.healthy()
			r.consume(buf[:n], r.opts.Now())
		}
		if err != nil || n < len(buf) || i+1 >= maxDrainReads {
			return n, err
		}
	}
}

// Status returns the current supervisor state.
func (r *Reader) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Counters returns a copy of the diagnostic counters.
func (r *Reader) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counters
	c.DecodeErrors = make(map[string]uint64, len(r.counters.DecodeErrors))
	for k, v := range r.counters.DecodeErrors {
		c.DecodeErrors[k] = v
	}
	return c
}

// consume appends data to the line buffer and dispatches complete lines.
func (r *Reader) consume(data []byte, now time.Time) {
	r.lineBuf = append(r.lineBuf, data...)
	for {
		idx := bytes.IndexByte(r.lineBuf, '\n')
		if idx < 0 {
			break
		}
		line := string(r.lineBuf[:idx])
		r.lineBuf = r.lineBuf[idx+1:]
		r.processLine(line, now)
	}

	if len(r.lineBuf) > r.opts.MaxLineBytes {
		r.log.WithField("bytes", len(r.lineBuf)).Warn("discarding unterminated oversized line")
		r.lineBuf = nil
		r.mu.Lock()
		r.counters.OversizedLines++
		r.counters.DecodeErrors[decoder.KindMalformed.String()]++
		r.mu.Unlock()
		return
	}
	// Compact so the backing array does not grow without bound.
	if len(r.lineBuf) == 0 {
		r.lineBuf = r.lineBuf[:0:0]
	} else if cap(r.lineBuf) > 4*r.opts.MaxLineBytes {
		r.lineBuf = append([]byte(nil), r.lineBuf...)
	}
}

func (r *Reader) processLine(raw string, now time.Time) {
	line := strings.TrimSpace(strings.ToValidUTF8(raw, ""))
	if line == "" {
		return
	}

	reading, err := decoder.Decode(line)
	r.mu.Lock()
	r.counters.Lines++
	if err != nil {
		r.counters.DecodeErrors[decoder.KindOf(err).String()]++
		r.mu.Unlock()
		r.log.WithError(err).Debug("dropping line")
		return
	}
	r.counters.Decoded++
	attempts := r.status.ReconnectAttempts
	r.status.ReconnectAttempts = 0
	r.status.LastDecodedAt = now
	r.mu.Unlock()

	if attempts > 0 {
		r.log.WithField("attempts", attempts).Info("data flowing again, reconnect budget restored")
	}
	r.lastDecode = now
	r.watchdogFired = false

	r.store.Update(reading)
	r.logger.Ingest(reading)
}

// checkStale resets the input once when nothing decoded for StaleAfter and
// counts a failure if the silence persists for another interval.
func (r *Reader) checkStale(now time.Time) {
	if now.Sub(r.lastDecode) < r.opts.StaleAfter {
		return
	}
	r.lastDecode = now

	if r.watchdogFired {
		r.failure(ErrStale)
		return
	}
	r.watchdogFired = true
	r.lineBuf = nil
	r.mu.Lock()
	r.counters.WatchdogResets++
	r.mu.Unlock()

	r.log.WithField("stale_after", r.opts.StaleAfter).Warn("no data decoded, resetting input buffer")
	if err := r.transport.ResetInput(); err != nil {
		r.log.WithError(err).Warn("input reset failed")
	}
}

func (r *Reader) failure(err error) {
	r.lastErr = err
	r.mu.Lock()
	r.counters.ReadErrors++
	r.status.ConsecutiveErrors++
	r.status.State = StateDegraded
	r.status.LastError = err.Error()
	n := r.status.ConsecutiveErrors
	r.mu.Unlock()

	r.log.WithError(err).Warnf("read error (%d/%d)", n, r.opts.ErrorThreshold)
}

func (r *Reader) healthy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.ConsecutiveErrors = 0
	if r.status.State == StateDegraded {
		r.status.State = StateOpen
	}
}

func (r *Reader) consecutiveErrors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.ConsecutiveErrors
}

// reconnect closes the transport and reopens it after the backoff until it
// succeeds, ctx is cancelled or the attempt budget runs out.
func (r *Reader) reconnect(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.status.ReconnectAttempts++
		attempt := r.status.ReconnectAttempts
		lastState := r.status.State
		r.mu.Unlock()

		if attempt > r.opts.MaxReconnectAttempts {
			return r.exhausted(lastState, attempt-1)
		}

		r.setState(StateReconnecting)
		if err := r.transport.Close(); err != nil {
			r.log.WithError(err).Debug("close before reconnect failed")
		}
		r.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     r.opts.MaxReconnectAttempts,
			"backoff": r.opts.ReconnectBackoff,
		}).Warn("reconnecting")

		if !sleepWithContext(ctx, r.opts.ReconnectBackoff) {
			return r.stop()
		}

		r.setState(StateOpening)
		err := r.transport.Open(ctx)
		if err == nil {
			r.mu.Lock()
			r.counters.Reconnects++
			r.mu.Unlock()
			r.opened()
			r.log.WithField("attempt", attempt).Info("reconnected")
			return nil
		}
		if ctx.Err() != nil {
			return r.stop()
		}
		r.lastErr = err
		r.mu.Lock()
		r.status.LastError = err.Error()
		r.mu.Unlock()
		r.log.WithError(err).WithField("attempt", attempt).Warn("reconnect failed")
	}
}

func (r *Reader) exhausted(lastState ConnectionState, attempts int) error {
	r.transport.Close()
	r.mu.Lock()
	r.status.State = StateClosed
	r.status.Terminal = true
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"last_state": lastState.String(),
		"attempts":   attempts,
	}).WithError(r.lastErr).Error("reconnect budget exhausted, reader stopped")

	return fmt.Errorf("%w: %d attempts on %s, last state %s: %w",
		ErrReconnectExhausted, attempts, r.transport, lastState, r.lastErr)
}

func (r *Reader) opened() {
	r.lineBuf = nil
	r.lastDecode = r.opts.Now()
	r.watchdogFired = false

	r.mu.Lock()
	r.status.State = StateOpen
	r.status.ConsecutiveErrors = 0
	r.mu.Unlock()
	r.log.Info("transport open")
}

// stop is the clean shutdown path.
func (r *Reader) stop() error {
	if err := r.transport.Close(); err != nil && !errors.Is(err, context.Canceled) {
		r.log.WithError(err).Debug("close on stop failed")
	}
	r.setState(StateClosed)
	r.log.Info("reader stopped")
	return nil
}

func (r *Reader) setState(s ConnectionState) {
	r.mu.Lock()
	r.status.State = s
	r.mu.Unlock()
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
