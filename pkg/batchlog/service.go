// Package batchlog buffers readings into one-second rows and appends them
// to CSV batch files that rotate on fixed UTC boundaries.
package batchlog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/types"
	"github.com/sirupsen/logrus"
)

const maxNameAttempts = 100

// batchFile is the part of *os.File the logger writes through.
type batchFile interface {
	io.Writer
	Truncate(size int64) error
	Sync() error
	Close() error
}

// Logger is the rotating batch logger. Ingest may be called from the reader
// goroutine while Tick and Shutdown run on another.
type Logger struct {
	opts Options
	log  *logrus.Entry

	// mu guards the pending buffer only and is never held across I/O.
	mu          sync.Mutex
	pending     map[int64]*pendingEntry
	lastIngest  time.Time
	stopped     bool
	dropped     atomic.Uint64
	droppedSeen uint64

	// ioMu serializes every file operation: flush, rotate, sync and close.
	ioMu      sync.Mutex
	file      batchFile
	path      string
	window    RotationWindow
	offset    int64
	fileRows  int
	lastFlush time.Time
	lastSync  time.Time
	closed    bool

	rowsWritten atomic.Uint64
	filesClosed atomic.Uint64
	failures    atomic.Int64
	currentPath atomic.Pointer[string]
}

type pendingEntry struct {
	entry   LogEntry
	version uint64
}

// New creates the output directory and opens the first batch file.
func New(opts Options) (*Logger, error) {
	opts.applyDefaults()
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("%w: no output directory configured", ErrPersistence)
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %w", ErrPersistence, err)
	}

	now := opts.Now()
	l := &Logger{
		opts:       opts,
		log:        opts.Log.WithField("component", "batchlog"),
		pending:    make(map[int64]*pendingEntry),
		lastIngest: now,
		lastFlush:  now,
		lastSync:   now,
	}

	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	if err := l.openWindowLocked(now); err != nil {
		return nil, err
	}
	return l, nil
}

// Ingest merges r into the row of the current second.
func (l *Logger) Ingest(r types.Reading) {
	now := l.opts.Now().UTC()
	key := now.Unix()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}

	pe, ok := l.pending[key]
	if !ok {
		if len(l.pending) >= l.opts.MaxPendingEntries {
			l.dropped.Add(1)
			return
		}
		pe = &pendingEntry{entry: LogEntry{TimestampUTC: now, UnixSeconds: key}}
		l.pending[key] = pe
	}
	pe.entry.merge(r)
	pe.version++
	l.lastIngest = now
}

// Tick rotates, flushes or syncs depending on elapsed time and buffer size.
// It is meant to be called every few seconds by a scheduler.
func (l *Logger) Tick() error {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	if l.closed {
		return nil
	}

	l.reportDrops()
	now := l.opts.Now()

	if l.file == nil {
		if err := l.openWindowLocked(now); err != nil {
			return l.failed(err)
		}
	}

	if !now.Before(l.window.NextBoundary) {
		return l.rotateLocked(now)
	}

	pending, idleFor := l.pendingState(now)
	switch {
	case pending > 0 && (now.Sub(l.lastFlush) >= l.opts.FlushInterval || pending >= l.opts.FlushMaxEntries):
		return l.flushLocked(now, true)
	case idleFor >= l.opts.IdleSyncAfter && now.Sub(l.lastSync) >= l.opts.IdleSyncAfter:
		return l.syncLocked(now)
	}
	return nil
}

// Flush writes all pending entries to the active file now.
func (l *Logger) Flush() error {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	if l.closed {
		return nil
	}
	return l.flushLocked(l.opts.Now(), false)
}

// Shutdown flushes pending entries and closes the active file. Further
// calls return nil. Readings ingested afterwards are discarded.
func (l *Logger) Shutdown() error {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	now := l.opts.Now()
	flushErr := l.flushLocked(now, false)
	closeErr := l.closeFileLocked(now)
	l.reportDrops()
	return errors.Join(flushErr, closeErr)
}

// Window returns the active rotation window.
func (l *Logger) Window() RotationWindow {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	return l.window
}

// Stats returns the current counters without waiting on file I/O.
func (l *Logger) Stats() Stats {
	l.mu.Lock()
	pending := len(l.pending)
	l.mu.Unlock()

	s := Stats{
		Pending:             pending,
		Dropped:             l.dropped.Load(),
		RowsWritten:         l.rowsWritten.Load(),
		FilesClosed:         l.filesClosed.Load(),
		ConsecutiveFailures: l.failures.Load(),
	}
	if p := l.currentPath.Load(); p != nil {
		s.CurrentFile = *p
	}
	return s
}

func (l *Logger) pendingState(now time.Time) (int, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending), now.Sub(l.lastIngest)
}

func (l *Logger) reportDrops() {
	dropped := l.dropped.Load()
	if dropped > l.droppedSeen {
		l.log.WithFields(logrus.Fields{
			"dropped_total": dropped,
			"dropped_new":   dropped - l.droppedSeen,
			"max_pending":   l.opts.MaxPendingEntries,
		}).Warn("pending buffer full, readings dropped")
		l.droppedSeen = dropped
	}
}

// rotateLocked force-flushes, closes the current file and opens the next
// window. A failed flush keeps its entries pending for the new file.
func (l *Logger) rotateLocked(now time.Time) error {
	flushErr := l.flushLocked(now, false)
	closeErr := l.closeFileLocked(now)
	openErr := l.openWindowLocked(now)
	if openErr != nil {
		openErr = l.failed(openErr)
	}
	return errors.Join(flushErr, closeErr, openErr)
}

// flushLocked appends pending entries sorted by second. Entries are removed
// from the buffer only once the write succeeded, and only if no reading
// merged into them while the write was in progress. With holdCurrent the
// bucket of the running second stays pending so it is written as one row.
func (l *Logger) flushLocked(now time.Time, holdCurrent bool) error {
	current := now.UTC().Unix()

	l.mu.Lock()
	batch := make([]*LogEntry, 0, len(l.pending))
	versions := make(map[int64]uint64, len(l.pending))
	for key, pe := range l.pending {
		if holdCurrent && key >= current {
			continue
		}
		e := pe.entry
		batch = append(batch, &e)
		versions[key] = pe.version
	}
	l.mu.Unlock()

	if len(batch) == 0 {
		l.lastFlush = now
		return nil
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].UnixSeconds < batch[j].UnixSeconds })

	if l.file == nil {
		if err := l.openWindowLocked(now); err != nil {
			return l.failed(err)
		}
	}

	data, rows, err := encodeRows(batch)
	if err != nil {
		return l.failed(fmt.Errorf("%w: encode rows: %w", ErrPersistence, err))
	}

	n, err := l.file.Write(data)
	if err != nil {
		// Cut back to the last complete row.
		if terr := l.file.Truncate(l.offset); terr != nil {
			err = errors.Join(err, terr)
		}
		return l.failed(fmt.Errorf("%w: write %s: %w", ErrPersistence, l.path, err))
	}
	l.offset += int64(n)
	if err := l.file.Sync(); err != nil {
		l.log.WithError(err).WithField("path", l.path).Warn("fsync after flush failed")
	}

	l.mu.Lock()
	for key, v := range versions {
		if pe, ok := l.pending[key]; ok && pe.version == v {
			delete(l.pending, key)
		}
	}
	l.mu.Unlock()

	l.fileRows += rows
	l.rowsWritten.Add(uint64(rows))
	l.lastFlush = now
	l.lastSync = now
	if prev := l.failures.Swap(0); prev > 0 {
		l.log.WithField("failures", prev).Info("persistence recovered")
	}
	l.log.WithFields(logrus.Fields{"rows": rows, "path": filepath.Base(l.path)}).Debug("flushed batch")
	return nil
}

func (l *Logger) syncLocked(now time.Time) error {
	l.lastSync = now
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return l.failed(fmt.Errorf("%w: sync %s: %w", ErrPersistence, l.path, err))
	}
	l.log.WithField("path", filepath.Base(l.path)).Debug("idle sync")
	return nil
}

func (l *Logger) openWindowLocked(now time.Time) error {
	window := newWindow(now, l.opts.RotationPeriod)

	var (
		f    *os.File
		path string
		err  error
	)
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		path = batchFilePath(l.opts.OutputDir, l.opts.DeviceID, window.Start, attempt)
		if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("%w: create batch dir: %w", ErrPersistence, err)
		}
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0644)
		if err == nil || !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrPersistence, path, err)
	}

	header := encodeHeader()
	if _, err := f.Write(header); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("%w: write header %s: %w", ErrPersistence, path, err)
	}

	l.file = f
	l.path = path
	l.window = window
	l.offset = int64(len(header))
	l.fileRows = 0
	l.currentPath.Store(&path)

	l.log.WithFields(logrus.Fields{
		"path":          path,
		"next_rotation": window.NextBoundary.Format(time.RFC3339),
	}).Info("opened batch file")
	return nil
}

func (l *Logger) closeFileLocked(now time.Time) error {
	if l.file == nil {
		return nil
	}
	f, path := l.file, l.path
	l.file = nil
	l.path = ""
	l.currentPath.Store(nil)

	syncErr := f.Sync()
	if err := f.Close(); err != nil {
		return l.failed(fmt.Errorf("%w: close %s: %w", ErrPersistence, path, errors.Join(syncErr, err)))
	}
	l.filesClosed.Add(1)

	closed := ClosedFile{
		Path:        path,
		Device:      l.opts.DeviceID,
		WindowStart: l.window.Start,
		WindowEnd:   now.UTC(),
		Rows:        l.fileRows,
	}
	if l.opts.CompressClosed {
		if gz, err := compressFile(path); err != nil {
			l.log.WithError(err).WithField("path", path).Warn("compressing closed batch file failed")
		} else {
			closed.Path = gz
			closed.Compressed = true
		}
	}
	l.log.WithFields(logrus.Fields{"path": closed.Path, "rows": closed.Rows}).Info("closed batch file")

	if l.opts.OnClose != nil {
		l.opts.OnClose(closed)
	}
	return nil
}

func (l *Logger) failed(err error) error {
	n := l.failures.Add(1)
	l.log.WithError(err).WithField("consecutive_failures", n).Warn("batch persistence failed, will retry")
	return err
}
