package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/batchlog"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/latest"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/port_reader"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrAlreadyStarted = errors.New("pipeline already started")

// Pipeline owns the reader goroutine and the tick scheduler that share one
// store and one batch logger.
type Pipeline struct {
	opts  Options
	runID string
	log   *logrus.Entry

	store  *latest.Store
	logger *batchlog.Logger
	reader *port_reader.Reader

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func New(opts Options) (*Pipeline, error) {
	if opts.Transport == nil {
		return nil, errors.New("pipeline: no transport configured")
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 2 * time.Second
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	p := &Pipeline{
		opts:  opts,
		runID: opts.RunID,
		done:  make(chan struct{}),
		store: latest.NewStore(),
	}
	p.log = opts.Log.WithFields(logrus.Fields{
		"run_id": p.runID,
		"device": opts.Logger.DeviceID,
	})

	loggerOpts := opts.Logger
	loggerOpts.Log = p.log
	userHook := loggerOpts.OnClose
	loggerOpts.OnClose = func(f batchlog.ClosedFile) {
		p.recordClosed(f)
		if userHook != nil {
			userHook(f)
		}
	}
	logger, err := batchlog.New(loggerOpts)
	if err != nil {
		return nil, err
	}
	p.logger = logger

	readerOpts := opts.Reader
	readerOpts.Log = p.log
	p.reader = port_reader.NewReader(opts.Transport, p.store, p.logger, readerOpts)

	return p, nil
}

// Start launches the reader and the tick scheduler. The pipeline stops when
// ctx is cancelled, Shutdown is called or the reader gives up.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.reader.Run(gctx)
	})
	g.Go(func() error {
		p.tickLoop(gctx)
		return nil
	})

	p.log.WithField("transport", p.opts.Transport.String()).Info("pipeline started")

	go func() {
		runErr := g.Wait()
		cancel()
		if runErr != nil {
			p.log.WithError(runErr).Error("pipeline stopped")
		}
		shutdownErr := p.logger.Shutdown()

		p.mu.Lock()
		p.err = errors.Join(runErr, shutdownErr)
		p.mu.Unlock()
		close(p.done)
		p.log.Info("pipeline finished")
	}()
	return nil
}

func (p *Pipeline) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Failures are logged by the logger and retried next tick.
			_ = p.logger.Tick()
		}
	}
}

// Wait blocks until the pipeline has stopped and returns the reason, nil
// after a clean shutdown.
func (p *Pipeline) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed once the workers have stopped and the logger is closed.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Shutdown cancels the workers and waits for them until ctx expires. The
// logger is flushed and closed in either case.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	started, cancel := p.started, p.cancel
	p.mu.Unlock()

	if !started {
		return p.logger.Shutdown()
	}
	cancel()

	select {
	case <-p.done:
		return p.Wait()
	case <-ctx.Done():
		p.log.Warn("workers did not stop in time, closing batch logger anyway")
		return errors.Join(
			fmt.Errorf("pipeline shutdown: %w", ctx.Err()),
			p.logger.Shutdown(),
		)
	}
}

func (p *Pipeline) recordClosed(f batchlog.ClosedFile) {
	if p.opts.Recorder == nil {
		return
	}
	rec, err := p.opts.Recorder.RecordBatchFile(f, p.runID)
	if err != nil {
		p.log.WithError(err).WithField("path", f.Path).Warn("failed to catalog batch file")
		return
	}
	p.log.WithFields(logrus.Fields{
		"path":  rec.Path,
		"crc16": fmt.Sprintf("%04X", rec.CRC16),
	}).Debug("batch file catalogued")
}

func (p *Pipeline) RunID() string {
	return p.runID
}

func (p *Pipeline) Store() *latest.Store {
	return p.store
}

func (p *Pipeline) Snapshot() latest.Snapshot {
	return p.store.Snapshot()
}

func (p *Pipeline) Stats() Stats {
	var running bool
	select {
	case <-p.done:
	default:
		p.mu.Lock()
		running = p.started
		p.mu.Unlock()
	}

	return Stats{
		RunID:     p.runID,
		Running:   running,
		Device:    p.opts.Logger.DeviceID,
		Transport: p.opts.Transport.String(),
		Status:    p.reader.Status(),
		Counters:  p.reader.Counters(),
		Logger:    p.logger.Stats(),
	}
}
