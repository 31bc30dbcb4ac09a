package pipeline

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/batchlog"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/catalogdb"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/config"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/port_reader"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// lineTransport serves the queued chunks once and then idles. When broken
// is set every read fails and every reopen after the first is refused.
type lineTransport struct {
	mu     sync.Mutex
	chunks []string
	broken bool
	opens  int
}

func (l *lineTransport) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens++
	if l.broken && l.opens > 1 {
		return errors.New("port vanished")
	}
	return nil
}

func (l *lineTransport) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.broken {
		return 0, errors.New("i/o error")
	}
	if len(l.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, l.chunks[0])
	l.chunks = l.chunks[1:]
	return n, nil
}

func (l *lineTransport) ResetInput() error { return nil }
func (l *lineTransport) Close() error      { return nil }
func (l *lineTransport) String() string    { return "lines" }

type fakeRecorder struct {
	mu    sync.Mutex
	files []batchlog.ClosedFile
	runs  []string
}

func (f *fakeRecorder) RecordBatchFile(c batchlog.ClosedFile, runID string) (*catalogdb.BatchFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, c)
	f.runs = append(f.runs, runID)
	return &catalogdb.BatchFile{Path: c.Path, RunID: runID}, nil
}

func quietLog() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func testOptions(t *testing.T, tr port_reader.Transport) Options {
	t.Helper()
	return Options{
		Transport: tr,
		Reader: port_reader.Options{
			PollInterval:     time.Millisecond,
			ReconnectBackoff: time.Millisecond,
		},
		Logger: batchlog.Options{
			OutputDir: t.TempDir(),
			DeviceID:  "testsky",
		},
		TickInterval: 5 * time.Millisecond,
		Log:          quietLog(),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func csvLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func shutdown(t *testing.T, p *Pipeline) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return p.Shutdown(ctx)
}

func TestPipelineIngestsAndPersists(t *testing.T) {
	tr := &lineTransport{chunks: []string{
		"$hygro,18.5,62.0\n",
		"$light,120.5,640,0,25,100\n",
		"bogus\n",
		"$cloud,-20,-19,-21,-18,-25\n",
	}}
	rec := &fakeRecorder{}
	opts := testOptions(t, tr)
	opts.Recorder = rec

	p, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "all classes in the store", func() bool {
		s := p.Snapshot()
		return s.Hygro != nil && s.Light != nil && s.Thermal != nil
	})

	stats := p.Stats()
	if !stats.Running || stats.RunID != p.RunID() {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Counters.Decoded != 3 || stats.Counters.DecodeErrors["malformed"] != 1 {
		t.Errorf("unexpected counters %+v", stats.Counters)
	}

	if err := shutdown(t, p); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if p.Stats().Running {
		t.Error("pipeline still reports running")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.files) != 1 {
		t.Fatalf("expected one closed file, got %d", len(rec.files))
	}
	if rec.runs[0] != p.RunID() {
		t.Errorf("closed file recorded under run %q", rec.runs[0])
	}

	closed := rec.files[0]
	lines := csvLines(t, closed.Path)
	if len(lines) != closed.Rows+1 || closed.Rows < 1 {
		t.Fatalf("expected header plus %d rows, got %v", closed.Rows, lines)
	}
	if !strings.HasPrefix(lines[0], "timestamp_utc,unix_timestamp") {
		t.Errorf("missing header: %q", lines[0])
	}
	if !strings.Contains(strings.Join(lines[1:], "\n"), "18.5") {
		t.Errorf("hygro reading not persisted: %v", lines)
	}
}

func TestPipelineStopsWhenReconnectsExhausted(t *testing.T) {
	tr := &lineTransport{broken: true}
	p, err := New(testOptions(t, tr))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline did not stop")
	}

	if err := p.Wait(); !errors.Is(err, port_reader.ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", err)
	}
	stats := p.Stats()
	if stats.Running {
		t.Error("pipeline still running after exhaustion")
	}
	if !stats.Status.Terminal {
		t.Errorf("reader not terminal: %+v", stats.Status)
	}
	if stats.Logger.FilesClosed != 1 {
		t.Errorf("expected logger to close its file, got %d", stats.Logger.FilesClosed)
	}
}

func TestPipelineCatalogIntegration(t *testing.T) {
	cat, err := catalogdb.Open(filepath.Join(t.TempDir(), "catalog.db"), quietLog())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	defer cat.Close()

	tr := &lineTransport{chunks: []string{"hygro,21,40\n"}}
	opts := testOptions(t, tr)
	opts.Recorder = cat
	p, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "reading", func() bool { return p.Snapshot().Hygro != nil })
	if err := shutdown(t, p); err != nil {
		t.Fatal(err)
	}

	files, err := cat.ListBatchFiles(time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one catalogued file, got %d", len(files))
	}
	if files[0].RunID != p.RunID() || files[0].Device != "testsky" || files[0].Rows != 1 {
		t.Errorf("unexpected catalog row %+v", files[0])
	}
	if ok, err := files[0].Verify(); err != nil || !ok {
		t.Errorf("checksum mismatch: %v", err)
	}
}

func TestStartTwice(t *testing.T) {
	p, err := New(testOptions(t, &lineTransport{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
	if err := shutdown(t, p); err != nil {
		t.Fatal(err)
	}
}

func TestContextCancelStopsPipeline(t *testing.T) {
	p, err := New(testOptions(t, &lineTransport{}))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline ignored context cancel")
	}
	if err := p.Wait(); err != nil {
		t.Errorf("expected clean stop, got %v", err)
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	p, err := New(testOptions(t, &lineTransport{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(t, p); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if p.Stats().Logger.FilesClosed != 1 {
		t.Error("logger file not closed")
	}
}

func TestNewRequiresTransport(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without transport")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultSensorLoggerConfig()
	cfg.BatchLogger.OutputDir = t.TempDir()

	opts, err := OptionsFromConfig(cfg, quietLog())
	if err != nil {
		t.Fatal(err)
	}
	serial, ok := opts.Transport.(*port_reader.SerialTransport)
	if !ok || serial.Port != "/dev/ttyACM0" || serial.Baudrate != 115200 {
		t.Errorf("unexpected serial transport %#v", opts.Transport)
	}
	if opts.Logger.RotationPeriod != 10*time.Minute || opts.Logger.DeviceID != "amsky01" {
		t.Errorf("logger options not mapped: %+v", opts.Logger)
	}
	if opts.Reader.MaxReconnectAttempts != 5 || opts.TickInterval != 2*time.Second {
		t.Errorf("reader options not mapped: %+v", opts.Reader)
	}

	cfg.Transport.Type = "tcp"
	cfg.Transport.ProbeHost = true
	opts, err = OptionsFromConfig(cfg, quietLog())
	if err != nil {
		t.Fatal(err)
	}
	tcp, ok := opts.Transport.(*port_reader.TCPTransport)
	if !ok || tcp.Address != cfg.Transport.TCPAddress || !tcp.ProbeHost {
		t.Errorf("unexpected tcp transport %#v", opts.Transport)
	}

	cfg.Transport.Type = "carrier-pigeon"
	if _, err := OptionsFromConfig(cfg, quietLog()); err == nil {
		t.Error("expected unknown transport error")
	}
}
