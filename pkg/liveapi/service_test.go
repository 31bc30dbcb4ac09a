package liveapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/catalogdb"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/latest"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeLister struct {
	since time.Time
	files []catalogdb.BatchFile
	err   error
}

func (f *fakeLister) ListBatchFiles(since time.Time) ([]catalogdb.BatchFile, error) {
	f.since = since
	return f.files, f.err
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	opts.Log = logrus.NewEntry(logger)
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	ts := httptest.NewServer(New(opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestIndex(t *testing.T) {
	ts := newTestServer(t, Options{Snapshots: latest.NewStore()})
	resp, body := get(t, ts.URL+"/")
	if resp.StatusCode != http.StatusOK || body["status"] != "running" {
		t.Errorf("unexpected index response %d %v", resp.StatusCode, body)
	}
}

func TestLatest(t *testing.T) {
	store := latest.NewStore()
	ts := newTestServer(t, Options{Snapshots: store})

	resp, body := get(t, ts.URL+"/latest")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before any reading, got %d", resp.StatusCode)
	}
	if body["error"] == nil {
		t.Error("expected error message")
	}

	store.Update(types.Hygro{TemperatureC: 20, RelativeHumidityPct: 50})
	resp, body = get(t, ts.URL+"/latest")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	hygro, ok := body["hygro"].(map[string]any)
	if !ok || hygro["temperature_c"] != float64(20) {
		t.Errorf("hygro missing from %v", body)
	}
	if body["light"] != nil {
		t.Errorf("light should be null, got %v", body["light"])
	}
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, Options{
		Snapshots: latest.NewStore(),
		Stats:     func() any { return map[string]int{"decoded": 7} },
	})
	resp, body := get(t, ts.URL+"/stats")
	if resp.StatusCode != http.StatusOK || body["decoded"] != float64(7) {
		t.Errorf("unexpected stats %d %v", resp.StatusCode, body)
	}

	bare := newTestServer(t, Options{Snapshots: latest.NewStore()})
	if resp, _ := get(t, bare.URL+"/stats"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 without stats, got %d", resp.StatusCode)
	}
}

func TestBatches(t *testing.T) {
	lister := &fakeLister{files: []catalogdb.BatchFile{{ID: 1, Path: "/data/a.csv", Rows: 3}}}
	ts := newTestServer(t, Options{Snapshots: latest.NewStore(), Batches: lister})

	resp, err := http.Get(ts.URL + "/batches?since=1700000000")
	if err != nil {
		t.Fatal(err)
	}
	var files []catalogdb.BatchFile
	json.NewDecoder(resp.Body).Decode(&files)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(files) != 1 || files[0].Path != "/data/a.csv" {
		t.Errorf("unexpected listing %d %+v", resp.StatusCode, files)
	}
	if lister.since.Unix() != 1700000000 {
		t.Errorf("since not passed through: %v", lister.since)
	}

	if resp, _ := get(t, ts.URL+"/batches?since=yesterday"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad since, got %d", resp.StatusCode)
	}

	lister.err = errors.New("disk on fire")
	if resp, _ := get(t, ts.URL+"/batches"); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 on lister error, got %d", resp.StatusCode)
	}

	disabled := newTestServer(t, Options{Snapshots: latest.NewStore()})
	if resp, _ := get(t, disabled.URL+"/batches"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without catalog, got %d", resp.StatusCode)
	}
}

func TestWebSocketPushesChangedSnapshots(t *testing.T) {
	store := latest.NewStore()
	store.Update(types.Hygro{TemperatureC: 10, RelativeHumidityPct: 80})
	ts := newTestServer(t, Options{Snapshots: store})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	read := func() *latest.Snapshot {
		t.Helper()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		snap := latest.SnapshotFromJsonBytes(msg)
		if snap == nil {
			t.Fatalf("not a snapshot: %s", msg)
		}
		return snap
	}

	first := read()
	if first.Hygro == nil || first.Hygro.TemperatureC != 10 {
		t.Fatalf("unexpected first snapshot %+v", first)
	}

	store.Update(types.Thermal{Center: -30})
	second := read()
	if second.Thermal == nil || second.Thermal.Center != -30 {
		t.Fatalf("unexpected second snapshot %+v", second)
	}
	if second.Updates != first.Updates+1 {
		t.Errorf("expected one update between pushes, got %d -> %d", first.Updates, second.Updates)
	}
	if second.Hygro == nil {
		t.Error("hygro slot lost")
	}
}

func TestWebSocketWaitsForFirstReading(t *testing.T) {
	store := latest.NewStore()
	ts := newTestServer(t, Options{Snapshots: store})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	store.Update(types.Hygro{TemperatureC: 1, RelativeHumidityPct: 2})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	snap := latest.SnapshotFromJsonBytes(msg)
	if snap == nil || snap.Updates != 1 {
		t.Errorf("expected the first reading as first message, got %s", msg)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	api := New(Options{Snapshots: latest.NewStore(), Log: logrus.NewEntry(logger)})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- api.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}
