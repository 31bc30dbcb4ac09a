// Package liveapi serves the latest readings and logger diagnostics over
// HTTP and websockets. Websocket clients poll the store snapshot, nothing
// is pushed from the reader.
package liveapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/catalogdb"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/latest"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type SnapshotSource interface {
	Snapshot() latest.Snapshot
}

type BatchLister interface {
	ListBatchFiles(since time.Time) ([]catalogdb.BatchFile, error)
}

type Options struct {
	Snapshots SnapshotSource
	// Any JSON-encodable diagnostics, optional
	Stats func() any
	// Optional, /batches answers 503 without it
	Batches BatchLister

	// How often each websocket client checks for a new snapshot, default 1s
	PollInterval time.Duration
	// Server to client ping interval, default 5s
	PingInterval time.Duration

	Log *logrus.Entry
}

type Server struct {
	opts     Options
	router   *mux.Router
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func New(opts Options) *Server {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 5 * time.Second
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Server{
		opts: opts,
		log:  opts.Log.WithField("component", "liveapi"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Display clients run on other hosts
			},
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/latest", s.handleLatest).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/batches", s.handleBatches).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled. Requests are
// access-logged at debug level.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	accessLog := s.log.WriterLevel(logrus.DebugLevel)
	defer accessLog.Close()

	logged := handlers.LoggingHandler(accessLog, s.router)
	recovered := handlers.RecoveryHandler(handlers.RecoveryLogger(s.log))(logged)
	srv := &http.Server{
		Addr:              addr,
		Handler:           recovered,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("live API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if lerr := <-errCh; lerr != nil && !errors.Is(lerr, http.ErrServerClosed) {
			return lerr
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Sky Sensor Logger API",
		"status":  "running",
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Snapshots.Snapshot()
	if snap.Empty() {
		writeError(w, http.StatusNotFound, "No readings available yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(snap.ToJsonBytes())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		writeError(w, http.StatusNotFound, "No stats available")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Stats())
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	if s.opts.Batches == nil {
		writeError(w, http.StatusServiceUnavailable, "Batch catalog is disabled")
		return
	}

	since := time.Unix(0, 0)
	if v := r.URL.Query().Get("since"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a unix timestamp")
			return
		}
		since = time.Unix(secs, 0)
	}

	files, err := s.opts.Batches.ListBatchFiles(since)
	if err != nil {
		s.log.WithError(err).Warn("listing batch files failed")
		writeError(w, http.StatusInternalServerError, "Failed to list batch files")
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.WithField("remote", r.RemoteAddr)
	log.Debug("websocket client connected")

	// Keep reading so control frames are handled and closes are noticed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()
	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	// Send current snapshot immediately if available
	var lastSent uint64
	send := func() bool {
		snap := s.opts.Snapshots.Snapshot()
		if snap.Empty() || snap.Updates == lastSent {
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, snap.ToJsonBytes()); err != nil {
			log.WithError(err).Debug("websocket write failed")
			return false
		}
		lastSent = snap.Updates
		return true
	}
	if !send() {
		return
	}

	for {
		select {
		case <-closed:
			log.Debug("websocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case <-poll.C:
			if !send() {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
