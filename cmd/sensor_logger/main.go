// Sensor logger reads the sensor transport, keeps the latest readings for
// the live API and writes every reading to rotating batch files.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/catalogdb"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/config"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/liveapi"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/pathing"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/pipeline"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/port_reader"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the config file (.toml or .yaml)")
	listPorts := pflag.Bool("list-ports", false, "list candidate serial ports and exit")
	pflag.Parse()

	if *listPorts {
		for _, port := range port_reader.ListSerialPorts() {
			fmt.Println(port)
		}
		return
	}

	// Load config
	cfg, err := config.LoadSensorLoggerConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load sensor logger config")
	}

	logger, closeLog, err := setupLogging(cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("failed to set up logging")
	}
	defer closeLog()
	log := logrus.NewEntry(logger)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("sensor logger stopped with error")
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.SensorLoggerConfig, log *logrus.Entry) error {
	if err := pathing.EnsureDirs(cfg.BatchLogger.OutputDir); err != nil {
		return err
	}

	opts, err := pipeline.OptionsFromConfig(cfg, log)
	if err != nil {
		return err
	}

	var catalog *catalogdb.Catalog
	if cfg.Catalog.Enabled {
		catalog, err = catalogdb.Open(cfg.Catalog.DbPath, log)
		if err != nil {
			return err
		}
		defer catalog.Close()
		opts.Recorder = catalog
	}

	p, err := pipeline.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		return err
	}

	if cfg.LiveAPI.Enabled {
		apiOpts := liveapi.Options{
			Snapshots:    p,
			Stats:        func() any { return p.Stats() },
			PollInterval: cfg.LiveAPI.PollInterval.Duration,
			Log:          log,
		}
		if catalog != nil {
			apiOpts.Batches = catalog
		}
		api := liveapi.New(apiOpts)
		listener := fmt.Sprintf("%s:%d", cfg.LiveAPI.ListenAddress, cfg.LiveAPI.ListenPort)
		go func() {
			if err := api.ListenAndServe(ctx, listener); err != nil {
				log.WithError(err).Error("live API stopped")
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case <-p.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.Shutdown(shutdownCtx)
}

// setupLogging builds the process logger from config. The returned func
// closes the log file, if any.
func setupLogging(cfg config.LogConfig) (*logrus.Logger, func(), error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.File == "" {
		return logger, func() {}, nil
	}

	path := cfg.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(pathing.GetLogDir(), path)
	}
	if err := pathing.EnsureDirs(filepath.Dir(path)); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return logger, func() { f.Close() }, nil
}
