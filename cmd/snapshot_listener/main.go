// Snapshot listener prints every snapshot pushed by a sensor logger's live
// API as one JSON line on stdout.
// Depends on the sensor logger being online.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/config"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/interpreter"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/latest"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the config file (.toml or .yaml)")
	host := pflag.String("host", "", "live API host:port, overrides the config")
	pflag.Parse()

	cfg, err := config.LoadSnapshotListenerConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load snapshot listener config")
	}
	if *host != "" {
		cfg.LiveAPIHost = *host
	}

	// Log to stderr, stdout carries the snapshots
	logrus.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Subscribe to websocket with revive
	err = interpreter.StartListener(ctx, cfg.LiveAPIHost, handleSnapshot, interpreter.Options{
		TLS: cfg.TLSEnabled,
		Log: logrus.NewEntry(logrus.StandardLogger()),
	})
	if err != nil {
		logrus.WithError(err).Fatal("listener stopped")
	}
}

func handleSnapshot(snap *latest.Snapshot) {
	fmt.Println(string(snap.ToJsonBytes()))
}
