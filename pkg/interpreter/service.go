// Package interpreter consumes the live API websocket of a sensor logger.
package interpreter

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/latest"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var ErrGaveUp = errors.New("max connection retries reached")

type Options struct {
	MaxRetries     int           // default 10
	BaseRetryDelay time.Duration // default 2s
	MaxRetryDelay  time.Duration // default 60s
	// A connection without any frame for this long is considered dead
	ReadTimeout  time.Duration // default 10s
	PingInterval time.Duration // default 30s
	TLS          bool

	Log *logrus.Entry
}

func (o *Options) applyDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 10
	}
	if o.BaseRetryDelay <= 0 {
		o.BaseRetryDelay = 2 * time.Second
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 60 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logrus.StandardLogger())
	}
}

// retryDelay is the exponential backoff before attempt retryCount+1.
func retryDelay(retryCount int, base, max time.Duration) time.Duration {
	if retryCount > 30 {
		return max
	}
	delay := time.Duration(1<<retryCount) * base
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}

// StartListener manages the websocket connection to host and calls
// funcToCall for each snapshot. It returns nil when ctx is cancelled and
// ErrGaveUp when the server stayed unreachable for MaxRetries attempts.
func StartListener(ctx context.Context, host string, funcToCall func(snap *latest.Snapshot), opts Options) error {
	opts.applyDefaults()
	log := opts.Log.WithField("component", "interpreter")

	// WebSocket server URL
	scheme := "ws"
	if opts.TLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: "/ws"}

	retryCount := 0
	for {
		if retryCount > 0 {
			delay := retryDelay(retryCount, opts.BaseRetryDelay, opts.MaxRetryDelay)
			log.WithFields(logrus.Fields{
				"delay":   delay,
				"attempt": retryCount + 1,
				"max":     opts.MaxRetries,
			}).Info("retrying connection")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				log.Info("shutting down during retry wait")
				return nil
			}
		}

		log.WithField("url", u.String()).Info("connecting")

		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 10 * time.Second
		c, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("connection failed")
			retryCount++
			if retryCount >= opts.MaxRetries {
				log.WithField("max", opts.MaxRetries).Error("giving up")
				return ErrGaveUp
			}
			continue
		}

		log.Info("connected, accepting snapshots")

		// Reset retry count on successful connection
		retryCount = 0

		connectionBroken := handleConnection(ctx, c, opts, log, funcToCall)
		c.Close()

		if !connectionBroken {
			// Clean shutdown requested
			return nil
		}
		log.Warn("connection lost, will retry")
		retryCount = 1
	}
}

func handleConnection(
	ctx context.Context,
	c *websocket.Conn,
	opts Options,
	log *logrus.Entry,
	funcToCall func(snap *latest.Snapshot),
) bool {
	done := make(chan struct{})

	// Set read deadline to detect dead connections
	c.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	c.SetPingHandler(func(data string) error {
		c.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		return nil
	})

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Warn("websocket error")
				} else {
					log.WithError(err).Debug("connection closed")
				}
				return
			}

			// Reset read deadline on successful message
			c.SetReadDeadline(time.Now().Add(opts.ReadTimeout))

			if messageType != websocket.TextMessage {
				log.WithField("type", messageType).Debug("unexpected message type")
				continue
			}
			if snap := latest.SnapshotFromJsonBytes(message); snap != nil {
				funcToCall(snap)
			} else {
				log.WithField("payload", string(message)).Warn("failed to parse snapshot")
			}
		}
	}()

	// Periodic pings keep idle NAT mappings alive
	ticker := time.NewTicker(opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.WithError(err).Debug("failed to send ping")
				return true
			}
		case <-done:
			// Connection broke
			return true
		case <-ctx.Done():
			log.Info("closing connection")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.WithError(err).Debug("error sending close message")
			}

			// Wait for close confirmation or timeout
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
