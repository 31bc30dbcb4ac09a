package port_reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jacobsa/go-serial/serial"
	probing "github.com/prometheus-community/pro-bing"
)

// Transport is a byte stream the reader can open, read and reopen.
//
// Read must return within a bounded timeout. It returns 0, nil when the
// timeout expired without data, and 0 with io.EOF or ErrEmptyRead when the
// stream reported readable but yielded nothing.
type Transport interface {
	Open(ctx context.Context) error
	Read(p []byte) (int, error)
	ResetInput() error
	Close() error
	String() string
}

// SerialTransport reads a serial device at 8N1 without flow control.
type SerialTransport struct {
	Port        string
	Baudrate    uint
	ReadTimeout time.Duration

	port io.ReadWriteCloser
}

// NewSerialTransport returns a serial transport with a 1s read timeout.
func NewSerialTransport(port string, baudrate uint) *SerialTransport {
	return &SerialTransport{Port: port, Baudrate: baudrate, ReadTimeout: time.Second}
}

func (s *SerialTransport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeoutMs := uint(s.ReadTimeout / time.Millisecond)
	if timeoutMs < 100 {
		timeoutMs = 100
	}
	options := serial.OpenOptions{
		PortName:              s.Port,
		BaudRate:              s.Baudrate,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		RTSCTSFlowControl:     false,
		InterCharacterTimeout: timeoutMs,
		MinimumReadSize:       0,
	}

	port, err := serial.Open(options)
	if err != nil {
		return fmt.Errorf("%w: failed to open serial port %s: %w", ErrTransport, s.Port, err)
	}
	s.port = port

	// Start from a clean line in both directions.
	if err := flushPort(port, true); err != nil {
		port.Close()
		s.port = nil
		return fmt.Errorf("%w: clear buffers on %s: %w", ErrTransport, s.Port, err)
	}
	return nil
}

// Read maps the VTIME timeout, which the OS reports as a zero-byte read,
// back to 0, nil. A zero-byte read with the device node gone is an
// empty read.
func (s *SerialTransport) Read(p []byte) (int, error) {
	if s.port == nil {
		return 0, fmt.Errorf("%w: serial port not connected", ErrTransport)
	}
	n, err := s.port.Read(p)
	if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
		if _, statErr := os.Stat(s.Port); statErr != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrEmptyRead, s.Port, statErr)
		}
		return 0, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: read %s: %w", ErrTransport, s.Port, err)
	}
	return n, nil
}

func (s *SerialTransport) ResetInput() error {
	if s.port == nil {
		return nil
	}
	return flushPort(s.port, false)
}

func (s *SerialTransport) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *SerialTransport) String() string {
	return fmt.Sprintf("serial:%s@%d", s.Port, s.Baudrate)
}

// TCPTransport reads lines from a TCP server.
type TCPTransport struct {
	Address     string
	DialTimeout time.Duration
	ReadTimeout time.Duration
	// ProbeHost pings the host before every dial. Requires ICMP or
	// unprivileged UDP ping permission.
	ProbeHost bool

	conn net.Conn
}

// NewTCPTransport returns a TCP transport for host:port.
func NewTCPTransport(address string) *TCPTransport {
	return &TCPTransport{
		Address:     address,
		DialTimeout: 5 * time.Second,
		ReadTimeout: time.Second,
	}
}

func (t *TCPTransport) Open(ctx context.Context) error {
	if t.ProbeHost {
		host, _, err := net.SplitHostPort(t.Address)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if _, err := ping(host); err != nil {
			return fmt.Errorf("%w: ping %s: %w", ErrTransport, host, err)
		}
	}

	dialer := net.Dialer{Timeout: t.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return fmt.Errorf("%w: connect %s: %w", ErrTransport, t.Address, err)
	}
	t.conn = conn
	return nil
}

func (t *TCPTransport) Read(p []byte) (int, error) {
	if t.conn == nil {
		return 0, fmt.Errorf("%w: not connected", ErrTransport)
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(t.ReadTimeout)); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	n, err := t.conn.Read(p)
	if err == nil {
		return n, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: %s closed the connection", ErrEmptyRead, t.Address)
	}
	return n, fmt.Errorf("%w: read %s: %w", ErrTransport, t.Address, err)
}

// ResetInput drains whatever is already queued on the socket.
func (t *TCPTransport) ResetInput() error {
	if t.conn == nil {
		return nil
	}
	buf := make([]byte, 4096)
	for drained := 0; drained < 1<<20; {
		if err := t.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond)); err != nil {
			return err
		}
		n, err := t.conn.Read(buf)
		drained += n
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t *TCPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *TCPTransport) String() string {
	return "tcp:" + t.Address
}

func ping(host string) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, err
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	if err := pinger.Run(); err != nil {
		return 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return stats.AvgRtt, nil
	}
	return 0, fmt.Errorf("no response")
}

// ListSerialPorts returns the USB serial devices present on the host.
func ListSerialPorts() []string {
	var ports []string
	for _, pattern := range []string{"/dev/ttyACM*", "/dev/ttyUSB*", "/dev/serial/by-id/*"} {
		matches, _ := filepath.Glob(pattern)
		ports = append(ports, matches...)
	}
	sort.Strings(ports)
	return ports
}
