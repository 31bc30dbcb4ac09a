//go:build linux

package port_reader

import (
	"io"

	"golang.org/x/sys/unix"
)

type fdPort interface {
	Fd() uintptr
}

// flushPort discards queued input, and output too when both is set.
func flushPort(port io.ReadWriteCloser, both bool) error {
	f, ok := port.(fdPort)
	if !ok {
		return nil
	}
	queue := unix.TCIFLUSH
	if both {
		queue = unix.TCIOFLUSH
	}
	return unix.IoctlSetInt(int(f.Fd()), unix.TCFLSH, queue)
}
