//go:build !linux

package port_reader

import "io"

func flushPort(port io.ReadWriteCloser, both bool) error {
	return nil
}
