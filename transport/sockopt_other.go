//go:build !unix

package transport

import "syscall"

func setSocketOptions(network, address string, c syscall.RawConn) error {
	return nil
}
