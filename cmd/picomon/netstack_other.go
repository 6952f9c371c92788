//go:build !unix

package main

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
