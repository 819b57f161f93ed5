//go:build !(darwin || linux || freebsd || netbsd || openbsd || dragonfly)

package httpx

import "syscall"

func listenControl(string) func(string, string, syscall.RawConn) error {
	return nil
}
