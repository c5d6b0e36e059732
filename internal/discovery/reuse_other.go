//go:build !unix && !windows

package discovery

import "syscall"

func reuseAddr(_, _ string, _ syscall.RawConn) error { return nil }
