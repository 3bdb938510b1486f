//go:build windows
// +build windows

package registry

import "syscall"

// reuseAddrControl is a no-op on Windows: SO_REUSEADDR has different
// (and riskier) semantics there, matching the teacher's own platform
// split for non-Linux/Darwin behaviour (shockwave/pkg/shockwave/socket).
func reuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
