//go:build !windows

package runtime

import "syscall"

// shutdownSignal is sent to a shim process to request graceful exit.
const shutdownSignal = syscall.SIGTERM
