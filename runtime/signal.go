package runtime

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// DefaultShutdownTimeoutSecs is used when stop/shutdown callers pass nil
// for the timeout, grounded on
// original_source/boxlite/src/runtime/signal_handler.rs's
// DEFAULT_SHUTDOWN_TIMEOUT_SECS.
const DefaultShutdownTimeoutSecs = 10

// signalHandlerInstalled guards against installing the handler twice per
// process (§9: "Globals are limited to: ... the signal-handler-installed
// flag").
var signalHandlerInstalled atomic.Bool

// InstallSignalHandler installs a one-shot SIGTERM/SIGINT handler that
// invokes shutdown with the default timeout and then exits the process,
// the same install-once contract as
// original_source/boxlite/src/runtime/signal_handler.rs's
// install_signal_handler, adapted to Go's os/signal channel idiom instead
// of a dedicated signal-hook thread (grounded on the teacher's
// pkg/signals package-level logger/flag style).
func InstallSignalHandler(shutdown func(timeoutSeconds *int)) {
	if !signalHandlerInstalled.CompareAndSwap(false, true) {
		return
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-ch
		timeout := DefaultShutdownTimeoutSecs
		shutdown(&timeout)
		os.Exit(0)
	}()
}

// ShutdownTimeout converts the CLI/API timeout parameter into a Duration
// per §5 ("stop(timeout) defaults to 10s; -1 = infinity; n>0 = seconds"):
// nil means the default, -1 means wait forever (signalled by infinite=true),
// any other non-positive value also falls back to the default.
func ShutdownTimeout(timeoutSeconds *int) (d time.Duration, infinite bool) {
	if timeoutSeconds == nil {
		return DefaultShutdownTimeoutSecs * time.Second, false
	}
	switch {
	case *timeoutSeconds == -1:
		return 0, true
	case *timeoutSeconds > 0:
		return time.Duration(*timeoutSeconds) * time.Second, false
	default:
		return DefaultShutdownTimeoutSecs * time.Second, false
	}
}
