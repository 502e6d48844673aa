// Package engine is the VMM engine inventory: a process-wide registry
// keyed by engine-kind string, populated by each concrete engine's init()
// function rather than a central switch (§9 design note: "engines
// register themselves into a process-wide registry... a builder-style
// interface"). This deliberately departs from the teacher's
// virtcontainers/hypervisor.go, which dispatches by HypervisorType through
// a switch statement in newHypervisor(); the registry pattern instead
// follows the stdlib's own self-registration idiom (database/sql.Register,
// image.RegisterFormat).
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/qidi1/boxlite/boxerrors"
	"github.com/qidi1/boxlite/types"
)

// Instance is a running VMM instance for one box. Enter hands the host
// process over to the VM loop; per §4.3 it may never return normally.
type Instance interface {
	Enter(ctx context.Context) error
}

// Engine constructs Instances from a resolved InstanceSpec.
type Engine interface {
	Create(ctx context.Context, spec types.InstanceSpec) (Instance, error)
}

// Factory builds an Engine. Factories are cheap to call repeatedly; any
// expensive setup belongs in Create or Instance.Enter.
type Factory func() (Engine, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs a Factory under kind. Called from engine
// implementations' init() functions; a second registration for the same
// kind panics, mirroring database/sql.Register's own guard against
// accidental duplicate driver names.
func Register(kind string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("engine: Register called twice for kind %q", kind))
	}
	factories[kind] = factory
}

// Get constructs the engine registered under kind.
func Get(kind string) (Engine, error) {
	mu.RLock()
	factory, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, boxerrors.New(boxerrors.Engine, "unknown engine kind %q (forgot a blank import?)", kind)
	}
	return factory()
}

// Kinds returns every registered engine kind, for diagnostics and CLI help
// text.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	return kinds
}
