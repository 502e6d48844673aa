package runtime

import "github.com/sirupsen/logrus"

// CleanupGuard collects rollback closures as pipeline stages run and
// unwinds them in reverse registration order on failure (§4.2: "Each
// stage registers one or more cleanup closures with a guard. On any error
// the guard runs closures in reverse registration order. The guard's
// success path disarms."), grounded on the teacher's createSandboxFromConfig
// deferred-rollback chain in virtcontainers/api.go.
type CleanupGuard struct {
	logger   *logrus.Entry
	closures []func()
	armed    bool
}

// NewCleanupGuard returns an armed guard; call Disarm once the whole
// pipeline has succeeded.
func NewCleanupGuard(logger *logrus.Entry) *CleanupGuard {
	return &CleanupGuard{logger: logger, armed: true}
}

// Add registers a rollback closure, run only if the guard is still armed
// when Unwind is called.
func (g *CleanupGuard) Add(name string, fn func()) {
	closure := fn
	logName := name
	g.closures = append(g.closures, func() {
		g.logger.WithField("cleanup", logName).Debug("rolling back")
		closure()
	})
}

// Disarm marks the pipeline as successful; Unwind becomes a no-op.
func (g *CleanupGuard) Disarm() {
	g.armed = false
}

// Unwind runs every registered closure in reverse order, if the guard is
// still armed.
func (g *CleanupGuard) Unwind() {
	if !g.armed {
		return
	}
	for i := len(g.closures) - 1; i >= 0; i-- {
		g.closures[i]()
	}
}
