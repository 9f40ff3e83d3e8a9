// Package gwlog defines the ambient logging interface shared by the
// HTTP engine and the gateway session, kept small and leveled the way
// the teacher's own logging shim does so callers can plug in whatever
// structured logger they already run.
package gwlog

// Logger is satisfied by any leveled logger taking loosely-typed
// arguments, the same shape the ambient logging shim in this codebase
// has always used.
type Logger interface {
	// Debug reports low-level insight into system behavior for diagnostics.
	Debug(args ...any)

	// Info reports general information that might be interesting.
	Info(args ...any)

	// Warn reports creeping issues that do not yet break anything.
	Warn(args ...any)

	// Error reports recoverable failures that still need attention.
	Error(args ...any)

	// Fatal reports a failure severe enough to stop the shard or engine.
	Fatal(args ...any)
}

// NoOp discards everything; it is the default when no logger is
// configured.
type NoOp struct{}

func (NoOp) Debug(args ...any) {}
func (NoOp) Info(args ...any)  {}
func (NoOp) Warn(args ...any)  {}
func (NoOp) Error(args ...any) {}
func (NoOp) Fatal(args ...any) {}
