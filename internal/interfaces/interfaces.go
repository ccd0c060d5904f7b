// Package interfaces provides internal interface definitions for ringlb.
// These are separate from the public root package to avoid circular imports
// between it and the internal worker/bridge/balancer packages.
package interfaces

// Logger is the optional logging sink passed to a worker.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives bridge lifecycle and teardown events from the worker.
// Implementations must be safe to call from the worker's single goroutine
// only (no concurrent calls are ever made, but it must not block).
type Observer interface {
	ObserveBridgeCreated(bridgeID int)
	ObserveBridgeEstablished(bridgeID int)
	ObserveBridgeClosed(bridgeID int)
	ObserveTeardown(bridgeID int, reason string)
}

// NoOpObserver discards all events.
type NoOpObserver struct{}

func (NoOpObserver) ObserveBridgeCreated(int)          {}
func (NoOpObserver) ObserveBridgeEstablished(int)      {}
func (NoOpObserver) ObserveBridgeClosed(int)           {}
func (NoOpObserver) ObserveTeardown(int, string)       {}
