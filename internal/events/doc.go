// Package events publishes the outcome of every message the sweeps drive to a
// terminal or rescheduled state.
//
// The primary components are:
// - MessageOutcomeEvent: completed, retried, failed, or reclaimed message
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
