// Package recovery reclaims execution records that have been running or
// pending for longer than the execution timeout, so the execution path can
// deliver them again.
package recovery
