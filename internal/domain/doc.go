// Package domain contains the queueing entities shared by every layer: queued
// messages, execution records, and the status state machine that governs both.
// It has no dependencies on storage, locking, or transport.
package domain
